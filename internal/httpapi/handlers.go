package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/katanaquant/ragkb/internal/queue"
	"github.com/katanaquant/ragkb/internal/search"
	"github.com/katanaquant/ragkb/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// pathParam decodes the {path} route parameter, which the client is
// expected to percent-escape since document paths contain "/".
func pathParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "path")
	return url.PathUnescape(raw)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		QueueSize:   s.deps.Queue.Size(),
		InFlight:    s.deps.Queue.InFlight(),
		QueuePaused: s.deps.Queue.IsPaused(),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errText("text is required"))
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	results, err := s.deps.Engine.Search(r.Context(), req.Text, search.SearchOptions{
		Limit:     topK,
		Filter:    req.Filter,
		Language:  req.Language,
		Scopes:    req.Scopes,
		Threshold: req.Threshold,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Threshold filtering happens inside Engine.Search (and is part of its
	// cache key); results are already trimmed by the time they get here.
	out := make([]QueryResult, 0, len(results))
	for _, res := range results {
		out = append(out, QueryResult{
			Source:    res.Chunk.FilePath,
			Content:   res.Chunk.Content,
			Score:     res.Score,
			Language:  res.Chunk.Language,
			StartLine: res.Chunk.StartLine,
			EndLine:   res.Chunk.EndLine,
		})
	}

	writeJSON(w, http.StatusOK, QueryResponse{Results: out, TotalResults: len(out)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	path, err := pathParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()

	record, err := s.deps.Ledger.Get(ctx, path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, errText("document not found: "+path))
		return
	}

	info := DocumentInfo{Path: path, Status: string(record.Status), ChunkCount: record.ChunksProcessed}
	if file, err := s.deps.Metadata.GetFileByPath(ctx, s.deps.ProjectID, path); err == nil && file != nil {
		info.IndexedAt = file.IndexedAt
		info.ContentHash = file.ContentHash
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	path, err := pathParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := r.Context()

	file, err := s.deps.Metadata.GetFileByPath(ctx, s.deps.ProjectID, path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if file == nil {
		writeError(w, http.StatusNotFound, errText("document not found: "+path))
		return
	}

	if err := s.deps.Metadata.DeleteFile(ctx, file.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.deps.Ledger.DeleteProgress(ctx, path); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, queue.NORMAL, false)
}

func (s *Server) handleReindexDocument(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, queue.HIGH, true)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, priority queue.Priority, force bool) {
	path, err := pathParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	added, err := s.deps.Coordinator.AddFile(r.Context(), path, priority, force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"enqueued": added})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limit := 100

	files, next, err := s.deps.Metadata.ListFiles(r.Context(), s.deps.ProjectID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	docs := make([]DocumentInfo, 0, len(files))
	for _, f := range files {
		status := "completed"
		if record, err := s.deps.Ledger.Get(r.Context(), f.Path); err == nil && record != nil {
			status = string(record.Status)
		}
		chunks, err := s.deps.Metadata.GetChunksByFile(r.Context(), f.ID)
		chunkCount := 0
		if err == nil {
			chunkCount = len(chunks)
		}
		docs = append(docs, DocumentInfo{
			Path:        f.Path,
			Status:      status,
			ChunkCount:  chunkCount,
			IndexedAt:   f.IndexedAt,
			ContentHash: f.ContentHash,
		})
	}

	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs, NextCursor: next})
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var issues []IntegrityIssue

	completed, err := s.deps.Ledger.ListByStatus(ctx, store.ProgressCompleted)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	embeddings, err := s.deps.Metadata.GetAllEmbeddings(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	checked := 0
	for _, rec := range completed {
		checked++
		file, err := s.deps.Metadata.GetFileByPath(ctx, s.deps.ProjectID, rec.FilePath)
		if err != nil || file == nil {
			continue
		}
		chunks, err := s.deps.Metadata.GetChunksByFile(ctx, file.ID)
		if err != nil {
			continue
		}
		if len(chunks) == 0 {
			issues = append(issues, IntegrityIssue{Path: rec.FilePath, Issue: "zero_chunks"})
			continue
		}
		missing := false
		for _, c := range chunks {
			if _, ok := embeddings[c.ID]; !ok {
				missing = true
				break
			}
		}
		if missing {
			issues = append(issues, IntegrityIssue{Path: rec.FilePath, Issue: "missing_embeddings"})
		}
	}

	if s.deps.Checker != nil {
		if result, err := s.deps.Checker.Check(ctx); err == nil {
			for _, inc := range result.Inconsistencies {
				issues = append(issues, IntegrityIssue{Path: inc.ChunkID, Issue: inc.Type.String()})
			}
		}
	}

	writeJSON(w, http.StatusOK, IntegrityResponse{Checked: checked, Issues: issues})
}

func (s *Server) handleQueueJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Queue.Jobs()
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobInfo{Path: j.Path, Priority: j.Priority.String(), Force: j.Force})
	}
	writeJSON(w, http.StatusOK, JobsResponse{
		Queued:   out,
		InFlight: s.deps.Queue.InFlight(),
		Paused:   s.deps.Queue.IsPaused(),
	})
}

func (s *Server) handleIndexingPause(w http.ResponseWriter, r *http.Request) {
	s.deps.Queue.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleIndexingResume(w http.ResponseWriter, r *http.Request) {
	s.deps.Queue.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleIndexingClear(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Queue.Clear()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

type errText string

func (e errText) Error() string { return string(e) }
