// Package selfheal implements the startup self-heal routine (C8): a fixed
// sequence of checks that runs once before the HTTP server starts accepting
// indexing requests, so a process that crashed mid-pipeline resumes cleanly
// instead of leaving orphaned rows or stale index entries behind.
package selfheal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/katanaquant/ragkb/internal/embed"
	"github.com/katanaquant/ragkb/internal/index"
	"github.com/katanaquant/ragkb/internal/pipeline"
	"github.com/katanaquant/ragkb/internal/queue"
	"github.com/katanaquant/ragkb/internal/store"
)

// Dependencies are the collaborators the runner needs. Checker is optional;
// when nil a default ConsistencyChecker is built from Metadata/BM25/Vector.
type Dependencies struct {
	Ledger      store.Ledger
	Metadata    store.MetadataStore
	Vector      store.VectorStore
	BM25        store.BM25Index
	Embedder    embed.Embedder
	Coordinator *pipeline.Coordinator
	Checker     *index.ConsistencyChecker

	ProjectID string
	RootPath  string
}

// Runner executes the ordered self-heal sequence.
type Runner struct {
	deps Dependencies
}

// NewRunner validates deps and returns a ready-to-run Runner.
func NewRunner(deps Dependencies) (*Runner, error) {
	if deps.Ledger == nil || deps.Metadata == nil || deps.Coordinator == nil {
		return nil, fmt.Errorf("selfheal: Ledger, Metadata, and Coordinator are all required")
	}
	if deps.Checker == nil {
		if deps.Vector == nil || deps.BM25 == nil {
			return nil, fmt.Errorf("selfheal: Checker or (Vector and BM25) is required")
		}
		deps.Checker = index.NewConsistencyChecker(deps.Metadata, deps.BM25, deps.Vector)
	}
	return &Runner{deps: deps}, nil
}

// Report summarizes what each step did, for logging and tests.
type Report struct {
	Resumed         int
	OrphansRepaired int
	EmptyDocsPurged int
	Inconsistencies []index.Inconsistency
	Duration        time.Duration
}

// Run executes the four-step startup sequence in order: resume, orphan
// repair, empty-document cleanup, and a detect-only consistency check.
// Config validation happens before Run is called (internal/config already
// validates at load time); Run assumes a valid, already-loaded config.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{}

	resumed, err := r.resumeInProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("selfheal: resume step: %w", err)
	}
	report.Resumed = resumed

	repaired, err := r.repairOrphans(ctx)
	if err != nil {
		return nil, fmt.Errorf("selfheal: orphan repair step: %w", err)
	}
	report.OrphansRepaired = repaired

	purged, err := r.purgeEmptyDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("selfheal: empty-document cleanup step: %w", err)
	}
	report.EmptyDocsPurged = purged

	result, err := r.deps.Checker.Check(ctx)
	if err != nil {
		slog.Warn("selfheal_consistency_check_failed", slog.String("error", err.Error()))
	} else {
		report.Inconsistencies = result.Inconsistencies
		if len(result.Inconsistencies) > 0 {
			slog.Warn("selfheal_consistency_issues_detected",
				slog.Int("count", len(result.Inconsistencies)),
				slog.Int("checked", result.Checked))
		}
	}

	report.Duration = time.Since(start)
	slog.Info("selfheal_complete",
		slog.Int("resumed", report.Resumed),
		slog.Int("orphans_repaired", report.OrphansRepaired),
		slog.Int("empty_docs_purged", report.EmptyDocsPurged),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// resumeInProgress re-enqueues every ledger row still marked in_progress,
// which can only happen if the previous process died mid-pipeline. Files
// that no longer exist on disk are rejected instead of retried forever.
func (r *Runner) resumeInProgress(ctx context.Context) (int, error) {
	rows, err := r.deps.Ledger.ListByStatus(ctx, store.ProgressInProgress)
	if err != nil {
		return 0, err
	}

	var resumed int
	for _, row := range rows {
		absPath := filepath.Join(r.deps.RootPath, row.FilePath)
		if _, err := os.Stat(absPath); err != nil {
			if err := r.deps.Ledger.MarkRejected(ctx, row.FilePath, "file missing on resume"); err != nil {
				slog.Warn("selfheal_resume_mark_rejected_failed", slog.String("path", row.FilePath), slog.String("error", err.Error()))
			}
			continue
		}
		if _, err := r.deps.Coordinator.AddFile(ctx, row.FilePath, queue.NORMAL, true); err != nil {
			slog.Warn("selfheal_resume_add_file_failed", slog.String("path", row.FilePath), slog.String("error", err.Error()))
			continue
		}
		resumed++
	}
	return resumed, nil
}

// repairOrphans finds ledger rows marked completed with no matching
// Document row (the store write must have crashed after the ledger
// transition) and re-enqueues them at HIGH priority.
func (r *Runner) repairOrphans(ctx context.Context) (int, error) {
	rows, err := r.deps.Ledger.ListByStatus(ctx, store.ProgressCompleted)
	if err != nil {
		return 0, err
	}

	var repaired int
	for _, row := range rows {
		file, err := r.deps.Metadata.GetFileByPath(ctx, r.deps.ProjectID, row.FilePath)
		if err != nil {
			slog.Warn("selfheal_orphan_lookup_failed", slog.String("path", row.FilePath), slog.String("error", err.Error()))
			continue
		}
		if file != nil {
			continue
		}

		absPath := filepath.Join(r.deps.RootPath, row.FilePath)
		if _, err := os.Stat(absPath); err != nil {
			if err := r.deps.Ledger.MarkRejected(ctx, row.FilePath, "file missing on orphan repair"); err != nil {
				slog.Warn("selfheal_orphan_mark_rejected_failed", slog.String("path", row.FilePath), slog.String("error", err.Error()))
			}
			continue
		}
		if _, err := r.deps.Coordinator.AddFile(ctx, row.FilePath, queue.HIGH, true); err != nil {
			slog.Warn("selfheal_orphan_add_file_failed", slog.String("path", row.FilePath), slog.String("error", err.Error()))
			continue
		}
		repaired++
	}
	return repaired, nil
}

// purgeEmptyDocuments deletes any Document whose chunk set is empty along
// with its ledger row, mirroring the original self_healing routine's
// _delete_empty_documents: an empty Document is indistinguishable from a
// healthy zero-chunk file and just wastes a row forever if left behind.
func (r *Runner) purgeEmptyDocuments(ctx context.Context) (int, error) {
	var purged int
	cursor := ""
	for {
		files, next, err := r.deps.Metadata.ListFiles(ctx, r.deps.ProjectID, cursor, 200)
		if err != nil {
			return purged, err
		}
		for _, f := range files {
			chunks, err := r.deps.Metadata.GetChunksByFile(ctx, f.ID)
			if err != nil {
				slog.Warn("selfheal_empty_doc_lookup_failed", slog.String("path", f.Path), slog.String("error", err.Error()))
				continue
			}
			if len(chunks) > 0 {
				continue
			}
			if err := r.deps.Metadata.DeleteFile(ctx, f.ID); err != nil {
				slog.Warn("selfheal_empty_doc_delete_failed", slog.String("path", f.Path), slog.String("error", err.Error()))
				continue
			}
			if err := r.deps.Ledger.DeleteProgress(ctx, f.Path); err != nil {
				slog.Warn("selfheal_empty_doc_ledger_delete_failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			}
			purged++
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return purged, nil
}

// RebuildVectorIndex re-embeds and re-adds the given chunk IDs to the vector
// store. An empty slice means a full rebuild: every chunk with a stored
// embedding is re-added in batches.
func (r *Runner) RebuildVectorIndex(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		embeddings, err := r.deps.Metadata.GetAllEmbeddings(ctx)
		if err != nil {
			return fmt.Errorf("selfheal: load embeddings for full rebuild: %w", err)
		}
		ids := make([]string, 0, len(embeddings))
		vecs := make([][]float32, 0, len(embeddings))
		for id, vec := range embeddings {
			ids = append(ids, id)
			vecs = append(vecs, vec)
		}
		if len(ids) == 0 {
			return nil
		}
		return r.deps.Vector.Add(ctx, ids, vecs)
	}

	chunks, err := r.deps.Metadata.GetChunks(ctx, chunkIDs)
	if err != nil {
		return fmt.Errorf("selfheal: load chunks for rebuild: %w", err)
	}
	texts := make([]string, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Content)
		ids = append(ids, c.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	vectors, err := r.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("selfheal: re-embed chunks for rebuild: %w", err)
	}
	if err := r.deps.Metadata.SaveChunkEmbeddings(ctx, ids, vectors, r.deps.Embedder.ModelName()); err != nil {
		return fmt.Errorf("selfheal: persist re-embedded vectors: %w", err)
	}
	return r.deps.Vector.Add(ctx, ids, vectors)
}
