package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/katanaquant/ragkb/internal/chunk"
	"github.com/katanaquant/ragkb/internal/errors"
	"github.com/katanaquant/ragkb/internal/queue"
	"github.com/katanaquant/ragkb/internal/scanner"
	"github.com/katanaquant/ragkb/internal/store"
)

// runChunkStage reads QueueItems, security-scans, extracts, and chunks each
// file, emitting a ChunkedDoc downstream or discarding with a logged reason.
func (c *Coordinator) runChunkStage(ctx context.Context) {
	for {
		item, ok := c.deps.Queue.GetContext(ctx)
		if !ok {
			// Context cancelled or the queue was closed by Stop: either way
			// this stage is done.
			return
		}

		result := c.processChunkItem(ctx, item)
		if result == StageFail || result == StageSkip {
			c.deps.Queue.MarkComplete(item.Path)
		}
	}
}

func (c *Coordinator) processChunkItem(ctx context.Context, item queue.QueueItem) StageResult {
	absPath := filepath.Join(c.deps.RootPath, item.Path)

	if ok, reason, err := c.deps.Scanner.Scan(absPath); err != nil || !ok {
		if err != nil {
			reason = err.Error()
		}
		c.reject(ctx, item, "security: "+c.deps.Scanner.Name()+": "+reason)
		return StageFail
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		c.reject(ctx, item, errors.NewKindError(errors.KindExtractionFailed, item.Path, err).Error())
		return StageFail
	}
	hash := hashBytes(content)

	if !item.Force {
		existing, err := c.deps.Metadata.GetFileByPath(ctx, c.deps.ProjectID, item.Path)
		if err == nil && existing != nil && existing.ContentHash == hash {
			// Race with a concurrent completion: nothing to do.
			return StageSkip
		}
	}

	result, err := c.deps.Extractor.Extract(absPath)
	if err != nil || result == nil || !result.Success {
		msg := "unknown extraction failure"
		if err != nil {
			msg = err.Error()
		} else if result != nil {
			msg = result.Error
		}
		c.reject(ctx, item, errors.NewKindError(errors.KindExtractionFailed, item.Path, fmt.Errorf("%s", msg)).Error())
		return StageFail
	}

	var text strings.Builder
	for _, page := range result.Pages {
		text.WriteString(page.Content)
		text.WriteString("\n")
	}

	language := scanner.DetectLanguage(item.Path)
	contentType := scanner.DetectContentType(language)

	input := &chunk.FileInput{Path: item.Path, Content: []byte(text.String()), Language: language}

	var chunks []*chunk.Chunk
	switch contentType {
	case scanner.ContentTypeCode:
		chunks, err = c.deps.CodeChunker.Chunk(ctx, input)
	case scanner.ContentTypeMarkdown:
		chunks, err = c.deps.MarkdownChunker.Chunk(ctx, input)
	default:
		chunks, err = c.deps.MarkdownChunker.Chunk(ctx, input)
	}
	if err != nil {
		c.reject(ctx, item, errors.NewKindError(errors.KindExtractionFailed, item.Path, err).Error())
		return StageFail
	}

	if len(chunks) == 0 {
		if err := c.persistEmptyDocument(ctx, item.Path, hash); err != nil {
			c.reject(ctx, item, errors.NewKindError(errors.KindStoreWriteFailure, item.Path, err).Error())
			return StageFail
		}
		if err := c.deps.Ledger.MarkCompleted(ctx, item.Path, 0); err != nil {
			slog.Warn("pipeline_ledger_mark_completed_failed", slog.String("path", item.Path), slog.String("error", err.Error()))
		}
		return StageSkip
	}

	storeChunks := make([]*store.Chunk, 0, len(chunks))
	fileID := hashID(item.Path)
	now := time.Now()
	for i, ck := range chunks {
		storeChunks = append(storeChunks, &store.Chunk{
			ID:          hashID(item.Path, strconv.Itoa(i), ck.Content),
			FileID:      fileID,
			FilePath:    item.Path,
			Content:     ck.Content,
			RawContent:  ck.RawContent,
			Context:     ck.Context,
			ContentType: store.ContentType(ck.ContentType),
			Language:    ck.Language,
			StartLine:   ck.StartLine,
			EndLine:     ck.EndLine,
			Metadata:    ck.Metadata,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	select {
	case c.chunkCh <- ChunkedDoc{Item: item, FileHash: hash, Method: result.Method, Language: language, Chunks: storeChunks}:
		return StageOk
	case <-ctx.Done():
		return StageFail
	}
}

func (c *Coordinator) persistEmptyDocument(ctx context.Context, relPath, hash string) error {
	return c.deps.Metadata.SaveFiles(ctx, []*store.File{{
		ID:          hashID(relPath),
		ProjectID:   c.deps.ProjectID,
		Path:        relPath,
		ContentHash: hash,
		IndexedAt:   time.Now(),
	}})
}

func (c *Coordinator) reject(ctx context.Context, item queue.QueueItem, reason string) {
	if err := c.deps.Ledger.MarkRejected(ctx, item.Path, reason); err != nil {
		slog.Warn("pipeline_ledger_mark_rejected_failed", slog.String("path", item.Path), slog.String("error", err.Error()))
	}
}

// runEmbedStage runs a pool of M workers, each calling the embedder in
// mini-batches of size B over the chunks of one document at a time. A
// semaphore of max_pending = M*2 bounds how many documents are in flight
// through the embedder concurrently.
func (c *Coordinator) runEmbedStage(ctx context.Context) {
	sem := make(chan struct{}, c.cfg.EmbedWorkers*2)
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.EmbedWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range c.chunkCh {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				c.embedDocument(ctx, doc)
				<-sem
			}
		}()
	}
	wg.Wait()
}

func (c *Coordinator) embedDocument(ctx context.Context, doc ChunkedDoc) {
	embeddings := make([][]float32, 0, len(doc.Chunks))
	for start := 0; start < len(doc.Chunks); start += c.cfg.EmbedBatchSize {
		end := min(start+c.cfg.EmbedBatchSize, len(doc.Chunks))
		texts := make([]string, 0, end-start)
		for _, ck := range doc.Chunks[start:end] {
			texts = append(texts, ck.Content)
		}

		vectors, err := c.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			c.reject(ctx, doc.Item, errors.NewKindError(errors.KindEmbeddingFailed, doc.Item.Path, err).Error())
			c.deps.Queue.MarkComplete(doc.Item.Path)
			return
		}
		embeddings = append(embeddings, vectors...)
	}

	select {
	case c.embedCh <- EmbeddedDoc{
		Item:       doc.Item,
		FileHash:   doc.FileHash,
		Method:     doc.Method,
		Language:   doc.Language,
		Chunks:     doc.Chunks,
		Embeddings: embeddings,
	}:
	case <-ctx.Done():
	}
}

// runStoreStage is the single writer: it persists Document + Chunks +
// Vectors + FTS atomically from C1's point of view (metadata first, since
// the chunk table is the ownership source of truth for vectors and FTS),
// then transitions the ledger and releases the queue slot.
func (c *Coordinator) runStoreStage(ctx context.Context) {
	for {
		select {
		case doc, ok := <-c.embedCh:
			if !ok {
				return
			}
			c.persist(ctx, doc)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) persist(ctx context.Context, doc EmbeddedDoc) {
	retryCfg := errors.DefaultRetryConfig()
	err := errors.Retry(ctx, retryCfg, func() error {
		return c.writeAll(ctx, doc)
	})
	if err != nil {
		c.reject(ctx, doc.Item, errors.NewKindError(errors.KindStoreWriteFailure, doc.Item.Path, err).Error())
		c.deps.Queue.MarkComplete(doc.Item.Path)
		return
	}

	if err := c.deps.Ledger.MarkCompleted(ctx, doc.Item.Path, len(doc.Chunks)); err != nil {
		slog.Warn("pipeline_ledger_mark_completed_failed", slog.String("path", doc.Item.Path), slog.String("error", err.Error()))
	}
	c.deps.Queue.MarkComplete(doc.Item.Path)
}

func (c *Coordinator) writeAll(ctx context.Context, doc EmbeddedDoc) error {
	fileID := hashID(doc.Item.Path)
	chunkIDs := make([]string, 0, len(doc.Chunks))
	for _, ck := range doc.Chunks {
		chunkIDs = append(chunkIDs, ck.ID)
	}
	bm25Docs := make([]*store.Document, 0, len(doc.Chunks))
	for _, ck := range doc.Chunks {
		bm25Docs = append(bm25Docs, &store.Document{ID: ck.ID, Content: ck.Content})
	}

	if err := c.deps.Metadata.SaveFiles(ctx, []*store.File{{
		ID:          fileID,
		ProjectID:   c.deps.ProjectID,
		Path:        doc.Item.Path,
		ContentHash: doc.FileHash,
		Language:    doc.Language,
		ContentType: string(scanner.DetectContentType(doc.Language)),
		IndexedAt:   time.Now(),
	}}); err != nil {
		return err
	}

	// A reindex can change chunk boundaries/count for a file. SaveChunks is
	// an upsert keyed by chunk ID, so chunks from the previous version that
	// no longer exist in doc.Chunks would otherwise survive as orphans in
	// the metadata store, the vector index, and BM25. Drop the file's old
	// chunk set first so the write below reflects exactly doc.Chunks.
	stale, err := c.deps.Metadata.GetChunksByFile(ctx, fileID)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		staleIDs := make([]string, len(stale))
		for i, ck := range stale {
			staleIDs[i] = ck.ID
		}
		if err := c.deps.Vector.Delete(ctx, staleIDs); err != nil {
			return err
		}
		if err := c.deps.BM25.Delete(ctx, staleIDs); err != nil {
			return err
		}
		if err := c.deps.Metadata.DeleteChunksByFile(ctx, fileID); err != nil {
			return err
		}
	}

	if err := c.deps.Metadata.SaveChunks(ctx, doc.Chunks); err != nil {
		return err
	}
	if err := c.deps.Metadata.SaveChunkEmbeddings(ctx, chunkIDs, doc.Embeddings, c.deps.Embedder.ModelName()); err != nil {
		return err
	}
	if err := c.deps.Vector.Add(ctx, chunkIDs, doc.Embeddings); err != nil {
		return err
	}
	if err := c.deps.BM25.Index(ctx, bm25Docs); err != nil {
		return err
	}
	return nil
}
