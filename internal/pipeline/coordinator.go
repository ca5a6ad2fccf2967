package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/katanaquant/ragkb/internal/chunk"
	"github.com/katanaquant/ragkb/internal/embed"
	"github.com/katanaquant/ragkb/internal/extract"
	"github.com/katanaquant/ragkb/internal/queue"
	"github.com/katanaquant/ragkb/internal/security"
	"github.com/katanaquant/ragkb/internal/store"
)

// Dependencies are the collaborators the coordinator wires together. Every
// field is required except Scanner, which defaults to security.NoOpScanner.
type Dependencies struct {
	Queue     *queue.Queue
	Metadata  store.MetadataStore
	Vector    store.VectorStore
	BM25      store.BM25Index
	Ledger    store.Ledger
	Extractor *extract.Registry
	Scanner   security.Scanner
	Embedder  embed.Embedder

	CodeChunker     chunk.Chunker
	MarkdownChunker chunk.Chunker

	ProjectID string
	RootPath  string // absolute path QueueItem.Path entries are relative to
}

// Coordinator runs the three-stage pipeline (C6): chunk, embed, store.
type Coordinator struct {
	deps Dependencies
	cfg  Config

	chunkCh chan ChunkedDoc
	embedCh chan EmbeddedDoc

	skipCount   atomic.Int64
	lastSkipLog atomic.Int64 // unix nanos

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewCoordinator validates deps and returns a ready-to-run Coordinator.
func NewCoordinator(deps Dependencies, cfg Config) (*Coordinator, error) {
	if deps.Queue == nil {
		return nil, fmt.Errorf("pipeline: Queue is required")
	}
	if deps.Metadata == nil || deps.Vector == nil || deps.BM25 == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("pipeline: Metadata, Vector, BM25, and Ledger are all required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("pipeline: Extractor is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("pipeline: Embedder is required")
	}
	if deps.CodeChunker == nil || deps.MarkdownChunker == nil {
		return nil, fmt.Errorf("pipeline: CodeChunker and MarkdownChunker are both required")
	}
	if deps.Scanner == nil {
		deps.Scanner = security.NoOpScanner{}
	}
	if cfg.ChunkQueueCapacity <= 0 || cfg.EmbedQueueCapacity <= 0 || cfg.EmbedWorkers <= 0 || cfg.EmbedBatchSize <= 0 {
		cfg = DefaultConfig()
	}

	return &Coordinator{
		deps:    deps,
		cfg:     cfg,
		chunkCh: make(chan ChunkedDoc, cfg.ChunkQueueCapacity),
		embedCh: make(chan EmbeddedDoc, cfg.EmbedQueueCapacity),
		stopped: make(chan struct{}),
	}, nil
}

// AddFile is the pre-stage skip check (spec.md §4.6). It reads and hashes
// path, and if force is false and the file is already indexed at that hash,
// drops the request and increments the skip counter instead of enqueueing.
// Otherwise it starts the ledger record and enqueues the item.
func (c *Coordinator) AddFile(ctx context.Context, relPath string, priority queue.Priority, force bool) (bool, error) {
	absPath := filepath.Join(c.deps.RootPath, relPath)
	content, err := os.ReadFile(absPath)
	if err != nil {
		return false, fmt.Errorf("pipeline: read %s: %w", relPath, err)
	}
	hash := hashBytes(content)

	if !force {
		existing, err := c.deps.Metadata.GetFileByPath(ctx, c.deps.ProjectID, relPath)
		if err != nil {
			return false, fmt.Errorf("pipeline: lookup %s: %w", relPath, err)
		}
		if existing != nil && existing.ContentHash == hash {
			c.recordSkip()
			return false, nil
		}
	}

	if err := c.deps.Ledger.StartProcessing(ctx, relPath, hash); err != nil {
		return false, fmt.Errorf("pipeline: start processing %s: %w", relPath, err)
	}

	if !c.deps.Queue.Add(relPath, priority, force) {
		// Already queued or in-flight; the ledger row we just wrote is
		// harmless, the chunk stage re-confirms the skip condition anyway.
		return false, nil
	}
	return true, nil
}

func (c *Coordinator) recordSkip() {
	n := c.skipCount.Add(1)
	last := c.lastSkipLog.Load()
	now := time.Now().UnixNano()
	if last == 0 || time.Duration(now-last) >= c.cfg.SkipLogInterval {
		if c.lastSkipLog.CompareAndSwap(last, now) {
			slog.Info("pipeline_skip_summary", slog.Int64("skipped_since_last_log", n))
			c.skipCount.Store(0)
		}
	}
}

// Run starts the three stages and blocks until ctx is cancelled or Stop is
// called, then drains gracefully: items already in flight are discarded
// without writing to the Store (their ledger rows stay in_progress and are
// retried on next startup's resume pass).
func (c *Coordinator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.runChunkStage(gctx)
		close(c.chunkCh)
		return nil
	})

	g.Go(func() error {
		c.runEmbedStage(gctx)
		close(c.embedCh)
		return nil
	})

	g.Go(func() error {
		c.runStoreStage(gctx)
		return nil
	})

	<-gctx.Done()
	return g.Wait()
}

// Stop unblocks any goroutine waiting in Queue.Get; Run's stages then drain
// and exit on the cancelled context.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		c.deps.Queue.Close()
	})
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

func hashID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])[:16]
}
