// Package pipeline implements the coordinator (C6): three stages connected
// by bounded channels, turning a dequeued QueueItem into a persisted
// Document + Chunks + Vectors + FTS entries, or a rejected ProgressRecord.
package pipeline

import (
	"time"

	"github.com/katanaquant/ragkb/internal/queue"
	"github.com/katanaquant/ragkb/internal/store"
)

// StageResult classifies what a stage did with one work item, for logging
// and for the batched skip-counter summary.
type StageResult int

const (
	StageOk StageResult = iota
	StageSkip
	StageFail
)

func (r StageResult) String() string {
	switch r {
	case StageOk:
		return "ok"
	case StageSkip:
		return "skip"
	case StageFail:
		return "fail"
	default:
		return "unknown"
	}
}

// ExtractedDoc carries one file's extracted content out of the extractor,
// before chunking.
type ExtractedDoc struct {
	Item     queue.QueueItem
	FileHash string
	Method   string
	Text     string
}

// ChunkedDoc carries one file's chunks out of the chunk stage, before
// embedding.
type ChunkedDoc struct {
	Item     queue.QueueItem
	FileHash string
	Method   string
	Language string
	Chunks   []*store.Chunk
}

// EmbeddedDoc carries one file's chunks and their embeddings out of the
// embed stage, ready for the store stage's atomic persist.
type EmbeddedDoc struct {
	Item       queue.QueueItem
	FileHash   string
	Method     string
	Language   string
	Chunks     []*store.Chunk
	Embeddings [][]float32
}

// Config tunes the coordinator's concurrency and throttling.
type Config struct {
	// ChunkQueueCapacity bounds the channel between the chunk and embed stages.
	ChunkQueueCapacity int
	// EmbedQueueCapacity bounds the channel between the embed and store stages.
	EmbedQueueCapacity int
	// EmbedWorkers is M, the size of the embed worker pool (typ. 2-4).
	EmbedWorkers int
	// EmbedBatchSize is B, the mini-batch size per embed call (typ. 32).
	EmbedBatchSize int
	// SkipLogInterval batches the "N files skipped" summary line.
	SkipLogInterval time.Duration
}

// DefaultConfig returns spec.md §4.6's suggested defaults.
func DefaultConfig() Config {
	return Config{
		ChunkQueueCapacity: 64,
		EmbedQueueCapacity: 64,
		EmbedWorkers:       2,
		EmbedBatchSize:     32,
		SkipLogInterval:    10 * time.Second,
	}
}
