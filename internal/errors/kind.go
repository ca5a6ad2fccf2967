package errors

import "errors"

// Kind classifies pipeline-facing failures at the stage-boundary level,
// distinct from the Category/Code scheme above which classifies
// infrastructure-facing failures (config, I/O, network). Kind answers
// "which pipeline stage rejected this work item and why", and is what
// the queue, pipeline, and self-heal packages reason about when deciding
// whether to retry, mark a ledger row rejected, or escalate.
type Kind string

const (
	// KindConfigFatal means the loaded configuration is invalid and the
	// process cannot proceed at all.
	KindConfigFatal Kind = "config_fatal"

	// KindExtractionFailed means the extractor for a file's type returned
	// an error or a non-success result.
	KindExtractionFailed Kind = "extraction_failed"

	// KindSecurityRejected means a security scanner rejected the file
	// before extraction ran.
	KindSecurityRejected Kind = "security_rejected"

	// KindZeroChunks means extraction and chunking succeeded but produced
	// no chunks (e.g. an empty or whitespace-only file).
	KindZeroChunks Kind = "zero_chunks"

	// KindEmbeddingFailed means the embedder returned an error for one or
	// more chunks in a batch.
	KindEmbeddingFailed Kind = "embedding_failed"

	// KindStoreWriteFailure means a write to the metadata store, vector
	// index, or lexical index failed. This is the one Kind that Retry is
	// applied to by default.
	KindStoreWriteFailure Kind = "store_write_failure"

	// KindRetrievalFailed means a search query could not be completed
	// (cache error aside, a fusion/rerank/store fault occurred).
	KindRetrievalFailed Kind = "retrieval_failed"

	// KindIndexInconsistency means a self-heal or consistency check found
	// a mismatch between the metadata store and a vector/lexical index.
	KindIndexInconsistency Kind = "index_inconsistency"
)

// KindError pairs a Kind with the underlying cause. Pipeline stages return
// a *KindError so the coordinator's single dispatch point (the store-stage
// goroutine and the self-heal runner) can decide the outcome without
// re-deriving the failure reason from the raw error.
type KindError struct {
	Kind  Kind
	Path  string // file or chunk path this failure concerns, when applicable
	Cause error
}

// Error implements the error interface.
func (e *KindError) Error() string {
	if e.Path != "" {
		return string(e.Kind) + ": " + e.Path + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause for error chain support.
func (e *KindError) Unwrap() error {
	return e.Cause
}

// NewKindError wraps cause with a Kind and the path it concerns.
func NewKindError(kind Kind, path string, cause error) *KindError {
	return &KindError{Kind: kind, Path: path, Cause: cause}
}

// KindOf extracts the Kind from err, or "" if err is not a *KindError.
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ""
}

// Retryable reports whether a Kind should be retried by the pipeline's
// bounded-backoff Retry helper. Only store-write failures are transient
// in the spec's error taxonomy; everything else reflects a property of
// the input itself and retrying it would just reproduce the same failure.
func (k Kind) Retryable() bool {
	return k == KindStoreWriteFailure
}
