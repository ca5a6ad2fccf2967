package store

import "fmt"

// VectorBackend represents the vector index backend type.
type VectorBackend string

const (
	// VectorBackendHNSW uses coder/hnsw for approximate nearest-neighbor
	// search (default). Scales to large corpora at the cost of exactness.
	VectorBackendHNSW VectorBackend = "hnsw"

	// VectorBackendFlat uses a brute-force dot product scan. Exact, but
	// O(n*D) per query - only suitable for small corpora.
	VectorBackendFlat VectorBackend = "flat"
)

// NewVectorStoreWithBackend creates a VectorStore using the specified backend.
//
// backend options:
//   - "hnsw" (default): approximate nearest-neighbor search via coder/hnsw
//   - "flat": exact brute-force scan
func NewVectorStoreWithBackend(cfg VectorStoreConfig, backend string) (VectorStore, error) {
	switch backend {
	case string(VectorBackendHNSW), "":
		return NewHNSWStore(cfg)
	case string(VectorBackendFlat):
		return NewFlatStore(cfg)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: hnsw, flat)", backend)
	}
}
