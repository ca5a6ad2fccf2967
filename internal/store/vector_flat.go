package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FlatStore implements VectorStore as an exact brute-force dot product scan.
// It trades scalability for correctness: every Search is O(n*D), which is
// fine for small corpora and useful as a baseline to validate HNSWStore's
// approximate results against.
type FlatStore struct {
	mu     sync.RWMutex
	config VectorStoreConfig

	ids     []string
	vectors [][]float32
	index   map[string]int // id -> position in ids/vectors

	closed bool
}

// flatMetadata is the on-disk persistence format for FlatStore.
type flatMetadata struct {
	IDs     []string
	Vectors [][]float32
	Config  VectorStoreConfig
}

// NewFlatStore creates a new brute-force vector store.
func NewFlatStore(cfg VectorStoreConfig) (*FlatStore, error) {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	return &FlatStore{
		config: cfg,
		index:  make(map[string]int),
	}, nil
}

// Add inserts vectors with their IDs. If an ID exists, it is replaced in place.
func (s *FlatStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		if pos, exists := s.index[id]; exists {
			s.vectors[pos] = vec
			continue
		}

		s.ids = append(s.ids, id)
		s.vectors = append(s.vectors, vec)
		s.index[id] = len(s.ids) - 1
	}

	return nil
}

// Search finds k nearest neighbors to query vector via exhaustive scan.
func (s *FlatStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if len(s.ids) == 0 {
		return []*VectorResult{}, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalizedQuery)
	}

	results := make([]*VectorResult, 0, len(s.ids))
	for i, id := range s.ids {
		distance := vectorDistance(normalizedQuery, s.vectors[i], s.config.Metric)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Delete removes vectors by ID.
func (s *FlatStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		pos, exists := s.index[id]
		if !exists {
			continue
		}
		last := len(s.ids) - 1
		s.ids[pos] = s.ids[last]
		s.vectors[pos] = s.vectors[last]
		s.index[s.ids[pos]] = pos

		s.ids = s.ids[:last]
		s.vectors = s.vectors[:last]
		delete(s.index, id)
	}

	return nil
}

// AllIDs returns all vector IDs in the store.
func (s *FlatStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	ids := make([]string, len(s.ids))
	copy(ids, s.ids)
	return ids
}

// Contains checks if ID exists.
func (s *FlatStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, exists := s.index[id]
	return exists
}

// Count returns number of vectors.
func (s *FlatStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.ids)
}

// Save persists the index to disk via gob encoding (temp file + rename).
func (s *FlatStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	meta := flatMetadata{IDs: s.ids, Vectors: s.vectors, Config: s.config}
	writer := bufio.NewWriter(file)
	if err := gob.NewEncoder(writer).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush index: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return nil
}

// Load loads the index from disk.
func (s *FlatStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close flat index file", slog.String("error", err.Error()))
		}
	}()

	var meta flatMetadata
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&meta); err != nil {
		return fmt.Errorf("failed to decode index: %w", err)
	}

	s.ids = meta.IDs
	s.vectors = meta.Vectors
	s.config = meta.Config
	s.index = make(map[string]int, len(s.ids))
	for i, id := range s.ids {
		s.index[id] = i
	}

	return nil
}

// Close releases resources.
func (s *FlatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.ids = nil
	s.vectors = nil
	s.index = nil
	return nil
}

// Verify interface implementation.
var _ VectorStore = (*FlatStore)(nil)

// vectorDistance computes the distance between two vectors under the given metric.
func vectorDistance(a, b []float32, metric string) float32 {
	switch metric {
	case "l2":
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(math.Sqrt(sum))
	default: // "cos"
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		// a and b are pre-normalized, so cosine distance is 1 - dot product.
		return float32(1.0 - dot)
	}
}
