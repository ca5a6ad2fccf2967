package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EmbedderInfoInput carries the current embedder configuration into
// GetIndexInfo for compatibility comparison against the stored index state.
type EmbedderInfoInput struct {
	Model      string
	Backend    string
	Dimensions int
}

// GetIndexInfo assembles a comprehensive snapshot of an index: stored
// embedding configuration, chunk/document counts, on-disk sizes, and
// (when embedderInput is non-nil) compatibility against the currently
// configured embedder. projectID, when non-empty, is used to look up the
// Project row for root path, document count, and timestamps.
func GetIndexInfo(ctx context.Context, metadata MetadataStore, dataDir, projectID string, embedderInput *EmbedderInfoInput) (*IndexInfo, error) {
	info := &IndexInfo{
		Location: dataDir,
	}

	if projectID != "" {
		if project, err := metadata.GetProject(ctx, projectID); err == nil && project != nil {
			info.ProjectRoot = project.RootPath
			info.DocumentCount = project.FileCount
			info.CreatedAt = project.IndexedAt
			info.UpdatedAt = project.IndexedAt
		}
	}

	indexModel, err := metadata.GetState(ctx, StateKeyIndexModel)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored index model: %w", err)
	}
	info.IndexModel = indexModel
	info.IndexBackend = inferBackendFromModel(indexModel)

	dimStr, err := metadata.GetState(ctx, StateKeyIndexDimension)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored index dimension: %w", err)
	}
	if dimStr != "" {
		fmt.Sscanf(dimStr, "%d", &info.IndexDimensions)
	}

	withEmbedding, withoutEmbedding, err := metadata.GetEmbeddingStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding stats: %w", err)
	}
	info.ChunkCount = withEmbedding + withoutEmbedding

	info.BM25SizeBytes = getDirSize(filepath.Join(dataDir, "bm25"))
	info.VectorSizeBytes = fileSize(filepath.Join(dataDir, "vectors.hnsw"))
	info.IndexSizeBytes = info.BM25SizeBytes + info.VectorSizeBytes + fileSize(filepath.Join(dataDir, "metadata.db"))

	if embedderInput != nil {
		info.CurrentModel = embedderInput.Model
		info.CurrentBackend = embedderInput.Backend
		info.CurrentDimensions = embedderInput.Dimensions
		info.Compatible = info.IndexDimensions == 0 || info.IndexDimensions == embedderInput.Dimensions
	}

	return info, nil
}

// FormatBytes renders a byte count as a human-readable size (e.g. "1.5 KB").
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// FormatTime renders a timestamp for display, or "unknown" for the zero value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}

// containsAny reports whether s contains any of the given substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses the embedding backend from a stored model
// name. Static embeddings are named "static"/"static768"; everything else
// currently comes from Ollama.
func inferBackendFromModel(model string) string {
	if model == "" {
		return "unknown"
	}
	if containsAny(model, []string{"static"}) {
		return "static"
	}
	return "ollama"
}

// getDirSize returns the total size in bytes of all regular files under dir,
// or 0 if dir does not exist.
func getDirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// fileSize returns the size in bytes of a single file, or 0 if it doesn't exist.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
