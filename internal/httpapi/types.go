// Package httpapi exposes the minimal HTTP boundary (spec.md §6): query,
// health, document CRUD/reindex, document listing, integrity reporting, and
// indexing queue control. It is a thin translation layer over
// search.SearchEngine, pipeline.Coordinator, queue.Queue, and
// selfheal.Runner — no business logic lives here.
package httpapi

import "time"

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Text      string   `json:"text"`
	TopK      int      `json:"top_k,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
	Filter    string   `json:"filter,omitempty"`
	Language  string   `json:"language,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

// QueryResult is one ranked hit in a QueryResponse.
type QueryResult struct {
	Source    string  `json:"source"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
	Language  string  `json:"language,omitempty"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
}

// QueryResponse is the body of POST /query's response.
type QueryResponse struct {
	Results      []QueryResult `json:"results"`
	TotalResults int           `json:"total_results"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	QueueSize   int    `json:"queue_size"`
	InFlight    int    `json:"in_flight"`
	QueuePaused bool   `json:"queue_paused"`
}

// DocumentInfo is the body of GET /document/{path}.
type DocumentInfo struct {
	Path        string    `json:"path"`
	Status      string    `json:"status"`
	ChunkCount  int       `json:"chunk_count"`
	IndexedAt   time.Time `json:"indexed_at,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
}

// DocumentListResponse is the body of GET /documents.
type DocumentListResponse struct {
	Documents  []DocumentInfo `json:"documents"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// IntegrityIssue describes one problem found by the integrity report: either
// a document-level problem, or a chunk-level index.Inconsistency from the
// consistency checker (Path then holds the chunk ID).
type IntegrityIssue struct {
	Path  string `json:"path"`
	Issue string `json:"issue"` // "missing_embeddings", "zero_chunks", or an index.InconsistencyType string
}

// IntegrityResponse is the body of GET /documents/integrity.
type IntegrityResponse struct {
	Checked int              `json:"checked"`
	Issues  []IntegrityIssue `json:"issues"`
}

// JobsResponse is the body of GET /queue/jobs.
type JobsResponse struct {
	Queued   []JobInfo `json:"queued"`
	InFlight int       `json:"in_flight"`
	Paused   bool      `json:"paused"`
}

// JobInfo is one pending queue item.
type JobInfo struct {
	Path     string `json:"path"`
	Priority string `json:"priority"`
	Force    bool   `json:"force"`
}

// ErrorResponse is the body returned on any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
