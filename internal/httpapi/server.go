package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/katanaquant/ragkb/internal/index"
	"github.com/katanaquant/ragkb/internal/pipeline"
	"github.com/katanaquant/ragkb/internal/queue"
	"github.com/katanaquant/ragkb/internal/search"
	"github.com/katanaquant/ragkb/internal/store"
)

// Dependencies are the collaborators the HTTP surface delegates to.
type Dependencies struct {
	Engine      search.SearchEngine
	Coordinator *pipeline.Coordinator
	Queue       *queue.Queue
	Metadata    store.MetadataStore
	Ledger      store.Ledger
	Checker     *index.ConsistencyChecker
	ProjectID   string
}

// Server wires Dependencies into a chi router. It holds no state of its
// own beyond the collaborators handed to it at construction.
type Server struct {
	deps   Dependencies
	router *chi.Mux
}

// NewServer validates deps and builds the route table.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Engine == nil || deps.Coordinator == nil || deps.Queue == nil || deps.Metadata == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("httpapi: Engine, Coordinator, Queue, Metadata, and Ledger are all required")
	}
	s := &Server{deps: deps}
	s.router = s.buildRouter()
	return s, nil
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Request-ID", uuid.NewString())
			next.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/query", s.handleQuery)

	r.Get("/documents", s.handleListDocuments)
	r.Get("/documents/integrity", s.handleIntegrity)

	r.Get("/document/{path}", s.handleGetDocument)
	r.Delete("/document/{path}", s.handleDeleteDocument)
	r.Post("/document/{path}", s.handleAddDocument)
	r.Post("/document/{path}/reindex", s.handleReindexDocument)

	r.Get("/queue/jobs", s.handleQueueJobs)
	r.Post("/indexing/pause", s.handleIndexingPause)
	r.Post("/indexing/resume", s.handleIndexingResume)
	r.Post("/indexing/clear", s.handleIndexingClear)

	return r
}
