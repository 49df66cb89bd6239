// Package api exposes the HTTP interface for run control: starting, stopping,
// and observing ingestion runs. Source administration lives outside this
// service behind the SourceProvider interface.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/document"
	"github.com/finchsearch/finch/internal/metrics"
	"github.com/finchsearch/finch/internal/run"
)

// ErrSourceNotFound is returned by providers for unknown source ids.
var ErrSourceNotFound = errors.New("source not found")

// SourceProvider resolves source definitions owned by the administrative
// layer.
type SourceProvider interface {
	Source(ctx context.Context, id string) (document.SourceDefinition, error)
}

// RunController is the dispatcher surface the handlers drive.
type RunController interface {
	Start(ctx context.Context, src document.SourceDefinition) (run.Record, error)
	Stop(sourceID string) error
	Status(ctx context.Context, sourceID string) (run.Record, error)
	History(ctx context.Context, sourceID string, limit, offset int) ([]run.Record, error)
	Logs(ctx context.Context, sourceID string, level run.Level) ([]run.LogEntry, error)
}

// Server wires HTTP handlers to the dispatcher and source provider.
type Server struct {
	router  chi.Router
	sources SourceProvider
	runs    RunController
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(sources SourceProvider, runs RunController, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sources: sources,
		runs:    runs,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sources/{source_id}/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Get("/", s.listRuns)
			r.Route("/current", func(r chi.Router) {
				r.Get("/", s.currentRun)
				r.Delete("/", s.stopRun)
				r.Get("/logs", s.runLogs)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StaticProvider is a fixed in-memory SourceProvider, used for local runs and
// tests.
type StaticProvider struct {
	mu      sync.RWMutex
	sources map[string]document.SourceDefinition
}

// NewStaticProvider indexes the given definitions by id.
func NewStaticProvider(defs ...document.SourceDefinition) *StaticProvider {
	p := &StaticProvider{sources: make(map[string]document.SourceDefinition, len(defs))}
	for _, def := range defs {
		p.sources[def.ID] = def
	}
	return p
}

// Source implements SourceProvider.
func (p *StaticProvider) Source(_ context.Context, id string) (document.SourceDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	def, ok := p.sources[id]
	if !ok {
		return document.SourceDefinition{}, ErrSourceNotFound
	}
	return def, nil
}

// Add registers or replaces a definition.
func (p *StaticProvider) Add(def document.SourceDefinition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[def.ID] = def
}
