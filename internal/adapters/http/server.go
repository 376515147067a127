package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/strata/internal/logging"
	"github.com/aretw0/strata/internal/presentation/graph"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/observability"
	"github.com/aretw0/strata/pkg/ports"
)

// Watcher reports changes to the description source, one document id per change.
type Watcher interface {
	Watch(ctx context.Context) (<-chan string, error)
}

// ItemReader reads committed item state.
type ItemReader interface {
	Events(ctx context.Context, item domain.ItemID, tk domain.TransactionKey) ([]domain.Event, error)
}

// Server exposes health, metrics and read-only introspection of the loaded
// descriptions and of item histories.
type Server struct {
	Loader   ports.DescriptionLoader
	Items    ItemReader
	Gatherer prometheus.Gatherer
	Version  string
	Logger   *slog.Logger
}

// NewHandler creates the HTTP handler for the server.
func NewHandler(s *Server) http.Handler {
	if s.Logger == nil {
		s.Logger = logging.NewNop()
	}
	if s.Gatherer == nil {
		s.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Method(http.MethodGet, "/metrics", observability.Handler(s.Gatherer))
	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", s.ListWorkflows)
		r.Get("/{name}", s.GetWorkflow)
		r.Get("/{name}/graph", s.GetGraph)
	})
	r.Get("/items/{id}/events", s.GetItemEvents)
	r.Get("/events", s.SubscribeEvents)
	return r
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "strata",
		"version": s.Version,
	})
}

// ListWorkflows handles the GET /workflows request.
func (s *Server) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	if s.Loader == nil {
		http.Error(w, "no description loader configured", http.StatusServiceUnavailable)
		return
	}
	names, err := s.Loader.ListWorkflows(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, names)
}

// GetWorkflow handles the GET /workflows/{name} request.
func (s *Server) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.Loader == nil {
		http.Error(w, "no description loader configured", http.StatusServiceUnavailable)
		return
	}
	desc, err := s.Loader.Workflow(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, desc)
}

// GetGraph handles the GET /workflows/{name}/graph request with a Mermaid flowchart.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	if s.Loader == nil {
		http.Error(w, "no description loader configured", http.StatusServiceUnavailable)
		return
	}
	desc, err := s.Loader.Workflow(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, graph.GenerateMermaid(desc, nil))
}

// GetItemEvents handles the GET /items/{id}/events request with the item's committed history.
func (s *Server) GetItemEvents(w http.ResponseWriter, r *http.Request) {
	if s.Items == nil {
		http.Error(w, "no kernel configured", http.StatusServiceUnavailable)
		return
	}
	var none domain.TransactionKey
	events, err := s.Items.Events(r.Context(), domain.ItemID(chi.URLParam(r, "id")), none)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

// SubscribeEvents handles the GET /events request (SSE), streaming description changes.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	watcher, ok := s.Loader.(Watcher)
	if !ok {
		http.Error(w, "description source cannot be watched", http.StatusNotImplemented)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	events, err := watcher.Watch(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Watch error: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case id, ok := <-events:
			if !ok {
				return
			}
			s.Logger.Debug("Description changed", "document", id)
			fmt.Fprintf(w, "data: %s\n\n", id)
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrObjectNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidData):
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
