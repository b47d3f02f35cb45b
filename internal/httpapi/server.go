// Package httpapi exposes the scheduler's external interface: task
// admission, lookup, health, and a stats snapshot.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/taskscheduler/internal/reqid"
	"github.com/swarmguard/taskscheduler/internal/resilience"
	"github.com/swarmguard/taskscheduler/internal/task"
)

// Admitter is the subset of the admission contract the HTTP layer calls.
type Admitter interface {
	Admit(ctx context.Context, t task.Task) error
}

// TaskReader is the subset of the store contract read-only endpoints need.
type TaskReader interface {
	GetTask(ctx context.Context, id string) (task.Task, error)
	ListTasks(ctx context.Context) ([]task.Task, error)
	Stats(ctx context.Context) (map[string]int, error)
}

// Server wires the HTTP surface described by the scheduler's external
// interface onto an Admitter and a TaskReader.
type Server struct {
	admitter Admitter
	reader   TaskReader
	limiter  *resilience.RateLimiter

	mux *http.ServeMux

	requests metric.Int64Counter
}

// New builds a Server ready to Handler().
func New(admitter Admitter, reader TaskReader, limiter *resilience.RateLimiter) *Server {
	meter := otel.Meter("taskscheduler")
	requests, _ := meter.Int64Counter("scheduler_http_requests_total")
	s := &Server{
		admitter: admitter,
		reader:   reader,
		limiter:  limiter,
		mux:      http.NewServeMux(),
		requests: requests,
	}
	s.routes()
	return s
}

// Handler returns the fully wrapped HTTP handler, including the request id
// middleware.
func (s *Server) Handler() http.Handler {
	return reqid.Middleware(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
}

type createTaskRequest struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	DurationMS   int64    `json:"duration_ms"`
	Dependencies []string `json:"dependencies"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	s.count(r, "create_task")

	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "admission rate limit exceeded")
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	if req.DurationMS < 0 {
		writeError(w, http.StatusBadRequest, "duration_ms must be non-negative")
		return
	}

	t := task.Task{
		ID:           req.ID,
		Type:         req.Type,
		DurationMS:   req.DurationMS,
		Dependencies: req.Dependencies,
		Status:       task.StatusQueued,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.admitter.Admit(r.Context(), t); err != nil {
		writeTaskError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, taskSummary{ID: t.ID, Status: task.StatusQueued})
}

// taskSummary is the {id, status} shape used by the list and create
// endpoints; GET /tasks/{id} returns the full task object instead.
type taskSummary struct {
	ID     string      `json:"id"`
	Status task.Status `json:"status"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	s.count(r, "list_tasks")
	tasks, err := s.reader.ListTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	summaries := make([]taskSummary, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, taskSummary{ID: t.ID, Status: t.Status})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	s.count(r, "get_task")
	id := r.PathValue("id")
	t, err := s.reader.GetTask(r.Context(), id)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.count(r, "metrics")
	stats, err := s.reader.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) count(r *http.Request, route string) {
	s.requests.Add(r.Context(), 1, metric.WithAttributes(attribute.String("route", route)))
}

func writeTaskError(w http.ResponseWriter, err error) {
	var conflict *task.ConflictError
	var missingDep *task.MissingDependencyError
	var cycle *task.CycleError
	var notFound *task.NotFoundError
	var invalidID *task.InvalidIDError

	switch {
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &missingDep), errors.As(err, &cycle), errors.As(err, &invalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("unhandled task error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
