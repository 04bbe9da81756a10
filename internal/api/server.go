package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"posrelay/internal/connectivity"
	"posrelay/internal/dispatch"
	"posrelay/internal/queue"
	"posrelay/internal/scheduler"
)

type Server struct {
	r          *chi.Mux
	q          *queue.Queue
	dispatcher *dispatch.Dispatcher
	sched      *scheduler.Scheduler
	monitor    connectivity.Checker
}

// NewServer exposes the queue over HTTP: command dispatch, queue
// inspection, manual retry/clear, and an explicit sync trigger.
func NewServer(q *queue.Queue, d *dispatch.Dispatcher, s *scheduler.Scheduler, m connectivity.Checker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	srv := &Server{r: r, q: q, dispatcher: d, sched: s, monitor: m}

	r.Get("/health", srv.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/commands", srv.dispatchCommand)
	r.Get("/api/queue", srv.getQueue)
	r.Get("/api/queue/pending", srv.pendingCount)
	r.Post("/api/queue/sync", srv.triggerSync)
	r.Post("/api/queue/{id}/retry", srv.retryOperation)
	r.Delete("/api/queue/failed", srv.clearFailed)
	r.Delete("/api/queue/{id}", srv.dequeue)
	r.Delete("/api/queue", srv.clear)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": s.monitor.Online(),
	})
}

type commandReq struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args"`
}

func (s *Server) dispatchCommand(w http.ResponseWriter, r *http.Request) {
	var req commandReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Command == "" {
		http.Error(w, "command is required", 400)
		return
	}

	out := s.dispatcher.Do(r.Context(), req.Command, req.Args)
	switch out.Status {
	case dispatch.StatusExecuted:
		writeJSON(w, http.StatusOK, out)
	case dispatch.StatusQueued:
		writeJSON(w, http.StatusAccepted, out)
	default:
		writeJSON(w, http.StatusBadGateway, out)
	}
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.q.Snapshot())
}

func (s *Server) pendingCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]int{"pending": s.q.PendingCount()})
}

func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	s.sched.RequestSync(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) retryOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.q.RetryOperation(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		http.Error(w, "not found", 404)
	case errors.Is(err, queue.ErrOffline):
		http.Error(w, "offline", http.StatusServiceUnavailable)
	case err != nil:
		http.Error(w, err.Error(), 500)
	default:
		writeJSON(w, 200, s.q.Snapshot())
	}
}

func (s *Server) dequeue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.q.Dequeue(r.Context(), id); err != nil {
		http.Error(w, "not found", 404)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	s.q.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearFailed(w http.ResponseWriter, r *http.Request) {
	s.q.ClearFailed(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
