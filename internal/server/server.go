// Package server exposes the orchestrator to clients over HTTP. A request is
// POSTed as a message frame and answered with an SSE stream of thinking,
// partial, and final frames (or a single error frame); sessions persist
// across requests via the session query parameter.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dusk-indust/chorus/internal/session"
)

// Server is the client-facing HTTP server.
type Server struct {
	coord    *session.Coordinator
	registry *session.Registry
	backends []string
	judge    string
	http     *http.Server
}

// New creates a Server. backends and judge are reported by the backends
// endpoint; judge may be empty when synthesis runs without one.
func New(coord *session.Coordinator, registry *session.Registry, backends []string, judge string) *Server {
	return &Server{
		coord:    coord,
		registry: registry,
		backends: backends,
		judge:    judge,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/stream", s.handleStream)
	mux.HandleFunc("POST /v1/sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/backends", s.handleBackends)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// Start begins serving in a background goroutine and returns immediately.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go s.http.ListenAndServe()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// handleStream processes one message frame and streams the response. The
// session is resolved from the session query parameter; an anonymous session
// is created for the request and torn down when the stream ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var in session.Inbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	sid := r.URL.Query().Get("session")
	sess, created := s.registry.GetOrCreate(sid)
	anonymous := sid == ""

	sw := NewSSEWriter(w)
	sw.Init()

	// r.Context() is cancelled on client disconnect, which propagates to
	// every outstanding backend task via the coordinator.
	_ = s.coord.HandleMessage(r.Context(), sess, in, sw)

	if anonymous && created {
		s.registry.Remove(sess.ID())
	}
}

// handleCancel aborts the session's in-flight request. Idempotent: cancelling
// an idle session is a no-op.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	sess.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// handleBackends reports the configured backends.
func (s *Server) handleBackends(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Backends []string `json:"backends"`
		Judge    string   `json:"judge,omitempty"`
	}{Backends: s.backends, Judge: s.judge})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
