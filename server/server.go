// Package server implements the Hyperagent HTTP server: persona and task
// REST APIs, event tailing, and the websocket chat endpoint.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/GoCodeAlone/hyperagent/config"
	"github.com/GoCodeAlone/hyperagent/eventlog"
	"github.com/GoCodeAlone/hyperagent/persona"
	"github.com/GoCodeAlone/hyperagent/provider"
	"github.com/GoCodeAlone/hyperagent/task"
)

// Server is the Hyperagent HTTP server.
type Server struct {
	cfg     config.ServerConfig
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	personas *persona.Store
	tasks    task.Store
	events   *eventlog.Log
	backend  provider.Streamer

	conversations *conversations
	startTime     time.Time
}

// New creates a Server wired to the given stores and generation backend.
func New(cfg config.ServerConfig, personas *persona.Store, tasks task.Store, events *eventlog.Log, backend provider.Streamer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:           cfg,
		mux:           http.NewServeMux(),
		logger:        logger,
		personas:      personas,
		tasks:         tasks,
		events:        events,
		backend:       backend,
		conversations: newConversations(10),
		startTime:     time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.health)

	s.mux.HandleFunc("GET /api/agents", s.listPersonas)
	s.mux.HandleFunc("GET /api/agents/{id}", s.getPersona)
	s.mux.HandleFunc("PUT /api/agents/{id}", s.upsertPersona)
	s.mux.HandleFunc("DELETE /api/agents/{id}", s.deletePersona)

	s.mux.HandleFunc("GET /api/tasks", s.listTasks)
	s.mux.HandleFunc("POST /api/tasks", s.createTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.getTask)

	s.mux.HandleFunc("GET /api/events", s.tailEvents)

	s.mux.HandleFunc("GET /ws/chat", s.chat)
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins serving on the configured address. It blocks until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
