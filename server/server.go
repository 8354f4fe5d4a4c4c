// Package server exposes the scheduler over HTTP: a manual trigger endpoint
// and a health check.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stewardhq/steward/sched"
)

// Server is the HTTP trigger surface for the scheduler
type Server struct {
	runner *sched.Runner
	logger *zap.SugaredLogger
	port   int
}

// New creates an HTTP server around the runner
func New(runner *sched.Runner, port int, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{runner: runner, logger: logger, port: port}
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/run", s.HandleRun)
	mux.HandleFunc("/health", s.HandleHealth)
	return mux
}

// ListenAndServe runs the server until the context is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Infow("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// HandleRun triggers one poll cycle. Individual job failures land in the
// summary, not the status code: 200 means the cycle ran.
func (s *Server) HandleRun(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	summary, err := s.runner.RunOnce(r.Context())
	if err != nil {
		s.logger.Errorw("Manual poll cycle failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// HandleHealth reports liveness
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
