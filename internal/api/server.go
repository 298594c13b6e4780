// Package api exposes a small JSON status surface for a running pipeline.
// It is observational only: no endpoint starts, stops, or mutates a run.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mfalcone/docmill/internal/ingest"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires the status routes and returns a Server ready to Run.
func New(addr string, mgr *ingest.Manager, version string) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		snap, running := mgr.Snapshot()
		resp := struct {
			Version string           `json:"version"`
			Running bool             `json:"running"`
			Run     *ingest.Snapshot `json:"run,omitempty"`
		}{Version: version, Running: running}
		if running {
			resp.Run = &snap
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Warn("encode status response", "error", err)
		}
	})

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("status server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
