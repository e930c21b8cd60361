// Package health exposes pg-cdc's liveness/readiness probe and Prometheus
// scrape endpoint over HTTP, wiring a chi router with middleware and
// routed handlers.
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/cashapp/pg-cdc/internal/replication"
)

// Server is an HTTP server exposing /health, /health/ready and /metrics.
type Server struct {
	httpServer *http.Server
	ready      atomic.Bool
	session    *replication.Session
}

// New builds a Server listening on addr. session is stored on the Server
// but not consulted: the readiness probe reports only the flag set through
// SetReady.
func New(addr string, session *replication.Session, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{session: session}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetReady flips the readiness probe. internal/app sets it once the slot is
// ready, just before the session starts streaming, and clears it when the
// session's Run returns.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start runs the HTTP server in the background. ListenAndServe errors other
// than http.ErrServerClosed are sent on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
