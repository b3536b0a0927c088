// Package api exposes the ingestion and retrieval pipeline over HTTP.
//
// Endpoints:
//
//	GET  /health                    liveness probe
//	GET  /ready                     readiness probe (pings the database)
//	POST /api/batches               upload a batch of documents, returns a task id
//	GET  /api/tasks/{id}            poll ingestion progress
//	POST /api/tasks/{id}/cancel     request cancellation at the next checkpoint
//	POST /api/ask                   retrieval-augmented question answering
//	POST /api/propose               schema-constrained proposal drafting
//	GET  /api/collections/stats     per-collection chunk and document counts
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints
//   - batch.go: batch upload and task endpoints
//   - ask.go: question answering endpoint
//   - propose.go: proposal drafting endpoint
//   - stats.go: collection statistics endpoint
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/materium/paperbase/internal/config"
	"github.com/materium/paperbase/internal/log"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads (Slowloris protection).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	// Generous because batch uploads carry document text.
	ReadTimeout = 60 * time.Second

	// WriteTimeout is the maximum duration for writing the response. Ask and
	// propose calls block on model generation.
	WriteTimeout = 180 * time.Second

	// IdleTimeout applies to keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health  *HealthHandler
	batch   *BatchHandler
	ask     *AskHandler
	propose *ProposeHandler
	stats   *StatsHandler
}

// NewServer wires all handlers and registers their routes.
func NewServer(cfg *config.Config, pool *pgxpool.Pool, pipeline BatchStarter, tracker TaskReader, retriever Retriever, generator Generator, stats StatsSource, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		logger:  logger,
		health:  NewHealthHandler(pool, logger),
		batch:   NewBatchHandler(pipeline, tracker, logger),
		ask:     NewAskHandler(cfg, retriever, generator, logger),
		propose: NewProposeHandler(cfg, retriever, generator, logger),
		stats:   NewStatsHandler(stats, logger),
	}

	s.health.RegisterRoutes(mux)
	s.batch.RegisterRoutes(mux)
	s.ask.RegisterRoutes(mux)
	s.propose.RegisterRoutes(mux)
	s.stats.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
