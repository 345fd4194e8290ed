// Package api serves the optional status endpoints: readiness events
// over websocket, prometheus metrics, and a health probe.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"loom/internal/event"
	"loom/internal/logging"
	"loom/internal/metrics"
	"loom/internal/prepare"
)

const shutdownTimeout = 5 * time.Second

// ServerOptions configures a Server.
type ServerOptions struct {
	Addr           string
	AuthToken      string
	AllowedOrigins []string
	Events         *event.Bus[prepare.ReadyEvent]
	Metrics        *metrics.Registry
	Logger         *logging.Logger
}

// Server is the status HTTP server. Zero value is not usable; construct
// with NewServer.
type Server struct {
	options ServerOptions
	logger  *logging.Logger
	server  *http.Server
}

// NewServer builds the server and its routes without listening yet.
func NewServer(options ServerOptions) *Server {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.LevelInfo, nil)
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}

	mux := http.NewServeMux()
	mux.Handle("/events", &ReadyEventsHandler{
		Bus:            options.Events,
		Logger:         logger,
		AuthToken:      options.AuthToken,
		AllowedOrigins: options.AllowedOrigins,
	})
	mux.Handle("/metrics", options.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &Server{
		options: options,
		logger:  logger.With(map[string]string{"loom.category": "api"}),
		server: &http.Server{
			Addr:              options.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start listens and serves until the context is cancelled or the
// listener fails. It blocks.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.options.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("status server listening", map[string]string{
		"addr": listener.Addr().String(),
	})

	errs := make(chan error, 1)
	go func() {
		errs <- s.server.Serve(listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// Addr reports the configured listen address.
func (s *Server) Addr() string {
	return s.options.Addr
}
