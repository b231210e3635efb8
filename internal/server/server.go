// Package server hosts the HTTP router and the middleware shared by every route.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const readHeaderTimeout = 10 * time.Second

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger

	mu   sync.Mutex
	http *http.Server
}

// New creates a router with request ids, request logging, panic recovery and
// tracing. Timeouts and auth are applied per route group by the caller, since
// WebSocket and long-poll decision routes must outlive a request timeout.
func New(port int, logger *slog.Logger, serviceName string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if serviceName == "" {
		serviceName = "interaction-gateway"
	}

	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName)
	})

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
}

// Start listens on the configured port and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. A clean shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.http = &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	srv := s.http
	s.mu.Unlock()

	s.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
