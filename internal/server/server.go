package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/forkline/internal/config"
	"github.com/allaspectsdev/forkline/internal/tracing"
)

// Server is the HTTP server for request traffic. It mounts a Host on every
// path of a chi router and provides graceful shutdown.
type Server struct {
	router  chi.Router
	host    *Host
	addr    string
	httpSrv *http.Server
}

// NewServer creates a Server for host using the listener settings in sc.
// Zero-value timeouts leave the corresponding http.Server field at its
// default (no timeout). If tracingEnabled is true, the OpenTelemetry HTTP
// middleware is added to extract and inject trace context.
func NewServer(host *Host, sc config.ServerConfig, tracingEnabled bool) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)

	if tracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}

	// Every method and path belongs to the pipeline.
	r.Handle("/*", host)

	srv := &Server{
		router: r,
		host:   host,
		addr:   sc.Addr(),
	}

	srv.httpSrv = &http.Server{
		Addr:              srv.addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(sc.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(sc.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(sc.IdleTimeout) * time.Second,
	}

	return srv
}

// Router returns the underlying chi.Router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Host returns the pipeline host served by s.
func (s *Server) Host() *Host {
	return s.host
}

// Start begins listening for HTTP connections on the configured address.
// It blocks until the server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("request server starting")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("request server: %w", err)
	}
	return nil
}

// StartTLS begins listening for HTTPS connections using the given certificate
// and key files. It blocks until the server is shut down or encounters a fatal error.
func (s *Server) StartTLS(certFile, keyFile string) error {
	log.Info().Str("addr", s.addr).Msg("request server starting (TLS)")
	if err := s.httpSrv.ListenAndServeTLS(certFile, keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("request server (TLS): %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
