// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

// Package httpapi exposes the authentication core over HTTP. The
// boundary is deliberately thin: handlers translate between JSON plus a
// session cookie and the core's operations, and map sentinel errors to
// status codes without leaking which credential component failed.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/samber/oops"

	"github.com/grammata/grammata/internal/auth"
	"github.com/grammata/grammata/internal/observability"
)

// Config carries the HTTP-boundary settings.
type Config struct {
	Addr         string
	CookieName   string
	CookieSecure bool
	CORSOrigins  []string
}

// Server serves the /auth API.
type Server struct {
	cfg       Config
	validator *auth.CredentialValidator
	sessions  *auth.SessionManager
	resets    *auth.PasswordResetCoordinator
	metrics   *observability.Metrics
	logger    *slog.Logger

	router     *chi.Mux
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer wires the API server. metrics may be nil (no request
// instrumentation); logger may be nil (slog default).
func NewServer(
	cfg Config,
	validator *auth.CredentialValidator,
	sessions *auth.SessionManager,
	resets *auth.PasswordResetCoordinator,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (*Server, error) {
	if validator == nil || sessions == nil || resets == nil {
		return nil, oops.Code("API_INVALID_DEPS").Errorf("validator, sessions, and resets are required")
	}
	if cfg.CookieName == "" {
		return nil, oops.Code("API_INVALID_CONFIG").Errorf("cookie name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		validator: validator,
		sessions:  sessions,
		resets:    resets,
		metrics:   metrics,
		logger:    logger,
		router:    chi.NewRouter(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/password-reset/request", s.handleResetRequest)
		r.Post("/password-reset/confirm", s.handleResetConfirm)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/me", s.handleMe)
		})
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving the API. It returns an error channel that
// receives any serve failure; the channel is closed on graceful stop.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}

	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the bound address, or empty when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
