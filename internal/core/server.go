// Package core provides the HTTP chassis for the memberpay API: a chi router,
// the cross-cutting middleware chain, health probes, and the response
// envelope helpers used by every handler.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"memberpay/internal/config"
)

// RouteRegistrar mounts a handler's routes on a router.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the dependencies of the HTTP surface so tests can
// inject fakes.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// PublicRouteRegistrars are mounted at the root without authentication
	// (provider webhooks). V1RouteRegistrars are mounted under /v1 behind
	// AuthMiddleware.
	PublicRouteRegistrars []RouteRegistrar
	V1RouteRegistrars     []RouteRegistrar

	// Closers are released in order on Shutdown (DB pool, etc.).
	Closers []func()

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares the router.
// The caller mounts routes with MountRoutes after populating the registrars.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, c := range s.Closers {
		c()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
