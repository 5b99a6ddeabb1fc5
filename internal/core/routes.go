package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"memberpay/internal/types"
)

// defaultRequestTimeout bounds every request context. Upstream invoice calls
// carry their own shorter timeout.
const defaultRequestTimeout = 30 * time.Second

// defaultRedactedHeaders are masked in request logs: credentials and every
// provider signature header.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"BTCPay-Sig",
	"X-Whop-Signature",
	"Stripe-Signature",
}

// MountRoutes registers the middleware chain and the route tree:
//
//	GET  /health
//	     (public registrars, e.g. POST /webhooks/{provider})
//	     /v1/* behind AuthMiddleware
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))

	s.router.Get("/health", s.HandleHealth)

	for _, registrar := range s.PublicRouteRegistrars {
		registrar(s.router)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.AuthMiddleware)
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, r, http.StatusNotFound, APIErrorResponse{Error: ErrorDetail{
			Code:      "not_found_route",
			Message:   "route not found",
			RequestID: types.GetRequestID(r.Context()),
		}})
	})
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
