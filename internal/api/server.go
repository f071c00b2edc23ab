// Package api provides the HTTP control surface for warden.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wardenhq/warden/internal/authgw"
	"github.com/wardenhq/warden/internal/lifecycle"
	"github.com/wardenhq/warden/internal/logger"
)

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewServer creates and configures the HTTP router
func NewServer(controller *lifecycle.Controller, gateway *authgw.Gateway, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	routes := newRoutes(controller, gateway)

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	// Unauthenticated surface
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler)
	r.Post("/auth/login", routes.login)

	// Bearer-protected surface
	r.Route("/server", func(r chi.Router) {
		r.Use(bearerAuth(gateway))
		r.Post("/start", routes.startServer)
		r.Post("/stop", routes.stopServer)
		r.Get("/status", routes.serverStatus)
		r.Get("/client-password", routes.getClientPassword)
		r.Post("/client-password", routes.setClientPassword)
	})

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debugf("HTTP %s %s %d %s %s",
			r.Method,
			r.URL.Path,
			ww.Status(),
			time.Since(start),
			middleware.GetReqID(r.Context()),
		)
	})
}
