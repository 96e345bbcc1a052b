// ABOUTME: HTTP route table built with chi from the configured routes
// ABOUTME: Authentication runs before routing; each route is guarded by its ACL resource

package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/config"
)

// RequestIDHeader carries the per-request identifier in both directions.
const RequestIDHeader = "X-Request-ID"

func (g *Gateway) newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(g.logger))

	// Health and metrics are served without authentication.
	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Method(http.MethodGet, g.config.Metrics.Path, g.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(g.dispatcher.Middleware)
		for _, route := range g.config.Routes {
			g.mountRoute(r, route)
		}
	})

	// Unknown paths still authenticate first, then 404.
	r.NotFound(g.dispatcher.Middleware(g.dispatcher.NotFound()).ServeHTTP)
	return r
}

func (g *Gateway) mountRoute(r chi.Router, route config.RouteConfig) {
	handler := http.Handler(resourceHandler(route))
	if acl := g.components.ACL; acl != nil {
		handler = g.dispatcher.RequireAllowed(acl, route.Controller, route.Action)(handler)
	}
	if route.Method == "" {
		r.Handle(route.Path, handler)
	} else {
		r.Method(route.Method, route.Path, handler)
	}
	g.logger.Debug("route mounted",
		"method", route.Method,
		"path", route.Path,
		"controller", route.Controller,
		"action", route.Action,
	)
}

// resourceResponse is the body returned by a guarded route.
type resourceResponse struct {
	Principal  string `json:"principal,omitempty"`
	Mechanism  string `json:"mechanism,omitempty"`
	Controller string `json:"controller"`
	Action     string `json:"action"`
	RequestID  string `json:"request_id,omitempty"`
}

// resourceHandler answers for a configured route with the identity the
// request was admitted under.
func resourceHandler(route config.RouteConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := resourceResponse{
			Controller: route.Controller,
			Action:     route.Action,
			RequestID:  w.Header().Get(RequestIDHeader),
		}
		if ac := auth.FromContext(r.Context()); ac != nil {
			resp.Principal = ac.PrincipalID
			resp.Mechanism = ac.Mechanism.String()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requestLogger assigns a request ID and logs each request once it completes.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			logger.Debug("request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration", time.Since(start),
			)
		})
	}
}
