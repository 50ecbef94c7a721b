package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/api/middleware"
)

const (
	healthCheckTimeout = 2 * time.Second
	expectedRouteParts = 2
	versionHeader      = "X-Collector-Version"
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	Route struct {
		Path    string
		Handler http.Handler
	}
)

func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Probes and scraping bypass auth and rate limiting.
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", http.HandlerFunc(s.handlePing)},
		Route{"GET /ready", http.HandlerFunc(s.handleReady)},
		Route{"GET /health", http.HandlerFunc(s.handleHealth)},
		Route{"GET /metrics", s.metrics.handler()},
	)

	mux.HandleFunc("POST /api/v1/lineage", s.handleLineageEvent)
	mux.HandleFunc("POST /api/v1/lineage/batch", s.handleLineageBatch)
	mux.HandleFunc("GET /api/v1/runs/{runId}/events", s.handleRunEvents)

	mux.HandleFunc("/", s.handleNotFound)
}

// registerPublicRoutes registers the routes and adds their paths to the set
// that Authenticate and RateLimit let through. Only probes belong here.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// "GET /ping" is matched against r.URL.Path "/ping".
		path := route.Path
		if parts := strings.Fields(path); len(parts) == expectedRouteParts {
			path = parts[1]
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", route.Path))

			continue
		}

		s.public[path] = struct{}{}
	}
}

// handlePing is the liveness probe.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeText(w, r, http.StatusOK, "pong")
}

// handleReady is the readiness probe: 200 when the journal answers its health
// check within two seconds, 503 otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.journal.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		s.writeText(w, r, http.StatusServiceUnavailable, "storage unavailable")

		return
	}

	s.writeText(w, r, http.StatusOK, "ready")
}

// handleHealth returns status, version and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: "lineage-collector",
		Version:     s.config.Version,
		Uptime:      uptime,
	})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

func (s *Server) writeText(w http.ResponseWriter, r *http.Request, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set(versionHeader, s.config.Version)
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// writeJSON marshals before writing headers, so an encoding failure can still
// become a 500 problem.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	correlationID := middleware.GetCorrelationID(r.Context())

	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(versionHeader, s.config.Version)
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// hasJSONContentType accepts "application/json" with optional parameters.
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
