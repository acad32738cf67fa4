package server

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/teemow/calbridge/internal/tokenstore"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
	healthStatusMissing      = "missing"
)

// HealthChecker provides health check endpoints for Kubernetes liveness and readiness checks.
type HealthChecker struct {
	// ready indicates whether the server is ready to receive traffic
	ready atomic.Bool
	// serverContext provides access to dependencies for health checks
	serverContext *ServerContext
	// startTime tracks when the server started
	startTime time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{
		serverContext: sc,
		startTime:     time.Now(),
	}
	// Server starts as ready by default
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// isServerShuttingDown checks if the server context is shutting down.
// Returns false if serverContext is nil (safe for testing).
func (h *HealthChecker) isServerShuttingDown() bool {
	return h.serverContext != nil && h.serverContext.IsShutdown()
}

func (h *HealthChecker) hasStore() bool {
	return h.serverContext == nil || h.serverContext.Store() != nil
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse provides comprehensive health information.
type DetailedHealthResponse struct {
	Status          string `json:"status"`
	Uptime          string `json:"uptime"`
	ReadOnly        bool   `json:"read_only"`
	Tools           int    `json:"tools"`
	TokenStore      string `json:"token_store,omitempty"`
	OAuthConfigured bool   `json:"oauth_configured"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
// Liveness checks indicate whether the process should be restarted.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// readinessCheck is one named readiness condition and the value reported
// when it fails.
type readinessCheck struct {
	name    string
	passing func() bool
	failure string
}

func (h *HealthChecker) readinessChecks() []readinessCheck {
	return []readinessCheck{
		{name: "ready", passing: h.IsReady, failure: healthStatusNotReady},
		{name: "shutdown", passing: func() bool { return !h.isServerShuttingDown() }, failure: healthStatusShuttingDown},
		{name: "token_store", passing: h.hasStore, failure: healthStatusMissing},
	}
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
// The bridge is ready while it accepts traffic, is not shutting down and
// has a token store.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response := HealthResponse{Status: healthStatusOK, Checks: map[string]string{}}
		status := http.StatusOK
		for _, check := range h.readinessChecks() {
			if check.passing() {
				response.Checks[check.name] = healthStatusOK
				continue
			}
			response.Checks[check.name] = check.failure
			response.Status = healthStatusNotReady
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response)
	})
}

// RegisterHealthEndpoints registers health check endpoints on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

// DetailedHealthHandler returns an HTTP handler for the /healthz/detailed endpoint.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response := DetailedHealthResponse{
			Status: healthStatusOK,
			Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		}
		if sc := h.serverContext; sc != nil {
			response.ReadOnly = sc.Dispatcher().ReadOnly()
			response.Tools = len(sc.Dispatcher().Tools())
			response.OAuthConfigured = sc.Authorizer() != nil
			if sc.Store() != nil {
				response.TokenStore = tokenstore.DriverOf(sc.Store())
			}
		}

		status := http.StatusOK
		switch {
		case !h.ready.Load():
			response.Status = healthStatusNotReady
			status = http.StatusServiceUnavailable
		case h.isServerShuttingDown():
			response.Status = healthStatusShuttingDown
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, response)
	})
}
