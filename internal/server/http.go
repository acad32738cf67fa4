package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/calbridge/internal/google"
)

// MCPEndpointPath is where the streamable HTTP transport is mounted.
const MCPEndpointPath = "/mcp"

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

const (
	DefaultHTTPAddr              = ":8080"
	DefaultHTTPReadHeaderTimeout = 10 * time.Second
	// DefaultHTTPWriteTimeout must outlast a tool call: two upstream
	// attempts plus a refresh.
	DefaultHTTPWriteTimeout = 60 * time.Second
	DefaultHTTPIdleTimeout  = 120 * time.Second
)

// HTTPConfig configures the public HTTP server.
type HTTPConfig struct {
	Addr string
	// BaseURL is the externally visible URL; it must be https unless it
	// points at a loopback host.
	BaseURL string
	// MCPServer is mounted at MCPEndpointPath when set. It is nil for the
	// stdio transport, where only the auth routes are served.
	MCPServer   *mcpserver.MCPServer
	RateLimiter *RateLimiter
	Health      *HealthChecker
}

// HTTPServer serves the OAuth routes, health checks and optionally the MCP
// streamable HTTP endpoint.
type HTTPServer struct {
	serverContext *ServerContext
	config        HTTPConfig
	handler       http.Handler
	httpServer    *http.Server
	listener      net.Listener
	logger        *slog.Logger
}

// NewHTTPServer validates cfg and assembles the handler chain.
func NewHTTPServer(sc *ServerContext, cfg HTTPConfig) (*HTTPServer, error) {
	if sc == nil {
		return nil, fmt.Errorf("server context is required")
	}
	if err := validateHTTPSRequirement(cfg.BaseURL); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultHTTPAddr
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthChecker(sc)
	}

	s := &HTTPServer{
		serverContext: sc,
		config:        cfg,
		logger:        sc.Logger(),
	}
	s.handler = s.buildHandler()
	return s, nil
}

func (s *HTTPServer) buildHandler() http.Handler {
	auth := &authHandlers{authorizer: s.serverContext.Authorizer(), logger: s.logger}
	limit := s.config.RateLimiter.Middleware

	mux := http.NewServeMux()
	mux.HandleFunc("/", auth.root)
	mux.Handle("GET "+google.AuthPath, limit(http.HandlerFunc(auth.begin)))
	mux.Handle("GET "+google.CallbackPath, limit(http.HandlerFunc(auth.callback)))
	s.config.Health.RegisterHealthEndpoints(mux)

	if s.config.MCPServer != nil {
		streamable := mcpserver.NewStreamableHTTPServer(s.config.MCPServer,
			mcpserver.WithEndpointPath(MCPEndpointPath),
		)
		mux.Handle(MCPEndpointPath, streamable)
	}

	var handler http.Handler = mux
	handler = s.instrumentationMiddleware(handler)
	handler = securityHeaders(s.config.BaseURL, handler)
	handler = requestID(handler)
	return otelhttp.NewHandler(handler, "calbridge.http")
}

// Handler returns the assembled handler chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until Shutdown.
func (s *HTTPServer) Start() error {
	return s.StartWithReadySignal(nil)
}

// StartWithReadySignal closes ready once the listener is bound.
func (s *HTTPServer) StartWithReadySignal(ready chan<- struct{}) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultHTTPReadHeaderTimeout,
		WriteTimeout:      DefaultHTTPWriteTimeout,
		IdleTimeout:       DefaultHTTPIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.serverContext.Context() },
	}

	s.logger.Info("starting HTTP server",
		slog.String("addr", listener.Addr().String()),
		slog.Bool("mcp_endpoint", s.config.MCPServer != nil))
	if ready != nil {
		close(ready)
	}
	return s.httpServer.Serve(listener)
}

// Shutdown gracefully shuts down the server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *HTTPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// instrumentationMiddleware records request counts and latency labelled by
// route pattern, which keeps the path label bounded.
func (s *HTTPServer) instrumentationMiddleware(next http.Handler) http.Handler {
	metrics := s.serverContext.Metrics()
	if metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		metrics.RecordHTTPRequest(r.Context(), r.Method, routeLabel(r), rw.statusCode, time.Since(start))
	})
}

// routeLabel returns the matched mux pattern. ServeMux sets it on the
// request it was handed, so it is visible after next returns.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

// securityHeaders sets the browser hardening headers on every response.
func securityHeaders(baseURL string, next http.Handler) http.Handler {
	hsts := false
	if u, err := url.Parse(baseURL); err == nil && u.Scheme == "https" {
		hsts = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		if hsts {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// requestID echoes X-Request-ID, minting a ULID when the caller sent none.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = ulid.Make().String()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code written by the handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events of the streamable transport working.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// validateHTTPSRequirement allows plain HTTP only for loopback hosts
// (localhost, 127.0.0.1, ::1). Google rejects other http redirect URIs.
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if !isLoopbackHost(u.Hostname()) {
			return fmt.Errorf("OAuth redirects require HTTPS (got: %s). Use HTTPS or localhost for development", baseURL)
		}
		return nil
	default:
		return fmt.Errorf("invalid URL scheme: %q. Must be http (localhost only) or https", u.Scheme)
	}
}

// IsLoopbackURL reports whether baseURL points at localhost, 127.0.0.1 or ::1.
func IsLoopbackURL(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return isLoopbackHost(u.Hostname())
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
