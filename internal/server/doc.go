// Package server provides the MCP server context and the HTTP surface of
// the calendar bridge.
//
// # Key Components
//
// ServerContext owns the long-lived dependencies: the tool dispatcher, the
// OAuth flow, the token store and the instrumentation recorders.
//
// HTTPServer serves:
//   - GET /                       liveness text for humans
//   - GET /auth/google            redirect to the Google consent screen
//   - GET /auth/google/callback   code exchange and credential storage
//   - /mcp                        MCP streamable HTTP transport (optional)
//   - /healthz, /readyz, /healthz/detailed
//
// MetricsServer exposes the Prometheus registry on a dedicated port.
//
// # Security Features
//
//   - HTTPS required for the public base URL (loopback exempt for development)
//   - Signed, expiring OAuth state binds the callback to the user id
//   - Per-IP rate limiting of the auth routes
//   - Security headers on all HTTP responses
package server
