// Package instrumentation wires OpenTelemetry metrics and tracing into the
// calendar bridge.
//
// Metrics:
//   - http_requests_total, http_request_duration_seconds
//   - mcp_active_sessions
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds (tool, status, error_kind)
//   - google_api_operations_total, google_api_operation_duration_seconds
//   - oauth_auth_total, oauth_token_refresh_total (result)
//   - token_store_operations_total (backend, operation, status)
//
// Metrics are exported to a dedicated Prometheus registry served on its own
// port, or pushed over OTLP. Spans are named tool.<name> for MCP calls and
// google.calendar.<operation> for upstream calls.
//
// User ids never appear in metric labels or spans unhashed.
package instrumentation
