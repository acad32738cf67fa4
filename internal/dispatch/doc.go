// Package dispatch routes MCP tool calls to the right user's Google
// Calendar.
//
// A Dispatcher reads user_id from the request metadata, resolves that
// user's access token, runs the named Calendar operation under a bounded
// timeout and converts every failure into a structured ToolError. An
// upstream 401 triggers exactly one forced refresh and retry.
package dispatch
