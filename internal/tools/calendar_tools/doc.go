// Package calendar_tools exposes the Calendar dispatcher as MCP tools.
//
// Every tool call is forwarded to dispatch.Dispatcher together with the
// request's _meta object, which must carry the caller's user_id. The tool
// result holds a human readable text rendering and, as structured content,
// the dispatch result including a classified error when the call failed.
package calendar_tools
