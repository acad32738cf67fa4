// Package common provides shared helpers for MCP tool handlers: request
// metadata access and the instrumentation wrapper every tool is registered
// through.
package common
