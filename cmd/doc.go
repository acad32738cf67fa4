// Package cmd implements the command-line interface for calbridge.
//
// This package provides the following commands:
//   - serve: Start the multi-user Calendar MCP server
//   - auth-url: Print the link a user visits to connect their calendar
//   - tokens: Inspect or delete a user's stored credential
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// Flags are bound to viper; every flag can also be set through a
// CALBRIDGE_-prefixed environment variable.
package cmd
