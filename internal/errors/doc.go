// Package errors defines the error taxonomy shared by the credential and
// dispatch layers.
//
// Every failure that can reach an MCP caller is classified by a Kind so the
// caller can tell "re-authorize" from "try again" from "invalid tool". All
// types support errors.Is against the Err* sentinels and errors.As.
package errors
