// Package google drives the per-user Google OAuth lifecycle.
//
// FlowManager runs the three-legged authorization-code flow: it builds the
// consent URL, exchanges the callback code and refreshes access tokens. The
// OAuth state parameter is a short-lived signed token carrying the user id,
// so the callback is attributed without cookies or server memory.
//
// Resolver turns a user id into a usable access token. It refreshes tokens
// close to expiry, allows at most one refresh in flight per user and removes
// credentials whose refresh token Google has revoked.
//
// Both satisfy the narrow interfaces the dispatcher and HTTP server declare.
package google
