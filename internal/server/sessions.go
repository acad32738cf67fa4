package server

import (
	"context"
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calbridge/internal/instrumentation"
)

// SessionHooks tracks MCP client sessions in the active sessions gauge.
// Sessions carry no identity; user_id travels per call in request metadata.
func SessionHooks(metrics *instrumentation.Metrics, logger *slog.Logger) *mcpserver.Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		metrics.IncrementActiveSessions(ctx)
		logger.Debug("mcp session registered", slog.String("session_id", session.SessionID()))
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		metrics.DecrementActiveSessions(ctx)
		logger.Debug("mcp session unregistered", slog.String("session_id", session.SessionID()))
	})
	return hooks
}
