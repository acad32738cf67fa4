package common

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/calbridge/internal/dispatch"
	bridgeerrors "github.com/teemow/calbridge/internal/errors"
	"github.com/teemow/calbridge/internal/instrumentation"
	"github.com/teemow/calbridge/internal/server"
)

// ToolHandler is the mcp-go tool handler signature.
type ToolHandler = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// InstrumentedToolHandler wraps a tool handler with a tool span, metrics and
// audit logging. The error kind is taken from the *dispatch.Result carried in
// StructuredContent, or from the Go error.
//
// Usage:
//
//	s.AddTool(myTool, common.InstrumentedToolHandler("calendar_list_events", sc, handler))
func InstrumentedToolHandler(toolName string, sc *server.ServerContext, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, _ := UserIDFromRequest(request)
		label := instrumentation.ToolLabel(dispatch.CanonicalName(toolName))

		ctx, span := instrumentation.StartToolSpan(ctx, label,
			instrumentation.NewSpanAttributeBuilder().
				WithUser(userID).
				WithReadOnly(sc.Dispatcher().ReadOnly()).
				Build()...)
		defer span.End()

		start := time.Now()
		invocation := instrumentation.NewToolInvocation(label).
			WithUser(userID).
			WithSpanContext(ctx)
		if tool, ok := dispatch.Lookup(toolName); ok {
			invocation.WithOperation(tool.Operation)
		}

		result, err := handler(ctx, request)
		duration := time.Since(start)

		status := instrumentation.StatusSuccess
		kind, message := ErrorKind(result, err)
		if kind != "" {
			status = instrumentation.StatusError
			invocation.CompleteWithError(string(kind), message)
			instrumentation.SetSpanErrorKind(span, string(kind), message)
		} else {
			invocation.CompleteSuccess()
			instrumentation.SetSpanSuccess(span)
		}

		sc.Metrics().RecordToolInvocation(ctx, label, status, string(kind), userID, duration)
		sc.AuditLogger().LogToolInvocation(ctx, invocation)

		return result, err
	}
}

// ErrorKind classifies a tool outcome. It returns an empty kind on success.
func ErrorKind(result *mcp.CallToolResult, err error) (bridgeerrors.Kind, string) {
	if err != nil {
		return bridgeerrors.KindOf(err), err.Error()
	}
	if result == nil || !result.IsError {
		return "", ""
	}
	if r, ok := result.StructuredContent.(*dispatch.Result); ok && r.Err != nil {
		return r.Err.Kind, r.Err.Message
	}
	return bridgeerrors.KindInternal, TextContent(result)
}

// UserIDFromRequest reads user_id from params._meta of a tool call. A
// top-level "meta" object on the JSON-RPC message never reaches the handler.
func UserIDFromRequest(request mcp.CallToolRequest) (string, bool) {
	return dispatch.UserIDFromMeta(MetaFromRequest(request))
}

// MetaFromRequest returns the non-standard _meta fields of a tool call, or
// nil when the call carried none.
func MetaFromRequest(request mcp.CallToolRequest) map[string]any {
	if request.Params.Meta == nil {
		return nil
	}
	return request.Params.Meta.AdditionalFields
}

// TextContent concatenates the text parts of a tool result.
func TextContent(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var text string
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			text += tc.Text
		}
	}
	return text
}
