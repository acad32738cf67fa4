package calendar_tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calbridge/internal/dispatch"
	"github.com/teemow/calbridge/internal/server"
	"github.com/teemow/calbridge/internal/tools/common"
)

// Options controls tool registration.
type Options struct {
	// Aliases additionally registers the dotted calendar.<op> names.
	Aliases bool
}

// RegisterCalendarTools registers the dispatcher's tools with the MCP server.
// In read-only mode the write tools are not registered at all.
func RegisterCalendarTools(s *mcpserver.MCPServer, sc *server.ServerContext, opts Options) error {
	for _, tool := range sc.Dispatcher().Tools() {
		names := []string{tool.Name}
		if opts.Aliases {
			names = append(names, AliasName(tool))
		}
		for _, name := range names {
			s.AddTool(NewMCPTool(name, tool), common.InstrumentedToolHandler(name, sc, handleToolCall(name, sc)))
		}
	}
	return nil
}

// AliasName returns the dotted name of tool, e.g. calendar.list_events.
func AliasName(tool dispatch.Tool) string {
	return "calendar." + tool.Operation
}

// NewMCPTool builds the MCP definition of tool under name.
func NewMCPTool(name string, tool dispatch.Tool) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(tool.Description),
		mcp.WithReadOnlyHintAnnotation(!tool.Write),
		mcp.WithDestructiveHintAnnotation(tool.Operation == dispatch.OpDeleteEvent),
	}
	for _, p := range tool.Params {
		propOpts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		switch p.Type {
		case dispatch.ParamNumber:
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		case dispatch.ParamBoolean:
			opts = append(opts, mcp.WithBoolean(p.Name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		}
	}
	return mcp.NewTool(name, opts...)
}

func handleToolCall(name string, sc *server.ServerContext) common.ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := sc.Dispatcher().Dispatch(ctx, name, request.GetArguments(), common.MetaFromRequest(request))
		return toToolResult(result), nil
	}
}

// toToolResult renders a dispatch result. Failures are tool errors, never
// protocol errors, so the client sees the message and the structured kind.
func toToolResult(result *dispatch.Result) *mcp.CallToolResult {
	var res *mcp.CallToolResult
	if result.IsError() {
		res = mcp.NewToolResultError(formatError(result.Err))
	} else {
		res = mcp.NewToolResultText(formatValue(result.Value))
	}
	res.StructuredContent = result
	return res
}

func formatError(err *dispatch.ToolError) string {
	var b strings.Builder
	b.WriteString(err.Message)
	if err.AuthURL != "" && !strings.Contains(err.Message, err.AuthURL) {
		b.WriteString("\n\nTo connect Google Calendar, visit:\n")
		b.WriteString(err.AuthURL)
	}
	if err.Retryable {
		b.WriteString("\n\nThis is a temporary failure; retrying may succeed.")
	}
	return b.String()
}
