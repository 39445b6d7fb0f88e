package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kmad/internal/command"
)

// ListTool handles the kmad_list MCP tool. Listing never creates claims.
type ListTool struct {
	exec Executor
}

// NewListTool creates a ListTool.
func NewListTool(exec Executor) *ListTool {
	return &ListTool{exec: exec}
}

// Definition returns the MCP tool definition for registration.
func (t *ListTool) Definition() mcp.Tool {
	return mcp.NewTool("kmad_list",
		mcp.WithDescription(
			"List every time slot in time order with its used/total capacity and the tasks placed in it. "+
				"Read-only.",
		),
	)
}

// Handle processes the kmad_list tool call.
func (t *ListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return run(ctx, t.exec, command.Command{Action: command.ActionList})
}
