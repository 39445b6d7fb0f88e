package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kmad/internal/command"
)

// CompleteTool handles the kmad_complete MCP tool.
type CompleteTool struct {
	exec Executor
}

// NewCompleteTool creates a CompleteTool.
func NewCompleteTool(exec Executor) *CompleteTool {
	return &CompleteTool{exec: exec}
}

// Definition returns the MCP tool definition for registration.
func (t *CompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("kmad_complete",
		mcp.WithDescription("Mark a placed task as completed. Completed tasks keep their capacity."),
		mcp.WithNumber("task_id",
			mcp.Description("ID of the task, as shown by kmad_list (without the #)."),
			mcp.Required(),
		),
	)
}

// Handle processes the kmad_complete tool call.
func (t *CompleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := int64(req.GetFloat("task_id", 0))
	if id <= 0 {
		return mcp.NewToolResultError("task_id must be a positive integer"), nil
	}
	return run(ctx, t.exec, command.Command{Action: command.ActionComplete, TaskID: id})
}
