package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kmad/internal/command"
)

// PlaceTool handles the kmad_place MCP tool.
type PlaceTool struct {
	exec Executor
}

// NewPlaceTool creates a PlaceTool.
func NewPlaceTool(exec Executor) *PlaceTool {
	return &PlaceTool{exec: exec}
}

// Definition returns the MCP tool definition for registration.
func (t *PlaceTool) Definition() mcp.Tool {
	return mcp.NewTool("kmad_place",
		mcp.WithDescription(
			"Place a task from a template into a time slot. "+
				"If the slot lacks capacity, the scheduler tries the nearest later slot "+
				"that can hold the task, up to the configured retry limit.",
		),
		mcp.WithString("template",
			mcp.Description("Name of an existing task template."),
			mcp.Required(),
		),
		mcp.WithString("time",
			mcp.Description("Time slot in 24h H:MM form, e.g. 9:00."),
			mcp.Required(),
		),
	)
}

// Handle processes the kmad_place tool call.
func (t *PlaceTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	template := req.GetString("template", "")
	slot := req.GetString("time", "")
	if template == "" || slot == "" {
		return mcp.NewToolResultError("template and time are required"), nil
	}
	return run(ctx, t.exec, command.Command{Action: command.ActionPlace, Template: template, Time: slot})
}
