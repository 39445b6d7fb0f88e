package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kmad/internal/command"
)

// CreateTemplateTool handles the kmad_create_template MCP tool.
type CreateTemplateTool struct {
	exec Executor
}

// NewCreateTemplateTool creates a CreateTemplateTool.
func NewCreateTemplateTool(exec Executor) *CreateTemplateTool {
	return &CreateTemplateTool{exec: exec}
}

// Definition returns the MCP tool definition for registration.
func (t *CreateTemplateTool) Definition() mcp.Tool {
	return mcp.NewTool("kmad_create_template",
		mcp.WithDescription("Create a reusable task template. Weight is the capacity each placed task consumes."),
		mcp.WithString("name",
			mcp.Description("Template name, a single word."),
			mcp.Required(),
		),
		mcp.WithNumber("weight",
			mcp.Description("Capacity consumed by each task created from this template. Must be positive."),
			mcp.Required(),
		),
	)
}

// Handle processes the kmad_create_template tool call.
func (t *CreateTemplateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	weight := int(req.GetFloat("weight", 0))
	return run(ctx, t.exec, command.Command{Action: command.ActionCreateTemplate, Name: name, Weight: weight})
}
