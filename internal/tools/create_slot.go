package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kmad/internal/command"
)

// CreateSlotTool handles the kmad_create_slot MCP tool.
type CreateSlotTool struct {
	exec Executor
}

// NewCreateSlotTool creates a CreateSlotTool.
func NewCreateSlotTool(exec Executor) *CreateSlotTool {
	return &CreateSlotTool{exec: exec}
}

// Definition returns the MCP tool definition for registration.
func (t *CreateSlotTool) Definition() mcp.Tool {
	return mcp.NewTool("kmad_create_slot",
		mcp.WithDescription("Create a time slot with a fixed capacity."),
		mcp.WithString("time",
			mcp.Description("Slot time in 24h H:MM form, e.g. 14:30."),
			mcp.Required(),
		),
		mcp.WithNumber("capacity",
			mcp.Description("Total weight the slot can hold. Must be positive."),
			mcp.Required(),
		),
	)
}

// Handle processes the kmad_create_slot tool call.
func (t *CreateSlotTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slot := req.GetString("time", "")
	if slot == "" {
		return mcp.NewToolResultError("time is required"), nil
	}
	capacity := int(req.GetFloat("capacity", 0))
	return run(ctx, t.exec, command.Command{Action: command.ActionCreateSlot, Time: slot, Capacity: capacity})
}
