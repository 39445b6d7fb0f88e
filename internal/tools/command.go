package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kmad/internal/command"
)

// CommandTool handles the kmad_command MCP tool.
// It accepts a raw command line, exactly as the REPL does.
type CommandTool struct {
	exec Executor
}

// NewCommandTool creates a CommandTool.
func NewCommandTool(exec Executor) *CommandTool {
	return &CommandTool{exec: exec}
}

// Definition returns the MCP tool definition for registration.
func (t *CommandTool) Definition() mcp.Tool {
	return mcp.NewTool("kmad_command",
		mcp.WithDescription(
			"Run one scheduler command through the claim pipeline. "+
				"Every change is proposed as a claim, checked by the validators and "+
				"committed only if the arbiter approves it.\n\nCommands:\n"+command.Help(),
		),
		mcp.WithString("command",
			mcp.Description("The command line, e.g. `place Meeting 9:00` or `list`."),
			mcp.Required(),
		),
	)
}

// Handle processes the kmad_command tool call.
func (t *CommandTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	line := strings.TrimSpace(req.GetString("command", ""))
	if line == "" {
		return mcp.NewToolResultError("command is required"), nil
	}

	res, err := t.exec.Execute(ctx, line)
	if err != nil {
		return nil, fmt.Errorf("executing %q: %w", line, err)
	}
	return toolResult(res), nil
}
