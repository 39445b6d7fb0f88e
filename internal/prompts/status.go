package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the kmad-status MCP prompt.
// It instructs the AI to read and present the current schedule.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("kmad-status",
		mcp.WithPromptDescription(
			"Check the current schedule. Shows every time slot with its used capacity "+
				"and the tasks placed in it.",
		),
	)
}

// Handle processes the kmad-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Schedule Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `kmad_list` to show my schedule.\n\n" +
						"Then:\n" +
						"1. Show the slots in time order as a table with used/total capacity\n" +
						"2. Point out slots that are full or nearly full\n" +
						"3. List open tasks separately from completed ones",
				),
			},
		},
	}, nil
}
