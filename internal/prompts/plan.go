// Package prompts implements MCP prompt handlers for the scheduler.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// PlanPrompt handles the kmad-plan MCP prompt.
// It guides the AI to turn a plain description of the day into slots,
// templates and placements.
type PlanPrompt struct{}

// NewPlanPrompt creates a PlanPrompt.
func NewPlanPrompt() *PlanPrompt {
	return &PlanPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *PlanPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("kmad-plan",
		mcp.WithPromptDescription(
			"Plan a day with the scheduler. Describe what you need to get done and "+
				"the AI creates the slots and templates and places the tasks.",
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What the day should contain, e.g. 'two meetings in the morning and a review after lunch'"),
		),
	)
}

// Handle processes the kmad-plan prompt request.
func (p *PlanPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	goal := "organize my day"
	if args := req.Params.Arguments; args != nil {
		if g, ok := args["goal"]; ok && g != "" {
			goal = g
		}
	}

	return &mcp.GetPromptResult{
		Description: "Plan a Schedule",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to %s.\n\n"+
						"Please:\n"+
						"1. Run `kmad_list` to see what already exists\n"+
						"2. Create any missing time slots with `kmad_create_slot`\n"+
						"3. Create a template per kind of task with `kmad_create_template`; the weight is how much of a slot it uses\n"+
						"4. Place each task with `kmad_place`\n"+
						"5. If a placement is rejected, tell me the reason instead of retrying blindly; "+
						"the scheduler already moves tasks to a later slot when capacity runs out",
					goal,
				)),
			},
		},
	}, nil
}
