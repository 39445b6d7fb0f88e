// Package tools implements the MCP tool handlers of the scheduler.
//
// Each tool holds an Executor and turns its arguments into one pipeline
// run. Rejections come back as tool errors the host can show; failures the
// pipeline treats as fatal (role violations, commit failures) come back as
// Go errors.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kmad/internal/command"
	"github.com/HendryAvila/kmad/internal/pipeline"
)

// Executor runs commands through the pipeline. *app.App satisfies it.
type Executor interface {
	Execute(ctx context.Context, line string) (pipeline.Result, error)
	Run(ctx context.Context, cmd command.Command) (pipeline.Result, error)
}

// toolResult converts a pipeline result into an MCP result.
func toolResult(res pipeline.Result) *mcp.CallToolResult {
	if !res.OK() {
		return mcp.NewToolResultError(renderResult(res))
	}
	return mcp.NewToolResultText(renderResult(res))
}

// renderResult formats a result as markdown: the message first, then the
// trace of how the pipeline got there.
func renderResult(res pipeline.Result) string {
	var b strings.Builder
	b.WriteString(res.Message)
	b.WriteString("\n")

	if res.Kind == pipeline.ResultList {
		return b.String()
	}

	b.WriteString("\n---\n")
	fmt.Fprintf(&b, "- **Outcome**: %s\n", res.Kind)
	if res.Category != "" {
		fmt.Fprintf(&b, "- **Failed check**: %s\n", res.Category)
	}
	if len(res.Claims) > 0 {
		fmt.Fprintf(&b, "- **Claims**: %s\n", strings.Join(res.Claims, ", "))
	}
	if res.Retries > 0 {
		fmt.Fprintf(&b, "- **Retries**: %d\n", res.Retries)
	}
	if len(res.TaskIDs) > 0 {
		ids := make([]string, len(res.TaskIDs))
		for i, id := range res.TaskIDs {
			ids[i] = fmt.Sprintf("#%d", id)
		}
		fmt.Fprintf(&b, "- **Tasks**: %s\n", strings.Join(ids, ", "))
	}
	if res.Version > 0 {
		fmt.Fprintf(&b, "- **Schedule version**: %d\n", res.Version)
	}
	phases := make([]string, len(res.Phases))
	for i, p := range res.Phases {
		phases[i] = string(p)
	}
	fmt.Fprintf(&b, "- **Phases**: %s\n", strings.Join(phases, " → "))
	return b.String()
}

// run executes a typed command and wraps the outcome.
func run(ctx context.Context, exec Executor, cmd command.Command) (*mcp.CallToolResult, error) {
	res, err := exec.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", cmd.Action, err)
	}
	return toolResult(res), nil
}
