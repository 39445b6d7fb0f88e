// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it builds the scheduler from configuration
// and injects it into the tools, prompts and resources that depend on it.
// No business logic lives here, only wiring.
package server

import (
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/kmad/internal/app"
	"github.com/HendryAvila/kmad/internal/config"
	"github.com/HendryAvila/kmad/internal/prompts"
	"github.com/HendryAvila/kmad/internal/resources"
	"github.com/HendryAvila/kmad/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools, prompts,
// and resources registered.
//
// The returned cleanup function closes the store and must be called on
// shutdown (typically via defer). It is always non-nil.
func New(cfg config.Config, logger *slog.Logger) (*server.MCPServer, func(), error) {
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, noop, fmt.Errorf("creating scheduler: %w", err)
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			a.Logger.Warn("store close failed", "error", err)
		}
	}
	return Register(a), cleanup, nil
}

// Register builds an MCP server around an existing scheduler.
func Register(a *app.App) *server.MCPServer {
	s := server.NewMCPServer(
		"kmad",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register tools ---

	commandTool := tools.NewCommandTool(a)
	s.AddTool(commandTool.Definition(), commandTool.Handle)

	placeTool := tools.NewPlaceTool(a)
	s.AddTool(placeTool.Definition(), placeTool.Handle)

	createTemplateTool := tools.NewCreateTemplateTool(a)
	s.AddTool(createTemplateTool.Definition(), createTemplateTool.Handle)

	createSlotTool := tools.NewCreateSlotTool(a)
	s.AddTool(createSlotTool.Definition(), createSlotTool.Handle)

	completeTool := tools.NewCompleteTool(a)
	s.AddTool(completeTool.Definition(), completeTool.Handle)

	listTool := tools.NewListTool(a)
	s.AddTool(listTool.Definition(), listTool.Handle)

	// --- Register prompts ---

	planPrompt := prompts.NewPlanPrompt()
	s.AddPrompt(planPrompt.Definition(), planPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(a)
	s.AddResource(resourceHandler.ScheduleResource(), resourceHandler.HandleSchedule)

	return s
}

// noop is the cleanup returned when nothing was opened.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use the scheduler.
func serverInstructions() string {
	return `You have access to kmad, a capacity-managed task scheduler.

## HOW IT WORKS

Changes are never written directly. Every command becomes a claim from
the department that owns it. Validators check capacity and consistency,
and a single arbiter approves or rejects. Only approved claims reach the
schedule, and they are written atomically.

When a slot lacks capacity for a placement, the scheduler proposes the
nearest later slot that fits, up to the configured retry limit. A
"replaced" outcome means the task landed somewhere else; always tell the
user the slot it actually went to.

## TOOLS

- kmad_create_slot: add a time slot (H:MM, 24h) with a capacity
- kmad_create_template: add a task template with a weight
- kmad_place: place a task from a template into a slot
- kmad_complete: mark a task done (it keeps its capacity)
- kmad_list: show slots, usage and tasks (read-only)
- kmad_command: run any command as text, e.g. "place Meeting 9:00"

## RULES

- Create slots and templates before placing tasks.
- A rejection carries a reason; report it instead of retrying the same
  command. Retrying an identical rejected command gives the same answer.
- Read kmad://schedule for the full schedule as JSON.`
}
