// Package resources implements MCP resource handlers for the scheduler.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (kmad://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/kmad/internal/schedule"
)

// ScheduleURI addresses the current schedule.
const ScheduleURI = "kmad://schedule"

// Snapshotter reads the current schedule.
type Snapshotter interface {
	Snapshot(ctx context.Context) (schedule.Snapshot, error)
}

// Handler manages scheduler resource endpoints.
type Handler struct {
	source Snapshotter
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(source Snapshotter) *Handler {
	return &Handler{source: source}
}

// ScheduleResource returns the MCP resource definition for the schedule.
func (h *Handler) ScheduleResource() mcp.Resource {
	return mcp.NewResource(
		ScheduleURI,
		"Schedule",
		mcp.WithResourceDescription("Time slots with used capacity, templates and tasks at the latest committed version"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleSchedule returns the current schedule as JSON.
func (h *Handler) HandleSchedule(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap, err := h.source.Snapshot(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(snap.View(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling schedule: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
