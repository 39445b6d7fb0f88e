package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/kmad/internal/arbiter"
	"github.com/HendryAvila/kmad/internal/schedule"
)

// ResultKind is the user-facing outcome category.
type ResultKind string

const (
	ResultSuccess  ResultKind = "success"
	ResultReplaced ResultKind = "replaced"
	ResultError    ResultKind = "error"
	ResultList     ResultKind = "list"
)

// Result is the output of the format-result phase.
type Result struct {
	Kind     ResultKind `json:"kind"`
	Command  string     `json:"command,omitempty"`
	Message  string     `json:"message"`
	ActionID string     `json:"action_id,omitempty"`
	Phases   []Phase    `json:"phases"`
	Retries  int        `json:"retries"`
	Claims   []string   `json:"claims,omitempty"`
	Category string     `json:"category,omitempty"`
	Version  int64      `json:"version,omitempty"`
	TaskIDs  []int64    `json:"task_ids,omitempty"`
	Elapsed  string     `json:"elapsed,omitempty"`
}

// OK reports whether the command succeeded.
func (r Result) OK() bool { return r.Kind != ResultError }

func (r *Result) finish(t *trail, started time.Time) {
	r.Phases = t.visited()
	r.Elapsed = timeNow().Sub(started).String()
}

// approvedMessage renders the message for committed claims. snap is the
// snapshot the action validated against, so remaining capacity is derived
// from it plus the claims that just landed.
func approvedMessage(claims []arbiter.Claim, snap schedule.Snapshot) (ResultKind, string) {
	kind := ResultSuccess
	added := make(map[string]int)
	lines := make([]string, 0, len(claims))

	for _, c := range claims {
		switch c.Kind() {
		case arbiter.KindPlace, arbiter.KindReplace:
			p, _ := c.Place()
			added[p.Slot] += p.Weight
		}
	}

	for _, c := range claims {
		switch c.Kind() {
		case arbiter.KindPlace:
			p, _ := c.Place()
			slot, _ := snap.Slot(p.Slot)
			lines = append(lines, fmt.Sprintf("%s placed at %s (remaining capacity: %d)",
				p.Template, p.Slot, slot.Free()-added[p.Slot]))
		case arbiter.KindReplace:
			p, _ := c.Place()
			kind = ResultReplaced
			lines = append(lines, fmt.Sprintf("%s has insufficient capacity. Automatically placed at %s", p.From, p.Slot))
		case arbiter.KindCreateTemplate:
			p, _ := c.Template()
			lines = append(lines, fmt.Sprintf("Template '%s' created (weight: %d)", p.Name, p.Weight))
		case arbiter.KindCreateSlot:
			p, _ := c.Slot()
			lines = append(lines, fmt.Sprintf("Time slot %s created (capacity: %d)", p.Time, p.Capacity))
		case arbiter.KindComplete:
			p, _ := c.Complete()
			task, _ := snap.Task(p.TaskID)
			lines = append(lines, fmt.Sprintf("Task %d (%s) completed", p.TaskID, task.Template))
		}
	}
	return kind, strings.Join(lines, "\n")
}

// listMessage renders one line per slot in time order.
func listMessage(snap schedule.Snapshot) string {
	slots := snap.Slots()
	if len(slots) == 0 {
		return "No time slots"
	}
	lines := make([]string, 0, len(slots))
	for _, slot := range slots {
		var entries []string
		for _, task := range snap.TasksIn(slot.Time) {
			entries = append(entries, task.Label())
		}
		body := "-"
		if len(entries) > 0 {
			body = strings.Join(entries, ", ")
		}
		lines = append(lines, fmt.Sprintf("%s [%d/%d] %s", slot.Time, slot.Used, slot.Capacity, body))
	}
	return strings.Join(lines, "\n")
}

func claimTrail(claims []arbiter.Claim) []string {
	out := make([]string, len(claims))
	for i, c := range claims {
		out[i] = c.String()
	}
	return out
}
