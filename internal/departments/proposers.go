package departments

import (
	"github.com/HendryAvila/kmad/internal/arbiter"
	"github.com/HendryAvila/kmad/internal/command"
	"github.com/HendryAvila/kmad/internal/schedule"
)

// Placement proposes placing a task built from a template into a slot.
// The weight is copied from the template when it exists; a missing
// template is left for the consistency validator to report.
type Placement struct{}

func (Placement) Name() string { return NamePlacement }

func (Placement) Propose(act *arbiter.Action, snap schedule.Snapshot) (arbiter.Claim, bool) {
	cmd := act.Command()
	if cmd.Action != command.ActionPlace {
		return arbiter.Claim{}, false
	}
	weight := 0
	if tpl, ok := snap.Template(cmd.Template); ok {
		weight = tpl.Weight
	}
	return arbiter.NewClaim(NamePlacement, arbiter.KindPlace, arbiter.PlacePayload{
		Template: cmd.Template,
		Weight:   weight,
		Slot:     cmd.Time,
	}), true
}

// TemplateManager proposes new task templates.
type TemplateManager struct{}

func (TemplateManager) Name() string { return NameTemplates }

func (TemplateManager) Propose(act *arbiter.Action, _ schedule.Snapshot) (arbiter.Claim, bool) {
	cmd := act.Command()
	if cmd.Action != command.ActionCreateTemplate {
		return arbiter.Claim{}, false
	}
	return arbiter.NewClaim(NameTemplates, arbiter.KindCreateTemplate, arbiter.TemplatePayload{
		Name:   cmd.Name,
		Weight: cmd.Weight,
	}), true
}

// SlotManager proposes new time slots.
type SlotManager struct{}

func (SlotManager) Name() string { return NameSlots }

func (SlotManager) Propose(act *arbiter.Action, _ schedule.Snapshot) (arbiter.Claim, bool) {
	cmd := act.Command()
	if cmd.Action != command.ActionCreateSlot {
		return arbiter.Claim{}, false
	}
	return arbiter.NewClaim(NameSlots, arbiter.KindCreateSlot, arbiter.SlotPayload{
		Time:     cmd.Time,
		Capacity: cmd.Capacity,
	}), true
}

// CompletionHandler proposes marking a task completed.
type CompletionHandler struct{}

func (CompletionHandler) Name() string { return NameCompletion }

func (CompletionHandler) Propose(act *arbiter.Action, _ schedule.Snapshot) (arbiter.Claim, bool) {
	cmd := act.Command()
	if cmd.Action != command.ActionComplete {
		return arbiter.Claim{}, false
	}
	return arbiter.NewClaim(NameCompletion, arbiter.KindComplete, arbiter.CompletePayload{
		TaskID: cmd.TaskID,
	}), true
}
