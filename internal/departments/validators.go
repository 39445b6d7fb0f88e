package departments

import (
	"fmt"

	"github.com/HendryAvila/kmad/internal/arbiter"
	"github.com/HendryAvila/kmad/internal/schedule"
)

// CapacityValidator checks slot arithmetic for place and replace claims.
// Unknown slots and templates are not its concern and pass.
type CapacityValidator struct{}

func (CapacityValidator) Name() string { return NameCapacity }

func (CapacityValidator) Validate(claim arbiter.Claim, act *arbiter.Action, snap schedule.Snapshot) arbiter.Verdict {
	p, ok := claim.Place()
	if !ok {
		return arbiter.OK(NameCapacity, arbiter.CategoryCapacity, claim.Sequence())
	}
	slot, ok := snap.Slot(p.Slot)
	if !ok {
		return arbiter.OK(NameCapacity, arbiter.CategoryCapacity, claim.Sequence())
	}

	used := slot.Used + pendingWeight(act, claim, p.Slot)
	if p.Weight > slot.Capacity-used {
		return arbiter.Fail(NameCapacity, arbiter.CategoryCapacity, claim.Sequence(),
			fmt.Sprintf("Time slot '%s' has insufficient capacity (%d/%d used, needs %d)",
				p.Slot, used, slot.Capacity, p.Weight))
	}
	return arbiter.OK(NameCapacity, arbiter.CategoryCapacity, claim.Sequence())
}

// pendingWeight sums the weight that earlier active claims of the same
// action would add to slot.
func pendingWeight(act *arbiter.Action, claim arbiter.Claim, slot string) int {
	total := 0
	for _, c := range act.Active() {
		if c.Sequence() >= claim.Sequence() {
			break
		}
		if p, ok := c.Place(); ok && p.Slot == slot {
			total += p.Weight
		}
	}
	return total
}

// ConsistencyValidator checks identifiers and references: that referenced
// entities exist, that created entities do not, and that quantities are
// positive.
type ConsistencyValidator struct{}

func (ConsistencyValidator) Name() string { return NameConsistency }

func (ConsistencyValidator) Validate(claim arbiter.Claim, _ *arbiter.Action, snap schedule.Snapshot) arbiter.Verdict {
	seq := claim.Sequence()
	fail := func(format string, args ...any) arbiter.Verdict {
		return arbiter.Fail(NameConsistency, arbiter.CategoryConsistency, seq, fmt.Sprintf(format, args...))
	}

	switch claim.Kind() {
	case arbiter.KindPlace, arbiter.KindReplace:
		p, _ := claim.Place()
		tpl, ok := snap.Template(p.Template)
		if !ok {
			return fail("Template '%s' does not exist", p.Template)
		}
		if _, ok := snap.Slot(p.Slot); !ok {
			return fail("Time slot '%s' does not exist", p.Slot)
		}
		if p.Weight != tpl.Weight {
			return fail("Claimed weight %d does not match template '%s' weight %d", p.Weight, p.Template, tpl.Weight)
		}

	case arbiter.KindCreateTemplate:
		p, _ := claim.Template()
		if p.Name == "" {
			return fail("Template name is required")
		}
		if _, ok := snap.Template(p.Name); ok {
			return fail("Template '%s' already exists", p.Name)
		}
		if p.Weight <= 0 {
			return fail("Weight must be positive")
		}
		if p.Weight > schedule.MaxQuantity {
			return fail("Weight must be at most %d", schedule.MaxQuantity)
		}

	case arbiter.KindCreateSlot:
		p, _ := claim.Slot()
		if _, ok := snap.Slot(p.Time); ok {
			return fail("Time slot '%s' already exists", p.Time)
		}
		if p.Capacity <= 0 {
			return fail("Capacity must be positive")
		}
		if p.Capacity > schedule.MaxQuantity {
			return fail("Capacity must be at most %d", schedule.MaxQuantity)
		}

	case arbiter.KindComplete:
		p, _ := claim.Complete()
		task, ok := snap.Task(p.TaskID)
		if !ok {
			return fail("Task '%d' does not exist", p.TaskID)
		}
		if task.Completed {
			return fail("Task '%d' is already completed", p.TaskID)
		}
	}
	return arbiter.OK(NameConsistency, arbiter.CategoryConsistency, seq)
}
