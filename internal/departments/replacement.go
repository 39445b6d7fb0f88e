package departments

import (
	"github.com/HendryAvila/kmad/internal/arbiter"
	"github.com/HendryAvila/kmad/internal/schedule"
)

// AutoReplacement looks for another slot after a capacity failure. It
// tries the next slot in time order first, then every slot from the
// earliest, skipping slots this action already tried, and stops at the
// first one whose free capacity covers the task. Its estimate is only a
// proposal: the substitute claim is validated like any other.
type AutoReplacement struct{}

func (AutoReplacement) Name() string { return NameReplacement }

func (AutoReplacement) Replace(failed arbiter.Verdict, act *arbiter.Action, snap schedule.Snapshot) (arbiter.Claim, bool) {
	orig, ok := act.Claim(failed.ClaimSequence)
	if !ok {
		return arbiter.Claim{}, false
	}
	p, ok := orig.Place()
	if !ok {
		return arbiter.Claim{}, false
	}

	tried := triedSlots(act)
	for _, slot := range candidates(snap.Slots(), p.Slot) {
		if tried[slot.Time] || slot.Free() < p.Weight {
			continue
		}
		from := p.From
		if from == "" {
			from = p.Slot
		}
		return arbiter.NewClaim(NameReplacement, arbiter.KindReplace, arbiter.PlacePayload{
			Template: p.Template,
			Weight:   p.Weight,
			Slot:     slot.Time,
			From:     from,
		}).Superseding(orig.Sequence()), true
	}
	return arbiter.Claim{}, false
}

// candidates orders the search: the slot right after the target, then all
// slots in time order.
func candidates(slots []schedule.TimeSlot, target string) []schedule.TimeSlot {
	out := make([]schedule.TimeSlot, 0, len(slots)+1)
	for _, slot := range slots {
		if schedule.Less(target, slot.Time) {
			out = append(out, slot)
			break
		}
	}
	return append(out, slots...)
}

func triedSlots(act *arbiter.Action) map[string]bool {
	tried := make(map[string]bool)
	for _, c := range act.Claims() {
		if p, ok := c.Place(); ok {
			tried[p.Slot] = true
		}
	}
	return tried
}
