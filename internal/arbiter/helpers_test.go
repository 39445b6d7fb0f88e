package arbiter

import (
	"context"
	"fmt"
	"time"

	"github.com/HendryAvila/kmad/internal/command"
	"github.com/HendryAvila/kmad/internal/schedule"
)

func init() {
	// Freeze time for deterministic tests.
	timeNow = func() time.Time {
		return time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	}
}

func testCaps() Capabilities {
	return Capabilities{
		"Placer":      {Role: RoleProposer, CanClaim: []Kind{KindPlace}},
		"Slotter":     {Role: RoleProposer, CanClaim: []Kind{KindCreateSlot}},
		"Replacer":    {Role: RoleReplacement, CanClaim: []Kind{KindReplace}},
		"Capacity":    {Role: RoleValidator, Category: CategoryCapacity, AppliesTo: []Kind{KindPlace, KindReplace}},
		"Consistency": {Role: RoleValidator, Category: CategoryConsistency, AppliesTo: []Kind{KindPlace, KindReplace, KindCreateSlot}},
	}
}

var placeCmd = command.Command{Action: command.ActionPlace, Template: "Meeting", Time: "9:00"}

// fakeProposer emits a fixed claim.
type fakeProposer struct {
	name  string
	claim Claim
	skip  bool
}

func (p fakeProposer) Name() string { return p.name }

func (p fakeProposer) Propose(*Action, schedule.Snapshot) (Claim, bool) {
	return p.claim, !p.skip
}

func placer(slot string) fakeProposer {
	return fakeProposer{name: "Placer", claim: NewClaim("Placer", KindPlace, PlacePayload{Template: "Meeting", Weight: 30, Slot: slot})}
}

// fakeValidator fails a claim when judge returns a reason.
type fakeValidator struct {
	name     string
	category Category
	judge    func(Claim) string
	mutate   func(*Verdict)
}

func (v fakeValidator) Name() string { return v.name }

func (v fakeValidator) Validate(c Claim, _ *Action, _ schedule.Snapshot) Verdict {
	out := OK(v.name, v.category, c.Sequence())
	if v.judge != nil {
		if reason := v.judge(c); reason != "" {
			out = Fail(v.name, v.category, c.Sequence(), reason)
		}
	}
	if v.mutate != nil {
		v.mutate(&out)
	}
	return out
}

func passing() []Validator {
	return []Validator{
		fakeValidator{name: "Capacity", category: CategoryCapacity},
		fakeValidator{name: "Consistency", category: CategoryConsistency},
	}
}

// fullSlots fails capacity for every claim targeting one of the slots.
func fullSlots(slots ...string) fakeValidator {
	full := make(map[string]bool, len(slots))
	for _, s := range slots {
		full[s] = true
	}
	return fakeValidator{name: "Capacity", category: CategoryCapacity, judge: func(c Claim) string {
		if p, ok := c.Place(); ok && full[p.Slot] {
			return fmt.Sprintf("Time slot '%s' is full", p.Slot)
		}
		return ""
	}}
}

// fakeReplacement proposes the next slot from a fixed list on each call.
type fakeReplacement struct {
	slots []string
	calls *int
}

func (r fakeReplacement) Name() string { return "Replacer" }

func (r fakeReplacement) Replace(failed Verdict, act *Action, _ schedule.Snapshot) (Claim, bool) {
	n := *r.calls
	*r.calls = n + 1
	if n >= len(r.slots) {
		return Claim{}, false
	}
	orig, _ := act.Claim(failed.ClaimSequence)
	p, _ := orig.Place()
	if p.From == "" {
		p.From = p.Slot
	}
	p.Slot = r.slots[n]
	return NewClaim("Replacer", KindReplace, p).Superseding(orig.Sequence()), true
}

// recorder is a Committer that redeems and keeps every token.
type recorder struct {
	tokens []CommitToken
	err    error
}

func (r *recorder) Commit(_ context.Context, tok CommitToken) (CommitResult, error) {
	if err := tok.Redeem(); err != nil {
		return CommitResult{}, err
	}
	r.tokens = append(r.tokens, tok)
	if r.err != nil {
		return CommitResult{}, r.err
	}
	return CommitResult{Version: tok.BaseVersion() + 1}, nil
}

// drive runs the arbiter phases the way the pipeline does.
func drive(a *Arbiter, act *Action, proposers []Proposer, validators []Validator, rp ReplacementProposer) (Decision, error) {
	snap := schedule.Snapshot{}
	if err := a.Collect(act, proposers, snap); err != nil {
		return Decision{}, err
	}
	if len(act.Claims()) > 0 {
		for {
			if err := a.Validate(act, validators, snap); err != nil {
				return Decision{}, err
			}
			ev, err := a.Evaluate(act)
			if err != nil {
				return Decision{}, err
			}
			if ev.Outcome != OutcomeRetry {
				break
			}
			ok, err := a.Replace(act, rp, ev.Failing, snap)
			if err != nil {
				return Decision{}, err
			}
			if !ok {
				break
			}
		}
	}
	return a.Decide(act)
}
