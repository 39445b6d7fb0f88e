package arbiter

import "github.com/HendryAvila/kmad/internal/schedule"

// Proposer turns a triggered action into at most one claim. It may read the
// snapshot but never writes state. It returns false when the trigger does
// not apply.
type Proposer interface {
	Name() string
	Propose(act *Action, snap schedule.Snapshot) (Claim, bool)
}

// Validator judges one claim against one concern. It is side-effect free
// and never decides the final outcome.
type Validator interface {
	Name() string
	Validate(claim Claim, act *Action, snap schedule.Snapshot) Verdict
}

// ReplacementProposer searches for an alternative after a capacity
// failure. Its output is an ordinary claim that goes through full
// re-validation. It returns false when no candidate is feasible.
type ReplacementProposer interface {
	Name() string
	Replace(failed Verdict, act *Action, snap schedule.Snapshot) (Claim, bool)
}
