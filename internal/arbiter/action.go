package arbiter

import (
	"fmt"
	"time"

	"github.com/HendryAvila/kmad/internal/command"
	"github.com/google/uuid"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// State is a step of the arbiter state machine for one action.
type State string

const (
	StateCollecting State = "collecting"
	StateValidating State = "validating"
	StateEvaluating State = "evaluating"
	StateRetrying   State = "retrying"
	StateDeciding   State = "deciding"
	StateCommitting State = "committing"
	StateRejecting  State = "rejecting"
	StateDone       State = "done"
)

// transitions is the complete set of legal state changes. The only loop is
// retrying → validating, which is bounded by the retry counter.
var transitions = map[State][]State{
	StateCollecting: {StateValidating, StateDeciding},
	StateValidating: {StateEvaluating},
	StateEvaluating: {StateRetrying, StateDeciding},
	StateRetrying:   {StateValidating, StateDeciding},
	StateDeciding:   {StateCommitting, StateRejecting},
	StateCommitting: {StateDone},
	StateRejecting:  {StateDone},
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Action is the working set for one user command: the claims produced so
// far in causal order, their verdicts, the retry counter and the final
// decision. It lives only for the duration of one pipeline run.
//
// Exported methods are read-only; departments receive the action as
// context and cannot change it.
type Action struct {
	id        string
	cmd       command.Command
	createdAt time.Time
	state     State
	claims    []Claim
	verdicts  []Verdict
	retries   int
	decision  *Decision
	base      int64
	commits   int
	defects   []*RoleViolationError
}

// NewAction starts an action for a parsed command.
func NewAction(cmd command.Command) *Action {
	return &Action{
		id:        uuid.NewString(),
		cmd:       cmd,
		createdAt: timeNow().UTC(),
		state:     StateCollecting,
	}
}

func (a *Action) ID() string               { return a.id }
func (a *Action) Command() command.Command { return a.cmd }
func (a *Action) CreatedAt() time.Time     { return a.createdAt }
func (a *Action) State() State             { return a.state }
func (a *Action) Retries() int             { return a.retries }
func (a *Action) Commits() int             { return a.commits }

// BaseVersion is the snapshot version the action's claims were validated
// against.
func (a *Action) BaseVersion() int64 { return a.base }

// Claims returns every recorded claim, superseded ones included.
func (a *Action) Claims() []Claim {
	return append([]Claim(nil), a.claims...)
}

// Verdicts returns every recorded verdict in the order they were emitted.
func (a *Action) Verdicts() []Verdict {
	return append([]Verdict(nil), a.verdicts...)
}

// Claim looks up a recorded claim by sequence.
func (a *Action) Claim(seq int) (Claim, bool) {
	if seq < 1 || seq > len(a.claims) {
		return Claim{}, false
	}
	return a.claims[seq-1], true
}

// Superseded reports whether a later claim replaced the claim with seq.
func (a *Action) Superseded(seq int) bool {
	for _, c := range a.claims {
		if c.supersedes == seq {
			return true
		}
	}
	return false
}

// Active returns the claims that have not been superseded, in sequence
// order. These are the claims a decision approves.
func (a *Action) Active() []Claim {
	var out []Claim
	for _, c := range a.claims {
		if !a.Superseded(c.sequence) {
			out = append(out, c)
		}
	}
	return out
}

// VerdictsFor returns the verdicts recorded for one claim.
func (a *Action) VerdictsFor(seq int) []Verdict {
	var out []Verdict
	for _, v := range a.verdicts {
		if v.ClaimSequence == seq {
			out = append(out, v)
		}
	}
	return out
}

// Decision returns the final decision once it has been made.
func (a *Action) Decision() (Decision, bool) {
	if a.decision == nil {
		return Decision{}, false
	}
	return *a.decision, true
}

// --- Mutators (arbiter only) ---

func (a *Action) transition(to State) error {
	if !CanTransition(a.state, to) {
		return fmt.Errorf("%w: %s → %s in action %s", ErrIllegalTransition, a.state, to, a.id)
	}
	a.state = to
	return nil
}

func (a *Action) record(c Claim) Claim {
	c = c.withSequence(len(a.claims) + 1)
	a.claims = append(a.claims, c)
	return c
}

func (a *Action) hasVerdict(validator string, seq int) bool {
	for _, v := range a.verdicts {
		if v.ValidatorID == validator && v.ClaimSequence == seq {
			return true
		}
	}
	return false
}

func (a *Action) addVerdict(v Verdict) {
	a.verdicts = append(a.verdicts, v)
}

func (a *Action) addDefect(v *RoleViolationError) {
	a.defects = append(a.defects, v)
}

func (a *Action) setDecision(d Decision) error {
	if a.decision != nil {
		return fmt.Errorf("%w for action %s", ErrDecisionFinal, a.id)
	}
	a.decision = &d
	return nil
}
