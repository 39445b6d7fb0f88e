package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/HendryAvila/kmad/internal/schedule"
)

// DefaultMaxRetries bounds the capacity retry edge when no rule sets it.
const DefaultMaxRetries = 3

// Outcome is the result of the evaluate phase.
type Outcome string

const (
	OutcomeApprove   Outcome = "approve"
	OutcomeRetry     Outcome = "retry"
	OutcomeReject    Outcome = "reject"
	OutcomeViolation Outcome = "violation"
)

// Evaluation tells the pipeline driver which branch to take. Failing is
// the lowest-sequence failing verdict among the active claims; for
// OutcomeRetry it is the capacity verdict handed to the replacement
// proposer.
type Evaluation struct {
	Outcome   Outcome
	Failing   Verdict
	Violation *RoleViolationError
}

// Arbiter aggregates claims and verdicts and makes the single decision for
// an action. It holds no per-action state and is safe to share.
type Arbiter struct {
	caps       Capabilities
	maxRetries int
	logger     *slog.Logger
}

// Option customizes an Arbiter.
type Option func(*Arbiter)

// WithMaxRetries sets how many times the capacity retry edge may fire per
// action. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(a *Arbiter) {
		if n >= 1 {
			a.maxRetries = n
		}
	}
}

// WithLogger sets the logger used for violations and commit failures.
func WithLogger(l *slog.Logger) Option {
	return func(a *Arbiter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Arbiter enforcing the given capabilities.
func New(caps Capabilities, opts ...Option) *Arbiter {
	a := &Arbiter{
		caps:       caps,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaxRetries returns the retry bound.
func (a *Arbiter) MaxRetries() int { return a.maxRetries }

// Capabilities returns the enforced capabilities.
func (a *Arbiter) Capabilities() Capabilities { return a.caps }

// Collect runs the proposers for an action and records their claims in
// invocation order. The snapshot version becomes the action's base
// version for compare-and-commit.
func (a *Arbiter) Collect(act *Action, proposers []Proposer, snap schedule.Snapshot) error {
	if act.state != StateCollecting {
		return fmt.Errorf("%w: collect in state %s", ErrIllegalTransition, act.state)
	}
	act.base = snap.Version()
	for _, p := range proposers {
		claim, ok := p.Propose(act, snap)
		if !ok {
			continue
		}
		a.admit(act, p.Name(), claim)
	}
	return nil
}

// Validate runs every applicable validator once on each active claim that
// has not been judged yet.
func (a *Arbiter) Validate(act *Action, validators []Validator, snap schedule.Snapshot) error {
	if err := act.transition(StateValidating); err != nil {
		return err
	}
	for _, claim := range act.Active() {
		for _, v := range validators {
			if !a.caps.Applicable(v.Name(), claim.Kind()) || act.hasVerdict(v.Name(), claim.Sequence()) {
				continue
			}
			verdict := v.Validate(claim, act, snap)
			if verdict.ValidatorID != v.Name() || verdict.ClaimSequence != claim.Sequence() {
				act.addDefect(&RoleViolationError{
					Department: v.Name(),
					Sequence:   claim.Sequence(),
					Rule:       "verdict does not reference the claim and validator that produced it",
				})
				continue
			}
			act.addVerdict(verdict)
		}
	}
	return nil
}

// Evaluate inspects the verdicts of the active claims and picks the next
// branch. The role-boundary check runs before any verdict content is read.
func (a *Arbiter) Evaluate(act *Action) (Evaluation, error) {
	if err := act.transition(StateEvaluating); err != nil {
		return Evaluation{}, err
	}
	if v := a.firstViolation(act); v != nil {
		return Evaluation{Outcome: OutcomeViolation, Violation: v}, nil
	}
	if err := a.checkComplete(act); err != nil {
		return Evaluation{}, err
	}

	var capacity, other *Verdict
	for _, v := range activeVerdicts(act) {
		if !v.Failed() {
			continue
		}
		if v.Category == CategoryCapacity {
			if capacity == nil {
				capacity = &v
			}
		} else if other == nil {
			other = &v
		}
	}

	switch {
	case other != nil:
		first := *other
		if capacity != nil && capacity.ClaimSequence < first.ClaimSequence {
			first = *capacity
		}
		return Evaluation{Outcome: OutcomeReject, Failing: first}, nil
	case capacity != nil && act.retries < a.maxRetries:
		return Evaluation{Outcome: OutcomeRetry, Failing: *capacity}, nil
	case capacity != nil:
		return Evaluation{Outcome: OutcomeReject, Failing: *capacity}, nil
	default:
		return Evaluation{Outcome: OutcomeApprove}, nil
	}
}

// Replace fires the retry edge once: it increments the retry counter and
// asks the replacement proposer for a substitute claim. It returns false
// when no substitute was produced, which sends the action to the decision
// with the original failure.
func (a *Arbiter) Replace(act *Action, rp ReplacementProposer, failed Verdict, snap schedule.Snapshot) (bool, error) {
	if err := act.transition(StateRetrying); err != nil {
		return false, err
	}
	if act.retries >= a.maxRetries {
		return false, nil
	}
	act.retries++
	if rp == nil {
		return false, nil
	}
	claim, ok := rp.Replace(failed, act, snap)
	if !ok {
		return false, nil
	}
	a.admit(act, rp.Name(), claim)
	return true, nil
}

// Decide issues the single decision for the action. A role violation
// rejects the action regardless of verdict content, ends it in the done
// state and is returned as an error, since it is a defect rather than a
// user-facing outcome. No commit phase follows a violation.
func (a *Arbiter) Decide(act *Action) (Decision, error) {
	if err := act.transition(StateDeciding); err != nil {
		return Decision{}, err
	}

	if v := a.firstViolation(act); v != nil {
		d := reject(v.Error(), "", v.Sequence)
		if err := a.finish(act, d); err != nil {
			return Decision{}, err
		}
		if err := act.transition(StateDone); err != nil {
			return Decision{}, err
		}
		a.logger.Error("role boundary violation",
			"action", act.id,
			"department", v.Department,
			"claim", v.Sequence,
			"rule", v.Rule,
		)
		return d, v
	}

	if len(act.claims) == 0 {
		d := reject(fmt.Sprintf("No department handles '%s'", act.cmd.Action), "", 0)
		return d, a.finish(act, d)
	}

	if err := a.checkComplete(act); err != nil {
		return Decision{}, err
	}

	d := approve(act.Active())
	for _, v := range activeVerdicts(act) {
		if v.Failed() {
			first := lowestFailing(act.verdicts)
			d = reject(first.Reason, first.Category, first.ClaimSequence)
			break
		}
	}
	if err := a.finish(act, d); err != nil {
		return Decision{}, err
	}
	if d.Approved() {
		a.logger.Debug("action approved", "action", act.id, "claims", len(d.Claims), "retries", act.retries)
	} else {
		a.logger.Info("action rejected", "action", act.id, "reason", d.Reason, "category", d.Category, "retries", act.retries)
	}
	return d, nil
}

// Settle runs the commit-or-noop phase. For an approved action it mints a
// single-use token and commits exactly once; for a rejected action it does
// nothing. The bool result reports whether a commit happened.
func (a *Arbiter) Settle(ctx context.Context, act *Action, store Committer) (CommitResult, bool, error) {
	d, ok := act.Decision()
	if !ok {
		return CommitResult{}, false, fmt.Errorf("%w: action %s has no decision", ErrNotApproved, act.id)
	}
	if !d.Approved() {
		if act.state == StateDone {
			return CommitResult{}, false, nil
		}
		return CommitResult{}, false, act.transition(StateDone)
	}
	if act.commits > 0 {
		return CommitResult{}, false, fmt.Errorf("%w: %s", ErrAlreadyCommitted, act.id)
	}
	if err := act.transition(StateDone); err != nil {
		return CommitResult{}, false, err
	}

	act.commits++
	tok := CommitToken{
		actionID: act.id,
		base:     act.base,
		claims:   d.Claims,
		spent:    new(atomic.Bool),
	}
	res, err := store.Commit(ctx, tok)
	if err != nil {
		a.logger.Error("commit failed", "action", act.id, "error", err, "retriable", IsRetriable(err))
		return CommitResult{}, false, &CommitError{ActionID: act.id, Err: err}
	}
	return res, true, nil
}

// --- helpers ---

func (a *Arbiter) admit(act *Action, department string, claim Claim) {
	switch {
	case claim.Recorded():
		act.addDefect(&RoleViolationError{Department: department, Sequence: claim.Sequence(), Rule: "claim was already recorded"})
	case claim.Origin() != department:
		act.addDefect(&RoleViolationError{Department: department, Rule: "claim origin " + claim.Origin() + " does not match department"})
	default:
		act.record(claim)
	}
}

func (a *Arbiter) finish(act *Action, d Decision) error {
	if err := act.setDecision(d); err != nil {
		return err
	}
	next := StateRejecting
	if d.Approved() {
		next = StateCommitting
	}
	return act.transition(next)
}

// firstViolation returns the first role violation in a deterministic
// order: recorded defects, then claims, then verdicts.
func (a *Arbiter) firstViolation(act *Action) *RoleViolationError {
	if len(act.defects) > 0 {
		return act.defects[0]
	}
	for _, c := range act.claims {
		if v := a.caps.checkClaim(c); v != nil {
			return v
		}
		if c.Supersedes() > 0 {
			if _, ok := act.Claim(c.Supersedes()); !ok || c.Supersedes() >= c.Sequence() {
				return &RoleViolationError{Department: c.Origin(), Sequence: c.Sequence(), Rule: "supersedes an unknown claim"}
			}
		}
	}
	for _, v := range act.verdicts {
		if rv := a.caps.checkVerdict(v); rv != nil {
			return rv
		}
	}
	return nil
}

func (a *Arbiter) checkComplete(act *Action) error {
	for _, c := range act.claims {
		for _, name := range a.caps.ApplicableValidators(c.Kind()) {
			if !act.hasVerdict(name, c.Sequence()) {
				return fmt.Errorf("%w: claim #%d has no verdict from %s", ErrIncompleteValidation, c.Sequence(), name)
			}
		}
	}
	return nil
}

func activeVerdicts(act *Action) []Verdict {
	var out []Verdict
	for _, v := range act.verdicts {
		if !act.Superseded(v.ClaimSequence) {
			out = append(out, v)
		}
	}
	return out
}

// lowestFailing returns the failing verdict with the lowest claim sequence;
// ties keep emission order.
func lowestFailing(verdicts []Verdict) Verdict {
	var first *Verdict
	for i := range verdicts {
		v := verdicts[i]
		if !v.Failed() {
			continue
		}
		if first == nil || v.ClaimSequence < first.ClaimSequence {
			first = &verdicts[i]
		}
	}
	if first == nil {
		return Verdict{}
	}
	return *first
}
