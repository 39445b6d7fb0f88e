package arbiter

import (
	"errors"
	"fmt"
)

var (
	// ErrRoleViolation is matched by every RoleViolationError.
	ErrRoleViolation = errors.New("role violation")
	// ErrCommitFailed is matched by every CommitError.
	ErrCommitFailed = errors.New("commit failed")
	// ErrDecisionFinal indicates a second decision for the same action.
	ErrDecisionFinal = errors.New("decision already made")
	// ErrNotApproved indicates a commit attempt without an approved decision.
	ErrNotApproved = errors.New("commit requires an approved decision")
	// ErrAlreadyCommitted indicates a second commit for the same action.
	ErrAlreadyCommitted = errors.New("action already committed")
	// ErrInvalidToken indicates a commit token not issued by the arbiter.
	ErrInvalidToken = errors.New("invalid commit token")
	// ErrTokenSpent indicates a commit token redeemed twice.
	ErrTokenSpent = errors.New("commit token already redeemed")
	// ErrIncompleteValidation indicates a claim missing a verdict from an
	// applicable validator when a decision is requested.
	ErrIncompleteValidation = errors.New("validation incomplete")
	// ErrIllegalTransition indicates a state change outside the fixed
	// state machine.
	ErrIllegalTransition = errors.New("illegal arbiter transition")
)

// RoleViolationError reports a department that exceeded its contract. It is
// a defect in the department, not a user error.
type RoleViolationError struct {
	Department string
	Sequence   int
	Rule       string
}

func (e *RoleViolationError) Error() string {
	if e.Sequence > 0 {
		return fmt.Sprintf("role violation by %s on claim #%d: %s", e.Department, e.Sequence, e.Rule)
	}
	return fmt.Sprintf("role violation by %s: %s", e.Department, e.Rule)
}

func (e *RoleViolationError) Unwrap() error { return ErrRoleViolation }

// CommitError wraps a store failure during the commit phase. Validation is
// expected to guarantee feasibility, so any commit failure is systemic.
type CommitError struct {
	ActionID string
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit of action %s failed: %v", e.ActionID, e.Err)
}

// Is makes errors.Is(err, ErrCommitFailed) hold for any CommitError.
func (e *CommitError) Is(target error) bool { return target == ErrCommitFailed }

func (e *CommitError) Unwrap() error { return e.Err }

// IsRetriable reports whether err (or any error in its chain) marks a
// failure that may succeed against fresher state, such as a stale snapshot.
func IsRetriable(err error) bool {
	var target interface{ Retriable() bool }
	if errors.As(err, &target) {
		return target.Retriable()
	}
	return false
}
