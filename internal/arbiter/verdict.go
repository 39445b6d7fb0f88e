package arbiter

// Status is the outcome of one validator examining one claim.
type Status string

const (
	StatusOK   Status = "ok"
	StatusFail Status = "fail"
)

// Category classifies the concern a validator owns. The evaluation step
// uses it to pick the retry branch or the hard-fail branch.
type Category string

const (
	// CategoryCapacity failures are eligible for the replacement retry loop.
	CategoryCapacity Category = "capacity"
	// CategoryConsistency failures are always terminal.
	CategoryConsistency Category = "consistency"
)

// Verdict is the judgment of one validator on one claim. ClaimSequence is a
// back-reference; the verdict does not own the claim.
type Verdict struct {
	ValidatorID   string   `json:"validator_id"`
	ClaimSequence int      `json:"claim_sequence"`
	Status        Status   `json:"status"`
	Category      Category `json:"category"`
	Reason        string   `json:"reason,omitempty"`
	Marker        Marker   `json:"-"`
}

// OK builds a passing verdict.
func OK(validatorID string, category Category, claimSeq int) Verdict {
	return Verdict{
		ValidatorID:   validatorID,
		ClaimSequence: claimSeq,
		Status:        StatusOK,
		Category:      category,
	}
}

// Fail builds a failing verdict with a human-readable reason.
func Fail(validatorID string, category Category, claimSeq int, reason string) Verdict {
	return Verdict{
		ValidatorID:   validatorID,
		ClaimSequence: claimSeq,
		Status:        StatusFail,
		Category:      category,
		Reason:        reason,
	}
}

// Failed reports whether the verdict is a failure.
func (v Verdict) Failed() bool { return v.Status == StatusFail }
