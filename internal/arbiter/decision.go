package arbiter

// DecisionStatus is the terminal outcome of an action.
type DecisionStatus string

const (
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// Decision is the single approve/reject output of the arbiter for one
// action. An approved decision carries the active claims to commit, in
// sequence order. A rejected decision carries the failing reason.
type Decision struct {
	Status        DecisionStatus `json:"status"`
	Claims        []Claim        `json:"-"`
	Reason        string         `json:"reason,omitempty"`
	Category      Category       `json:"category,omitempty"`
	ClaimSequence int            `json:"claim_sequence,omitempty"`
}

// Approved reports whether the decision allows a commit.
func (d Decision) Approved() bool { return d.Status == DecisionApproved }

func approve(claims []Claim) Decision {
	return Decision{Status: DecisionApproved, Claims: append([]Claim(nil), claims...)}
}

func reject(reason string, category Category, seq int) Decision {
	return Decision{Status: DecisionRejected, Reason: reason, Category: category, ClaimSequence: seq}
}
