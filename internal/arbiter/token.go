package arbiter

import (
	"context"
	"sync/atomic"
)

// CommitToken is the capability a store requires to write. Only the
// arbiter can construct a valid one, only after an approved decision, and
// each token can be redeemed once.
type CommitToken struct {
	actionID string
	base     int64
	claims   []Claim
	spent    *atomic.Bool
}

func (t CommitToken) ActionID() string   { return t.actionID }
func (t CommitToken) BaseVersion() int64 { return t.base }

// Claims returns the approved claims in sequence order.
func (t CommitToken) Claims() []Claim {
	return append([]Claim(nil), t.claims...)
}

// Redeem consumes the token. Stores call it before writing anything.
func (t CommitToken) Redeem() error {
	if t.spent == nil || t.actionID == "" {
		return ErrInvalidToken
	}
	if !t.spent.CompareAndSwap(false, true) {
		return ErrTokenSpent
	}
	return nil
}

// CommitResult describes what landed in the store.
type CommitResult struct {
	Version int64   `json:"version"`
	TaskIDs []int64 `json:"task_ids,omitempty"`
}

// Committer is the write side of a state store. Implementations must apply
// all of a token's claims or none of them.
type Committer interface {
	Commit(ctx context.Context, tok CommitToken) (CommitResult, error)
}
