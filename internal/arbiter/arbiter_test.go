package arbiter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/HendryAvila/kmad/internal/schedule"
)

// --- Approval and commit ---

func TestDecide_ApprovesAndCommitsOnce(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)

	d, err := drive(a, act, []Proposer{placer("9:00")}, passing(), nil)
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if !d.Approved() || len(d.Claims) != 1 || d.Claims[0].Sequence() != 1 {
		t.Fatalf("decision = %+v", d)
	}
	if act.State() != StateCommitting {
		t.Errorf("State = %s, want committing", act.State())
	}

	rec := &recorder{}
	res, committed, err := a.Settle(context.Background(), act, rec)
	if err != nil || !committed {
		t.Fatalf("Settle = %v, %v", committed, err)
	}
	if res.Version != 1 || len(rec.tokens) != 1 {
		t.Errorf("res = %+v, tokens = %d", res, len(rec.tokens))
	}
	if rec.tokens[0].ActionID() != act.ID() {
		t.Error("token bound to wrong action")
	}
	if act.State() != StateDone || act.Commits() != 1 {
		t.Errorf("state = %s, commits = %d", act.State(), act.Commits())
	}

	if _, _, err := a.Settle(context.Background(), act, rec); !errors.Is(err, ErrAlreadyCommitted) {
		t.Errorf("second Settle = %v, want ErrAlreadyCommitted", err)
	}
	if len(rec.tokens) != 1 {
		t.Errorf("tokens = %d after second Settle, want 1", len(rec.tokens))
	}
}

func TestSettle_WithoutDecision(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	if _, _, err := a.Settle(context.Background(), act, &recorder{}); !errors.Is(err, ErrNotApproved) {
		t.Errorf("Settle = %v, want ErrNotApproved", err)
	}
}

func TestSettle_RejectedIsNoop(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	consistency := fakeValidator{name: "Consistency", category: CategoryConsistency, judge: func(Claim) string {
		return "Template 'Meeting' does not exist"
	}}
	d, err := drive(a, act, []Proposer{placer("9:00")}, []Validator{passing()[0], consistency}, nil)
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if d.Approved() {
		t.Fatal("expected rejection")
	}

	rec := &recorder{}
	_, committed, err := a.Settle(context.Background(), act, rec)
	if err != nil || committed || len(rec.tokens) != 0 {
		t.Errorf("Settle = %v, %v, tokens %d", committed, err, len(rec.tokens))
	}
	if act.State() != StateDone {
		t.Errorf("State = %s, want done", act.State())
	}
}

func TestSettle_WrapsStoreFailure(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	if _, err := drive(a, act, []Proposer{placer("9:00")}, passing(), nil); err != nil {
		t.Fatalf("drive: %v", err)
	}
	_, _, err := a.Settle(context.Background(), act, &recorder{err: retriableErr{}})
	if !errors.Is(err, ErrCommitFailed) {
		t.Fatalf("Settle = %v, want ErrCommitFailed", err)
	}
	var ce *CommitError
	if !errors.As(err, &ce) || ce.ActionID != act.ID() {
		t.Errorf("CommitError = %+v", ce)
	}
	if !IsRetriable(err) {
		t.Error("retriable cause should surface through CommitError")
	}
}

type retriableErr struct{}

func (retriableErr) Error() string   { return "stale" }
func (retriableErr) Retriable() bool { return true }

// --- Rejection paths ---

func TestEvaluate_ConsistencyRejectsWithoutRetry(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	calls := 0
	consistency := fakeValidator{name: "Consistency", category: CategoryConsistency, judge: func(Claim) string {
		return "Template 'Meeting' does not exist"
	}}

	d, err := drive(a, act, []Proposer{placer("9:00")}, []Validator{fullSlots("9:00"), consistency}, fakeReplacement{slots: []string{"10:00"}, calls: &calls})
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if d.Approved() {
		t.Fatal("expected rejection")
	}
	if calls != 0 || act.Retries() != 0 {
		t.Errorf("replacement called %d times, retries %d; want none", calls, act.Retries())
	}
	// Both verdicts fail on claim #1; emission order puts capacity first.
	if d.Reason != "Time slot '9:00' is full" {
		t.Errorf("Reason = %q", d.Reason)
	}
}

func TestDecide_NoClaims(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	d, err := drive(a, act, []Proposer{fakeProposer{name: "Placer", skip: true}}, passing(), nil)
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if d.Approved() || d.Reason != "No department handles 'place'" {
		t.Errorf("decision = %+v", d)
	}
}

func TestDecide_LowestSequenceReason(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	consistency := fakeValidator{name: "Consistency", category: CategoryConsistency, judge: func(c Claim) string {
		p, _ := c.Place()
		return "bad " + p.Slot
	}}
	d, err := drive(a, act, []Proposer{placer("9:00"), placer("10:00")}, []Validator{passing()[0], consistency}, nil)
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if d.Reason != "bad 9:00" || d.ClaimSequence != 1 {
		t.Errorf("decision = %+v, want claim #1 reason", d)
	}
}

// --- Retry edge ---

func TestReplace_ApprovesSubstitute(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	calls := 0

	d, err := drive(a, act, []Proposer{placer("9:00")}, []Validator{fullSlots("9:00"), passing()[1]}, fakeReplacement{slots: []string{"10:00"}, calls: &calls})
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if !d.Approved() {
		t.Fatalf("decision = %+v", d)
	}
	if len(d.Claims) != 1 || d.Claims[0].Kind() != KindReplace || d.Claims[0].Supersedes() != 1 {
		t.Fatalf("approved claims = %v", d.Claims)
	}
	p, _ := d.Claims[0].Place()
	if p.Slot != "10:00" || p.From != "9:00" {
		t.Errorf("payload = %+v", p)
	}
	if act.Retries() != 1 || !act.Superseded(1) || len(act.Claims()) != 2 {
		t.Errorf("retries = %d, claims = %v", act.Retries(), act.Claims())
	}
}

func TestReplace_BoundedByMaxRetries(t *testing.T) {
	a := New(testCaps(), WithMaxRetries(2))
	act := NewAction(placeCmd)
	calls := 0
	rp := fakeReplacement{slots: []string{"10:00", "11:00", "12:00", "13:00"}, calls: &calls}

	d, err := drive(a, act, []Proposer{placer("9:00")}, []Validator{fullSlots("9:00", "10:00", "11:00", "12:00", "13:00"), passing()[1]}, rp)
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if d.Approved() {
		t.Fatal("expected rejection")
	}
	if act.Retries() != 2 || calls != 2 {
		t.Errorf("retries = %d, calls = %d, want 2", act.Retries(), calls)
	}
	if d.Reason != "Time slot '9:00' is full" {
		t.Errorf("Reason = %q, want the original failure", d.Reason)
	}
}

func TestReplace_NoAlternative(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	calls := 0
	d, err := drive(a, act, []Proposer{placer("9:00")}, []Validator{fullSlots("9:00"), passing()[1]}, fakeReplacement{calls: &calls})
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if d.Approved() || d.Reason != "Time slot '9:00' is full" || d.Category != CategoryCapacity {
		t.Errorf("decision = %+v", d)
	}
}

func TestWithMaxRetries_IgnoresNonPositive(t *testing.T) {
	if got := New(testCaps(), WithMaxRetries(0)).MaxRetries(); got != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", got, DefaultMaxRetries)
	}
}

// --- Role boundary ---

func TestDecide_RoleViolations(t *testing.T) {
	placeClaim := NewClaim("Placer", KindPlace, PlacePayload{Template: "Meeting", Weight: 30, Slot: "9:00"})

	tests := []struct {
		name       string
		proposers  []Proposer
		validators []Validator
		rule       string
	}{
		{
			name:       "claim mutation marker",
			proposers:  []Proposer{fakeProposer{name: "Placer", claim: placeClaim.WithMarker(MarkerMutation)}},
			validators: passing(),
			rule:       "mutation marker",
		},
		{
			name:      "verdict decision marker",
			proposers: []Proposer{placer("9:00")},
			validators: []Validator{passing()[0], fakeValidator{name: "Consistency", category: CategoryConsistency,
				mutate: func(v *Verdict) { v.Marker = MarkerDecision }}},
			rule: "validators must never approve or reject",
		},
		{
			name:      "verdict outside category",
			proposers: []Proposer{placer("9:00")},
			validators: []Validator{fakeValidator{name: "Capacity", category: CategoryConsistency,
				judge: func(Claim) string { return "template missing" }}, passing()[1]},
			rule: "outside declared category",
		},
		{
			name: "kind not in can_claim",
			proposers: []Proposer{fakeProposer{name: "Placer",
				claim: NewClaim("Placer", KindCreateSlot, SlotPayload{Time: "9:00", Capacity: 10})}},
			validators: passing(),
			rule:       "may not claim create_slot",
		},
		{
			name:       "origin mismatch",
			proposers:  []Proposer{fakeProposer{name: "Placer", claim: NewClaim("Slotter", KindCreateSlot, SlotPayload{Time: "9:00"})}},
			validators: passing(),
			rule:       "does not match department",
		},
		{
			name:       "unknown department",
			proposers:  []Proposer{fakeProposer{name: "Ghost", claim: NewClaim("Ghost", KindPlace, PlacePayload{Slot: "9:00"})}},
			validators: passing(),
			rule:       "no declared capability",
		},
		{
			name:       "payload mismatch",
			proposers:  []Proposer{fakeProposer{name: "Placer", claim: NewClaim("Placer", KindPlace, SlotPayload{Time: "9:00"})}},
			validators: passing(),
			rule:       "payload does not match",
		},
		{
			name:      "verdict for another claim",
			proposers: []Proposer{placer("9:00")},
			validators: []Validator{passing()[0], fakeValidator{name: "Consistency", category: CategoryConsistency,
				mutate: func(v *Verdict) { v.ClaimSequence = 7 }}},
			rule: "does not reference the claim",
		},
		{
			name:      "passing verdict with reason",
			proposers: []Proposer{placer("9:00")},
			validators: []Validator{passing()[0], fakeValidator{name: "Consistency", category: CategoryConsistency,
				mutate: func(v *Verdict) { v.Reason = "looks fine" }}},
			rule: "passing verdict carries a reason",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(testCaps())
			act := NewAction(placeCmd)

			d, err := drive(a, act, tt.proposers, tt.validators, nil)
			if !errors.Is(err, ErrRoleViolation) {
				t.Fatalf("err = %v, want ErrRoleViolation", err)
			}
			var rv *RoleViolationError
			if !errors.As(err, &rv) || !strings.Contains(rv.Rule, tt.rule) {
				t.Errorf("violation = %+v, want rule containing %q", rv, tt.rule)
			}
			if d.Approved() {
				t.Error("violation must reject")
			}
			if act.State() != StateDone {
				t.Errorf("State = %s, want done", act.State())
			}

			rec := &recorder{}
			_, committed, err := a.Settle(context.Background(), act, rec)
			if err != nil || committed || len(rec.tokens) != 0 {
				t.Errorf("Settle after violation: committed = %v, err = %v", committed, err)
			}
		})
	}
}

func TestDecide_SupersedeFromProposer(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	first := placer("9:00")
	second := fakeProposer{name: "Placer", claim: NewClaim("Placer", KindPlace, PlacePayload{Slot: "10:00"}).Superseding(1)}

	_, err := drive(a, act, []Proposer{first, second}, passing(), nil)
	var rv *RoleViolationError
	if !errors.As(err, &rv) || !strings.Contains(rv.Rule, "only replacement proposers") {
		t.Errorf("err = %v", err)
	}
}

// --- Preconditions and state machine ---

func TestEvaluate_IncompleteValidation(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	_, err := drive(a, act, []Proposer{placer("9:00")}, passing()[:1], nil)
	if !errors.Is(err, ErrIncompleteValidation) {
		t.Errorf("err = %v, want ErrIncompleteValidation", err)
	}
}

func TestDecision_Final(t *testing.T) {
	act := NewAction(placeCmd)
	if err := act.setDecision(reject("first", CategoryConsistency, 1)); err != nil {
		t.Fatalf("setDecision: %v", err)
	}
	if err := act.setDecision(approve(nil)); !errors.Is(err, ErrDecisionFinal) {
		t.Errorf("second setDecision = %v, want ErrDecisionFinal", err)
	}
	d, _ := act.Decision()
	if d.Reason != "first" {
		t.Errorf("decision changed: %+v", d)
	}
}

func TestDecide_Twice(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	if _, err := drive(a, act, []Proposer{placer("9:00")}, passing(), nil); err != nil {
		t.Fatalf("drive: %v", err)
	}
	if _, err := a.Decide(act); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("second Decide = %v, want ErrIllegalTransition", err)
	}
}

func TestCollect_OnlyOnce(t *testing.T) {
	a := New(testCaps())
	act := NewAction(placeCmd)
	if _, err := drive(a, act, []Proposer{placer("9:00")}, passing(), nil); err != nil {
		t.Fatalf("drive: %v", err)
	}
	if err := a.Collect(act, nil, schedule.Snapshot{}); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("Collect = %v, want ErrIllegalTransition", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCollecting, StateValidating, true},
		{StateCollecting, StateDeciding, true},
		{StateEvaluating, StateRetrying, true},
		{StateRetrying, StateValidating, true},
		{StateDeciding, StateCommitting, true},
		{StateCommitting, StateDone, true},
		{StateCollecting, StateCommitting, false},
		{StateValidating, StateDeciding, false},
		{StateDone, StateCollecting, false},
		{StateRejecting, StateCommitting, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

// --- Claims and tokens ---

func TestClaim_CopiesAreIndependent(t *testing.T) {
	c := NewClaim("Placer", KindPlace, PlacePayload{Slot: "9:00"})
	marked := c.WithMarker(MarkerMutation)
	if c.Marker() != MarkerNone || marked.Marker() != MarkerMutation {
		t.Error("WithMarker should not change the original")
	}
	sup := c.Superseding(3)
	if c.Supersedes() != 0 || sup.Supersedes() != 3 {
		t.Error("Superseding should not change the original")
	}
	if c.Recorded() {
		t.Error("unrecorded claim reports Recorded")
	}
}

func TestValidateKind(t *testing.T) {
	if err := ValidateKind(KindReplace); err != nil {
		t.Errorf("ValidateKind(replace) = %v", err)
	}
	if err := ValidateKind("delete"); err == nil {
		t.Error("ValidateKind(delete) should fail")
	}
}

func TestCommitToken_Redeem(t *testing.T) {
	if err := (CommitToken{}).Redeem(); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("zero Redeem = %v, want ErrInvalidToken", err)
	}

	a := New(testCaps())
	act := NewAction(placeCmd)
	if _, err := drive(a, act, []Proposer{placer("9:00")}, passing(), nil); err != nil {
		t.Fatalf("drive: %v", err)
	}
	rec := &recorder{}
	if _, _, err := a.Settle(context.Background(), act, rec); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if err := rec.tokens[0].Redeem(); !errors.Is(err, ErrTokenSpent) {
		t.Errorf("second Redeem = %v, want ErrTokenSpent", err)
	}
	claims := rec.tokens[0].Claims()
	claims[0] = Claim{}
	if rec.tokens[0].Claims()[0].IsZero() {
		t.Error("Claims should return a copy")
	}
}
