// Package arbiter is the central authority of the pipeline. It collects the
// claims produced by proposers and the verdicts produced by validators for
// one user action, enforces the role boundaries between departments, and
// issues the single approve/reject decision. It is the only component that
// can mint the token a store requires to write.
package arbiter

import "fmt"

// Kind identifies the action a claim proposes.
type Kind string

const (
	KindPlace          Kind = "place"
	KindCreateTemplate Kind = "create_template"
	KindCreateSlot     Kind = "create_slot"
	KindComplete       Kind = "complete"
	KindReplace        Kind = "replace"
)

var validKinds = map[Kind]bool{
	KindPlace:          true,
	KindCreateTemplate: true,
	KindCreateSlot:     true,
	KindComplete:       true,
	KindReplace:        true,
}

// ValidateKind returns an error if the kind is not recognized.
func ValidateKind(k Kind) error {
	if !validKinds[k] {
		return fmt.Errorf("invalid claim kind %q: must be one of: place, create_template, create_slot, complete, replace", k)
	}
	return nil
}

// Marker flags a claim or verdict that asserts authority its author does
// not hold. Well-behaved departments never set one.
type Marker uint8

const (
	MarkerNone Marker = iota
	// MarkerMutation asserts that state was already written.
	MarkerMutation
	// MarkerDecision asserts a final approve or reject.
	MarkerDecision
)

func (m Marker) String() string {
	switch m {
	case MarkerNone:
		return "none"
	case MarkerMutation:
		return "mutation"
	case MarkerDecision:
		return "decision"
	default:
		return fmt.Sprintf("marker(%d)", uint8(m))
	}
}

// --- Payload variants ---

// Payload is the kind-specific data of a claim. The set of variants is
// closed: only the types in this file implement it.
type Payload interface {
	accepts(k Kind) bool
}

// PlacePayload places one task built from a template into a slot. It is
// used by both place and replace claims; From is the slot a replace claim
// moves away from.
type PlacePayload struct {
	Template string `json:"template"`
	Weight   int    `json:"weight"`
	Slot     string `json:"slot"`
	From     string `json:"from,omitempty"`
}

func (PlacePayload) accepts(k Kind) bool { return k == KindPlace || k == KindReplace }

// TemplatePayload creates a task template.
type TemplatePayload struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

func (TemplatePayload) accepts(k Kind) bool { return k == KindCreateTemplate }

// SlotPayload creates a time slot.
type SlotPayload struct {
	Time     string `json:"time"`
	Capacity int    `json:"capacity"`
}

func (SlotPayload) accepts(k Kind) bool { return k == KindCreateSlot }

// CompletePayload marks a task completed.
type CompletePayload struct {
	TaskID int64 `json:"task_id"`
}

func (CompletePayload) accepts(k Kind) bool { return k == KindComplete }

// --- Claim ---

// Claim is an immutable proposed mutation. Every method returns a copy;
// nothing in the pipeline can change a claim once it has been recorded.
type Claim struct {
	kind       Kind
	payload    Payload
	origin     string
	sequence   int
	supersedes int
	marker     Marker
}

// NewClaim builds an unrecorded claim. The arbiter assigns its sequence
// when the claim enters an action.
func NewClaim(origin string, kind Kind, payload Payload) Claim {
	return Claim{kind: kind, payload: payload, origin: origin}
}

func (c Claim) Kind() Kind         { return c.kind }
func (c Claim) Payload() Payload   { return c.payload }
func (c Claim) Origin() string     { return c.origin }
func (c Claim) Sequence() int      { return c.sequence }
func (c Claim) Supersedes() int    { return c.supersedes }
func (c Claim) Marker() Marker     { return c.marker }
func (c Claim) IsZero() bool       { return c.kind == "" && c.origin == "" && c.payload == nil }
func (c Claim) Recorded() bool     { return c.sequence > 0 }
func (c Claim) wellFormed() bool   { return c.payload != nil && c.payload.accepts(c.kind) }
func (c Claim) withSequence(n int) Claim {
	c.sequence = n
	return c
}

// Superseding returns a copy of the claim that replaces the claim with the
// given sequence.
func (c Claim) Superseding(seq int) Claim {
	c.supersedes = seq
	return c
}

// WithMarker returns a copy of the claim carrying m.
func (c Claim) WithMarker(m Marker) Claim {
	c.marker = m
	return c
}

// Place returns the payload of a place or replace claim.
func (c Claim) Place() (PlacePayload, bool) {
	p, ok := c.payload.(PlacePayload)
	return p, ok
}

// Template returns the payload of a create_template claim.
func (c Claim) Template() (TemplatePayload, bool) {
	p, ok := c.payload.(TemplatePayload)
	return p, ok
}

// Slot returns the payload of a create_slot claim.
func (c Claim) Slot() (SlotPayload, bool) {
	p, ok := c.payload.(SlotPayload)
	return p, ok
}

// Complete returns the payload of a complete claim.
func (c Claim) Complete() (CompletePayload, bool) {
	p, ok := c.payload.(CompletePayload)
	return p, ok
}

func (c Claim) String() string {
	if c.supersedes > 0 {
		return fmt.Sprintf("#%d %s by %s (supersedes #%d)", c.sequence, c.kind, c.origin, c.supersedes)
	}
	return fmt.Sprintf("#%d %s by %s", c.sequence, c.kind, c.origin)
}
