// Package departments implements the proposers and validators of the task
// scheduler. Proposers read the snapshot and emit at most one claim each;
// validators judge exactly one concern and never decide.
package departments

import (
	"github.com/HendryAvila/kmad/internal/arbiter"
)

// Department names. They key the capability rules and the trigger map.
const (
	NamePlacement   = "TaskPlacementProposer"
	NameTemplates   = "TaskTemplateManager"
	NameSlots       = "TimeSlotManager"
	NameCompletion  = "TaskCompletionHandler"
	NameReplacement = "AutoReplacementProposer"
	NameCapacity    = "CapacityValidator"
	NameConsistency = "ConsistencyValidator"
)

// Registry holds the departments a pipeline may call, keyed by name.
type Registry struct {
	Proposers   map[string]arbiter.Proposer
	Validators  []arbiter.Validator
	Replacement arbiter.ReplacementProposer
}

// Proposer looks up a registered proposer.
func (r Registry) Proposer(name string) (arbiter.Proposer, bool) {
	p, ok := r.Proposers[name]
	return p, ok
}

// Default returns the scheduler's standard departments.
func Default() Registry {
	proposers := []arbiter.Proposer{
		Placement{},
		TemplateManager{},
		SlotManager{},
		CompletionHandler{},
	}
	r := Registry{
		Proposers:   make(map[string]arbiter.Proposer, len(proposers)),
		Validators:  []arbiter.Validator{CapacityValidator{}, ConsistencyValidator{}},
		Replacement: AutoReplacement{},
	}
	for _, p := range proposers {
		r.Proposers[p.Name()] = p
	}
	return r
}
