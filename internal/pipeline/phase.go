package pipeline

import (
	"errors"
	"fmt"
)

// Phase is one step of the pipeline.
type Phase string

const (
	PhaseParse              Phase = "parse"
	PhaseDetectTrigger      Phase = "detect-trigger"
	PhaseInvokeProposers    Phase = "invoke-proposers"
	PhaseInvokeValidators   Phase = "invoke-validators"
	PhaseEvaluate           Phase = "evaluate"
	PhaseReplacementPropose Phase = "replacement-propose"
	PhaseArbiterDecide      Phase = "arbiter-decide"
	PhaseCommitOrNoop       Phase = "commit-or-noop"
	PhaseFormatResult       Phase = "format-result"
)

// ErrIllegalPhase is returned when the driver attempts a transition the
// phase table does not allow.
var ErrIllegalPhase = errors.New("illegal phase transition")

// phaseTransitions is the fixed phase graph. The only cycle is the
// capacity retry edge through replacement-propose. Shortcuts to
// format-result exist for parse errors and read-only commands; the
// shortcut to arbiter-decide exists for actions no proposer claimed.
var phaseTransitions = map[Phase][]Phase{
	"":                      {PhaseParse},
	PhaseParse:              {PhaseDetectTrigger, PhaseFormatResult},
	PhaseDetectTrigger:      {PhaseInvokeProposers, PhaseFormatResult},
	PhaseInvokeProposers:    {PhaseInvokeValidators, PhaseArbiterDecide},
	PhaseInvokeValidators:   {PhaseEvaluate},
	PhaseEvaluate:           {PhaseReplacementPropose, PhaseArbiterDecide},
	PhaseReplacementPropose: {PhaseInvokeValidators, PhaseArbiterDecide},
	PhaseArbiterDecide:      {PhaseCommitOrNoop},
	PhaseCommitOrNoop:       {PhaseFormatResult},
}

// CanAdvance reports whether the pipeline may move from one phase to the
// next. The empty phase is the start.
func CanAdvance(from, to Phase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// trail records the phases visited by one run.
type trail struct {
	phases []Phase
}

func (t *trail) current() Phase {
	if len(t.phases) == 0 {
		return ""
	}
	return t.phases[len(t.phases)-1]
}

func (t *trail) advance(to Phase) error {
	if from := t.current(); !CanAdvance(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalPhase, from, to)
	}
	t.phases = append(t.phases, to)
	return nil
}

func (t *trail) visited() []Phase {
	return append([]Phase(nil), t.phases...)
}
