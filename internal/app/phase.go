package app

import (
	"fmt"
	"slices"
)

// Phase is the generation lifecycle state of an App. Exactly one turn can be
// in flight: every phase except Idle rejects new sends.
type Phase int

const (
	// PhaseIdle accepts new sends.
	PhaseIdle Phase = iota

	// PhaseDispatching covers request preparation before the first chunk.
	PhaseDispatching

	// PhaseStreaming covers active chunk folding.
	PhaseStreaming

	// PhaseFinalizing covers usage accounting and persistence after the
	// stream ends.
	PhaseFinalizing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDispatching:
		return "dispatching"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// phaseTransitions lists the allowed moves. Dispatching and Streaming may
// drop straight back to Idle: that is the abort and error path, which skips
// finalization work but still persists in the exit handler.
var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseDispatching},
	PhaseDispatching: {PhaseStreaming, PhaseFinalizing, PhaseIdle},
	PhaseStreaming:   {PhaseFinalizing, PhaseIdle},
	PhaseFinalizing:  {PhaseIdle},
}

// toPhase moves the machine to next. Callers must hold a.mu.
func (a *App) toPhase(next Phase) error {
	if !slices.Contains(phaseTransitions[a.phase], next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.phase, next)
	}
	a.logger.Debug("phase transition", "from", a.phase.String(), "to", next.String())
	a.phase = next
	return nil
}
