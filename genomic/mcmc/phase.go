package mcmc

import "fmt"

// Phase is the lifecycle state of one chain.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseBurning
	PhaseSampling
	PhaseFinalized
	PhaseAborted
)

var phaseNames = [...]string{"init", "burning", "sampling", "finalized", "aborted"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}
