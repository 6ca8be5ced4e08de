// Package bayes implements the BayesAlphabet family of marker-effect models
// as a single-chain Gibbs sampler with a Metropolis–Hastings block for the
// dominance-to-additive variance ratio.
//
// Every sweep runs in a fixed order: fixed effects, random effects, additive
// markers, dominance markers, mixture proportions, variances and finally the
// ratio update. Each coefficient update adjusts the residual in place, so
// the order is part of the algorithm.
package bayes

import "fmt"

// Kind selects the prior on marker effects.
type Kind int

const (
	// KindA gives every marker its own scaled-inverse-χ² variance.
	KindA Kind = iota
	// KindRR shares one variance across all markers (ridge regression).
	KindRR
	// KindB is spike-and-slab with per-marker slab variances and fixed π.
	KindB
	// KindBpi is KindB with π sampled.
	KindBpi
	// KindC is spike-and-slab with a common slab variance and fixed π.
	KindC
	// KindCpi is KindC with π sampled.
	KindCpi
	// KindR is a four-class normal mixture with Dirichlet π.
	KindR
)

var kindNames = map[Kind]string{
	KindA: "A", KindRR: "RR", KindB: "B", KindBpi: "Bpi", KindC: "C", KindCpi: "Cpi", KindR: "R",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts a model name. Empty means RR.
func ParseKind(name string) (Kind, error) {
	if name == "" {
		return KindRR, nil
	}
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown bayes model %q; valid: A, RR, B, Bpi, C, Cpi, R", name)
}

// mixture reports whether markers carry a class indicator.
func (k Kind) mixture() bool {
	switch k {
	case KindB, KindBpi, KindC, KindCpi, KindR:
		return true
	}
	return false
}

// samplesPi reports whether π is drawn from its posterior.
func (k Kind) samplesPi() bool {
	return k == KindBpi || k == KindCpi || k == KindR
}

// perMarkerVariance reports whether each marker has its own variance.
func (k Kind) perMarkerVariance() bool {
	return k == KindA || k == KindB || k == KindBpi
}

// defaultPi returns the starting mixture proportions, null class first.
func (k Kind) defaultPi() []float64 {
	switch k {
	case KindR:
		return []float64{0.95, 0.02, 0.02, 0.01}
	case KindB, KindBpi, KindC, KindCpi:
		return []float64{0.95, 0.05}
	}
	return nil
}
