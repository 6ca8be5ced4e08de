// Package reml estimates variance components of a multi-kernel linear mixed
// model by restricted maximum likelihood.
//
// The model is y = Xβ + Σ Zᵢuᵢ + e with uᵢ ~ N(0, σᵢ²Kᵢ) and e ~ N(0, σₑ²I).
// Each iteration recomputes V from the current θ = (σₑ², σ₁², …, σᵣ²),
// factors it, builds the projection P, asks the update policy (EM or AI) for
// a new θ and applies the constraint step.
package reml

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/genopred/genopred/genomic"
)

// Model is the data an optimizer works on. Kernels hold Zᵢ Kᵢ Zᵢᵀ, one per
// variance component; the residual kernel (identity) is implicit.
type Model struct {
	Y          *mat.VecDense
	X          *mat.Dense
	Kernels    []*mat.SymDense
	Names      []string
	Genetic    []bool // component i is a genetic or GxE effect
	VarY       float64
	components []genomic.VarianceComponent
}

// NewModel extracts the kernels of every variance component of d.
func NewModel(d *genomic.Dataset) (*Model, error) {
	n := d.N()
	if n < 2 {
		return nil, fmt.Errorf("reml: fewer than 2 individuals (%d): %w", n, genomic.ErrMalformedFile)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("reml: %v: %w", err, genomic.ErrMalformedFile)
	}
	comps := d.Effects.Components()
	if len(comps) == 0 {
		return nil, fmt.Errorf("reml: model has no variance component besides the residual")
	}
	m := &Model{
		Y:          mat.NewVecDense(n, append([]float64(nil), d.Y...)),
		X:          d.FixedDesign(),
		VarY:       stat.Variance(d.Y, nil),
		components: comps,
	}
	if !(m.VarY > 0) {
		return nil, fmt.Errorf("reml: phenotype has zero variance over %d individuals: %w", n, genomic.ErrMalformedFile)
	}
	nGenetic := len(d.Effects.Genetic) + len(d.Effects.GxE)
	for i, c := range comps {
		m.Kernels = append(m.Kernels, c.Covariance())
		m.Names = append(m.Names, c.ComponentName())
		m.Genetic = append(m.Genetic, i < nGenetic)
	}
	return m, nil
}

// N returns the number of individuals.
func (m *Model) N() int { return m.Y.Len() }

// NumComponents returns r, the number of non-residual components.
func (m *Model) NumComponents() int { return len(m.Kernels) }

// kernel returns the covariance structure of θ index k (0 is the residual).
// A nil result means identity.
func (m *Model) kernel(k int) *mat.SymDense {
	if k == 0 {
		return nil
	}
	return m.Kernels[k-1]
}
