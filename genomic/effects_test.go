package genomic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestRandomEffect_CovarianceIsIncidence(t *testing.T) {
	r := NewRandomEffect("herd", []string{"a", "b", "a", ""})
	require.Equal(t, []string{"a", "b"}, r.Levels)
	assert.Equal(t, []int{0, 1, 0, -1}, r.Index)

	c := r.Covariance()
	assert.Equal(t, 1.0, c.At(0, 2))
	assert.Equal(t, 0.0, c.At(0, 1))
	assert.Equal(t, 1.0, c.At(1, 1))
	assert.Equal(t, 0.0, c.At(3, 3))
}

func TestRandomEffect_SetEstimateSumsLevels(t *testing.T) {
	r := NewRandomEffect("herd", []string{"a", "b", "a"})
	r.SetEstimate(2, mat.NewVecDense(3, []float64{1, 3, 0.5}))
	assert.Equal(t, 2.0, r.EstimatedVariance())
	assert.InDeltaSlice(t, []float64{3, 6}, r.U, 1e-12)
}

func TestGxEEffect_MasksAcrossEnvironments(t *testing.T) {
	g := mat.NewSymDense(3, []float64{1, 0.5, 0.2, 0.5, 1, 0.3, 0.2, 0.3, 1})
	x := NewGxEEffect("gxe", NewGeneticEffect("g", Additive, g), []int{0, 0, 1})
	c := x.Covariance()
	assert.Equal(t, 0.5, c.At(0, 1))
	assert.Equal(t, 0.0, c.At(0, 2))
	assert.Equal(t, 1.0, c.At(2, 2))
}

func TestGeneticEffect_SetEstimate(t *testing.T) {
	g := NewGeneticEffect("add", Additive, mat.NewSymDense(2, []float64{1, 0.5, 0.5, 1}))
	g.SetEstimate(0.4, mat.NewVecDense(2, []float64{1, -1}))
	assert.InDeltaSlice(t, []float64{0.2, -0.2}, g.U, 1e-12)
}

func TestEffects_ComponentsOrderIsStable(t *testing.T) {
	g := NewGeneticEffect("add", Additive, mat.NewSymDense(2, nil))
	d := NewGeneticEffect("dom", Dominant, mat.NewSymDense(2, nil))
	e := Effects{
		Genetic: []*GeneticEffect{g, d},
		GxE:     []*GxEEffect{NewGxEEffect("gxe", g, []int{0, 1})},
		Random:  []*RandomEffect{NewRandomEffect("herd", []string{"a", "b"})},
	}
	var names []string
	for _, c := range e.Components() {
		names = append(names, c.ComponentName())
	}
	assert.Equal(t, []string{"add", "dom", "gxe", "herd"}, names)
}

func TestDataset_FixedDesign(t *testing.T) {
	d := Dataset{Y: []float64{1, 2, 3}}
	x := d.FixedDesign()
	r, c := x.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 1, c)
	assert.Equal(t, 1.0, x.At(2, 0))

	d.Effects.Fixed = []*FixedEffect{
		NewFixedEffect("mu", mat.NewDense(3, 1, []float64{1, 1, 1}), nil),
		NewFixedEffect("age", mat.NewDense(3, 1, []float64{20, 30, 40}), []string{"age"}),
	}
	require.NoError(t, d.Validate())
	x = d.FixedDesign()
	_, c = x.Dims()
	assert.Equal(t, 2, c)
	assert.Equal(t, 30.0, x.At(1, 1))

	d.SetFixedCoefficients([]float64{0.5, 0.1})
	assert.Equal(t, []float64{0.1}, d.Effects.Fixed[1].Beta)
}

func TestDataset_ValidateRejectsShapeMismatch(t *testing.T) {
	d := Dataset{
		Y: []float64{1, 2, 3},
		Effects: Effects{
			Genetic: []*GeneticEffect{NewGeneticEffect("add", Additive, mat.NewSymDense(2, nil))},
		},
	}
	assert.Error(t, d.Validate())
}
