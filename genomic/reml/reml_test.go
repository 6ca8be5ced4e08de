package reml

import (
	"bytes"
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
)

func identity(n int) *mat.SymDense {
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		k.SetSym(i, i, 1)
	}
	return k
}

func normals(rng *rand.Rand, n int, sd float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = sd * rng.NormFloat64()
	}
	return out
}

// grmDataset simulates y = Wβ + e from standardized random genotypes W and
// returns the dataset with G = WWᵀ/M.
func grmDataset(seed uint64, n, m int, h2 float64) *genomic.Dataset {
	rng := rand.New(rand.NewPCG(seed, 11))
	w := mat.NewDense(n, m, nil)
	for j := 0; j < m; j++ {
		p := 0.1 + 0.4*rng.Float64()
		sd := math.Sqrt(2 * p * (1 - p))
		for i := 0; i < n; i++ {
			g := 0.0
			for a := 0; a < 2; a++ {
				if rng.Float64() < p {
					g++
				}
			}
			w.Set(i, j, (g-2*p)/sd)
		}
	}
	g := mat.NewSymDense(n, nil)
	g.SymOuterK(1/float64(m), w)
	beta := mat.NewVecDense(m, normals(rng, m, math.Sqrt(h2/float64(m))))
	var gv mat.VecDense
	gv.MulVec(w, beta)
	y := make([]float64, n)
	e := normals(rng, n, math.Sqrt(1-h2))
	for i := range y {
		y[i] = gv.AtVec(i) + e[i]
	}
	return &genomic.Dataset{
		Y:       y,
		Effects: genomic.Effects{Genetic: []*genomic.GeneticEffect{genomic.NewGeneticEffect("add", genomic.Additive, g)}},
	}
}

func TestNewModel_SingleIndividual(t *testing.T) {
	d := &genomic.Dataset{
		Y:       []float64{1.5},
		Effects: genomic.Effects{Genetic: []*genomic.GeneticEffect{genomic.NewGeneticEffect("add", genomic.Additive, identity(1))}},
	}
	_, err := NewModel(d)
	require.ErrorIs(t, err, genomic.ErrMalformedFile)
	assert.Contains(t, err.Error(), "fewer than 2 individuals")
	assert.Equal(t, genomic.ExitFile, genomic.ExitCode(err))
}

func TestNewModel_NoComponents(t *testing.T) {
	_, err := NewModel(&genomic.Dataset{Y: []float64{1, 2, 3}})
	assert.Error(t, err)
}

func TestProjection_AnnihilatesFixedEffects(t *testing.T) {
	d := grmDataset(1, 40, 60, 0.5)
	m, err := NewModel(d)
	require.NoError(t, err)
	proj, err := project(m, []float64{0.5, 0.5})
	require.NoError(t, err)

	var px mat.Dense
	px.Mul(proj.P, m.X)
	assert.Less(t, mat.Norm(&px, math.Inf(1)), 1e-10)

	// PVP = P
	v := mat.NewSymDense(40, nil)
	v.AddSym(scaledSym(0.5, identity(40)), scaledSym(0.5, m.Kernels[0]))
	var pvp, tmp mat.Dense
	tmp.Mul(proj.P, v)
	pvp.Mul(&tmp, proj.P)
	var diff mat.Dense
	diff.Sub(&pvp, proj.P)
	assert.Less(t, mat.Norm(&diff, math.Inf(1)), 1e-8)
}

func TestProjection_NonPSD(t *testing.T) {
	d := grmDataset(2, 20, 30, 0.5)
	m, err := NewModel(d)
	require.NoError(t, err)
	_, err = project(m, []float64{-1, 0.1})
	assert.ErrorIs(t, err, genomic.ErrNonPSD)
}

func TestTraceProduct(t *testing.T) {
	p := mat.NewSymDense(2, []float64{2, 1, 1, 3})
	k := mat.NewSymDense(2, []float64{1, 4, 4, 2})
	// tr(PK) = 2·1 + 1·4 + 1·4 + 3·2
	assert.Equal(t, 16.0, traceProduct(p, k))
	assert.Equal(t, 5.0, traceProduct(p, nil))
}

func TestIdentityKernel_BothPolicies(t *testing.T) {
	const n = 400
	rng := rand.New(rand.NewPCG(2024, 1))
	y := make([]float64, n)
	for i := range y {
		y[i] = math.Sqrt(0.5)*rng.NormFloat64() + math.Sqrt(0.5)*rng.NormFloat64()
	}
	for _, policy := range []string{"em", "ai"} {
		t.Run(policy, func(t *testing.T) {
			d := &genomic.Dataset{
				Y:       y,
				Effects: genomic.Effects{Genetic: []*genomic.GeneticEffect{genomic.NewGeneticEffect("g", genomic.Additive, identity(n))}},
			}
			m, err := NewModel(d)
			require.NoError(t, err)
			cfg := genomic.DefaultREMLConfig()
			cfg.Policy = policy
			res, err := NewOptimizer(m, cfg).Run(context.Background())
			require.NoError(t, err)
			assert.InDelta(t, 0.5, res.Theta[0], 0.1, "σₑ²")
			assert.InDelta(t, 0.5, res.Theta[1], 0.1, "σ_g²")
		})
	}
}

func TestPolicies_AgreeOnGRM(t *testing.T) {
	d := grmDataset(3, 200, 200, 0.5)
	m, err := NewModel(d)
	require.NoError(t, err)

	ai := genomic.DefaultREMLConfig()
	aiRes, err := NewOptimizer(m, ai).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, aiRes.Converged)

	em := genomic.DefaultREMLConfig()
	em.Policy = "em"
	em.MaxIter = 2000
	em.Tolerance = 1e-7
	emRes, err := NewOptimizer(m, em).Run(context.Background())
	require.NoError(t, err)

	for i := range aiRes.Theta {
		assert.InDelta(t, aiRes.Theta[i], emRes.Theta[i], 0.05*m.VarY, "component %d", i)
	}
	assert.GreaterOrEqual(t, aiRes.LogLik, emRes.LogLik-1e-3)
	assert.Less(t, aiRes.Iterations, emRes.Iterations)
}

func TestEstimatesStayInRange(t *testing.T) {
	// No genetic signal: σ_g² is pushed to the floor and frozen at zero.
	d := grmDataset(4, 120, 200, 0.0001)
	m, err := NewModel(d)
	require.NoError(t, err)
	cfg := genomic.DefaultREMLConfig()
	res, err := NewOptimizer(m, cfg).Run(context.Background())
	require.NoError(t, err)
	for i, v := range res.Theta {
		assert.GreaterOrEqual(t, v, 0.0, "component %d", i)
		assert.LessOrEqual(t, v, m.VarY*(1+cfg.Epsilon), "component %d", i)
	}
}

func TestRandomEffect_Recovered(t *testing.T) {
	if testing.Short() {
		t.Skip("slow")
	}
	const groups, size = 80, 10
	rng := rand.New(rand.NewPCG(77, 3))
	labels := make([]string, groups*size)
	y := make([]float64, groups*size)
	for g := 0; g < groups; g++ {
		u := math.Sqrt(0.5) * rng.NormFloat64()
		for k := 0; k < size; k++ {
			i := g*size + k
			labels[i] = string(rune('A'+g%26)) + string(rune('a'+g/26))
			y[i] = 2 + u + math.Sqrt(0.5)*rng.NormFloat64()
		}
	}
	d := &genomic.Dataset{Y: y, Effects: genomic.Effects{Random: []*genomic.RandomEffect{genomic.NewRandomEffect("group", labels)}}}
	m, err := NewModel(d)
	require.NoError(t, err)
	res, err := NewOptimizer(m, genomic.DefaultREMLConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Theta[0], 0.1)
	assert.InDelta(t, 0.5, res.Theta[1], 0.25)
	assert.InDelta(t, 2.0, res.Beta[0], 0.3)
	assert.Len(t, d.Effects.Random[0].U, groups)
}

func TestRun_Cancelled(t *testing.T) {
	m, err := NewModel(grmDataset(5, 30, 40, 0.5))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewOptimizer(m, genomic.DefaultREMLConfig()).Run(ctx)
	require.ErrorIs(t, err, genomic.ErrCancelled)
	require.NotNil(t, res)
	assert.False(t, res.Converged)
	assert.Equal(t, genomic.ExitCancelled, genomic.ExitCode(err))
}

func TestRun_ExhaustedIsNotConverged(t *testing.T) {
	m, err := NewModel(grmDataset(6, 40, 50, 0.5))
	require.NoError(t, err)
	cfg := genomic.DefaultREMLConfig()
	cfg.Policy = "em"
	cfg.MaxIter = 1
	cfg.Tolerance = 1e-15
	res, err := NewOptimizer(m, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
}

func TestConstrain_FreezesAtZeroAfterTwoFloorHits(t *testing.T) {
	hits := make([]int, 2)
	frozen := make([]bool, 2)
	theta := []float64{0.5, -0.1}
	constrain(theta, 0.01, 1, hits, frozen)
	assert.Equal(t, []float64{0.5, 0.01}, theta)
	assert.False(t, frozen[1])

	theta = []float64{1.5, -0.2}
	constrain(theta, 0.01, 1, hits, frozen)
	assert.Equal(t, []float64{1, 0}, theta)
	assert.True(t, frozen[1])
	assert.False(t, frozen[0])

	theta = []float64{0.5, 0.3}
	constrain(theta, 0.01, 1, hits, frozen)
	assert.Equal(t, 0.0, theta[1])
}

func TestConstrain_ResidualNeverFreezes(t *testing.T) {
	hits := make([]int, 2)
	frozen := make([]bool, 2)
	for range 3 {
		theta := []float64{-1, 0.5}
		constrain(theta, 0.01, 1, hits, frozen)
		assert.Equal(t, 0.01, theta[0])
	}
	assert.False(t, frozen[0])
}

func TestPseudoInverse(t *testing.T) {
	singular := mat.NewSymDense(2, []float64{1, 1, 1, 1})
	inv, err := pseudoInverse(singular)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, inv.At(0, 1), 1e-10)

	_, err = pseudoInverse(mat.NewSymDense(2, nil))
	assert.ErrorIs(t, err, genomic.ErrSingularHessian)
}

func TestNewPolicy(t *testing.T) {
	assert.NotNil(t, NewPolicy(""))
	assert.NotNil(t, NewPolicy("em"))
	assert.Panics(t, func() { NewPolicy("newton") })
}

func TestReport_WriteTo(t *testing.T) {
	d := grmDataset(8, 100, 150, 0.5)
	m, err := NewModel(d)
	require.NoError(t, err)
	res, err := NewOptimizer(m, genomic.DefaultREMLConfig()).Run(context.Background())
	require.NoError(t, err)

	rep := res.Report
	require.Len(t, rep.Heritability, 1)
	h := rep.Heritability[0]
	assert.InDelta(t, res.Theta[1]/(res.Theta[0]+res.Theta[1]), h.Value, 1e-12)
	assert.False(t, math.IsNaN(h.SE))
	assert.InDelta(t, -2*res.LogLik+4, rep.AIC, 1e-9)
	assert.Equal(t, res.Theta[1], d.Effects.Genetic[0].Variance)

	var buf bytes.Buffer
	_, err = rep.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	for _, want := range []string{"V(add)", "V(e)", "Vp", "h2(add)", "logL", "AIC", "BIC"} {
		assert.Contains(t, out, want)
	}
}
