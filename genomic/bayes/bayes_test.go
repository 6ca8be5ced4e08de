package bayes

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/geno"
	"github.com/genopred/genopred/genomic/internal/testutil"
	"github.com/genopred/genopred/genomic/plink"
)

// simulated holds a training set drawn as y = 1 + Xβ + e with standardized X.
type simulated struct {
	data    *Data
	genetic []float64
}

func simulate(t *testing.T, seed uint64, n, m int, h2 float64, dominance bool) simulated {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 5))
	prefix := testutil.WriteFileset(t, "train", testutil.RandomGenotypes(rng, n, m))
	r, err := plink.Open(prefix, 64)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	cfg := genomic.DefaultGenotypeConfig()
	add, err := geno.LoadMarkers(r, cfg)
	require.NoError(t, err)
	d := &Data{Additive: add}
	if dominance {
		cfg.Encoding = genomic.Dominant
		d.Dominant, err = geno.LoadMarkers(r, cfg)
		require.NoError(t, err)
	}

	beta := make([]float64, m)
	for j := range beta {
		beta[j] = math.Sqrt(h2/float64(m)) * rng.NormFloat64()
	}
	g := geneticValues(add.X, beta)
	d.Y = make([]float64, n)
	for i := range d.Y {
		d.Y[i] = 1 + g[i] + math.Sqrt(1-h2)*rng.NormFloat64()
	}
	return simulated{data: d, genetic: g}
}

func newChain(t *testing.T, kind Kind, d *Data, seed uint64) *Chain {
	t.Helper()
	cfg := genomic.DefaultMCMCConfig()
	priors, err := NewPriors(kind, d, cfg)
	require.NoError(t, err)
	c, err := NewChain(kind, d, priors, rand.New(rand.NewPCG(seed, 9)))
	require.NoError(t, err)
	return c
}

func TestParseKind(t *testing.T) {
	for k, name := range kindNames {
		got, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, k, got)
		assert.Equal(t, name, k.String())
	}
	got, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindRR, got)
	_, err = ParseKind("BayesZ")
	assert.Error(t, err)
}

func TestNewPriors(t *testing.T) {
	s := simulate(t, 1, 50, 20, 0.5, false)
	cfg := genomic.DefaultMCMCConfig()

	t.Run("rejects h2 outside (0,1)", func(t *testing.T) {
		bad := cfg
		bad.H2 = 1
		_, err := NewPriors(KindRR, s.data, bad)
		assert.Error(t, err)
	})
	t.Run("pi length must match the model", func(t *testing.T) {
		bad := cfg
		bad.Pi = []float64{0.9, 0.1}
		_, err := NewPriors(KindR, s.data, bad)
		assert.Error(t, err)
	})
	t.Run("pi is normalized", func(t *testing.T) {
		c := cfg
		c.Pi = []float64{9, 1}
		p, err := NewPriors(KindCpi, s.data, c)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0.9, 0.1}, p.Pi, 1e-12)
	})
	t.Run("prior mean of var_e matches (1-h2) var(y)", func(t *testing.T) {
		p, err := NewPriors(KindRR, s.data, cfg)
		require.NoError(t, err)
		varY := stat.Variance(s.data.Y, nil)
		testutil.AssertFloat64Equal(t, "var_e prior mean", 0.5*varY, p.ScaleE*p.DfE/(p.DfE-2), 1e-12)
	})
	t.Run("constant phenotype", func(t *testing.T) {
		flat := *s.data
		flat.Y = make([]float64, len(s.data.Y))
		_, err := NewPriors(KindRR, &flat, cfg)
		assert.ErrorIs(t, err, genomic.ErrMalformedFile)
	})
}

func TestData_Validate(t *testing.T) {
	s := simulate(t, 2, 30, 10, 0.5, false)
	d := *s.data
	d.Y = d.Y[:10]
	assert.ErrorIs(t, d.Validate(), genomic.ErrMalformedFile)

	d = *s.data
	re := genomic.NewRandomEffect("pen", make([]string, 30))
	re.Kernel = mat.NewSymDense(1, nil)
	d.Random = []*genomic.RandomEffect{re}
	assert.Error(t, d.Validate())
}

// TestChain_ResidualInvariant checks that the running residual equals a full
// recomputation after every sweep, for every model.
func TestChain_ResidualInvariant(t *testing.T) {
	s := simulate(t, 3, 60, 30, 0.5, true)
	labels := make([]string, 60)
	for i := range labels {
		labels[i] = []string{"a", "b", "c", ""}[i%4]
	}
	for k := range kindNames {
		t.Run(k.String(), func(t *testing.T) {
			d := *s.data
			d.Random = []*genomic.RandomEffect{genomic.NewRandomEffect("pen", labels)}
			c := newChain(t, k, &d, 11)
			for it := 1; it <= 25; it++ {
				require.NoError(t, c.Step())
				require.Less(t, c.ResidualDrift(), 1e-8, "iteration %d", it)
			}
			sample := c.Sample()
			require.Len(t, sample, len(c.Params()))
			for i, v := range sample {
				assert.False(t, math.IsNaN(v), "param %s", c.Params()[i])
			}
		})
	}
}

func TestChain_Params(t *testing.T) {
	s := simulate(t, 4, 40, 15, 0.5, true)
	rr := newChain(t, KindRR, s.data, 1)
	assert.Equal(t, []string{"var_e", "var_beta", "var_g", "h2", "var_d", "var_gd", "rho"}, rr.Params())

	noDom := *s.data
	noDom.Dominant = nil
	r := newChain(t, KindR, &noDom, 1)
	assert.Equal(t, []string{"var_e", "var_beta", "var_g", "h2", "pi_0", "pi_1", "pi_2", "pi_3", "nnz"}, r.Params())
}

func TestChain_SameSeedSameDraws(t *testing.T) {
	s := simulate(t, 5, 50, 20, 0.5, false)
	a := newChain(t, KindBpi, s.data, 42)
	b := newChain(t, KindBpi, s.data, 42)
	for it := 0; it < 10; it++ {
		require.NoError(t, a.Step())
		require.NoError(t, b.Step())
		assert.Equal(t, a.Sample(), b.Sample(), "iteration %d", it)
	}
}

func TestChain_PiStaysOnSimplex(t *testing.T) {
	s := simulate(t, 6, 50, 20, 0.5, false)
	c := newChain(t, KindR, s.data, 3)
	for it := 0; it < 20; it++ {
		require.NoError(t, c.Step())
		sum := 0.0
		for _, p := range c.pi {
			assert.GreaterOrEqual(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1, sum, 1e-9)
	}
}

func TestChain_FixedPiIsNotSampled(t *testing.T) {
	s := simulate(t, 7, 50, 20, 0.5, false)
	c := newChain(t, KindC, s.data, 3)
	for it := 0; it < 5; it++ {
		require.NoError(t, c.Step())
	}
	assert.Equal(t, []float64{0.95, 0.05}, c.pi)
}

func TestRRD_ProposalAdaptsDuringBurnin(t *testing.T) {
	s := simulate(t, 8, 80, 20, 0.5, true)
	c := newChain(t, KindRR, s.data, 5)
	initial := c.ProposalStep()
	for it := 0; it < 300; it++ {
		require.NoError(t, c.Step())
	}
	adapted := c.ProposalStep()
	assert.NotEqual(t, initial, adapted)

	c.EndBurnin()
	for it := 0; it < 120; it++ {
		require.NoError(t, c.Step())
	}
	assert.Equal(t, adapted, c.ProposalStep(), "step must be frozen after burn-in")
	assert.Greater(t, c.AcceptanceRate(), 0.0)
	assert.Less(t, c.AcceptanceRate(), 1.0)
	testutil.AssertFloat64Equal(t, "var_d = rho var_beta", c.rho*c.varBeta, c.varD, 1e-12)
}

func TestChain_NumericOverflow(t *testing.T) {
	s := simulate(t, 9, 40, 10, 0.5, false)
	d := *s.data
	d.Y = make([]float64, 40)
	for i := range d.Y {
		d.Y[i] = 1e200 * float64(1-2*(i%2))
	}
	priors := Priors{
		DfE: 4, ScaleE: 0.5, DfBeta: 4, ScaleBeta: 0.01,
		VarEStart: 1, VarBetaStart: 0.01, ProposalScale: 0.5,
	}
	c, err := NewChain(KindRR, &d, priors, rand.New(rand.NewPCG(1, 1)))
	require.NoError(t, err)
	err = c.Step()
	require.ErrorIs(t, err, genomic.ErrNumericOverflow)
	assert.Contains(t, err.Error(), "iteration 1")
	assert.Equal(t, genomic.ExitNumeric, genomic.ExitCode(err))
}

func TestEffects_Record(t *testing.T) {
	s := simulate(t, 10, 50, 20, 0.5, false)
	c := newChain(t, KindCpi, s.data, 4)

	e := c.Effects()
	assert.Zero(t, e.Samples)
	assert.Len(t, e.Additive, 20)

	for it := 0; it < 30; it++ {
		require.NoError(t, c.Step())
		c.Record()
	}
	e = c.Effects()
	assert.Equal(t, 30, e.Samples)
	for _, p := range e.PIP {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
	require.Len(t, e.Fixed, 1)
	assert.InDelta(t, stat.Mean(s.data.Y, nil), e.Fixed[0], 0.5)
}

func TestMergeEffects(t *testing.T) {
	a := &Effects{Additive: []float64{1, 2}, PIP: []float64{1, 1}, Fixed: []float64{0}, Samples: 1}
	b := &Effects{Additive: []float64{4, 5}, PIP: []float64{0, 1}, Fixed: []float64{3}, Samples: 2}
	m := MergeEffects([]*Effects{a, b})
	assert.InDeltaSlice(t, []float64{3, 4}, m.Additive, 1e-12)
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1}, m.PIP, 1e-12)
	assert.InDeltaSlice(t, []float64{2}, m.Fixed, 1e-12)
	assert.Equal(t, 3, m.Samples)
	assert.Nil(t, MergeEffects(nil))

	a.Samples, b.Samples = 0, 0
	m = MergeEffects([]*Effects{a, b})
	assert.InDeltaSlice(t, []float64{2.5, 3.5}, m.Additive, 1e-12)
}

// TestBayesRR_RecoversGeneticVariance fits BayesRR to simulated data and
// compares the posterior mean of the realized genetic variance to the truth.
// With N ≫ M the posterior is tight enough for a 10% bound; at N=500,
// M=1000 the same bound is dominated by sampling noise of a single replicate.
func TestBayesRR_RecoversGeneticVariance(t *testing.T) {
	if testing.Short() {
		t.Skip("slow")
	}
	s := simulate(t, 12, 4000, 100, 0.5, false)
	c := newChain(t, KindRR, s.data, 17)
	varGIdx := indexOf(c.Params(), "var_g")
	const burnin, keep = 200, 600
	sum := 0.0
	for it := 0; it < burnin+keep; it++ {
		require.NoError(t, c.Step())
		if it >= burnin {
			sum += c.Sample()[varGIdx]
		}
	}
	want := stat.Variance(s.genetic, nil)
	got := sum / keep
	assert.InDelta(t, want, got, 0.10*want, "posterior mean var_g %v, simulated %v", got, want)
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	panic("no parameter " + name)
}
