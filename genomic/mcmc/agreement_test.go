package mcmc

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/bayes"
	"github.com/genopred/genopred/genomic/geno"
	"github.com/genopred/genopred/genomic/internal/testutil"
	"github.com/genopred/genopred/genomic/plink"
)

// TestTwoChains_AgreeOnVariances runs two BayesRR chains from different
// streams and checks that posterior means of the variances agree within
// three posterior SDs.
func TestTwoChains_AgreeOnVariances(t *testing.T) {
	if testing.Short() {
		t.Skip("slow")
	}
	const n, m = 1000, 50
	rng := rand.New(rand.NewPCG(31, 7))
	prefix := testutil.WriteFileset(t, "train", testutil.RandomGenotypes(rng, n, m))
	r, err := plink.Open(prefix, 32)
	require.NoError(t, err)
	defer r.Close()
	add, err := geno.LoadMarkers(r, genomic.DefaultGenotypeConfig())
	require.NoError(t, err)

	y := make([]float64, n)
	for j := 0; j < m; j++ {
		b := math.Sqrt(0.5/m) * rng.NormFloat64()
		for i, x := range add.Row(j) {
			y[i] += b * x
		}
	}
	for i := range y {
		y[i] += math.Sqrt(0.5) * rng.NormFloat64()
	}
	data := &bayes.Data{Y: y, Additive: add}

	cfg := genomic.DefaultMCMCConfig()
	cfg.Iterations, cfg.Burnin = 5000, 500
	priors, err := bayes.NewPriors(bayes.KindRR, data, cfg)
	require.NoError(t, err)
	factory := func(id int, rng *rand.Rand) (Chain, error) {
		return bayes.NewChain(bayes.KindRR, data, priors, rng)
	}
	res, err := NewRunner(ConfigFrom(cfg, nil), genomic.NewSeedKey(cfg.Seed)).Run(context.Background(), factory)
	require.NoError(t, err)

	for _, name := range []string{"var_e", "var_beta", "var_g"} {
		p := -1
		for i, pn := range res.Params {
			if pn == name {
				p = i
			}
		}
		require.GreaterOrEqual(t, p, 0, name)
		a, b := res.Stores[0].Column(p), res.Stores[1].Column(p)
		require.Len(t, a, 5000)
		ma, mb := mean(a), mean(b)
		sd := res.Summary[p].SD
		assert.LessOrEqual(t, math.Abs(ma-mb), 3*sd, "%s: chain means %v and %v, posterior sd %v", name, ma, mb, sd)
		assert.Less(t, res.Summary[p].RHat, 1.1, name)
	}

	merged := bayes.MergeEffects([]*bayes.Effects{
		res.Chains[0].(*bayes.Chain).Effects(),
		res.Chains[1].(*bayes.Chain).Effects(),
	})
	assert.Equal(t, 10000, merged.Samples)
	assert.Len(t, merged.Additive, m)
}

func mean(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}
