package simulate

import (
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/geno"
	"github.com/genopred/genopred/genomic/pheno"
	"github.com/genopred/genopred/genomic/plink"
)

func simulatePanel(t *testing.T, opts GenotypeOptions, seed int64) (*Panel, *plink.Reader) {
	t.Helper()
	rng := genomic.NewPartitionedRNG(genomic.NewSeedKey(seed)).ForSubsystem(genomic.SubsystemGenotypes)
	prefix := filepath.Join(t.TempDir(), "panel")
	panel, err := Genotypes(prefix, opts, rng)
	require.NoError(t, err)
	r, err := plink.Open(prefix, 64)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return panel, r
}

func TestGenotypes_FrequenciesAndLayout(t *testing.T) {
	opts := GenotypeOptions{Individuals: 2000, Markers: 40, Chromosomes: 4, MinMAF: 0.1, MaxMAF: 0.4, IDPrefix: "s"}
	panel, r := simulatePanel(t, opts, 5)

	assert.Equal(t, 2000, r.NumSamples())
	assert.Equal(t, 40, r.NumSNPs())
	assert.Equal(t, "s1", r.Samples()[0].IID)
	assert.Equal(t, "1", r.SNPs()[0].Chromosome)
	assert.Equal(t, "4", r.SNPs()[39].Chromosome)

	st, err := geno.ComputeStats(r, genomic.Additive, genomic.ImputeMean)
	require.NoError(t, err)
	for j, p := range panel.Freq {
		assert.GreaterOrEqual(t, p, 0.1)
		assert.LessOrEqual(t, p, 0.4)
		assert.InDelta(t, p, st.Freq[j], 0.04, "marker %d", j)
		assert.Zero(t, st.Missing[j])
	}
}

func TestGenotypes_SameSeedSamePanel(t *testing.T) {
	opts := GenotypeOptions{Individuals: 30, Markers: 20, Chromosomes: 1, MinMAF: 0.05, MaxMAF: 0.5, MissingRate: 0.1, IDPrefix: "i"}
	_, a := simulatePanel(t, opts, 77)
	_, b := simulatePanel(t, opts, 77)
	ca, err := a.ReadRange(0, 20)
	require.NoError(t, err)
	cb, err := b.ReadRange(0, 20)
	require.NoError(t, err)
	for j := 0; j < 20; j++ {
		for i, v := range ca.Column(j) {
			w := cb.Column(j)[i]
			if math.IsNaN(v) {
				assert.True(t, math.IsNaN(w))
				continue
			}
			assert.Equal(t, v, w)
		}
	}
}

func TestGenotypeOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultGenotypeOptions().Validate())
	bad := []GenotypeOptions{
		{Individuals: 0, Markers: 1, Chromosomes: 1, MaxMAF: 0.5},
		{Individuals: 1, Markers: 1, Chromosomes: 2, MaxMAF: 0.5},
		{Individuals: 1, Markers: 1, Chromosomes: 1, MinMAF: 0.3, MaxMAF: 0.2},
		{Individuals: 1, Markers: 1, Chromosomes: 1, MaxMAF: 0.6},
		{Individuals: 1, Markers: 1, Chromosomes: 1, MaxMAF: 0.5, MissingRate: 1},
	}
	for i, o := range bad {
		assert.Error(t, o.Validate(), "case %d", i)
	}
}

func TestPhenotypes_HitsTargetHeritability(t *testing.T) {
	opts := GenotypeOptions{Individuals: 3000, Markers: 50, Chromosomes: 1, MinMAF: 0.1, MaxMAF: 0.5, IDPrefix: "s"}
	_, r := simulatePanel(t, opts, 9)
	causal := []pheno.Causal{
		{SNP: "snp3", Effect: 0.5},
		{SNP: "snp10", Effect: math.NaN()},
		{SNP: "snp42", Effect: -0.25},
	}
	rng := rand.New(rand.NewPCG(3, 3))
	res, err := Phenotypes(r, causal, 0.4, rng)
	require.NoError(t, err)

	require.Len(t, res.Phenotypes, 3000)
	assert.Equal(t, 0.5, res.Effects[0].Effect)
	assert.Equal(t, 2, res.Effects[0].Index)
	assert.False(t, math.IsNaN(res.Effects[1].Effect))
	assert.InDelta(t, 0.4, res.Heritability, 0.05)
	assertClose(t, res.VarResidual, res.VarGenetic*1.5)

	dir := t.TempDir()
	path := filepath.Join(dir, "y.tsv")
	require.NoError(t, WritePhenotypes(path, res.Phenotypes))
	tbl, err := pheno.ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"pheno"}, tbl.Columns)
	y, err := tbl.Floats("pheno")
	require.NoError(t, err)
	assert.InDelta(t, res.Phenotypes[7].Value, y["s8"], 1e-9)

	require.NoError(t, WriteEffects(filepath.Join(dir, "effects.tsv"), res.Effects))
}

func assertClose(t *testing.T, got, want float64) {
	t.Helper()
	assert.InDelta(t, want, got, 1e-9*math.Max(1, math.Abs(want)))
}

func TestPhenotypes_Errors(t *testing.T) {
	opts := GenotypeOptions{Individuals: 20, Markers: 5, Chromosomes: 1, MinMAF: 0.2, MaxMAF: 0.5, IDPrefix: "s"}
	_, r := simulatePanel(t, opts, 1)
	rng := rand.New(rand.NewPCG(1, 1))

	_, err := Phenotypes(r, []pheno.Causal{{SNP: "nope", Effect: 1}}, 0.5, rng)
	assert.ErrorIs(t, err, genomic.ErrMalformedFile)
	_, err = Phenotypes(r, nil, 0.5, rng)
	assert.Error(t, err)
	_, err = Phenotypes(r, []pheno.Causal{{SNP: "snp1", Effect: 1}}, 0, rng)
	assert.Error(t, err)
	_, err = Phenotypes(r, []pheno.Causal{{SNP: "snp1", Effect: 0}}, 0.5, rng)
	assert.Error(t, err)
}
