package geno

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/internal/testutil"
	"github.com/genopred/genopred/genomic/plink"
)

func TestChunkStats_Additive(t *testing.T) {
	x := mat.NewDense(3, 4, []float64{
		0, 1, 2, nan,
		2, 2, 2, 2,
		nan, nan, nan, nan,
	})
	s, err := ChunkStats(x, 5, genomic.Additive, genomic.ImputeMean)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, s.Freq[0], 1e-12)
	assert.InDelta(t, math.Sqrt(0.5), s.SD[0], 1e-12)
	assert.Equal(t, 1.0, s.Fill[0])
	assert.Equal(t, 1.0, s.Mean[0])
	assert.Equal(t, []int{1, 0, 4}, s.Missing)
	assert.Equal(t, []int{6, 7}, s.Mono)
	assert.Equal(t, 0.5, s.MAF(0))
}

func TestChunkStats_ConstantHeterozygousIsMonomorphic(t *testing.T) {
	x := mat.NewDense(2, 4, []float64{
		1, 1, nan, 1,
		0, 1, 1, 2,
	})
	s, err := ChunkStats(x, 0, genomic.Additive, genomic.ImputeMean)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, s.Mono)
	assert.Equal(t, 0.0, s.SD[0])
	assert.InDelta(t, 0.5, s.Freq[0], 1e-12)

	s.ApplyEncoded(x, 0, true)
	assert.Equal(t, []float64{0, 0, 0, 0}, x.RawRowView(0))
	assert.Equal(t, 1.0, s.ScaleFactor(genomic.ScaleMarkers))
}

func TestChunkStats_Dominant(t *testing.T) {
	x := mat.NewDense(1, 4, []float64{0, 1, 1, 2})
	s, err := ChunkStats(x, 0, genomic.Dominant, genomic.ImputeMean)
	require.NoError(t, err)
	assert.Equal(t, 0.5, s.Freq[0])
	assert.Equal(t, 0.5, s.SD[0])
	assert.Equal(t, []float64{0, 1, 1, 0}, x.RawRowView(0))
}

func TestStats_ApplyMatchesChunkTransform(t *testing.T) {
	raw := []float64{0, 1, 2, nan, 1, 0}
	a := mat.NewDense(1, 6, append([]float64(nil), raw...))
	s, err := ChunkStats(a, 0, genomic.Additive, genomic.ImputeMean)
	require.NoError(t, err)
	s.ApplyEncoded(a, 0, true)

	b := mat.NewDense(1, 6, append([]float64(nil), raw...))
	s.Apply(b, 0, true)
	assert.InDeltaSlice(t, a.RawRowView(0), b.RawRowView(0), 1e-15)
}

func TestStats_ScaleFactor(t *testing.T) {
	s := &Stats{SD: []float64{math.Sqrt(0.5), 0, math.Sqrt(0.32)}}
	assert.InDelta(t, 0.82, s.ScaleFactor(genomic.ScaleVanRaden), 1e-12)
	assert.Equal(t, 2.0, s.ScaleFactor(genomic.ScaleMarkers))
}

func TestSaveLoadStats(t *testing.T) {
	prefix := testutil.WriteFileset(t, "cohort", [][]float64{
		{0, 2, 1},
		{1, 2, nan},
		{2, 2, 0},
	})
	r, err := plink.Open(prefix, 2)
	require.NoError(t, err)
	defer r.Close()

	s, err := ComputeStats(r, genomic.Additive, genomic.ImputeMean)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Cursor())
	assert.Equal(t, []int{1}, s.Mono)

	path := filepath.Join(t.TempDir(), "cohort.stats.npy")
	require.NoError(t, SaveStats(path, s))
	got, err := LoadStats(path, 3)
	require.NoError(t, err)
	assert.Equal(t, s.Mean, got.Mean)
	assert.Equal(t, s.SD, got.SD)
	assert.Equal(t, s.Missing, got.Missing)
	assert.Equal(t, s.Mono, got.Mono)
	assert.Equal(t, genomic.Additive, got.Encoding)

	_, err = LoadStats(path, 4)
	assert.ErrorIs(t, err, genomic.ErrSnpMismatch)
}

func TestLoadMarkers_ProjectSelf(t *testing.T) {
	genotypes := [][]float64{
		{0, 2, 1, 1},
		{1, 1, nan, 0},
		{2, 0, 0, 1},
		{1, 1, 2, 2},
	}
	prefix := testutil.WriteFileset(t, "cohort", genotypes)
	r, err := plink.Open(prefix, 3)
	require.NoError(t, err)
	defer r.Close()

	cfg := genomic.DefaultGenotypeConfig()
	train, err := LoadMarkers(r, cfg)
	require.NoError(t, err)
	m, n := train.Dims()
	assert.Equal(t, 4, m)
	assert.Equal(t, 4, n)

	ss := 0.0
	for _, v := range train.Row(0) {
		ss += v * v
	}
	assert.InDelta(t, ss, train.SumSq[0], 1e-12)

	again, err := ProjectMarkers(r, train)
	require.NoError(t, err)
	assert.Less(t, testutil.MaxAbsDiff(train.X, again.X), 1e-12)
}

func TestProjectMarkers_SnpMismatch(t *testing.T) {
	g := [][]float64{{0, 1}, {1, 2}, {2, 0}}
	r, err := plink.Open(testutil.WriteFileset(t, "train", g), 2)
	require.NoError(t, err)
	defer r.Close()
	train, err := LoadMarkers(r, genomic.DefaultGenotypeConfig())
	require.NoError(t, err)

	snps := testutil.SNPs(2)
	snps[0].ID = "other"
	other, err := plink.Open(testutil.WriteFilesetWith(t, "test", g, snps, testutil.Samples(3)), 2)
	require.NoError(t, err)
	defer other.Close()
	_, err = ProjectMarkers(other, train)
	assert.ErrorIs(t, err, genomic.ErrSnpMismatch)
}
