package plink

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
)

func testSNPs(m int) []SNP {
	snps := make([]SNP, m)
	for j := range snps {
		snps[j] = SNP{Chromosome: "1", ID: fmt.Sprintf("snp%d", j), Position: int64(j + 1), Allele1: "A", Allele2: "C"}
	}
	return snps
}

func testSamples(n int) []Sample {
	samples := make([]Sample, n)
	for i := range samples {
		id := fmt.Sprintf("id%d", i)
		samples[i] = Sample{FID: id, IID: id, Phenotype: math.NaN()}
	}
	return samples
}

// markersFixture is 5 markers × 6 individuals, marker-major, with missing calls.
func markersFixture() *mat.Dense {
	nan := math.NaN()
	return mat.NewDense(5, 6, []float64{
		0, 1, 2, 0, 1, 2,
		2, 2, 2, 2, 2, 2,
		nan, 1, 1, 0, 0, 2,
		1, 1, nan, nan, 1, 0,
		0, 0, 0, 0, 0, 1,
	})
}

func writeFixture(t *testing.T) string {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "fixture")
	require.NoError(t, WriteBED(prefix, testSNPs(5), testSamples(6), markersFixture()))
	return prefix
}

func sameGenotype(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

func TestReader_ChunksCoverAllMarkersInOrder(t *testing.T) {
	prefix := writeFixture(t)
	r, err := Open(prefix, 2)
	require.NoError(t, err)
	defer r.Close()

	want := markersFixture()
	var starts []int
	for r.HasNext() {
		assert.Equal(t, r.NumSNPs(), r.Cursor()+r.Remaining())
		c, err := r.ReadChunk()
		require.NoError(t, err)
		starts = append(starts, c.Start)
		for j := 0; j < c.Cols(); j++ {
			for i, g := range c.Column(j) {
				if !sameGenotype(want.At(c.Start+j, i), g) {
					t.Errorf("snp %d individual %d: got %v, want %v", c.Start+j, i, g, want.At(c.Start+j, i))
				}
			}
		}
		n, cols := c.Matrix().Dims()
		assert.Equal(t, 6, n)
		assert.Equal(t, c.Cols(), cols)
	}
	assert.Equal(t, []int{0, 2, 4}, starts)
	assert.Equal(t, 0, r.Remaining())

	r.Reset()
	assert.True(t, r.HasNext())
	c, err := r.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, 0, c.Start)
}

func TestReader_ReadRangeKeepsCursor(t *testing.T) {
	r, err := Open(writeFixture(t), 10)
	require.NoError(t, err)
	defer r.Close()

	c, err := r.ReadRange(3, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Cursor())
	assert.Equal(t, 2, c.Cols())
	assert.Equal(t, 1.0, c.Column(1)[5])

	_, err = r.ReadRange(4, 2)
	assert.Error(t, err)
}

func TestReader_ExcludeCompactsRows(t *testing.T) {
	r, err := Open(writeFixture(t), 5, WithExclude([]string{"id0", "id3"}))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"id1", "id2", "id4", "id5"}, SampleIDs(r.Samples()))
	c, err := r.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 1, 2}, c.Column(0))
}

func TestReader_KeepAndSwap(t *testing.T) {
	r, err := Open(writeFixture(t), 5, WithKeep([]string{"id5", "id0"}), WithAlleleSwap())
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"id0", "id5"}, SampleIDs(r.Samples()))
	c, err := r.ReadChunk()
	require.NoError(t, err)
	// id0=0, id5=2 swapped to 2, 0
	assert.Equal(t, []float64{2, 0}, c.Column(0))
}

func TestOpen_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 0x00; return b }},
		{"individual major", func(b []byte) []byte { b[2] = 0x00; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-1] }},
		{"trailing bytes", func(b []byte) []byte { return append(b, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix := writeFixture(t)
			raw, err := os.ReadFile(prefix + ".bed")
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(prefix+".bed", tt.mutate(raw), 0644))

			_, err = Open(prefix, 2)
			require.ErrorIs(t, err, genomic.ErrMalformedFile)
			assert.Contains(t, err.Error(), prefix+".bed")
		})
	}
}

func TestOpen_RejectsEmptySelection(t *testing.T) {
	_, err := Open(writeFixture(t), 2, WithKeep([]string{"nobody"}))
	assert.ErrorIs(t, err, genomic.ErrMalformedFile)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"), 2)
	assert.Equal(t, genomic.ExitFile, genomic.ExitCode(err))
}

func TestWriteBED_RoundTripIsByteIdentical(t *testing.T) {
	prefix := writeFixture(t)
	r, err := Open(prefix, 3)
	require.NoError(t, err)
	defer r.Close()

	out := filepath.Join(t.TempDir(), "copy")
	w, err := NewWriter(out, r.Samples())
	require.NoError(t, err)
	for r.HasNext() {
		c, err := r.ReadChunk()
		require.NoError(t, err)
		for j := 0; j < c.Cols(); j++ {
			require.NoError(t, w.WriteMarker(r.SNPs()[c.Start+j], c.Column(j)))
		}
	}
	require.NoError(t, w.Close())

	for _, ext := range []string{".bed", ".bim", ".fam"} {
		a, err := os.ReadFile(prefix + ext)
		require.NoError(t, err)
		b, err := os.ReadFile(out + ext)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(a, b), "%s differs after round trip", ext)
	}
}

func TestWriter_RejectsWrongWidth(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "w"), testSamples(3))
	require.NoError(t, err)
	defer w.Close()
	assert.Error(t, w.WriteMarker(testSNPs(1)[0], []float64{0, 1}))
}
