// Package testutil provides shared test infrastructure: tiny PLINK filesets
// written into a test's temp directory and float assertion helpers.
package testutil

import (
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic/plink"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// MaxAbsDiff returns max |a[i][j] - b[i][j]| over two equally shaped matrices.
func MaxAbsDiff(a, b mat.Matrix) float64 {
	r, c := a.Dims()
	worst := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			worst = math.Max(worst, math.Abs(a.At(i, j)-b.At(i, j)))
		}
	}
	return worst
}

// SNPs returns m synthetic markers named snp0, snp1, ...
func SNPs(m int) []plink.SNP {
	snps := make([]plink.SNP, m)
	for j := range snps {
		snps[j] = plink.SNP{
			Chromosome: "1",
			ID:         fmt.Sprintf("snp%d", j),
			Position:   int64(1000 * (j + 1)),
			Allele1:    "A",
			Allele2:    "G",
		}
	}
	return snps
}

// Samples returns n synthetic individuals named id0, id1, ... with missing phenotype.
func Samples(n int) []plink.Sample {
	return SamplesWithPrefix("id", n)
}

// SamplesWithPrefix returns n individuals named <prefix>0, <prefix>1, ...
func SamplesWithPrefix(prefix string, n int) []plink.Sample {
	samples := make([]plink.Sample, n)
	for i := range samples {
		id := fmt.Sprintf("%s%d", prefix, i)
		samples[i] = plink.Sample{FID: id, IID: id, Phenotype: math.NaN()}
	}
	return samples
}

// WriteFileset writes an individuals-by-markers genotype table (NaN for
// missing) as a PLINK fileset in t.TempDir() and returns its prefix.
func WriteFileset(t *testing.T, name string, genotypes [][]float64) string {
	t.Helper()
	return WriteFilesetWith(t, name, genotypes, SNPs(len(genotypes[0])), Samples(len(genotypes)))
}

// WriteFilesetWith is WriteFileset with explicit metadata.
func WriteFilesetWith(t *testing.T, name string, genotypes [][]float64, snps []plink.SNP, samples []plink.Sample) string {
	t.Helper()
	n, m := len(genotypes), len(genotypes[0])
	markers := mat.NewDense(m, n, nil)
	for i, row := range genotypes {
		for j, g := range row {
			markers.Set(j, i, g)
		}
	}
	prefix := filepath.Join(t.TempDir(), name)
	if err := plink.WriteBED(prefix, snps, samples, markers); err != nil {
		t.Fatalf("writing fileset %s: %v", prefix, err)
	}
	return prefix
}

// RandomGenotypes draws an n×m genotype table under Hardy–Weinberg with
// allele frequencies uniform in [0.05, 0.5].
func RandomGenotypes(rng *rand.Rand, n, m int) [][]float64 {
	freqs := make([]float64, m)
	for j := range freqs {
		freqs[j] = 0.05 + 0.45*rng.Float64()
	}
	g := make([][]float64, n)
	for i := range g {
		g[i] = make([]float64, m)
		for j, p := range freqs {
			for a := 0; a < 2; a++ {
				if rng.Float64() < p {
					g[i][j]++
				}
			}
		}
	}
	return g
}
