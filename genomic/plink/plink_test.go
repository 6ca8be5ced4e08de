package plink

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genopred/genopred/genomic"
)

func TestParseBIM(t *testing.T) {
	in := "1\trs1\t0\t752566\tG\tA\n1\trs2\t0.5\t800000\tT\tC\n"
	snps, err := parseBIM("x.bim", strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, snps, 2)
	assert.Equal(t, "rs2", snps[1].ID)
	assert.Equal(t, int64(800000), snps[1].Position)
	assert.Equal(t, 0.5, snps[1].CM)
	assert.Equal(t, "T", snps[1].Allele1)
}

func TestParseBIM_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
		line string
	}{
		{"short row", "1\trs1\t0\t752566\tG\n", "x.bim:1"},
		{"bad position", "1\trs1\t0\t752566\tG\tA\n1\trs2\t0\tabc\tG\tA\n", "x.bim:2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseBIM("x.bim", strings.NewReader(tt.in))
			require.Error(t, err)
			assert.True(t, errors.Is(err, genomic.ErrMalformedFile))
			assert.Contains(t, err.Error(), tt.line)
		})
	}
}

func TestParseFAM(t *testing.T) {
	in := "f1 i1 0 0 1 -9\nf2 i2 0 0 2 3.5\n"
	samples, err := parseFAM("x.fam", strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.True(t, math.IsNaN(samples[0].Phenotype))
	assert.Equal(t, 3.5, samples[1].Phenotype)
	assert.Equal(t, []string{"i1", "i2"}, SampleIDs(samples))

	_, err = parseFAM("x.fam", strings.NewReader("f1 i1 0 0 1\n"))
	assert.ErrorIs(t, err, genomic.ErrMalformedFile)
}

func TestCheckSNPs(t *testing.T) {
	a := []SNP{{ID: "rs1"}, {ID: "rs2"}, {ID: "rs3"}}
	assert.NoError(t, CheckSNPs(a, a))

	b := []SNP{{ID: "rs1"}, {ID: "rs3"}, {ID: "rs2"}}
	err := CheckSNPs(a, b)
	require.ErrorIs(t, err, genomic.ErrSnpMismatch)
	assert.Contains(t, err.Error(), "snp 1")

	assert.ErrorIs(t, CheckSNPs(a, a[:2]), genomic.ErrSnpMismatch)
}
