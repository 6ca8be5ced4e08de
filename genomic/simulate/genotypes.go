// Package simulate writes synthetic genotype panels and phenotypes for
// testing and benchmarking the estimators.
//
// Genotypes are drawn per marker from Binomial(2, p) with p uniform on
// [MinMAF, MaxMAF]. Phenotypes add standardized causal genotypes times their
// effects and a normal residual sized so that var(g)/var(y) = h².
package simulate

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/genopred/genopred/genomic/plink"
)

// GenotypeOptions configures a simulated panel.
type GenotypeOptions struct {
	Individuals int
	Markers     int
	Chromosomes int     // markers are split evenly across chromosomes 1..Chromosomes
	MinMAF      float64 // lower bound of the allele frequency draw
	MaxMAF      float64 // upper bound, at most 0.5
	MissingRate float64 // probability that a call is set missing
	IDPrefix    string  // individuals are named <IDPrefix>1, <IDPrefix>2, ...
}

// DefaultGenotypeOptions returns a 1000 × 10000 single-chromosome panel.
func DefaultGenotypeOptions() GenotypeOptions {
	return GenotypeOptions{
		Individuals: 1000,
		Markers:     10000,
		Chromosomes: 1,
		MinMAF:      0.05,
		MaxMAF:      0.5,
		IDPrefix:    "ind",
	}
}

// Validate checks counts and frequency bounds.
func (o GenotypeOptions) Validate() error {
	if o.Individuals < 1 || o.Markers < 1 {
		return fmt.Errorf("simulate: need at least one individual and one marker, got %d and %d", o.Individuals, o.Markers)
	}
	if o.Chromosomes < 1 || o.Chromosomes > o.Markers {
		return fmt.Errorf("simulate: chromosomes must be in [1, %d], got %d", o.Markers, o.Chromosomes)
	}
	if o.MinMAF < 0 || o.MaxMAF > 0.5 || o.MinMAF > o.MaxMAF {
		return fmt.Errorf("simulate: need 0 ≤ min maf ≤ max maf ≤ 0.5, got [%g, %g]", o.MinMAF, o.MaxMAF)
	}
	if o.MissingRate < 0 || o.MissingRate >= 1 {
		return fmt.Errorf("simulate: missing rate must be in [0, 1), got %g", o.MissingRate)
	}
	return nil
}

// Panel describes a written genotype panel.
type Panel struct {
	Prefix  string
	Samples []plink.Sample
	SNPs    []plink.SNP
	Freq    []float64 // simulated allele frequency per marker
}

// Genotypes draws a panel and streams it to <prefix>.bed/.bim/.fam.
func Genotypes(prefix string, opts GenotypeOptions, rng *rand.Rand) (*Panel, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	samples := make([]plink.Sample, opts.Individuals)
	for i := range samples {
		id := fmt.Sprintf("%s%d", opts.IDPrefix, i+1)
		samples[i] = plink.Sample{FID: id, IID: id, Phenotype: math.NaN()}
	}
	w, err := plink.NewWriter(prefix, samples)
	if err != nil {
		return nil, err
	}
	panel := &Panel{Prefix: prefix, Samples: samples, SNPs: make([]plink.SNP, opts.Markers), Freq: make([]float64, opts.Markers)}
	perChrom := (opts.Markers + opts.Chromosomes - 1) / opts.Chromosomes
	row := make([]float64, opts.Individuals)
	for j := 0; j < opts.Markers; j++ {
		p := opts.MinMAF + (opts.MaxMAF-opts.MinMAF)*rng.Float64()
		draw := distuv.Binomial{N: 2, P: p, Src: rng}
		for i := range row {
			row[i] = draw.Rand()
			if opts.MissingRate > 0 && rng.Float64() < opts.MissingRate {
				row[i] = math.NaN()
			}
		}
		chrom := j/perChrom + 1
		snp := plink.SNP{
			Chromosome: fmt.Sprint(chrom),
			ID:         fmt.Sprintf("snp%d", j+1),
			Position:   int64(1000 * (j%perChrom + 1)),
			Allele1:    "A",
			Allele2:    "G",
		}
		if err := w.WriteMarker(snp, row); err != nil {
			w.Close()
			return nil, err
		}
		panel.SNPs[j] = snp
		panel.Freq[j] = p
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	logrus.Infof("simulated %d individuals × %d markers into %s", opts.Individuals, opts.Markers, prefix)
	return panel, nil
}
