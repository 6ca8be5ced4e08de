package bayes

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/geno"
)

// Data is the training set of one model. Additive is required; Dominant
// enables the dominance block. A nil Fixed design means an intercept only.
// Random effects must have identity kernels.
type Data struct {
	Y        []float64
	Fixed    *mat.Dense
	Additive *geno.Markers
	Dominant *geno.Markers
	Random   []*genomic.RandomEffect
}

// N returns the number of individuals.
func (d *Data) N() int { return len(d.Y) }

// Validate checks that every term covers the same individuals.
func (d *Data) Validate() error {
	n := len(d.Y)
	if n < 2 {
		return fmt.Errorf("bayes: fewer than 2 individuals (%d): %w", n, genomic.ErrMalformedFile)
	}
	if d.Additive == nil {
		return fmt.Errorf("bayes: no additive markers")
	}
	if _, na := d.Additive.Dims(); na != n {
		return fmt.Errorf("bayes: additive markers cover %d individuals, phenotype has %d: %w", na, n, genomic.ErrMalformedFile)
	}
	if d.Dominant != nil {
		if _, nd := d.Dominant.Dims(); nd != n {
			return fmt.Errorf("bayes: dominance markers cover %d individuals, phenotype has %d: %w", nd, n, genomic.ErrMalformedFile)
		}
	}
	if d.Fixed != nil {
		if r, _ := d.Fixed.Dims(); r != n {
			return fmt.Errorf("bayes: fixed design has %d rows, want %d", r, n)
		}
	}
	for _, re := range d.Random {
		if len(re.Index) != n {
			return fmt.Errorf("bayes: random effect %q has %d rows, want %d", re.Name, len(re.Index), n)
		}
		if re.Kernel != nil {
			return fmt.Errorf("bayes: random effect %q: only identity kernels are supported", re.Name)
		}
	}
	return nil
}

// fixedColumns returns the fixed design as column slices.
func (d *Data) fixedColumns() [][]float64 {
	n := len(d.Y)
	if d.Fixed == nil {
		one := make([]float64, n)
		for i := range one {
			one[i] = 1
		}
		return [][]float64{one}
	}
	_, k := d.Fixed.Dims()
	cols := make([][]float64, k)
	for c := range cols {
		cols[c] = mat.Col(nil, c, d.Fixed)
	}
	return cols
}
