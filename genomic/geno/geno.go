// Package geno holds the per-marker genotype transforms: recoding, missing
// value imputation, centering and scaling.
//
// Every function here works on marker-major matrices (one row per marker,
// one column per individual), the layout produced by plink.Chunk. Work is
// split across markers; the result never depends on the split.
package geno

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
)

// AllMissingError reports a marker without any observed genotype.
type AllMissingError struct {
	Marker int
}

func (e *AllMissingError) Error() string {
	return fmt.Sprintf("snp %d: %v", e.Marker, genomic.ErrAllMissing)
}

func (e *AllMissingError) Is(target error) bool { return target == genomic.ErrAllMissing }

// Offset shifts the marker index of an AllMissingError by start, turning a
// chunk-local index into a file index. Other errors are returned unchanged.
func Offset(err error, start int) error {
	var am *AllMissingError
	if errors.As(err, &am) {
		return &AllMissingError{Marker: am.Marker + start}
	}
	return err
}

// forEachMarker runs fn over row blocks of markers in parallel.
func forEachMarker(markers *mat.Dense, fn func(j int, row []float64) error) error {
	m, _ := markers.Dims()
	workers := min(runtime.GOMAXPROCS(0), m)
	if workers <= 1 {
		for j := 0; j < m; j++ {
			if err := fn(j, markers.RawRowView(j)); err != nil {
				return err
			}
		}
		return nil
	}
	block := (m + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < m; lo += block {
		hi := min(lo+block, m)
		g.Go(func() error {
			for j := lo; j < hi; j++ {
				if err := fn(j, markers.RawRowView(j)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Encode recodes allele counts in place. Dominant maps heterozygotes to 1 and
// homozygotes to 0. NaN stays NaN.
func Encode(markers *mat.Dense, enc genomic.Encoding) {
	if enc == genomic.Additive {
		return
	}
	forEachMarker(markers, func(_ int, row []float64) error {
		encodeRow(row, enc)
		return nil
	})
}

func encodeRow(row []float64, enc genomic.Encoding) {
	if enc != genomic.Dominant {
		return
	}
	for i, g := range row {
		switch {
		case math.IsNaN(g):
		case g == 1:
			row[i] = 1
		default:
			row[i] = 0
		}
	}
}

// MeanImpute replaces NaN entries with the mean of the observed entries of the
// same marker and returns the fill values.
func MeanImpute(markers *mat.Dense) ([]float64, error) {
	return impute(markers, func(observed []float64) float64 {
		s := 0.0
		for _, v := range observed {
			s += v
		}
		return s / float64(len(observed))
	})
}

// MedianImpute replaces NaN entries with the median of the observed entries.
func MedianImpute(markers *mat.Dense) ([]float64, error) {
	return impute(markers, func(observed []float64) float64 {
		med, _ := stats.Median(observed)
		return med
	})
}

// Impute dispatches on the configured imputation.
func Impute(markers *mat.Dense, how genomic.Imputation) ([]float64, error) {
	switch how {
	case genomic.ImputeMedian:
		return MedianImpute(markers)
	case genomic.ImputeMean, "":
		return MeanImpute(markers)
	default:
		return nil, fmt.Errorf("unknown imputation %q", how)
	}
}

func impute(markers *mat.Dense, fill func([]float64) float64) ([]float64, error) {
	m, n := markers.Dims()
	fills := make([]float64, m)
	err := forEachMarker(markers, func(j int, row []float64) error {
		observed := make([]float64, 0, n)
		for _, v := range row {
			if !math.IsNaN(v) {
				observed = append(observed, v)
			}
		}
		if len(observed) == 0 {
			return &AllMissingError{Marker: j}
		}
		fills[j] = fill(observed)
		if len(observed) == n {
			return nil
		}
		for i, v := range row {
			if math.IsNaN(v) {
				row[i] = fills[j]
			}
		}
		return nil
	})
	return fills, err
}

// Centralize subtracts each marker's mean in place and returns the means.
func Centralize(markers *mat.Dense) []float64 {
	m, n := markers.Dims()
	means := make([]float64, m)
	forEachMarker(markers, func(j int, row []float64) error {
		s := 0.0
		for _, v := range row {
			s += v
		}
		means[j] = s / float64(n)
		for i := range row {
			row[i] -= means[j]
		}
		return nil
	})
	return means
}

// Standardize centers each marker and divides by its population standard
// deviation. Constant markers are set to zero and reported with SD 0.
func Standardize(markers *mat.Dense) (means, sds []float64) {
	means = Centralize(markers)
	m, n := markers.Dims()
	sds = make([]float64, m)
	forEachMarker(markers, func(j int, row []float64) error {
		ss := 0.0
		for _, v := range row {
			ss += v * v
		}
		sd := math.Sqrt(ss / float64(n))
		if sd < monoTol {
			clear(row)
			return nil
		}
		sds[j] = sd
		for i := range row {
			row[i] /= sd
		}
		return nil
	})
	return means, sds
}

// monoTol is the SD below which a marker is treated as monomorphic.
const monoTol = 1e-12
