package grm

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/geno"
	"github.com/genopred/genopred/genomic/plink"
)

// CrossResult is an N_test × N_train relationship matrix.
type CrossResult struct {
	K            *mat.Dense
	TrainSamples []plink.Sample
	TestSamples  []plink.Sample
	Stats        *geno.Stats // training-cohort statistics used on both sides
	Scale        float64
}

// BuildCross streams the training and test filesets in lockstep. Both sides
// are expressed in the training cohort's frequency space: test genotypes are
// imputed, centered and scaled with the training statistics. SNP lists are
// checked before anything is read; a mismatch is fatal. With opts.Stats set,
// both sides use those statistics and their scale factor.
func BuildCross(ctx context.Context, train, test *plink.Reader, opts Options) (*CrossResult, error) {
	if err := plink.CheckSNPs(train.SNPs(), test.SNPs()); err != nil {
		return nil, fmt.Errorf("cross grm %s vs %s: %w", train.Prefix(), test.Prefix(), err)
	}
	fixed := opts.Stats
	if fixed != nil {
		if fixed.NumMarkers() != train.NumSNPs() {
			return nil, fmt.Errorf("cross grm: statistics for %d markers, %s has %d: %w",
				fixed.NumMarkers(), train.Prefix(), train.NumSNPs(), genomic.ErrSnpMismatch)
		}
		if fixed.Encoding != opts.Encoding {
			return nil, fmt.Errorf("cross grm: %s statistics for a %s grm: %w",
				fixed.Encoding, opts.Encoding, genomic.ErrMalformedFile)
		}
	}
	train.Reset()
	nTrain, nTest := train.NumSamples(), test.NumSamples()
	k := mat.NewDense(nTest, nTrain, nil)
	stats := &geno.Stats{Encoding: opts.Encoding}
	bar := newBar(opts.Progress, train.NumSNPs(), "cross grm")

	for train.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cross grm at snp %d: %w", train.Cursor(), genomic.ErrCancelled)
		}
		tc, err := train.ReadChunk()
		if err != nil {
			return nil, err
		}
		xc, err := test.ReadRange(tc.Start, tc.Cols())
		if err != nil {
			return nil, err
		}
		if fixed != nil {
			fixed.Apply(tc.Markers, tc.Start, opts.Standardize)
			fixed.Apply(xc.Markers, tc.Start, opts.Standardize)
		} else {
			cs, err := geno.ChunkStats(tc.Markers, tc.Start, opts.Encoding, opts.Impute)
			if err != nil {
				return nil, fmt.Errorf("%s.bed: %w", train.Prefix(), err)
			}
			stats.Append(cs)
			cs.ApplyEncoded(tc.Markers, 0, opts.Standardize)
			cs.Apply(xc.Markers, 0, opts.Standardize)
		}

		// K += X_testᵀ X_train over this chunk's markers
		blas64.Gemm(blas.Trans, blas.NoTrans, 1,
			xc.Markers.RawMatrix(), tc.Markers.RawMatrix(), 1, k.RawMatrix())
		if bar != nil {
			bar.Set64(int64(train.Cursor()))
		}
	}
	if bar != nil {
		bar.Finish()
	}

	if fixed != nil {
		stats = fixed
	}
	s := stats.ScaleFactor(opts.Scale.Resolve(opts.Standardize))
	if s <= 0 {
		return nil, fmt.Errorf("%s.bed: no polymorphic markers: %w", train.Prefix(), genomic.ErrAllMissing)
	}
	k.Scale(1/s, k)
	logrus.Infof("cross grm: %d test × %d training individuals over %d markers", nTest, nTrain, stats.NumMarkers())
	return &CrossResult{
		K:            k,
		TrainSamples: train.Samples(),
		TestSamples:  test.Samples(),
		Stats:        stats,
		Scale:        s,
	}, nil
}
