// Package grm builds genomic relationship matrices from a streamed PLINK
// fileset without materializing the genotype matrix.
//
// Each chunk is encoded, imputed, centered (and optionally standardized)
// and folded into G with a symmetric rank-k update. G = XXᵀ / s, where the
// scale s follows genomic.Scale.
package grm

import (
	"context"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/geno"
	"github.com/genopred/genopred/genomic/plink"
)

// Options controls how genotypes are transformed before accumulation.
type Options struct {
	Encoding    genomic.Encoding
	Standardize bool
	Scale       genomic.Scale
	Impute      genomic.Imputation
	// Stats, when set, fixes the per-marker transform of BuildCross instead
	// of estimating it from the training chunks. Use the statistics the
	// training GRM was built with.
	Stats *geno.Stats
	// Progress, when set, receives a progress bar over markers.
	Progress io.Writer
}

// OptionsFrom converts the shared genotype configuration.
func OptionsFrom(cfg genomic.GenotypeConfig) Options {
	return Options{Encoding: cfg.Encoding, Standardize: cfg.Standardize, Scale: cfg.Scale, Impute: cfg.Impute}
}

// Result is a GRM with the sample order and statistics it was built with.
type Result struct {
	G          *mat.SymDense
	Samples    []plink.Sample
	SNPs       []plink.SNP
	Stats      *geno.Stats
	Scale      float64
	NumMarkers int // polymorphic markers that contributed
}

// Mono returns the indices of markers that contributed nothing.
func (r *Result) Mono() []int { return r.Stats.Mono }

func newBar(w io.Writer, total int, desc string) *progressbar.ProgressBar {
	if w == nil {
		return nil
	}
	return progressbar.NewOptions64(int64(total),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
	)
}

// Build streams r from its first marker and returns the GRM. The reader is
// left exhausted. Cancellation is checked between chunks.
func Build(ctx context.Context, r *plink.Reader, opts Options) (*Result, error) {
	r.Reset()
	n := r.NumSamples()
	g := mat.NewSymDense(n, nil)
	stats := &geno.Stats{Encoding: opts.Encoding}
	bar := newBar(opts.Progress, r.NumSNPs(), "grm")

	for r.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("grm at snp %d: %w", r.Cursor(), genomic.ErrCancelled)
		}
		c, err := r.ReadChunk()
		if err != nil {
			return nil, err
		}
		cs, err := geno.ChunkStats(c.Markers, c.Start, opts.Encoding, opts.Impute)
		if err != nil {
			return nil, fmt.Errorf("%s.bed: %w", r.Prefix(), err)
		}
		stats.Append(cs)
		cs.ApplyEncoded(c.Markers, 0, opts.Standardize)
		g.SymRankK(g, 1, c.Markers.T())
		if bar != nil {
			bar.Set64(int64(r.Cursor()))
		}
	}
	if bar != nil {
		bar.Finish()
	}

	scale := opts.Scale.Resolve(opts.Standardize)
	s := stats.ScaleFactor(scale)
	poly := stats.NumMarkers() - len(stats.Mono)
	if s <= 0 {
		return nil, fmt.Errorf("%s.bed: no polymorphic markers among %d: %w", r.Prefix(), stats.NumMarkers(), genomic.ErrAllMissing)
	}
	g.ScaleSym(1/s, g)

	logrus.Infof("grm: %d individuals, %d polymorphic of %d markers, %s scale %.4g",
		n, poly, stats.NumMarkers(), scale, s)
	return &Result{
		G:          g,
		Samples:    r.Samples(),
		SNPs:       r.SNPs(),
		Stats:      stats,
		Scale:      s,
		NumMarkers: poly,
	}, nil
}
