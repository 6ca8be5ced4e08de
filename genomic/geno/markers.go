package geno

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/plink"
)

// Markers is an in-memory marker-major design for marker-effect models: row j
// holds the transformed genotypes of SNP j over the N individuals.
type Markers struct {
	X           *mat.Dense
	Stats       *Stats
	SumSq       []float64 // ‖x_j‖²
	SNPs        []plink.SNP
	Standardize bool
}

// Dims returns (markers, individuals).
func (m *Markers) Dims() (int, int) { return m.X.Dims() }

// Row returns marker j. The slice aliases X.
func (m *Markers) Row(j int) []float64 { return m.X.RawRowView(j) }

// LoadMarkers reads the whole fileset into memory with cohort statistics
// computed on the fly. The reader is rewound afterwards.
func LoadMarkers(r *plink.Reader, cfg genomic.GenotypeConfig) (*Markers, error) {
	r.Reset()
	defer r.Reset()
	mk, n := r.NumSNPs(), r.NumSamples()
	if mk == 0 {
		return nil, fmt.Errorf("%s.bim: no markers: %w", r.Prefix(), genomic.ErrMalformedFile)
	}
	x := mat.NewDense(mk, n, nil)
	all := &Stats{Encoding: cfg.Encoding}
	for r.HasNext() {
		c, err := r.ReadChunk()
		if err != nil {
			return nil, err
		}
		cs, err := ChunkStats(c.Markers, c.Start, cfg.Encoding, cfg.Impute)
		if err != nil {
			return nil, fmt.Errorf("%s.bed: %w", r.Prefix(), err)
		}
		all.Append(cs)
		cs.ApplyEncoded(c.Markers, 0, cfg.Standardize)
		x.Slice(c.Start, c.Start+c.Cols(), 0, n).(*mat.Dense).Copy(c.Markers)
	}
	return newMarkers(x, all, r.SNPs(), cfg.Standardize), nil
}

// ProjectMarkers reads a second cohort and expresses it in the frequency
// space of train. SNP lists must match.
func ProjectMarkers(r *plink.Reader, train *Markers) (*Markers, error) {
	if err := plink.CheckSNPs(train.SNPs, r.SNPs()); err != nil {
		return nil, err
	}
	r.Reset()
	defer r.Reset()
	n := r.NumSamples()
	x := mat.NewDense(r.NumSNPs(), n, nil)
	for r.HasNext() {
		c, err := r.ReadChunk()
		if err != nil {
			return nil, err
		}
		train.Stats.Apply(c.Markers, c.Start, train.Standardize)
		x.Slice(c.Start, c.Start+c.Cols(), 0, n).(*mat.Dense).Copy(c.Markers)
	}
	return newMarkers(x, train.Stats, r.SNPs(), train.Standardize), nil
}

func newMarkers(x *mat.Dense, s *Stats, snps []plink.SNP, standardize bool) *Markers {
	m, _ := x.Dims()
	sumSq := make([]float64, m)
	for j := range sumSq {
		row := x.RawRowView(j)
		for _, v := range row {
			sumSq[j] += v * v
		}
	}
	return &Markers{X: x, Stats: s, SumSq: sumSq, SNPs: snps, Standardize: standardize}
}
