package geno

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/internal/npy"
	"github.com/genopred/genopred/genomic/plink"
)

// Stats holds per-marker statistics of an encoded cohort. They define the
// transform that maps raw genotypes into the cohort's frequency space:
// x → (fill if missing) − Mean, divided by SD when standardizing.
type Stats struct {
	Encoding genomic.Encoding
	Fill     []float64 // imputation value
	Mean     []float64 // mean after imputation
	Freq     []float64 // counted-allele frequency p (additive) or heterozygote frequency h (dominant)
	SD       []float64 // √(2p(1−p)) additive, √(h(1−h)) dominant; 0 when monomorphic
	Missing  []int     // missing calls per marker
	Mono     []int     // monomorphic, constant or all-missing marker indices, ascending
}

// NumMarkers returns the number of markers described.
func (s *Stats) NumMarkers() int { return len(s.Mean) }

// MAF returns the minor-allele frequency of marker j for additive stats.
func (s *Stats) MAF(j int) float64 {
	return math.Min(s.Freq[j], 1-s.Freq[j])
}

// ChunkStats encodes and imputes a chunk in place and records its statistics.
// Markers without observed genotypes are filled with 0 and recorded as
// monomorphic rather than failing. A marker whose observed calls are all equal
// (for example all heterozygous) carries no information about relatedness and
// is recorded as monomorphic too. start is the file index of the first row.
func ChunkStats(markers *mat.Dense, start int, enc genomic.Encoding, how genomic.Imputation) (*Stats, error) {
	m, n := markers.Dims()
	s := &Stats{
		Encoding: enc,
		Fill:     make([]float64, m),
		Mean:     make([]float64, m),
		Freq:     make([]float64, m),
		SD:       make([]float64, m),
		Missing:  make([]int, m),
	}
	Encode(markers, enc)

	allMissing := make([]bool, m)
	constant := make([]bool, m)
	for j := 0; j < m; j++ {
		row := markers.RawRowView(j)
		obs, sum := 0, 0.0
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range row {
			if !math.IsNaN(v) {
				obs++
				sum += v
				lo, hi = math.Min(lo, v), math.Max(hi, v)
			}
		}
		s.Missing[j] = n - obs
		if obs == 0 {
			allMissing[j] = true
			logrus.Warnf("snp %d: no observed genotypes, treated as monomorphic", start+j)
			clear(row)
			continue
		}
		constant[j] = hi-lo < monoTol
		mean := sum / float64(obs)
		switch enc {
		case genomic.Dominant:
			s.Freq[j] = mean
			s.SD[j] = math.Sqrt(mean * (1 - mean))
		default:
			p := mean / 2
			s.Freq[j] = p
			s.SD[j] = math.Sqrt(2 * p * (1 - p))
		}
	}

	// all-missing rows are already zero, so imputation cannot fail on them
	fills, err := Impute(markers, how)
	if err != nil {
		return nil, Offset(err, start)
	}
	copy(s.Fill, fills)

	for j := 0; j < m; j++ {
		row := markers.RawRowView(j)
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		s.Mean[j] = sum / float64(n)
		if allMissing[j] || constant[j] || s.SD[j] < monoTol {
			s.SD[j] = 0
			s.Mono = append(s.Mono, start+j)
		}
	}
	return s, nil
}

// Append concatenates the statistics of the following chunk.
func (s *Stats) Append(next *Stats) {
	s.Fill = append(s.Fill, next.Fill...)
	s.Mean = append(s.Mean, next.Mean...)
	s.Freq = append(s.Freq, next.Freq...)
	s.SD = append(s.SD, next.SD...)
	s.Missing = append(s.Missing, next.Missing...)
	s.Mono = append(s.Mono, next.Mono...)
}

// Apply transforms a chunk of raw decoded genotypes (rows start..start+m−1 of
// the cohort these statistics describe) in place: encode, fill missing calls,
// subtract the mean and, when standardize is set, divide by the SD.
// Monomorphic markers become zero rows.
func (s *Stats) Apply(markers *mat.Dense, start int, standardize bool) {
	Encode(markers, s.Encoding)
	s.ApplyEncoded(markers, start, standardize)
}

// ApplyEncoded is Apply for a chunk that is already encoded, such as one
// just passed through ChunkStats.
func (s *Stats) ApplyEncoded(markers *mat.Dense, start int, standardize bool) {
	forEachMarker(markers, func(j int, row []float64) error {
		k := start + j
		sd := s.SD[k]
		if sd == 0 {
			clear(row)
			return nil
		}
		fill, mean := s.Fill[k], s.Mean[k]
		scale := 1.0
		if standardize {
			scale = 1 / sd
		}
		for i, v := range row {
			if math.IsNaN(v) {
				v = fill
			}
			row[i] = (v - mean) * scale
		}
		return nil
	})
}

// ScaleFactor returns the GRM normalization constant over the polymorphic markers.
func (s *Stats) ScaleFactor(scale genomic.Scale) float64 {
	total := 0.0
	for _, sd := range s.SD {
		if sd == 0 {
			continue
		}
		switch scale {
		case genomic.ScaleMarkers:
			total++
		default:
			total += sd * sd
		}
	}
	return total
}

// ComputeStats streams the whole reader once and returns the cohort statistics.
// The reader is rewound before and after the pass.
func ComputeStats(r *plink.Reader, enc genomic.Encoding, how genomic.Imputation) (*Stats, error) {
	r.Reset()
	defer r.Reset()
	all := &Stats{Encoding: enc}
	for r.HasNext() {
		c, err := r.ReadChunk()
		if err != nil {
			return nil, err
		}
		cs, err := ChunkStats(c.Markers, c.Start, enc, how)
		if err != nil {
			return nil, fmt.Errorf("%s.bed: %w", r.Prefix(), err)
		}
		all.Append(cs)
	}
	return all, nil
}

const statsRows = 6

// SaveStats writes the statistics as a 6×M .npy array with rows
// fill, mean, freq, sd, missing, encoding.
func SaveStats(path string, s *Stats) error {
	m := s.NumMarkers()
	data := make([]float64, 0, statsRows*m)
	data = append(data, s.Fill...)
	data = append(data, s.Mean...)
	data = append(data, s.Freq...)
	data = append(data, s.SD...)
	for _, v := range s.Missing {
		data = append(data, float64(v))
	}
	for range m {
		data = append(data, float64(s.Encoding))
	}
	return npy.Write(path, data, statsRows, m)
}

// LoadStats reads statistics written by SaveStats. wantMarkers guards against
// a stale cache; pass -1 to skip the check.
func LoadStats(path string, wantMarkers int) (*Stats, error) {
	data, shape, err := npy.Read(path)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 || shape[0] != statsRows {
		return nil, fmt.Errorf("%s: shape %v is not a stats table: %w", path, shape, genomic.ErrMalformedFile)
	}
	m := shape[1]
	if wantMarkers >= 0 && m != wantMarkers {
		return nil, fmt.Errorf("%s: %d markers, fileset has %d: %w", path, m, wantMarkers, genomic.ErrSnpMismatch)
	}
	row := func(k int) []float64 { return append([]float64(nil), data[k*m:(k+1)*m]...) }
	s := &Stats{
		Fill:    row(0),
		Mean:    row(1),
		Freq:    row(2),
		SD:      row(3),
		Missing: make([]int, m),
	}
	for j, v := range data[4*m : 5*m] {
		s.Missing[j] = int(v)
	}
	if m > 0 {
		s.Encoding = genomic.Encoding(int(data[5*m]))
	}
	for j, sd := range s.SD {
		if sd == 0 {
			s.Mono = append(s.Mono, j)
		}
	}
	return s, nil
}
