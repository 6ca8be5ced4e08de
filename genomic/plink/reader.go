package plink

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
)

// Chunk is a block of consecutive decoded markers. Markers is ncols×N with one
// row per marker, so each marker is contiguous; Matrix presents the N×ncols view.
// Cells hold minor-allele counts {0, 1, 2} or NaN for missing.
type Chunk struct {
	Start   int
	Markers *mat.Dense
}

// Cols returns the number of markers in the chunk.
func (c *Chunk) Cols() int {
	r, _ := c.Markers.Dims()
	return r
}

// Column returns marker j of the chunk as a slice over the individuals.
// The slice aliases the chunk storage.
func (c *Chunk) Column(j int) []float64 {
	return c.Markers.RawRowView(j)
}

// Matrix returns the N×ncols individuals-by-markers view.
func (c *Chunk) Matrix() mat.Matrix {
	return c.Markers.T()
}

type options struct {
	exclude []string
	keep    []string
	swap    bool
}

// Option configures Open.
type Option func(*options)

// WithExclude drops the listed individual IDs from every decoded chunk.
func WithExclude(iids []string) Option {
	return func(o *options) { o.exclude = iids }
}

// WithKeep decodes only the listed individual IDs, in .fam order.
func WithKeep(iids []string) Option {
	return func(o *options) { o.keep = iids }
}

// WithAlleleSwap counts the second allele instead of the first.
func WithAlleleSwap() Option {
	return func(o *options) { o.swap = true }
}

// Reader streams a .bed file in marker chunks. It is not safe for concurrent use.
type Reader struct {
	prefix    string
	src       Source
	snps      []SNP
	samples   []Sample
	rows      []int // .fam row of each kept individual; nil keeps all
	famN      int
	stride    int
	chunkSize int
	cursor    int
	lut       *[256][4]float64
	buf       []byte
	scratch   []float64
}

// Open reads <prefix>.bim and <prefix>.fam, validates <prefix>.bed and returns
// a reader positioned at the first marker.
func Open(prefix string, chunkSize int, opts ...Option) (*Reader, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	snps, err := ReadBIM(prefix + ".bim")
	if err != nil {
		return nil, err
	}
	samples, err := ReadFAM(prefix + ".fam")
	if err != nil {
		return nil, err
	}
	r := &Reader{
		prefix:    prefix,
		snps:      snps,
		famN:      len(samples),
		stride:    strideFor(len(samples)),
		chunkSize: chunkSize,
		lut:       decodeLUT,
	}
	if o.swap {
		r.lut = swapLUT
	}
	r.samples, r.rows = selectRows(samples, o)
	if len(r.samples) == 0 {
		return nil, fmt.Errorf("%s.fam: no individuals selected: %w", prefix, genomic.ErrMalformedFile)
	}

	bedPath := prefix + ".bed"
	src, err := OpenSource(bedPath)
	if err != nil {
		return nil, err
	}
	if err := validateBED(bedPath, src, len(snps), r.stride); err != nil {
		src.Close()
		return nil, err
	}
	r.src = src
	logrus.Debugf("opened %s: %d markers, %d of %d individuals, chunk %d",
		bedPath, len(snps), len(r.samples), r.famN, chunkSize)
	return r, nil
}

func selectRows(samples []Sample, o options) ([]Sample, []int) {
	if len(o.exclude) == 0 && len(o.keep) == 0 {
		return samples, nil
	}
	drop := make(map[string]bool, len(o.exclude))
	for _, id := range o.exclude {
		drop[id] = true
	}
	var want map[string]bool
	if len(o.keep) > 0 {
		want = make(map[string]bool, len(o.keep))
		for _, id := range o.keep {
			want[id] = true
		}
	}
	var kept []Sample
	var rows []int
	for i, s := range samples {
		if drop[s.IID] || (want != nil && !want[s.IID]) {
			continue
		}
		kept = append(kept, s)
		rows = append(rows, i)
	}
	return kept, rows
}

func validateBED(path string, src Source, m, stride int) error {
	var magic [3]byte
	if src.Size() < 3 {
		return fmt.Errorf("%s: file too short for header: %w", path, genomic.ErrMalformedFile)
	}
	if _, err := src.ReadAt(magic[:], 0); err != nil {
		return fmt.Errorf("%s: reading header: %w", path, err)
	}
	if magic[0] != bedMagic[0] || magic[1] != bedMagic[1] {
		return fmt.Errorf("%s: bad magic %#x %#x: %w", path, magic[0], magic[1], genomic.ErrMalformedFile)
	}
	if magic[2] != bedMagic[2] {
		return fmt.Errorf("%s: individual-major order is not supported: %w", path, genomic.ErrMalformedFile)
	}
	want := int64(3) + int64(m)*int64(stride)
	if src.Size() != want {
		return fmt.Errorf("%s: size %d, expected %d for %d markers: %w", path, src.Size(), want, m, genomic.ErrMalformedFile)
	}
	return nil
}

// SNPs returns the marker list in file order.
func (r *Reader) SNPs() []SNP { return r.snps }

// Samples returns the decoded individuals in .fam order.
func (r *Reader) Samples() []Sample { return r.samples }

// NumSNPs returns M.
func (r *Reader) NumSNPs() int { return len(r.snps) }

// NumSamples returns the number of decoded individuals.
func (r *Reader) NumSamples() int { return len(r.samples) }

// ChunkSize returns the configured chunk width.
func (r *Reader) ChunkSize() int { return r.chunkSize }

// Prefix returns the fileset prefix.
func (r *Reader) Prefix() string { return r.prefix }

// Cursor returns the index of the next marker to be read.
func (r *Reader) Cursor() int { return r.cursor }

// Remaining returns the number of markers not yet read. Cursor()+Remaining() == NumSNPs().
func (r *Reader) Remaining() int { return len(r.snps) - r.cursor }

// HasNext reports whether markers remain.
func (r *Reader) HasNext() bool { return r.cursor < len(r.snps) }

// ReadChunk decodes the next min(chunkSize, Remaining()) markers and advances the cursor.
func (r *Reader) ReadChunk() (*Chunk, error) {
	if !r.HasNext() {
		return nil, fmt.Errorf("%s.bed: read past marker %d", r.prefix, len(r.snps))
	}
	n := min(r.chunkSize, r.Remaining())
	c, err := r.ReadRange(r.cursor, n)
	if err != nil {
		return nil, err
	}
	r.cursor += n
	return c, nil
}

// ReadRange decodes markers [start, start+n) without moving the cursor.
func (r *Reader) ReadRange(start, n int) (*Chunk, error) {
	if start < 0 || n <= 0 || start+n > len(r.snps) {
		return nil, fmt.Errorf("%s.bed: range [%d, %d) outside %d markers", r.prefix, start, start+n, len(r.snps))
	}
	size := n * r.stride
	if cap(r.buf) < size {
		r.buf = make([]byte, size)
	}
	buf := r.buf[:size]
	off := int64(3) + int64(start)*int64(r.stride)
	if _, err := r.src.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%s.bed: reading snp %d: %w", r.prefix, start, err)
	}
	markers := mat.NewDense(n, len(r.samples), nil)
	for j := 0; j < n; j++ {
		packed := buf[j*r.stride : (j+1)*r.stride]
		row := markers.RawRowView(j)
		if r.rows == nil {
			decodeRow(r.lut, packed, row)
			continue
		}
		if len(r.scratch) != r.famN {
			r.scratch = make([]float64, r.famN)
		}
		decodeRow(r.lut, packed, r.scratch)
		for i, src := range r.rows {
			row[i] = r.scratch[src]
		}
	}
	return &Chunk{Start: start, Markers: markers}, nil
}

// Reset rewinds the cursor to the first marker.
func (r *Reader) Reset() { r.cursor = 0 }

// Close releases the underlying .bed source.
func (r *Reader) Close() error {
	if r.src == nil {
		return nil
	}
	err := r.src.Close()
	r.src = nil
	return err
}
