package plink

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Writer streams markers into a new .bed/.bim/.fam fileset.
type Writer struct {
	prefix string
	n      int
	bed    *os.File
	bim    *os.File
	bedW   *bufio.Writer
	bimW   *bufio.Writer
	buf    []byte
	count  int
}

// NewWriter creates <prefix>.bed, <prefix>.bim and <prefix>.fam. The .fam is
// written immediately; markers follow through WriteMarker.
func NewWriter(prefix string, samples []Sample) (*Writer, error) {
	if err := WriteFAM(prefix+".fam", samples); err != nil {
		return nil, err
	}
	bed, err := os.Create(prefix + ".bed")
	if err != nil {
		return nil, err
	}
	bim, err := os.Create(prefix + ".bim")
	if err != nil {
		bed.Close()
		return nil, err
	}
	w := &Writer{
		prefix: prefix,
		n:      len(samples),
		bed:    bed,
		bim:    bim,
		bedW:   bufio.NewWriter(bed),
		bimW:   bufio.NewWriter(bim),
		buf:    make([]byte, strideFor(len(samples))),
	}
	if _, err := w.bedW.Write(bedMagic[:]); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// WriteMarker appends one marker. genotypes holds one value per individual:
// 0, 1, 2 or NaN.
func (w *Writer) WriteMarker(snp SNP, genotypes []float64) error {
	if len(genotypes) != w.n {
		return fmt.Errorf("%s.bed: snp %d has %d genotypes, want %d", w.prefix, w.count, len(genotypes), w.n)
	}
	clear(w.buf)
	for i, g := range genotypes {
		w.buf[i/4] |= encodeGenotype(g) << (2 * (i % 4))
	}
	if _, err := w.bedW.Write(w.buf); err != nil {
		return err
	}
	if _, err := w.bimW.WriteString(formatBIM(snp)); err != nil {
		return err
	}
	w.count++
	return nil
}

// Close flushes and closes the .bed and .bim files.
func (w *Writer) Close() error {
	var first error
	for _, f := range []func() error{w.bedW.Flush, w.bimW.Flush, w.bed.Close, w.bim.Close} {
		if err := f(); err != nil && first == nil {
			first = err
		}
	}
	if first == nil {
		logrus.WithFields(logrus.Fields{"prefix": w.prefix, "markers": w.count, "samples": w.n}).Debug("wrote bed fileset")
	}
	return first
}

// WriteBED writes a complete fileset. markers is M×N with one row per SNP.
func WriteBED(prefix string, snps []SNP, samples []Sample, markers mat.Matrix) error {
	m, n := markers.Dims()
	if m != len(snps) || n != len(samples) {
		return fmt.Errorf("%s: genotype matrix is %d×%d for %d snps and %d samples", prefix, m, n, len(snps), len(samples))
	}
	w, err := NewWriter(prefix, samples)
	if err != nil {
		return err
	}
	row := make([]float64, n)
	for j := 0; j < m; j++ {
		mat.Row(row, j, markers)
		if err := w.WriteMarker(snps[j], row); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// WriteFAM writes a .fam file. NaN phenotypes are written as -9.
func WriteFAM(path string, samples []Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	for _, s := range samples {
		pheno := "-9"
		if !math.IsNaN(s.Phenotype) {
			pheno = strconv.FormatFloat(s.Phenotype, 'g', -1, 64)
		}
		fmt.Fprintf(bw, "%s %s %s %s %d %s\n", orZero(s.FID), s.IID, orZero(s.Father), orZero(s.Mother), s.Sex, pheno)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteBIM writes a .bim file.
func WriteBIM(path string, snps []SNP) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	for _, s := range snps {
		bw.WriteString(formatBIM(s))
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatBIM(s SNP) string {
	return fmt.Sprintf("%s\t%s\t%s\t%d\t%s\t%s\n", orZero(s.Chromosome), s.ID,
		strconv.FormatFloat(s.CM, 'g', -1, 64), s.Position, orZero(s.Allele1), orZero(s.Allele2))
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
