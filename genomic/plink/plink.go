// Package plink reads and writes PLINK 1 binary genotype filesets
// (.bed/.bim/.fam) and streams the genotype matrix in marker chunks.
package plink

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/genopred/genopred/genomic"
)

// Map columns in the BIM file to their positions
const (
	Chromosome int = iota
	VariantID
	Morgans
	Coordinate
	Allele1
	Allele2
)

// Map columns in the FAM file to their positions
const (
	FamilyID int = iota
	IndividualID
	FatherID
	MotherID
	Sex
	Phenotype
)

// SNP is one .bim row. Allele1 is the counted (usually minor) allele.
type SNP struct {
	Chromosome string
	ID         string
	CM         float64
	Position   int64
	Allele1    string
	Allele2    string
}

// Sample is one .fam row. A missing phenotype (-9 or NA) is NaN.
type Sample struct {
	FID       string
	IID       string
	Father    string
	Mother    string
	Sex       int
	Phenotype float64
}

// ReadBIM parses a .bim file from a local path or gs:// URL.
func ReadBIM(path string) ([]SNP, error) {
	rc, err := openText(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return parseBIM(path, rc)
}

func parseBIM(path string, r io.Reader) ([]SNP, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var snps []SNP
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) != Allele2+1 {
			return nil, fmt.Errorf("%s:%d: expected 6 columns, got %d: %w", path, lineno, len(cols), genomic.ErrMalformedFile)
		}
		cm, err := strconv.ParseFloat(cols[Morgans], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad genetic distance %q: %w", path, lineno, cols[Morgans], genomic.ErrMalformedFile)
		}
		pos, err := strconv.ParseInt(cols[Coordinate], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad position %q: %w", path, lineno, cols[Coordinate], genomic.ErrMalformedFile)
		}
		snps = append(snps, SNP{
			Chromosome: cols[Chromosome],
			ID:         cols[VariantID],
			CM:         cm,
			Position:   pos,
			Allele1:    cols[Allele1],
			Allele2:    cols[Allele2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return snps, nil
}

// ReadFAM parses a .fam file from a local path or gs:// URL.
func ReadFAM(path string) ([]Sample, error) {
	rc, err := openText(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return parseFAM(path, rc)
}

func parseFAM(path string, r io.Reader) ([]Sample, error) {
	scanner := bufio.NewScanner(r)
	var samples []Sample
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) != Phenotype+1 {
			return nil, fmt.Errorf("%s:%d: expected 6 columns, got %d: %w", path, lineno, len(cols), genomic.ErrMalformedFile)
		}
		sex, err := strconv.Atoi(cols[Sex])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad sex code %q: %w", path, lineno, cols[Sex], genomic.ErrMalformedFile)
		}
		pheno, err := ParsePhenotype(cols[Phenotype])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %v: %w", path, lineno, err, genomic.ErrMalformedFile)
		}
		samples = append(samples, Sample{
			FID:       cols[FamilyID],
			IID:       cols[IndividualID],
			Father:    cols[FatherID],
			Mother:    cols[MotherID],
			Sex:       sex,
			Phenotype: pheno,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return samples, nil
}

// ParsePhenotype converts a phenotype field, mapping PLINK missing codes to NaN.
func ParsePhenotype(s string) (float64, error) {
	switch s {
	case "-9", "NA", "na", "NaN", "nan", ".":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad phenotype %q", s)
	}
	return v, nil
}

// CheckSNPs verifies that two marker lists agree in ID and order. The error
// names the first differing index.
func CheckSNPs(train, test []SNP) error {
	n := min(len(train), len(test))
	for j := 0; j < n; j++ {
		if train[j].ID != test[j].ID {
			return fmt.Errorf("snp %d: training has %s, test has %s: %w", j, train[j].ID, test[j].ID, genomic.ErrSnpMismatch)
		}
	}
	if len(train) != len(test) {
		return fmt.Errorf("snp %d: training has %d markers, test has %d: %w", n, len(train), len(test), genomic.ErrSnpMismatch)
	}
	return nil
}

// SampleIDs returns the IIDs in order.
func SampleIDs(samples []Sample) []string {
	ids := make([]string, len(samples))
	for i, s := range samples {
		ids[i] = s.IID
	}
	return ids
}
