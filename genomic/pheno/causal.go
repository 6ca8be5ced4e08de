package pheno

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/genopred/genopred/genomic"
)

// Causal is one causal variant. Effect is NaN when the file gives none.
type Causal struct {
	SNP    string
	Effect float64
}

// ReadCausal reads one SNP ID per line with an optional effect size in the
// second column. Blank lines and lines starting with # are skipped.
func ReadCausal(path string) ([]Causal, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var out []Causal
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(rc)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) > 2 {
			return nil, fmt.Errorf("%s:%d: want SNP and optional effect, got %d fields: %w",
				path, line, len(fields), genomic.ErrMalformedFile)
		}
		c := Causal{SNP: fields[0], Effect: math.NaN()}
		if len(fields) == 2 {
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: bad effect %q: %w", path, line, fields[1], genomic.ErrMalformedFile)
			}
			c.Effect = v
		}
		if seen[c.SNP] {
			return nil, fmt.Errorf("%s:%d: duplicate SNP %s: %w", path, line, c.SNP, genomic.ErrMalformedFile)
		}
		seen[c.SNP] = true
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no causal variants: %w", path, genomic.ErrMalformedFile)
	}
	return out, nil
}
