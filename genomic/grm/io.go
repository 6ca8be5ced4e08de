package grm

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/internal/npy"
	"github.com/genopred/genopred/genomic/plink"
)

// Write stores G as <prefix>.grm.npy (N×N float64) and the sample order as
// <prefix>.grm.id (FID and IID, tab separated).
func Write(prefix string, g *mat.SymDense, samples []plink.Sample) error {
	n := g.SymmetricDim()
	if n != len(samples) {
		return fmt.Errorf("grm is %d×%d for %d samples", n, n, len(samples))
	}
	data := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			data = append(data, g.At(i, j))
		}
	}
	if err := npy.Write(prefix+".grm.npy", data, n, n); err != nil {
		return err
	}
	f, err := os.Create(prefix + ".grm.id")
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, s := range samples {
		fmt.Fprintf(w, "%s\t%s\n", s.FID, s.IID)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read loads a GRM written by Write and returns it with its individual IDs.
func Read(prefix string) (*mat.SymDense, []string, error) {
	data, shape, err := npy.Read(prefix + ".grm.npy")
	if err != nil {
		return nil, nil, err
	}
	if len(shape) != 2 || shape[0] != shape[1] {
		return nil, nil, fmt.Errorf("%s.grm.npy: shape %v is not square: %w", prefix, shape, genomic.ErrMalformedFile)
	}
	n := shape[0]
	ids, err := readIDs(prefix + ".grm.id")
	if err != nil {
		return nil, nil, err
	}
	if len(ids) != n {
		return nil, nil, fmt.Errorf("%s.grm.id: %d ids for a %d×%d matrix: %w", prefix, len(ids), n, n, genomic.ErrMalformedFile)
	}
	return mat.NewSymDense(n, data), ids, nil
}

func readIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var ids []string
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		cols := strings.Fields(scanner.Text())
		if len(cols) == 0 {
			continue
		}
		if len(cols) != 2 {
			return nil, fmt.Errorf("%s:%d: expected FID and IID: %w", path, lineno, genomic.ErrMalformedFile)
		}
		ids = append(ids, cols[1])
	}
	return ids, scanner.Err()
}

// Subset returns G restricted to the given row indices, in that order.
func Subset(g *mat.SymDense, idx []int) *mat.SymDense {
	out := mat.NewSymDense(len(idx), nil)
	for a, i := range idx {
		for b := a; b < len(idx); b++ {
			out.SetSym(a, b, g.At(i, idx[b]))
		}
	}
	return out
}
