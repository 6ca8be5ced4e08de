package simulate

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/geno"
	"github.com/genopred/genopred/genomic/pheno"
	"github.com/genopred/genopred/genomic/plink"
)

// Phenotype is one simulated individual.
type Phenotype struct {
	FID     string  `csv:"FID"`
	IID     string  `csv:"IID"`
	Value   float64 `csv:"pheno"`
	Genetic float64 `csv:"-"`
}

// Effect is one causal variant with the effect that was applied to its
// standardized genotype.
type Effect struct {
	SNP    string  `csv:"snp"`
	Index  int     `csv:"index"`
	Freq   float64 `csv:"freq"`
	Effect float64 `csv:"effect"`
}

// Result is a simulated phenotype together with the causal effects.
type Result struct {
	Phenotypes   []Phenotype
	Effects      []Effect
	VarGenetic   float64
	VarResidual  float64
	Heritability float64 // realized var(g)/var(y)
}

// Phenotypes simulates y = Zb + e over the causal variants, where Z holds the
// mean-imputed standardized genotypes. Variants without an effect get one
// drawn from N(0, 1). The residual variance is var(g)(1−h²)/h².
func Phenotypes(r *plink.Reader, causal []pheno.Causal, h2 float64, rng *rand.Rand) (*Result, error) {
	if !(h2 > 0 && h2 <= 1) {
		return nil, fmt.Errorf("simulate: h2 must be in (0, 1], got %g", h2)
	}
	if len(causal) == 0 {
		return nil, fmt.Errorf("simulate: no causal variants")
	}
	index := make(map[string]int, r.NumSNPs())
	for j, s := range r.SNPs() {
		index[s.ID] = j
	}
	n := r.NumSamples()
	z := mat.NewDense(len(causal), n, nil)
	res := &Result{Effects: make([]Effect, len(causal))}
	for k, c := range causal {
		j, ok := index[c.SNP]
		if !ok {
			return nil, fmt.Errorf("%s.bim: causal variant %s not found: %w", r.Prefix(), c.SNP, genomic.ErrMalformedFile)
		}
		chunk, err := r.ReadRange(j, 1)
		if err != nil {
			return nil, err
		}
		z.SetRow(k, chunk.Column(0))
		b := c.Effect
		if math.IsNaN(b) {
			b = rng.NormFloat64()
		}
		res.Effects[k] = Effect{SNP: c.SNP, Index: j, Effect: b}
	}
	if _, err := geno.MeanImpute(z); err != nil {
		return nil, fmt.Errorf("%s.bed: causal variant %w", r.Prefix(), err)
	}
	means, _ := geno.Standardize(z)
	b := make([]float64, len(causal))
	for k := range res.Effects {
		res.Effects[k].Freq = means[k] / 2
		b[k] = res.Effects[k].Effect
	}

	var g mat.VecDense
	g.MulVec(z.T(), mat.NewVecDense(len(b), b))
	gv := g.RawVector().Data
	res.VarGenetic = stat.Variance(gv, nil)
	if res.VarGenetic == 0 || math.IsNaN(res.VarGenetic) {
		return nil, fmt.Errorf("simulate: causal variants have no genetic variance in %s", r.Prefix())
	}
	res.VarResidual = res.VarGenetic * (1 - h2) / h2
	sd := math.Sqrt(res.VarResidual)
	y := make([]float64, n)
	res.Phenotypes = make([]Phenotype, n)
	for i, s := range r.Samples() {
		y[i] = gv[i] + sd*rng.NormFloat64()
		res.Phenotypes[i] = Phenotype{FID: s.FID, IID: s.IID, Value: y[i], Genetic: gv[i]}
	}
	res.Heritability = res.VarGenetic / stat.Variance(y, nil)
	logrus.Infof("simulated phenotype for %d individuals from %d causal variants, realized h2 %.3f",
		n, len(causal), res.Heritability)
	return res, nil
}

// WritePhenotypes writes a FID/IID/pheno table readable by pheno.ReadTable.
func WritePhenotypes(path string, rows []Phenotype) error {
	return writeTSV(path, rows, len(rows))
}

// WriteEffects writes the applied causal effects.
func WriteEffects(path string, effects []Effect) error {
	return writeTSV(path, effects, len(effects))
}

func writeTSV(path string, rows any, n int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	w := csv.NewWriter(bw)
	w.Comma = '\t'
	if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(w)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"filename": path, "rows": n}).Debug("wrote table")
	return f.Close()
}
