package predict

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/geno"
	"github.com/genopred/genopred/genomic/grm"
	"github.com/genopred/genopred/genomic/pheno"
	"github.com/genopred/genopred/genomic/plink"
)

// FixedEffects returns design·β. The design columns must follow
// m.FixedLabels().
func FixedEffects(m *FittedModel, design *mat.Dense) ([]float64, error) {
	n, k := design.Dims()
	if k != len(m.Fixed) {
		return nil, fmt.Errorf("fixed design has %d columns, model has %d coefficients", k, len(m.Fixed))
	}
	beta := make([]float64, k)
	for i, c := range m.Fixed {
		beta[i] = c.Value
	}
	out := mat.NewVecDense(n, nil)
	out.MulVec(design, mat.NewVecDense(k, beta))
	return out.RawVector().Data, nil
}

// GBLUP predicts genetic values through cross-GRMs.
type GBLUP struct {
	Model    *FittedModel
	Progress io.Writer
}

// GeneticEffects returns an N_test × (number of genetic components) matrix
// whose column i is σᵢ² K_cross P y. train must hold exactly the training
// individuals in fitting order. When the model records the statistics its
// training GRM was built with, the cross-GRM reuses them; otherwise they are
// estimated from train.
func (p *GBLUP) GeneticEffects(ctx context.Context, train, test *plink.Reader) (*mat.Dense, error) {
	m := p.Model
	if len(m.Genetic) == 0 {
		return nil, fmt.Errorf("gblup: model has no genetic component")
	}
	if err := checkTrainIDs(m, train); err != nil {
		return nil, err
	}
	py := mat.NewVecDense(len(m.Py), m.Py)
	out := mat.NewDense(test.NumSamples(), len(m.Genetic), nil)
	for c, comp := range m.Genetic {
		enc, err := genomic.ParseEncoding(comp.Encoding)
		if err != nil {
			return nil, err
		}
		opts := grm.OptionsFrom(m.Genotype.Config(enc))
		opts.Progress = p.Progress
		if path, ok := m.Stats[enc.String()]; ok {
			if opts.Stats, err = geno.LoadStats(path, train.NumSNPs()); err != nil {
				return nil, err
			}
		}
		cross, err := grm.BuildCross(ctx, train, test, opts)
		if err != nil {
			return nil, err
		}
		var u mat.VecDense
		u.MulVec(cross.K, py)
		u.ScaleVec(comp.Variance, &u)
		out.SetCol(c, u.RawVector().Data)
		logrus.Debugf("gblup: component %s predicted for %d individuals", comp.Name, test.NumSamples())
	}
	return out, nil
}

func checkTrainIDs(m *FittedModel, train *plink.Reader) error {
	ids := plink.SampleIDs(train.Samples())
	if len(ids) != len(m.TrainIDs) {
		return fmt.Errorf("%s: %d individuals, model was fitted on %d: %w",
			train.Prefix(), len(ids), len(m.TrainIDs), genomic.ErrMalformedFile)
	}
	for i, id := range ids {
		if id != m.TrainIDs[i] {
			return fmt.Errorf("%s: individual %d is %s, model expects %s: %w",
				train.Prefix(), i, id, m.TrainIDs[i], genomic.ErrMalformedFile)
		}
	}
	return nil
}

// Bayes applies posterior mean marker effects.
type Bayes struct {
	Model *FittedModel
}

// GeneticEffects returns an N_test × k matrix with the additive genetic
// values in column 0 and, when the model has dominance effects, the
// dominance values in column 1.
func (p *Bayes) GeneticEffects(test *plink.Reader) (*mat.Dense, error) {
	m := p.Model
	snps, err := plink.ReadBIM(m.Train + ".bim")
	if err != nil {
		return nil, err
	}
	if err := plink.CheckSNPs(snps, test.SNPs()); err != nil {
		return nil, fmt.Errorf("bayes prediction %s vs %s: %w", m.Train, test.Prefix(), err)
	}
	type part struct {
		enc     genomic.Encoding
		effects []float64
	}
	parts := []part{{genomic.Additive, m.Markers.Additive}}
	if len(m.Markers.Dominant) > 0 {
		parts = append(parts, part{genomic.Dominant, m.Markers.Dominant})
	}
	out := mat.NewDense(test.NumSamples(), len(parts), nil)
	for c, pt := range parts {
		if len(pt.effects) != len(snps) {
			return nil, fmt.Errorf("model has %d %s effects for %d markers: %w",
				len(pt.effects), pt.enc, len(snps), genomic.ErrSnpMismatch)
		}
		path, ok := m.Stats[pt.enc.String()]
		if !ok {
			return nil, fmt.Errorf("model has no %s statistics file: %w", pt.enc, genomic.ErrMalformedFile)
		}
		st, err := geno.LoadStats(path, len(snps))
		if err != nil {
			return nil, err
		}
		ref := &geno.Markers{Stats: st, SNPs: snps, Standardize: m.Genotype.Standardize}
		x, err := geno.ProjectMarkers(test, ref)
		if err != nil {
			return nil, err
		}
		var g mat.VecDense
		g.MulVec(x.X.T(), mat.NewVecDense(len(pt.effects), pt.effects))
		out.SetCol(c, g.RawVector().Data)
	}
	return out, nil
}

// Combine sums the fixed part and the genetic columns into one prediction
// per individual. fixed may be nil.
func Combine(samples []plink.Sample, fixed []float64, genetic *mat.Dense) []pheno.Prediction {
	out := make([]pheno.Prediction, len(samples))
	for i, s := range samples {
		g := 0.0
		if genetic != nil {
			for _, v := range genetic.RawRowView(i) {
				g += v
			}
		}
		f := 0.0
		if fixed != nil {
			f = fixed[i]
		}
		out[i] = pheno.Prediction{FID: s.FID, IID: s.IID, Value: f + g, Genetic: g, Covariate: f}
	}
	return out
}

// Evaluate returns the Pearson correlation between predicted values and the
// observed phenotypes, over individuals with a finite observation.
func Evaluate(preds []pheno.Prediction, observed map[string]float64) (float64, int, error) {
	var x, y stats.Float64Data
	for _, p := range preds {
		v, ok := observed[p.IID]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		x = append(x, p.Value)
		y = append(y, v)
	}
	if len(x) < 2 {
		return math.NaN(), len(x), fmt.Errorf("need at least 2 observed phenotypes, have %d", len(x))
	}
	r, err := stats.Pearson(x, y)
	return r, len(x), err
}
