package bayes

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/genopred/genopred/genomic"
)

// Priors holds the hyperparameters of one model. Scales are those of
// scaled-inverse-χ² priors, chosen so the prior mean of each variance matches
// the share of var(y) implied by the heritability guess.
type Priors struct {
	DfE, ScaleE       float64 // residual
	DfBeta, ScaleBeta float64 // marker variance (σβ², per-marker σⱼ², or σ_g² for R)
	DfD, ScaleD       float64 // dominance
	DfU, ScaleU       float64 // random effects
	Pi                []float64
	Gammas            []float64 // R class multipliers of σ_g², null first
	RhoLogMean        float64   // prior on log ρ is normal
	RhoLogSD          float64
	ProposalScale     float64 // initial random-walk step on log ρ
	VarEStart         float64
	VarBetaStart      float64
	VarDStart         float64
	VarUStart         float64
}

// rGammas are the BayesR class multipliers of σ_g².
var rGammas = []float64{0, 1e-4, 1e-3, 1e-2}

const (
	priorDf = 4.0
	// dominanceShare is the prior fraction of genetic variance that is dominance.
	dominanceShare = 0.1
)

// NewPriors derives hyperparameters from the data and configuration.
func NewPriors(kind Kind, d *Data, cfg genomic.MCMCConfig) (Priors, error) {
	h2 := cfg.H2
	if !(h2 > 0 && h2 < 1) {
		return Priors{}, fmt.Errorf("h2 must be in (0, 1), got %v", h2)
	}
	varY := stat.Variance(d.Y, nil)
	if !(varY > 0) {
		return Priors{}, fmt.Errorf("phenotype has zero variance: %w", genomic.ErrMalformedFile)
	}
	pi := kind.defaultPi()
	if len(cfg.Pi) > 0 && kind.mixture() {
		if want := len(kind.defaultPi()); len(cfg.Pi) != want {
			return Priors{}, fmt.Errorf("model %s needs %d mixture proportions, got %d", kind, want, len(cfg.Pi))
		}
		pi = normalized(cfg.Pi)
		if pi[0] >= 1 {
			return Priors{}, fmt.Errorf("model %s: mixture proportions put no mass on non-null classes: %v", kind, cfg.Pi)
		}
	}
	varG := h2 * varY
	varA := varG
	if d.Dominant != nil {
		varA = (1 - dominanceShare) * varG
	}

	sumVar := sumVariance(d.Additive.SumSq, len(d.Y))
	var meanBeta float64
	switch kind {
	case KindRR, KindA:
		meanBeta = varA / sumVar
	case KindB, KindBpi, KindC, KindCpi:
		meanBeta = varA / (sumVar * (1 - pi[0]))
	case KindR:
		// meanBeta is σ_g², the multiplier of the class variances.
		meanBeta = varA / (sumVar * mixtureWeight(pi, rGammas))
	}

	p := Priors{
		DfE:           priorDf,
		ScaleE:        (1 - h2) * varY * (priorDf - 2) / priorDf,
		DfBeta:        priorDf,
		ScaleBeta:     meanBeta * (priorDf - 2) / priorDf,
		DfU:           priorDf,
		ScaleU:        0.1 * varY * (priorDf - 2) / priorDf,
		Pi:            pi,
		RhoLogMean:    0,
		RhoLogSD:      1,
		ProposalScale: cfg.ProposalScale,
		VarEStart:     (1 - h2) * varY,
		VarBetaStart:  meanBeta,
		VarUStart:     0.1 * varY,
	}
	if kind == KindR {
		p.Gammas = append([]float64(nil), rGammas...)
	}
	if p.ProposalScale <= 0 {
		p.ProposalScale = 0.5
	}
	if d.Dominant != nil {
		md, _ := d.Dominant.Dims()
		meanD := dominanceShare * varG / sumVariance(d.Dominant.SumSq, len(d.Y))
		if md == 0 {
			meanD = 0
		}
		p.DfD = priorDf
		p.ScaleD = meanD * (priorDf - 2) / priorDf
		p.VarDStart = meanD
	}
	return p, nil
}

// sumVariance returns Σⱼ ‖xⱼ‖²/n, the total variance of the marker columns.
func sumVariance(sumSq []float64, n int) float64 {
	s := 0.0
	for _, v := range sumSq {
		s += v
	}
	s /= float64(n)
	if s <= 0 {
		return 1
	}
	return s
}

func normalized(p []float64) []float64 {
	out := make([]float64, len(p))
	s := 0.0
	for _, v := range p {
		s += v
	}
	for i, v := range p {
		out[i] = v / s
	}
	return out
}

// mixtureWeight returns Σₖ πₖγₖ, the expected per-marker variance in units of σ_g².
func mixtureWeight(pi, gammas []float64) float64 {
	s := 0.0
	for k := range pi {
		s += pi[k] * gammas[k]
	}
	return s
}
