package bayes

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/genopred/genopred/genomic"
)

const (
	// refreshEvery is the number of sweeps between full residual recomputations.
	refreshEvery = 1000
	// adaptEvery is the number of ρ proposals between step-size adaptations.
	adaptEvery = 50
	// targetAcceptance is the acceptance rate the ρ random walk is tuned toward.
	targetAcceptance = 0.44
)

// Chain is the complete state of one Gibbs chain. It owns its RNG and every
// mutable vector; it is not safe for concurrent use.
type Chain struct {
	kind   Kind
	data   *Data
	priors Priors
	rng    *rand.Rand
	rrd    bool

	fixedCols [][]float64
	fixedXX   []float64
	fixed     []float64

	resid  []float64
	gA, gD []float64 // genetic values X·β and D·d
	rss    float64

	beta      []float64
	class     []int
	varMarker []float64 // per-marker variances for A, B, Bpi
	varBeta   float64   // common σβ²; σ_g² for R
	pi        []float64
	counts    []int
	logp      []float64

	dom  []float64
	varD float64
	rho  float64
	mh   metropolis

	members [][][]int // per random effect, per level: individual indices
	randomU [][]float64
	varU    []float64

	varE float64

	iter    int
	burning bool
	params  []string
	post    posterior
}

// metropolis tracks the adaptive random walk on log ρ.
type metropolis struct {
	step     float64
	proposed int
	accepted int
	window   int // acceptances since the last adaptation
}

// NewChain builds a chain at its initial state: all effects zero, residual
// equal to y, variances at their prior means.
func NewChain(kind Kind, d *Data, priors Priors, rng *rand.Rand) (*Chain, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	m, _ := d.Additive.Dims()
	c := &Chain{
		kind:    kind,
		data:    d,
		priors:  priors,
		rng:     rng,
		resid:   append([]float64(nil), d.Y...),
		gA:      make([]float64, d.N()),
		beta:    make([]float64, m),
		varBeta: priors.VarBetaStart,
		varE:    priors.VarEStart,
		burning: true,
		mh:      metropolis{step: priors.ProposalScale},
	}
	c.fixedCols = d.fixedColumns()
	c.fixedXX = make([]float64, len(c.fixedCols))
	c.fixed = make([]float64, len(c.fixedCols))
	for k, x := range c.fixedCols {
		c.fixedXX[k] = floats.Dot(x, x)
	}
	if kind.perMarkerVariance() {
		c.varMarker = make([]float64, m)
		for j := range c.varMarker {
			c.varMarker[j] = priors.VarBetaStart
		}
	}
	if kind.mixture() {
		c.class = make([]int, m)
		c.pi = append([]float64(nil), priors.Pi...)
		c.counts = make([]int, len(c.pi))
		c.logp = make([]float64, len(c.pi))
	}
	if d.Dominant != nil {
		md, _ := d.Dominant.Dims()
		c.dom = make([]float64, md)
		c.gD = make([]float64, d.N())
		c.varD = priors.VarDStart
		c.rrd = kind == KindRR
		if c.rrd {
			c.rho = 0.1
			if priors.VarBetaStart > 0 && priors.VarDStart > 0 {
				c.rho = priors.VarDStart / priors.VarBetaStart
			}
			c.varD = c.rho * c.varBeta
		}
	}
	for _, re := range d.Random {
		lv := make([][]int, len(re.Levels))
		for i, l := range re.Index {
			if l >= 0 {
				lv[l] = append(lv[l], i)
			}
		}
		c.members = append(c.members, lv)
		c.randomU = append(c.randomU, make([]float64, len(re.Levels)))
		c.varU = append(c.varU, priors.VarUStart)
	}
	c.params = c.paramNames()
	c.post = newPosterior(c)
	return c, nil
}

func (c *Chain) paramNames() []string {
	names := []string{"var_e", "var_beta", "var_g", "h2"}
	if c.kind.mixture() {
		for k := range c.pi {
			names = append(names, fmt.Sprintf("pi_%d", k))
		}
		names = append(names, "nnz")
	}
	if c.dom != nil {
		names = append(names, "var_d", "var_gd")
		if c.rrd {
			names = append(names, "rho")
		}
	}
	for _, re := range c.data.Random {
		names = append(names, "var_u_"+re.Name)
	}
	return names
}

// Kind returns the model of this chain.
func (c *Chain) Kind() Kind { return c.kind }

// Params names the values returned by Sample, in order.
func (c *Chain) Params() []string { return c.params }

// Iteration returns the number of completed sweeps.
func (c *Chain) Iteration() int { return c.iter }

// Step runs one full Gibbs sweep.
func (c *Chain) Step() error {
	c.iter++
	c.sampleFixed()
	c.sampleRandom()
	c.sampleAdditive()
	if c.dom != nil {
		c.sampleDominant()
	}
	if c.kind.samplesPi() {
		c.samplePi()
	}
	c.sampleVariances()
	if c.rrd {
		c.updateRho()
	}
	if c.iter%refreshEvery == 0 {
		c.refresh()
	}
	return c.checkFinite()
}

// EndBurnin freezes the ρ proposal step.
func (c *Chain) EndBurnin() { c.burning = false }

// Sample returns the current value of every monitored parameter.
func (c *Chain) Sample() []float64 {
	out := make([]float64, 0, len(c.params))
	varG := stat.Variance(c.gA, nil)
	varGD := 0.0
	if c.dom != nil {
		varGD = stat.Variance(c.gD, nil)
	}
	total := varG + varGD + c.varE
	for _, v := range c.varU {
		total += v
	}
	out = append(out, c.varE, c.meanMarkerVariance(), varG, varG/total)
	if c.kind.mixture() {
		out = append(out, c.pi...)
		out = append(out, float64(len(c.beta)-c.counts[0]))
	}
	if c.dom != nil {
		out = append(out, c.varD, varGD)
		if c.rrd {
			out = append(out, c.rho)
		}
	}
	out = append(out, c.varU...)
	return out
}

func (c *Chain) meanMarkerVariance() float64 {
	if c.varMarker != nil {
		return stat.Mean(c.varMarker, nil)
	}
	return c.varBeta
}

// Record adds the current coefficients to the posterior accumulators.
func (c *Chain) Record() { c.post.add(c) }

// AcceptanceRate returns the fraction of accepted ρ proposals so far.
func (c *Chain) AcceptanceRate() float64 {
	if c.mh.proposed == 0 {
		return 0
	}
	return float64(c.mh.accepted) / float64(c.mh.proposed)
}

// ProposalStep returns the current random-walk step on log ρ.
func (c *Chain) ProposalStep() float64 { return c.mh.step }

// ResidualDrift returns max |y − Xb − Σ Zu − Aβ − Dd − r|, the distance
// between the running residual and a full recomputation.
func (c *Chain) ResidualDrift() float64 {
	want := c.recompute()
	return floats.Distance(want, c.resid, math.Inf(1))
}

// recompute returns the residual computed from scratch.
func (c *Chain) recompute() []float64 {
	r := append([]float64(nil), c.data.Y...)
	for k, x := range c.fixedCols {
		floats.AddScaled(r, -c.fixed[k], x)
	}
	for e, lv := range c.members {
		for l, idx := range lv {
			for _, i := range idx {
				r[i] -= c.randomU[e][l]
			}
		}
	}
	floats.Sub(r, geneticValues(c.data.Additive.X, c.beta))
	if c.dom != nil {
		floats.Sub(r, geneticValues(c.data.Dominant.X, c.dom))
	}
	return r
}

// refresh replaces the running residual and genetic values with exact ones.
func (c *Chain) refresh() {
	c.gA = geneticValues(c.data.Additive.X, c.beta)
	if c.dom != nil {
		c.gD = geneticValues(c.data.Dominant.X, c.dom)
	}
	c.resid = c.recompute()
}

// geneticValues returns Xᵀβ for a marker-major X.
func geneticValues(x *mat.Dense, beta []float64) []float64 {
	_, n := x.Dims()
	g := mat.NewVecDense(n, nil)
	g.MulVec(x.T(), mat.NewVecDense(len(beta), beta))
	return g.RawVector().Data
}

func (c *Chain) checkFinite() error {
	if !isFinite(c.rss) || !isFinite(c.varE) || !isFinite(c.varBeta) {
		return fmt.Errorf("chain iteration %d: residual sum of squares %v, var_e %v, var_beta %v: %w",
			c.iter, c.rss, c.varE, c.varBeta, genomic.ErrNumericOverflow)
	}
	return nil
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
