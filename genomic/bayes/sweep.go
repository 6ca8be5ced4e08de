package bayes

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// rhs returns xᵀr + ‖x‖²·old, the right-hand side of an effect's full
// conditional with its current contribution added back to the residual.
func rhs(x, r []float64, xx, old float64) float64 {
	return floats.Dot(x, r) + xx*old
}

// updateResidual moves an effect with column x by delta, removing x·delta
// from the residual r and adding it to the genetic values g (if non-nil).
func updateResidual(r, g, x []float64, delta float64) {
	if delta == 0 {
		return
	}
	floats.AddScaled(r, -delta, x)
	if g != nil {
		floats.AddScaled(g, delta, x)
	}
}

// scaledInvChiSq draws ss/χ²(df), the posterior of a variance whose prior is
// scaled-inverse-χ² once ss collects the sum of squares and ν·S.
func scaledInvChiSq(rng *rand.Rand, df, ss float64) float64 {
	return ss / distuv.ChiSquared{K: df, Src: rng}.Rand()
}

// drawClass samples an index proportionally to exp(logp).
func drawClass(rng *rand.Rand, logp []float64) int {
	lse := floats.LogSumExp(logp)
	u := rng.Float64()
	acc := 0.0
	for k, lp := range logp {
		acc += math.Exp(lp - lse)
		if u < acc {
			return k
		}
	}
	return len(logp) - 1
}

func (c *Chain) sampleFixed() {
	for k, x := range c.fixedCols {
		xx := c.fixedXX[k]
		if xx == 0 {
			continue
		}
		old := c.fixed[k]
		v := c.varE / xx
		nw := rhs(x, c.resid, xx, old)/xx + math.Sqrt(v)*c.rng.NormFloat64()
		updateResidual(c.resid, nil, x, nw-old)
		c.fixed[k] = nw
	}
}

func (c *Chain) sampleRandom() {
	for e, lv := range c.members {
		u := c.randomU[e]
		ratio := c.varE / c.varU[e]
		for l, idx := range lv {
			if len(idx) == 0 {
				continue
			}
			old := u[l]
			s := 0.0
			for _, i := range idx {
				s += c.resid[i]
			}
			nl := float64(len(idx))
			lhs := nl + ratio
			nw := (s+nl*old)/lhs + math.Sqrt(c.varE/lhs)*c.rng.NormFloat64()
			for _, i := range idx {
				c.resid[i] -= nw - old
			}
			u[l] = nw
		}
	}
}

// ridge draws a marker effect from its normal full conditional with prior
// variance v and returns the new value after updating the residual.
func (c *Chain) ridge(x []float64, xx, old, v float64, g []float64) float64 {
	nw := 0.0
	if xx > 0 && v > 0 {
		lhs := xx + c.varE/v
		nw = rhs(x, c.resid, xx, old)/lhs + math.Sqrt(c.varE/lhs)*c.rng.NormFloat64()
	}
	updateResidual(c.resid, g, x, nw-old)
	return nw
}

// mixture draws a class indicator and then the marker effect. vars holds the
// class variances with vars[0] == 0 for the null class.
func (c *Chain) mixture(x []float64, xx, old float64, vars []float64, g []float64) (float64, int) {
	if xx == 0 {
		updateResidual(c.resid, g, x, -old)
		return 0, 0
	}
	r := rhs(x, c.resid, xx, old)
	for k, v := range vars {
		if c.pi[k] <= 0 {
			c.logp[k] = math.Inf(-1)
			continue
		}
		s := xx*xx*v + xx*c.varE
		c.logp[k] = math.Log(c.pi[k]) - 0.5*math.Log(s) - 0.5*r*r/s
	}
	k := drawClass(c.rng, c.logp)
	nw := 0.0
	if vars[k] > 0 {
		lhs := xx + c.varE/vars[k]
		nw = r/lhs + math.Sqrt(c.varE/lhs)*c.rng.NormFloat64()
	}
	updateResidual(c.resid, g, x, nw-old)
	return nw, k
}

// sampleAdditive dispatches once on the model and sweeps every marker.
func (c *Chain) sampleAdditive() {
	m := c.data.Additive
	p := c.priors
	for k := range c.counts {
		c.counts[k] = 0
	}
	switch c.kind {
	case KindRR:
		for j := range c.beta {
			c.beta[j] = c.ridge(m.Row(j), m.SumSq[j], c.beta[j], c.varBeta, c.gA)
		}
	case KindA:
		for j := range c.beta {
			b := c.ridge(m.Row(j), m.SumSq[j], c.beta[j], c.varMarker[j], c.gA)
			c.beta[j] = b
			c.varMarker[j] = scaledInvChiSq(c.rng, p.DfBeta+1, b*b+p.DfBeta*p.ScaleBeta)
		}
	case KindB, KindBpi:
		vars := []float64{0, 0}
		for j := range c.beta {
			vars[1] = c.varMarker[j]
			b, k := c.mixture(m.Row(j), m.SumSq[j], c.beta[j], vars, c.gA)
			c.beta[j], c.class[j] = b, k
			c.counts[k]++
			if k == 0 {
				c.varMarker[j] = scaledInvChiSq(c.rng, p.DfBeta, p.DfBeta*p.ScaleBeta)
			} else {
				c.varMarker[j] = scaledInvChiSq(c.rng, p.DfBeta+1, b*b+p.DfBeta*p.ScaleBeta)
			}
		}
	case KindC, KindCpi:
		vars := []float64{0, c.varBeta}
		for j := range c.beta {
			b, k := c.mixture(m.Row(j), m.SumSq[j], c.beta[j], vars, c.gA)
			c.beta[j], c.class[j] = b, k
			c.counts[k]++
		}
	case KindR:
		vars := make([]float64, len(p.Gammas))
		for k, gm := range p.Gammas {
			vars[k] = gm * c.varBeta
		}
		for j := range c.beta {
			b, k := c.mixture(m.Row(j), m.SumSq[j], c.beta[j], vars, c.gA)
			c.beta[j], c.class[j] = b, k
			c.counts[k]++
		}
	}
}

func (c *Chain) sampleDominant() {
	m := c.data.Dominant
	for j := range c.dom {
		c.dom[j] = c.ridge(m.Row(j), m.SumSq[j], c.dom[j], c.varD, c.gD)
	}
}

func (c *Chain) samplePi() {
	alpha := make([]float64, len(c.counts))
	for k, n := range c.counts {
		alpha[k] = float64(n) + 1
	}
	c.pi = distmv.NewDirichlet(alpha, c.rng).Rand(c.pi)
}

func (c *Chain) sampleVariances() {
	p := c.priors
	c.rss = floats.Dot(c.resid, c.resid)
	c.varE = scaledInvChiSq(c.rng, float64(len(c.resid))+p.DfE, c.rss+p.DfE*p.ScaleE)

	for e, u := range c.randomU {
		c.varU[e] = scaledInvChiSq(c.rng, float64(len(u))+p.DfU, floats.Dot(u, u)+p.DfU*p.ScaleU)
	}

	m := float64(len(c.beta))
	switch c.kind {
	case KindRR:
		ss := floats.Dot(c.beta, c.beta)
		if c.rrd {
			md := float64(len(c.dom))
			ssd := floats.Dot(c.dom, c.dom)
			c.varBeta = scaledInvChiSq(c.rng, m+md+p.DfBeta, ss+ssd/c.rho+p.DfBeta*p.ScaleBeta)
			c.varD = c.rho * c.varBeta
			return
		}
		c.varBeta = scaledInvChiSq(c.rng, m+p.DfBeta, ss+p.DfBeta*p.ScaleBeta)
	case KindC, KindCpi:
		ss, nnz := 0.0, 0
		for j, b := range c.beta {
			if c.class[j] > 0 {
				ss += b * b
				nnz++
			}
		}
		c.varBeta = scaledInvChiSq(c.rng, float64(nnz)+p.DfBeta, ss+p.DfBeta*p.ScaleBeta)
	case KindR:
		ss, nnz := 0.0, 0
		for j, b := range c.beta {
			if k := c.class[j]; k > 0 {
				ss += b * b / p.Gammas[k]
				nnz++
			}
		}
		c.varBeta = scaledInvChiSq(c.rng, float64(nnz)+p.DfBeta, ss+p.DfBeta*p.ScaleBeta)
	}
	if c.dom != nil {
		md := float64(len(c.dom))
		c.varD = scaledInvChiSq(c.rng, md+p.DfD, floats.Dot(c.dom, c.dom)+p.DfD*p.ScaleD)
	}
}

// updateRho is the Metropolis–Hastings block for ρ = σd²/σβ². The proposal
// is a symmetric random walk on log ρ; the log-normal prior is expressed on
// the same scale so no Jacobian term is needed.
func (c *Chain) updateRho() {
	md := float64(len(c.dom))
	ssd := floats.Dot(c.dom, c.dom)
	p := c.priors
	logPost := func(l float64) float64 {
		v := math.Exp(l) * c.varBeta
		z := (l - p.RhoLogMean) / p.RhoLogSD
		return -0.5*md*math.Log(v) - 0.5*ssd/v - 0.5*z*z
	}
	cur := math.Log(c.rho)
	prop := cur + c.mh.step*c.rng.NormFloat64()
	delta := logPost(prop) - logPost(cur)
	c.mh.proposed++
	if delta >= 0 || math.Log(c.rng.Float64()) < delta {
		c.rho = math.Exp(prop)
		c.mh.accepted++
		c.mh.window++
	}
	c.varD = c.rho * c.varBeta
	if c.burning && c.mh.proposed%adaptEvery == 0 {
		c.mh.adapt()
	}
}

// adapt scales the step toward the target acceptance rate.
func (mh *metropolis) adapt() {
	rate := float64(mh.window) / adaptEvery
	mh.step *= math.Exp(rate - targetAcceptance)
	mh.step = math.Min(math.Max(mh.step, 1e-3), 10)
	mh.window = 0
}
