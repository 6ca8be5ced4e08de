package reml

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
)

// maxSingularStreak is the number of consecutive singular AI matrices after
// which the optimizer stops and reports convergence with a warning.
const maxSingularStreak = 3

// Optimizer runs REML iterations for one model.
type Optimizer struct {
	model  *Model
	policy Policy
	cfg    genomic.REMLConfig
}

// NewOptimizer creates an optimizer. Panics if the configured policy is unknown.
func NewOptimizer(m *Model, cfg genomic.REMLConfig) *Optimizer {
	if cfg.MaxIter <= 0 {
		panic(fmt.Sprintf("reml: MaxIter must be > 0, got %d", cfg.MaxIter))
	}
	return &Optimizer{model: m, policy: NewPolicy(cfg.Policy), cfg: cfg}
}

// Result is a fitted frequency model.
type Result struct {
	Theta      []float64 // (σₑ², σ₁², …, σᵣ²)
	Beta       []float64
	Py         *mat.VecDense
	LogLik     float64
	Iterations int
	Converged  bool // false when MaxIter was exhausted
	Report     *Report
}

func (o *Optimizer) initialTheta() []float64 {
	r := o.model.NumComponents()
	theta := make([]float64, r+1)
	for i := range theta {
		theta[i] = o.model.VarY / float64(r+1)
	}
	return theta
}

// restartTheta is the diagonal prior used after a non-positive-definite V.
func (o *Optimizer) restartTheta() []float64 {
	r := o.model.NumComponents()
	theta := make([]float64, r+1)
	theta[0] = o.model.VarY
	for i := 1; i <= r; i++ {
		theta[i] = 0.1 * o.model.VarY / float64(r)
	}
	return theta
}

// Run iterates until the relative change in θ drops below the tolerance or
// MaxIter is reached. On cancellation it returns the partial result together
// with an error wrapping genomic.ErrCancelled.
func (o *Optimizer) Run(ctx context.Context) (*Result, error) {
	m := o.model
	k := m.NumComponents() + 1
	lo, hi := o.cfg.Epsilon*m.VarY, m.VarY
	theta := o.initialTheta()
	hits := make([]int, k)
	frozen := make([]bool, k)
	restarted := false
	singular := 0
	converged := false
	it := 0

	for it < o.cfg.MaxIter {
		if err := ctx.Err(); err != nil {
			res, _ := o.finish(theta, frozen, it, false)
			return res, fmt.Errorf("reml cancelled at iteration %d: %w", it, genomic.ErrCancelled)
		}
		it++
		proj, err := project(m, theta)
		if errors.Is(err, genomic.ErrNonPSD) && !restarted {
			restarted = true
			logrus.Warnf("reml iteration %d: %v; restarting from diagonal prior", it, err)
			theta = o.restartTheta()
			clear(hits)
			clear(frozen)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reml iteration %d: %w", it, err)
		}

		st := &State{Theta: theta, Frozen: frozen, P: proj.P, Py: proj.Py, LogLik: proj.LogLik, Iteration: it}
		next, err := o.policy(m, st)
		switch {
		case errors.Is(err, genomic.ErrSingularHessian):
			singular++
			if singular >= maxSingularStreak {
				logrus.Warnf("reml iteration %d: average-information matrix singular %d times in a row; stopping at current estimate", it, singular)
				converged = true
			} else {
				logrus.Warnf("reml iteration %d: %v; taking one EM step", it, err)
				next, _ = EMStep(m, st)
			}
		case err != nil:
			return nil, err
		default:
			singular = 0
		}
		if converged {
			break
		}
		for i, v := range next {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("reml iteration %d: component %d is %v: %w", it, i, v, genomic.ErrNumericOverflow)
			}
		}
		constrain(next, lo, hi, hits, frozen)

		change := floats.Distance(next, theta, 2) / floats.Norm(theta, 2)
		logrus.Debugf("reml iteration %d: logL=%.6f θ=%v Δ=%.3g", it, proj.LogLik, next, change)
		theta = next
		if change < o.cfg.Tolerance {
			converged = true
			break
		}
	}
	if !converged {
		logrus.Warnf("reml: no convergence after %d iterations", it)
	}
	return o.finish(theta, frozen, it, converged)
}

// finish projects at the final θ and derives β, BLUPs and the report.
func (o *Optimizer) finish(theta []float64, frozen []bool, it int, converged bool) (*Result, error) {
	m := o.model
	proj, err := project(m, theta)
	if err != nil {
		return nil, fmt.Errorf("reml final projection: %w", err)
	}
	st := &State{Theta: theta, Frozen: frozen, P: proj.P, Py: proj.Py, LogLik: proj.LogLik, Iteration: it}
	averageInformation(st, gradient(m, st))
	cov, err := pseudoInverse(st.AI)
	if err != nil {
		logrus.Warnf("reml: standard errors unavailable: %v", err)
		cov = nil
	}
	for i, c := range m.components {
		c.SetEstimate(theta[i+1], proj.Py)
	}
	res := &Result{
		Theta:      append([]float64(nil), theta...),
		Beta:       append([]float64(nil), proj.Beta.RawVector().Data...),
		Py:         proj.Py,
		LogLik:     proj.LogLik,
		Iterations: it,
		Converged:  converged,
	}
	res.Report = newReport(m, res, cov)
	return res, nil
}
