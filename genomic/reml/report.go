package reml

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Estimate is one variance component with its standard error.
type Estimate struct {
	Name     string
	Variance float64
	SE       float64 // NaN when the information matrix could not be inverted
}

// Heritability is σᵢ² / Σ σ² for one genetic component.
type Heritability struct {
	Name  string
	Value float64
	SE    float64
}

// Report summarizes a fit for the text output.
type Report struct {
	Residual     Estimate
	Components   []Estimate
	Phenotypic   Estimate // Σ σ²
	Heritability []Heritability
	LogLik       float64
	AIC          float64
	BIC          float64
	N            int
	NumFixed     int
	Iterations   int
	Converged    bool
	Sampling     *mat.Dense // inverse AI, the sampling covariance of θ
}

func newReport(m *Model, res *Result, cov *mat.Dense) *Report {
	k := len(res.Theta)
	se := func(i int) float64 {
		if cov == nil {
			return math.NaN()
		}
		return math.Sqrt(math.Max(cov.At(i, i), 0))
	}
	_, p := m.X.Dims()
	rep := &Report{
		Residual:   Estimate{Name: "residual", Variance: res.Theta[0], SE: se(0)},
		LogLik:     res.LogLik,
		N:          m.N(),
		NumFixed:   p,
		Iterations: res.Iterations,
		Converged:  res.Converged,
		Sampling:   cov,
	}
	total := 0.0
	for _, v := range res.Theta {
		total += v
	}
	// var(Σθ) = 1ᵀ C 1
	totalVar := 0.0
	if cov != nil {
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				totalVar += cov.At(i, j)
			}
		}
	}
	rep.Phenotypic = Estimate{Name: "phenotypic", Variance: total, SE: math.Sqrt(math.Max(totalVar, 0))}
	if cov == nil {
		rep.Phenotypic.SE = math.NaN()
	}
	for i, name := range m.Names {
		rep.Components = append(rep.Components, Estimate{Name: name, Variance: res.Theta[i+1], SE: se(i + 1)})
		if !m.Genetic[i] {
			continue
		}
		h := Heritability{Name: name, Value: res.Theta[i+1] / total, SE: math.NaN()}
		if cov != nil {
			// delta method: ∂h/∂θⱼ = (δᵢⱼ·total − θᵢ) / total²
			grad := make([]float64, k)
			for j := range grad {
				grad[j] = -res.Theta[i+1] / (total * total)
			}
			grad[i+1] += 1 / total
			v := 0.0
			for a := 0; a < k; a++ {
				for b := 0; b < k; b++ {
					v += grad[a] * cov.At(a, b) * grad[b]
				}
			}
			h.SE = math.Sqrt(math.Max(v, 0))
		}
		rep.Heritability = append(rep.Heritability, h)
	}
	// REML information criteria count the variance parameters.
	rep.AIC = -2*res.LogLik + 2*float64(k)
	rep.BIC = -2*res.LogLik + float64(k)*math.Log(float64(m.N()-p))
	return rep
}

// WriteTo writes the report as an aligned text table.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%-16s %14s %14s\n", "Source", "Variance", "SE")
	for _, e := range r.Components {
		fmt.Fprintf(&b, "%-16s %14.6g %14.6g\n", "V("+e.Name+")", e.Variance, e.SE)
	}
	fmt.Fprintf(&b, "%-16s %14.6g %14.6g\n", "V(e)", r.Residual.Variance, r.Residual.SE)
	fmt.Fprintf(&b, "%-16s %14.6g %14.6g\n", "Vp", r.Phenotypic.Variance, r.Phenotypic.SE)
	for _, h := range r.Heritability {
		fmt.Fprintf(&b, "%-16s %14.6g %14.6g\n", "h2("+h.Name+")", h.Value, h.SE)
	}
	fmt.Fprintf(&b, "logL\t%.6f\n", r.LogLik)
	fmt.Fprintf(&b, "AIC\t%.6f\n", r.AIC)
	fmt.Fprintf(&b, "BIC\t%.6f\n", r.BIC)
	fmt.Fprintf(&b, "n\t%d\n", r.N)
	fmt.Fprintf(&b, "iterations\t%d\n", r.Iterations)
	fmt.Fprintf(&b, "converged\t%t\n", r.Converged)
	return b.WriteTo(w)
}
