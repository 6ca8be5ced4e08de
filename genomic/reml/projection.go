package reml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
)

// projection is the per-iteration data flow derived from θ.
type projection struct {
	P      *mat.SymDense
	Py     *mat.VecDense
	Beta   *mat.VecDense
	LogLik float64
}

// project builds V = σₑ²I + Σ σᵢ²Kᵢ, factors it and forms
// P = V⁻¹ − V⁻¹X(XᵀV⁻¹X)⁻¹XᵀV⁻¹. All solves go through Cholesky.
func project(m *Model, theta []float64) (*projection, error) {
	n := m.N()
	v := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetSym(i, i, theta[0])
	}
	for k, K := range m.Kernels {
		v.AddSym(v, scaledSym(theta[k+1], K))
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(v); !ok {
		return nil, fmt.Errorf("factorizing V at θ=%v: %w", theta, genomic.ErrNonPSD)
	}
	var vinv mat.SymDense
	if err := chol.InverseTo(&vinv); err != nil {
		return nil, fmt.Errorf("inverting V at θ=%v: %v: %w", theta, err, genomic.ErrNonPSD)
	}

	var vinvX mat.Dense
	if err := chol.SolveTo(&vinvX, m.X); err != nil {
		return nil, fmt.Errorf("solving V⁻¹X: %v: %w", err, genomic.ErrNonPSD)
	}
	_, p := m.X.Dims()
	var xtvixDense mat.Dense
	xtvixDense.Mul(m.X.T(), &vinvX)
	xtvix := mat.NewSymDense(p, nil)
	for a := 0; a < p; a++ {
		for b := a; b < p; b++ {
			xtvix.SetSym(a, b, 0.5*(xtvixDense.At(a, b)+xtvixDense.At(b, a)))
		}
	}
	var cx mat.Cholesky
	if ok := cx.Factorize(xtvix); !ok {
		return nil, fmt.Errorf("fixed-effect design is rank deficient: %w", genomic.ErrNonPSD)
	}

	// P = V⁻¹ − V⁻¹X (XᵀV⁻¹X)⁻¹ (V⁻¹X)ᵀ
	var inner mat.Dense
	if err := cx.SolveTo(&inner, vinvX.T()); err != nil {
		return nil, fmt.Errorf("solving XᵀV⁻¹X: %v: %w", err, genomic.ErrNonPSD)
	}
	var corr mat.Dense
	corr.Mul(&vinvX, &inner)
	P := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			P.SetSym(i, j, vinv.At(i, j)-0.5*(corr.At(i, j)+corr.At(j, i)))
		}
	}

	py := mat.NewVecDense(n, nil)
	py.MulVec(P, m.Y)

	var xtviy mat.VecDense
	xtviy.MulVec(vinvX.T(), m.Y)
	beta := mat.NewVecDense(p, nil)
	if err := cx.SolveVecTo(beta, &xtviy); err != nil {
		return nil, fmt.Errorf("solving for β: %v: %w", err, genomic.ErrNonPSD)
	}

	ll := -0.5 * (chol.LogDet() + cx.LogDet() + mat.Dot(m.Y, py))
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return nil, fmt.Errorf("log-likelihood at θ=%v is %v: %w", theta, ll, genomic.ErrNumericOverflow)
	}
	return &projection{P: P, Py: py, Beta: beta, LogLik: ll}, nil
}

func scaledSym(alpha float64, k *mat.SymDense) *mat.SymDense {
	var out mat.SymDense
	out.ScaleSym(alpha, k)
	return &out
}

// traceProduct returns tr(P K) for symmetric P and K; nil K means identity.
func traceProduct(P, K *mat.SymDense) float64 {
	n := P.SymmetricDim()
	if K == nil {
		return mat.Trace(P)
	}
	pr, kr := P.RawSymmetric(), K.RawSymmetric()
	s := 0.0
	for i := 0; i < n; i++ {
		s += pr.Data[i*pr.Stride+i] * kr.Data[i*kr.Stride+i]
		for j := i + 1; j < n; j++ {
			s += 2 * pr.Data[i*pr.Stride+j] * kr.Data[i*kr.Stride+j]
		}
	}
	return s
}

// kernelTimes returns K v; nil K means identity.
func kernelTimes(K *mat.SymDense, v *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	if K == nil {
		out.CopyVec(v)
		return out
	}
	out.MulVec(K, v)
	return out
}
