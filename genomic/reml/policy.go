package reml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
)

// State is the optimizer state visible to a policy.
type State struct {
	Theta     []float64 // (σₑ², σ₁², …, σᵣ²)
	Frozen    []bool    // components converged at zero
	P         *mat.SymDense
	Py        *mat.VecDense
	Gradient  []float64 // ∂ logL / ∂θ
	AI        *mat.SymDense
	LogLik    float64
	Iteration int
}

// Policy computes the next θ from the current state.
type Policy func(m *Model, st *State) ([]float64, error)

// NewPolicy creates a policy by name. Valid names are defined in
// genomic.ValidREMLPolicies. Empty string defaults to "ai".
// Panics on unrecognized names.
func NewPolicy(name string) Policy {
	if !genomic.ValidREMLPolicies[name] {
		panic(fmt.Sprintf("unknown reml policy %q", name))
	}
	switch name {
	case "", "ai":
		return AIStep
	case "em":
		return EMStep
	default:
		panic(fmt.Sprintf("unhandled reml policy %q", name))
	}
}

// gradient fills st.Gradient with gᵢ = ½(−tr(PKᵢ) + (Py)ᵀKᵢ(Py)) and returns
// the vectors Kᵢ Py for reuse.
func gradient(m *Model, st *State) []*mat.VecDense {
	k := len(st.Theta)
	st.Gradient = make([]float64, k)
	kpy := make([]*mat.VecDense, k)
	for i := 0; i < k; i++ {
		K := m.kernel(i)
		kpy[i] = kernelTimes(K, st.Py)
		st.Gradient[i] = 0.5 * (-traceProduct(st.P, K) + mat.Dot(st.Py, kpy[i]))
	}
	return kpy
}

// averageInformation fills st.AI with AIᵢⱼ = ½ (KᵢPy)ᵀ P (KⱼPy).
func averageInformation(st *State, kpy []*mat.VecDense) {
	k := len(kpy)
	pkpy := make([]*mat.VecDense, k)
	for j := range kpy {
		pkpy[j] = mat.NewVecDense(kpy[j].Len(), nil)
		pkpy[j].MulVec(st.P, kpy[j])
	}
	st.AI = mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			st.AI.SetSym(i, j, 0.5*mat.Dot(kpy[i], pkpy[j]))
		}
	}
}

// EMStep applies the first-order fixed-point update
// σᵢ² ← σᵢ² + σᵢ⁴ ((Py)ᵀKᵢ(Py) − tr(PKᵢ)) / n.
// Starting from positive values it cannot produce a negative variance.
func EMStep(m *Model, st *State) ([]float64, error) {
	n := float64(m.N())
	gradient(m, st)
	next := make([]float64, len(st.Theta))
	for i, s := range st.Theta {
		if st.Frozen != nil && st.Frozen[i] {
			next[i] = s
			continue
		}
		next[i] = s + 2*s*s*st.Gradient[i]/n
	}
	return next, nil
}

// AIStep solves AI·Δθ = g over the free components and returns θ + Δθ.
func AIStep(m *Model, st *State) ([]float64, error) {
	kpy := gradient(m, st)
	averageInformation(st, kpy)

	free := freeIndices(st)
	next := append([]float64(nil), st.Theta...)
	if len(free) == 0 {
		return next, nil
	}
	ai := mat.NewSymDense(len(free), nil)
	g := mat.NewVecDense(len(free), nil)
	for a, i := range free {
		g.SetVec(a, st.Gradient[i])
		for b := a; b < len(free); b++ {
			ai.SetSym(a, b, st.AI.At(i, free[b]))
		}
	}
	inv, err := pseudoInverse(ai)
	if err != nil {
		return nil, fmt.Errorf("iteration %d: %w", st.Iteration, err)
	}
	var delta mat.VecDense
	delta.MulVec(inv, g)
	for a, i := range free {
		next[i] += delta.AtVec(a)
	}
	return next, nil
}

func freeIndices(st *State) []int {
	var free []int
	for i := range st.Theta {
		if st.Frozen == nil || !st.Frozen[i] {
			free = append(free, i)
		}
	}
	return free
}

// pseudoInverse inverts a symmetric matrix, falling back to the SVD
// pseudo-inverse when it is singular or badly conditioned.
func pseudoInverse(a *mat.SymDense) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(a); err == nil && finite(&inv) {
		return &inv, nil
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, genomic.ErrSingularHessian
	}
	values := svd.Values(nil)
	if len(values) == 0 || !(values[0] > 0) {
		return nil, genomic.ErrSingularHessian
	}
	tol := values[0] * 1e-10 * float64(len(values))
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	k := len(values)
	sinv := mat.NewDiagDense(k, nil)
	for i, s := range values {
		if s > tol {
			sinv.SetDiag(i, 1/s)
		}
	}
	var vs, out mat.Dense
	vs.Mul(&v, sinv)
	out.Mul(&vs, u.T())
	if !finite(&out) {
		return nil, genomic.ErrSingularHessian
	}
	return &out, nil
}

func finite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// constrain clamps each free θᵢ to [lo, hi]. A variance component (i ≥ 1)
// clamped at lo on two consecutive iterations is treated as converged at zero
// and frozen there. The residual θ₀ is only clamped. hits carries the
// per-component streak across iterations.
func constrain(theta []float64, lo, hi float64, hits []int, frozen []bool) {
	for i := range theta {
		if frozen[i] {
			theta[i] = 0
			continue
		}
		switch {
		case theta[i] < lo:
			theta[i] = lo
			hits[i]++
			if i > 0 && hits[i] >= 2 {
				frozen[i] = true
				theta[i] = 0
			}
		case theta[i] > hi:
			theta[i] = hi
			hits[i] = 0
		default:
			hits[i] = 0
		}
	}
}
