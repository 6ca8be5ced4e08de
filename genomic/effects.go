package genomic

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// === Effects taxonomy ===
//
// A mixed model is y = Xβ + Σ Zᵢuᵢ + e. Fixed effects contribute columns of X;
// every other kind contributes one variance component with covariance
// Zᵢ Kᵢ Zᵢᵀ over the N individuals.

// VarianceComponent is a random term of the mixed model with one variance parameter.
type VarianceComponent interface {
	// ComponentName identifies the component in reports and fitted models.
	ComponentName() string
	// Covariance returns Z K Zᵀ as an N×N symmetric matrix.
	Covariance() *mat.SymDense
	// SetEstimate stores the fitted variance and computes the BLUP
	// u = σ² K Zᵀ P y from the projected phenotype py.
	SetEstimate(variance float64, py *mat.VecDense)
	// EstimatedVariance returns the last value passed to SetEstimate.
	EstimatedVariance() float64
}

// FixedEffect is a dense N×k design with one coefficient per column.
type FixedEffect struct {
	Name   string
	Design *mat.Dense
	Levels []string  // optional column labels; len(Levels) == k when set
	Beta   []float64 // len(Beta) == k once fitted
}

// NewFixedEffect panics if levels are given but do not match the design width.
func NewFixedEffect(name string, design *mat.Dense, levels []string) *FixedEffect {
	_, k := design.Dims()
	if len(levels) > 0 && len(levels) != k {
		panic(fmt.Sprintf("fixed effect %q: %d levels for %d design columns", name, len(levels), k))
	}
	return &FixedEffect{Name: name, Design: design, Levels: levels, Beta: make([]float64, k)}
}

// RandomEffect is a factor with q levels. Index maps each individual to its
// level (-1 for none), which is the sparse form of the N×q incidence matrix Z.
// A nil Kernel means identity.
type RandomEffect struct {
	Name     string
	Levels   []string
	Index    []int
	Kernel   *mat.SymDense
	U        []float64
	Variance float64
}

// NewRandomEffect builds a factor from one label per individual. Empty labels
// are treated as missing and map to level -1.
func NewRandomEffect(name string, labels []string) *RandomEffect {
	levelOf := make(map[string]int)
	var levels []string
	index := make([]int, len(labels))
	for i, l := range labels {
		if l == "" {
			index[i] = -1
			continue
		}
		k, ok := levelOf[l]
		if !ok {
			k = len(levels)
			levelOf[l] = k
			levels = append(levels, l)
		}
		index[i] = k
	}
	return &RandomEffect{Name: name, Levels: levels, Index: index, U: make([]float64, len(levels))}
}

func (r *RandomEffect) ComponentName() string { return r.Name }

func (r *RandomEffect) EstimatedVariance() float64 { return r.Variance }

func (r *RandomEffect) Covariance() *mat.SymDense {
	n := len(r.Index)
	c := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		li := r.Index[i]
		if li < 0 {
			continue
		}
		for j := i; j < n; j++ {
			lj := r.Index[j]
			if lj < 0 {
				continue
			}
			if r.Kernel == nil {
				if li == lj {
					c.SetSym(i, j, 1)
				}
				continue
			}
			c.SetSym(i, j, r.Kernel.At(li, lj))
		}
	}
	return c
}

func (r *RandomEffect) SetEstimate(variance float64, py *mat.VecDense) {
	r.Variance = variance
	ztpy := make([]float64, len(r.Levels))
	for i, l := range r.Index {
		if l >= 0 {
			ztpy[l] += py.AtVec(i)
		}
	}
	for a := range r.U {
		if r.Kernel == nil {
			r.U[a] = variance * ztpy[a]
			continue
		}
		s := 0.0
		for b := range ztpy {
			s += r.Kernel.At(a, b) * ztpy[b]
		}
		r.U[a] = variance * s
	}
}

// GeneticEffect is a random effect whose kernel is a GRM over the individuals.
// In the Bayesian setting it is also carried by per-marker effects.
type GeneticEffect struct {
	Name     string
	Encoding Encoding
	GRM      *mat.SymDense
	U        []float64 // genetic values, one per individual
	Markers  []float64 // marker effects, set by marker-effect models
	Variance float64
}

func NewGeneticEffect(name string, enc Encoding, grm *mat.SymDense) *GeneticEffect {
	n := 0
	if grm != nil {
		n = grm.SymmetricDim()
	}
	return &GeneticEffect{Name: name, Encoding: enc, GRM: grm, U: make([]float64, n)}
}

func (g *GeneticEffect) ComponentName() string { return g.Name }

func (g *GeneticEffect) EstimatedVariance() float64 { return g.Variance }

func (g *GeneticEffect) Covariance() *mat.SymDense { return g.GRM }

func (g *GeneticEffect) SetEstimate(variance float64, py *mat.VecDense) {
	g.Variance = variance
	var u mat.VecDense
	u.MulVec(g.GRM, py)
	u.ScaleVec(variance, &u)
	g.U = append(g.U[:0], u.RawVector().Data...)
}

// GxEEffect is the interaction of a genetic effect with an environment factor.
// Its kernel is G ∘ E with E[i][j] = 1 when individuals share an environment.
type GxEEffect struct {
	Name     string
	Genetic  *GeneticEffect
	Env      []int // environment level per individual, -1 for unknown
	U        []float64
	Variance float64
}

// NewGxEEffect panics if env does not cover every individual of the genetic effect.
func NewGxEEffect(name string, genetic *GeneticEffect, env []int) *GxEEffect {
	if n := genetic.GRM.SymmetricDim(); len(env) != n {
		panic(fmt.Sprintf("gxe effect %q: %d environment labels for %d individuals", name, len(env), n))
	}
	return &GxEEffect{Name: name, Genetic: genetic, Env: env, U: make([]float64, len(env))}
}

func (x *GxEEffect) ComponentName() string { return x.Name }

func (x *GxEEffect) EstimatedVariance() float64 { return x.Variance }

func (x *GxEEffect) Covariance() *mat.SymDense {
	n := len(x.Env)
	c := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if x.Env[i] < 0 {
			continue
		}
		for j := i; j < n; j++ {
			if x.Env[i] == x.Env[j] {
				c.SetSym(i, j, x.Genetic.GRM.At(i, j))
			}
		}
	}
	return c
}

func (x *GxEEffect) SetEstimate(variance float64, py *mat.VecDense) {
	x.Variance = variance
	var u mat.VecDense
	u.MulVec(x.Covariance(), py)
	u.ScaleVec(variance, &u)
	x.U = append(x.U[:0], u.RawVector().Data...)
}

// Effects is the registry of model terms. Component indices returned by
// Components are stable for the registry's lifetime: genetic effects first,
// then GxE, then other random effects, each in insertion order.
type Effects struct {
	Fixed   []*FixedEffect
	Genetic []*GeneticEffect
	GxE     []*GxEEffect
	Random  []*RandomEffect
}

// Components returns every variance component in registry order.
func (e *Effects) Components() []VarianceComponent {
	out := make([]VarianceComponent, 0, len(e.Genetic)+len(e.GxE)+len(e.Random))
	for _, g := range e.Genetic {
		out = append(out, g)
	}
	for _, x := range e.GxE {
		out = append(out, x)
	}
	for _, r := range e.Random {
		out = append(out, r)
	}
	return out
}

// Dataset couples a phenotype vector with the model terms fitted to it.
type Dataset struct {
	SampleIDs []string
	Y         []float64
	Effects   Effects
}

// N returns the number of individuals.
func (d *Dataset) N() int { return len(d.Y) }

// Validate checks that every term covers exactly the N individuals.
func (d *Dataset) Validate() error {
	n := len(d.Y)
	if len(d.SampleIDs) != 0 && len(d.SampleIDs) != n {
		return fmt.Errorf("%d sample IDs for %d phenotypes", len(d.SampleIDs), n)
	}
	for _, f := range d.Effects.Fixed {
		r, k := f.Design.Dims()
		if r != n {
			return fmt.Errorf("fixed effect %q: design has %d rows, want %d", f.Name, r, n)
		}
		if len(f.Beta) != k {
			return fmt.Errorf("fixed effect %q: %d coefficients for %d columns", f.Name, len(f.Beta), k)
		}
	}
	for _, g := range d.Effects.Genetic {
		if g.GRM == nil || g.GRM.SymmetricDim() != n {
			return fmt.Errorf("genetic effect %q: GRM does not match %d individuals", g.Name, n)
		}
	}
	for _, x := range d.Effects.GxE {
		if len(x.Env) != n {
			return fmt.Errorf("gxe effect %q: %d environment labels, want %d", x.Name, len(x.Env), n)
		}
	}
	for _, r := range d.Effects.Random {
		if len(r.Index) != n {
			return fmt.Errorf("random effect %q: %d rows, want %d", r.Name, len(r.Index), n)
		}
		if r.Kernel != nil && r.Kernel.SymmetricDim() != len(r.Levels) {
			return fmt.Errorf("random effect %q: kernel is %d×%d for %d levels",
				r.Name, r.Kernel.SymmetricDim(), r.Kernel.SymmetricDim(), len(r.Levels))
		}
	}
	return nil
}

// FixedDesign concatenates all fixed-effect designs column-wise. With no
// fixed effects registered it returns a single intercept column.
func (d *Dataset) FixedDesign() *mat.Dense {
	n := len(d.Y)
	k := 0
	for _, f := range d.Effects.Fixed {
		_, c := f.Design.Dims()
		k += c
	}
	if k == 0 {
		x := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			x.Set(i, 0, 1)
		}
		return x
	}
	x := mat.NewDense(n, k, nil)
	off := 0
	for _, f := range d.Effects.Fixed {
		_, c := f.Design.Dims()
		x.Slice(0, n, off, off+c).(*mat.Dense).Copy(f.Design)
		off += c
	}
	return x
}

// SetFixedCoefficients distributes a stacked β (as laid out by FixedDesign)
// back onto the fixed effects.
func (d *Dataset) SetFixedCoefficients(beta []float64) {
	off := 0
	for _, f := range d.Effects.Fixed {
		_, c := f.Design.Dims()
		f.Beta = append(f.Beta[:0], beta[off:off+c]...)
		off += c
	}
}
