package bayes

// Effects holds posterior means of the coefficients of one or more chains.
// PIP is the posterior inclusion probability of each additive marker; it is
// 1 for models without a null class.
type Effects struct {
	Additive []float64            `yaml:"additive"`
	PIP      []float64            `yaml:"pip"`
	Dominant []float64            `yaml:"dominant,omitempty"`
	Fixed    []float64            `yaml:"fixed"`
	Random   map[string][]float64 `yaml:"random,omitempty"`
	Samples  int                  `yaml:"samples"`
}

// posterior accumulates coefficient sums over recorded samples.
type posterior struct {
	beta, incl, dom, fixed []float64
	random                 [][]float64
	n                      int
}

func newPosterior(c *Chain) posterior {
	p := posterior{
		beta:  make([]float64, len(c.beta)),
		incl:  make([]float64, len(c.beta)),
		fixed: make([]float64, len(c.fixed)),
	}
	if c.dom != nil {
		p.dom = make([]float64, len(c.dom))
	}
	for _, u := range c.randomU {
		p.random = append(p.random, make([]float64, len(u)))
	}
	return p
}

func (p *posterior) add(c *Chain) {
	p.n++
	for j, b := range c.beta {
		p.beta[j] += b
		if c.class == nil || c.class[j] > 0 {
			p.incl[j]++
		}
	}
	for j, d := range c.dom {
		p.dom[j] += d
	}
	for k, b := range c.fixed {
		p.fixed[k] += b
	}
	for e, u := range c.randomU {
		for l, v := range u {
			p.random[e][l] += v
		}
	}
}

// Effects returns the posterior means accumulated by Record. Before any
// sample is recorded it returns the current state with Samples == 0.
func (c *Chain) Effects() *Effects {
	p := &c.post
	if p.n == 0 {
		e := &Effects{
			Additive: append([]float64(nil), c.beta...),
			PIP:      make([]float64, len(c.beta)),
			Dominant: append([]float64(nil), c.dom...),
			Fixed:    append([]float64(nil), c.fixed...),
		}
		for j := range e.PIP {
			if c.class == nil || c.class[j] > 0 {
				e.PIP[j] = 1
			}
		}
		e.Random = c.randomMap(c.randomU)
		return e
	}
	inv := 1 / float64(p.n)
	e := &Effects{
		Additive: scaled(p.beta, inv),
		PIP:      scaled(p.incl, inv),
		Dominant: scaled(p.dom, inv),
		Fixed:    scaled(p.fixed, inv),
		Samples:  p.n,
	}
	means := make([][]float64, len(p.random))
	for e, u := range p.random {
		means[e] = scaled(u, inv)
	}
	e.Random = c.randomMap(means)
	return e
}

func (c *Chain) randomMap(u [][]float64) map[string][]float64 {
	if len(u) == 0 {
		return nil
	}
	out := make(map[string][]float64, len(u))
	for e, re := range c.data.Random {
		out[re.Name] = append([]float64(nil), u[e]...)
	}
	return out
}

func scaled(s []float64, f float64) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = v * f
	}
	return out
}

// MergeEffects combines per-chain posterior means weighted by their sample
// counts. Chains that recorded nothing get equal weight if no chain did.
func MergeEffects(parts []*Effects) *Effects {
	if len(parts) == 0 {
		return nil
	}
	total := 0
	for _, p := range parts {
		total += p.Samples
	}
	weight := func(p *Effects) float64 {
		if total == 0 {
			return 1 / float64(len(parts))
		}
		return float64(p.Samples) / float64(total)
	}
	first := parts[0]
	out := &Effects{
		Additive: make([]float64, len(first.Additive)),
		PIP:      make([]float64, len(first.PIP)),
		Fixed:    make([]float64, len(first.Fixed)),
		Samples:  total,
	}
	if first.Dominant != nil {
		out.Dominant = make([]float64, len(first.Dominant))
	}
	if first.Random != nil {
		out.Random = make(map[string][]float64, len(first.Random))
		for name, u := range first.Random {
			out.Random[name] = make([]float64, len(u))
		}
	}
	for _, p := range parts {
		w := weight(p)
		addScaled(out.Additive, p.Additive, w)
		addScaled(out.PIP, p.PIP, w)
		addScaled(out.Dominant, p.Dominant, w)
		addScaled(out.Fixed, p.Fixed, w)
		for name, u := range p.Random {
			addScaled(out.Random[name], u, w)
		}
	}
	return out
}

func addScaled(dst, s []float64, w float64) {
	for i := range dst {
		dst[i] += w * s[i]
	}
}
