package mcmc

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ParamSummary is the pooled posterior summary of one monitored parameter.
type ParamSummary struct {
	Name   string  `csv:"param"`
	Mean   float64 `csv:"mean"`
	SD     float64 `csv:"sd"`
	Q025   float64 `csv:"q2.5"`
	Median float64 `csv:"q50"`
	Q975   float64 `csv:"q97.5"`
	RHat   float64 `csv:"rhat"`
	N      int     `csv:"n"`
}

// Summarize pools the retained samples of every store. R̂ is NaN with fewer
// than two chains or fewer than two samples per chain.
func Summarize(stores []*Store) []ParamSummary {
	if len(stores) == 0 {
		return nil
	}
	params := stores[0].Params()
	out := make([]ParamSummary, len(params))
	for p, name := range params {
		traces := make([][]float64, len(stores))
		var pooled []float64
		for k, s := range stores {
			traces[k] = s.Column(p)
			pooled = append(pooled, traces[k]...)
		}
		ps := ParamSummary{Name: name, N: len(pooled), RHat: GelmanRubin(traces)}
		if len(pooled) > 0 {
			ps.Mean, ps.SD = stat.MeanStdDev(pooled, nil)
			sort.Float64s(pooled)
			ps.Q025 = percentile(pooled, 2.5)
			ps.Median = percentile(pooled, 50)
			ps.Q975 = percentile(pooled, 97.5)
		}
		if len(pooled) < 2 {
			ps.SD = 0
		}
		out[p] = ps
	}
	return out
}

// percentile returns the p-th percentile of sorted data by linear interpolation.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	rank := p / 100.0 * float64(n-1)
	lowerIdx := int(math.Floor(rank))
	upperIdx := int(math.Ceil(rank))
	if lowerIdx == upperIdx || upperIdx >= n {
		return sorted[min(lowerIdx, n-1)]
	}
	return sorted[lowerIdx] + (sorted[upperIdx]-sorted[lowerIdx])*(rank-float64(lowerIdx))
}

// GelmanRubin returns the potential scale reduction factor of several
// traces, truncated to the shortest one. Constant traces that agree give 1.
func GelmanRubin(traces [][]float64) float64 {
	m := len(traces)
	if m < 2 {
		return math.NaN()
	}
	n := len(traces[0])
	for _, t := range traces {
		n = min(n, len(t))
	}
	if n < 2 {
		return math.NaN()
	}
	means := make([]float64, m)
	w := 0.0
	for k, t := range traces {
		var v float64
		means[k], v = stat.MeanVariance(t[len(t)-n:], nil)
		w += v
	}
	w /= float64(m)
	b := float64(n) * stat.Variance(means, nil)
	if w == 0 {
		if b == 0 {
			return 1
		}
		return math.Inf(1)
	}
	vplus := float64(n-1)/float64(n)*w + b/float64(n)
	return math.Sqrt(vplus / w)
}
