package mcmc

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
	"github.com/wcharczuk/go-chart/v2"

	"github.com/genopred/genopred/genomic/internal/npy"
)

// TracePath names the trace file of one parameter of one chain.
func TracePath(prefix string, chain int, param string) string {
	return fmt.Sprintf("%s.chain%d.%s.npy", prefix, chain, param)
}

// WriteTraces stores every retained sample as one float64 .npy vector per
// chain and parameter.
func WriteTraces(prefix string, res *Result) error {
	for k, s := range res.Stores {
		for p, name := range res.Params {
			col := s.Column(p)
			if err := npy.Write(TracePath(prefix, k, name), col, len(col)); err != nil {
				return err
			}
		}
	}
	logrus.Infof("mcmc: wrote %d traces per chain to %s.chain*.npy", len(res.Params), prefix)
	return nil
}

// WriteSummary writes the posterior summary as a tab-separated table.
func WriteSummary(path string, summary []ParamSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	w := csv.NewWriter(bw)
	w.Comma = '\t'
	if err := gocsv.MarshalCSV(summary, gocsv.NewSafeCSVWriter(w)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// ReadSummary loads a table written by WriteSummary.
func ReadSummary(path string) ([]ParamSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []ParamSummary
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = '\t'
	if err := gocsv.UnmarshalCSV(r, &out); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return out, nil
}

// PlotTraces renders one PNG per parameter with a line per chain, named
// <prefix>.<param>.png. Parameters with fewer than two samples are skipped.
func PlotTraces(prefix string, res *Result) error {
	for p, name := range res.Params {
		var series []chart.Series
		lo, hi := math.Inf(1), math.Inf(-1)
		for k, s := range res.Stores {
			ys := s.Column(p)
			if len(ys) < 2 {
				continue
			}
			for _, y := range ys {
				lo, hi = math.Min(lo, y), math.Max(hi, y)
			}
			series = append(series, chart.ContinuousSeries{
				Name:    fmt.Sprintf("chain %d", k),
				XValues: intSeq(len(ys)),
				YValues: ys,
			})
		}
		if len(series) == 0 || math.IsNaN(lo) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			continue
		}
		if lo == hi {
			lo, hi = lo-1, hi+1
		}
		graph := chart.Chart{
			Title:  name,
			Width:  768,
			Height: 256,
			YAxis:  chart.YAxis{Range: &chart.ContinuousRange{Min: lo, Max: hi}},
			Series: series,
		}
		buffer := bytes.NewBuffer([]byte{})
		if err := graph.Render(chart.PNG, buffer); err != nil {
			return fmt.Errorf("plotting %s: %w", name, err)
		}
		path := fmt.Sprintf("%s.%s.png", prefix, name)
		if err := os.WriteFile(path, buffer.Bytes(), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func intSeq(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}
