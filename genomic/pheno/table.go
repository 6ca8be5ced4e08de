package pheno

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/plink"
)

// Table is a per-individual text table: FID, IID and named value columns.
// Files without a header get columns named pheno1, pheno2, ...
type Table struct {
	Path    string
	Columns []string
	FIDs    []string
	IIDs    []string
	Values  [][]string
	row     map[string]int
}

// ReadTable reads a phenotype or covariate file.
func ReadTable(path string) (*Table, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	records, err := splitRecords(data, detectDelimiter(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, genomic.ErrMalformedFile)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: empty table: %w", path, genomic.ErrMalformedFile)
	}
	t := &Table{Path: path, row: make(map[string]int)}
	first := records[0]
	if len(first) < 3 {
		return nil, fmt.Errorf("%s:1: want FID, IID and at least one value column, got %d fields: %w",
			path, len(first), genomic.ErrMalformedFile)
	}
	if isHeader(first) {
		t.Columns = append([]string(nil), first[2:]...)
		records = records[1:]
	} else {
		for k := range first[2:] {
			t.Columns = append(t.Columns, fmt.Sprintf("pheno%d", k+1))
		}
	}
	for i, rec := range records {
		if len(rec) != len(t.Columns)+2 {
			return nil, fmt.Errorf("%s: row %d has %d fields, want %d: %w",
				path, i+1, len(rec), len(t.Columns)+2, genomic.ErrMalformedFile)
		}
		if _, dup := t.row[rec[1]]; dup {
			return nil, fmt.Errorf("%s: duplicate individual %s: %w", path, rec[1], genomic.ErrMalformedFile)
		}
		t.row[rec[1]] = len(t.IIDs)
		t.FIDs = append(t.FIDs, rec[0])
		t.IIDs = append(t.IIDs, rec[1])
		t.Values = append(t.Values, rec[2:])
	}
	return t, nil
}

// splitRecords parses delimited rows; a space delimiter means runs of
// whitespace. Blank lines are skipped.
func splitRecords(data []byte, delim rune) ([][]string, error) {
	if delim == ' ' {
		var out [][]string
		for _, line := range strings.Split(string(data), "\n") {
			if f := strings.Fields(line); len(f) > 0 {
				out = append(out, f)
			}
		}
		return out, nil
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r.ReadAll()
}

func isHeader(rec []string) bool {
	switch strings.ToUpper(strings.TrimPrefix(rec[0], "#")) {
	case "FID", "FAMILY", "FAMILY_ID":
		return true
	}
	for _, v := range rec[2:] {
		if _, err := plink.ParsePhenotype(v); err != nil {
			return true
		}
	}
	return false
}

// Column returns the index of name. An empty name selects the first column.
func (t *Table) Column(name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	for k, c := range t.Columns {
		if c == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%s: no column %q (have %v)", t.Path, name, t.Columns)
}

// Lookup returns the raw value of column k for individual iid.
func (t *Table) Lookup(iid string, k int) (string, bool) {
	i, ok := t.row[iid]
	if !ok {
		return "", false
	}
	return t.Values[i][k], true
}

// Floats returns column name keyed by IID. Missing codes become NaN.
func (t *Table) Floats(name string) (map[string]float64, error) {
	k, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(t.IIDs))
	for i, iid := range t.IIDs {
		v, err := plink.ParsePhenotype(t.Values[i][k])
		if err != nil {
			return nil, fmt.Errorf("%s: individual %s column %s: %v: %w", t.Path, iid, t.Columns[k], err, genomic.ErrMalformedFile)
		}
		out[iid] = v
	}
	return out, nil
}

func isMissing(s string) bool {
	v, err := plink.ParsePhenotype(s)
	return s == "" || (err == nil && math.IsNaN(v))
}

// Align keeps the individuals of samples, in .fam order, that have a finite
// phenotype and a non-missing value in every listed column of every table.
func Align(samples []plink.Sample, y map[string]float64, tables []*Table, columns [][]string) ([]string, []float64, error) {
	idx := make([][]int, len(tables))
	for ti, t := range tables {
		for _, name := range columns[ti] {
			k, err := t.Column(name)
			if err != nil {
				return nil, nil, err
			}
			idx[ti] = append(idx[ti], k)
		}
	}
	var ids []string
	var out []float64
next:
	for _, s := range samples {
		v, ok := y[s.IID]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		for ti, t := range tables {
			for _, k := range idx[ti] {
				raw, ok := t.Lookup(s.IID, k)
				if !ok || isMissing(raw) {
					continue next
				}
			}
		}
		ids = append(ids, s.IID)
		out = append(out, v)
	}
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("no individual has a phenotype and complete covariates: %w", genomic.ErrMalformedFile)
	}
	return ids, out, nil
}

// Intercept is the name of the constant column of a fixed design.
const Intercept = "intercept"

// Covariates builds the fixed effects of ids: an intercept, one column per
// quantitative covariate and one indicator per non-reference level of each
// discrete covariate. Column labels are "name" and "name=level" so that
// Design can rebuild the same layout for another cohort.
func Covariates(t *Table, ids []string, quantitative, discrete []string) ([]*genomic.FixedEffect, error) {
	n := len(ids)
	one := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		one.Set(i, 0, 1)
	}
	effects := []*genomic.FixedEffect{genomic.NewFixedEffect(Intercept, one, []string{Intercept})}
	if t == nil {
		return effects, nil
	}
	for _, name := range quantitative {
		d, err := Design(t, ids, []string{name})
		if err != nil {
			return nil, err
		}
		effects = append(effects, genomic.NewFixedEffect(name, d, []string{name}))
	}
	for _, name := range discrete {
		k, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for _, iid := range ids {
			if v, ok := t.Lookup(iid, k); ok {
				seen[v] = true
			}
		}
		levels := make([]string, 0, len(seen))
		for l := range seen {
			levels = append(levels, l)
		}
		sort.Strings(levels)
		if len(levels) < 2 {
			continue
		}
		labels := make([]string, 0, len(levels)-1)
		for _, l := range levels[1:] {
			labels = append(labels, name+"="+l)
		}
		d, err := Design(t, ids, labels)
		if err != nil {
			return nil, err
		}
		effects = append(effects, genomic.NewFixedEffect(name, d, labels))
	}
	return effects, nil
}

// Design builds a fixed design for ids from column labels produced by
// Covariates. A nil table only supports the intercept.
func Design(t *Table, ids []string, labels []string) (*mat.Dense, error) {
	d := mat.NewDense(len(ids), len(labels), nil)
	for c, label := range labels {
		if label == Intercept {
			for i := range ids {
				d.Set(i, c, 1)
			}
			continue
		}
		if t == nil {
			return nil, fmt.Errorf("covariate %q needs a covariate file", label)
		}
		name, level, indicator := strings.Cut(label, "=")
		k, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		for i, iid := range ids {
			raw, ok := t.Lookup(iid, k)
			if !ok {
				return nil, fmt.Errorf("%s: no covariates for individual %s: %w", t.Path, iid, genomic.ErrMalformedFile)
			}
			if indicator {
				if raw == level {
					d.Set(i, c, 1)
				}
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: individual %s covariate %s: bad value %q: %w", t.Path, iid, name, raw, genomic.ErrMalformedFile)
			}
			d.Set(i, c, v)
		}
	}
	return d, nil
}

// Labels returns column of ids as factor labels; missing values become "".
func Labels(t *Table, ids []string, column string) ([]string, error) {
	k, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, iid := range ids {
		if raw, ok := t.Lookup(iid, k); ok && !isMissing(raw) {
			out[i] = raw
		}
	}
	return out, nil
}
