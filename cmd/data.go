package cmd

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/pheno"
	"github.com/genopred/genopred/genomic/plink"
)

// trainingInput names the inputs shared by every fit.
type trainingInput struct {
	BFile     string
	Pheno     string
	PhenoName string   // column of the phenotype file; empty selects the first
	Covar     string   // covariate file, optional
	QCovar    []string // quantitative covariate columns
	DCovar    []string // discrete covariate columns
	Random    []string // iid random effect columns
	GxE       string   // environment column interacting with the additive GRM
}

// trainingSet is the aligned training cohort: individuals with a finite
// phenotype and complete covariates, in .fam order.
type trainingSet struct {
	IDs    []string
	Y      []float64
	Fixed  []*genomic.FixedEffect
	Random []*genomic.RandomEffect
	Env    []string // GxE labels, nil without --gxe
}

func loadTraining(in trainingInput) (*trainingSet, error) {
	if in.BFile == "" || in.Pheno == "" {
		return nil, fmt.Errorf("--bfile and --pheno are required")
	}
	samples, err := plink.ReadFAM(in.BFile + ".fam")
	if err != nil {
		return nil, err
	}
	pt, err := pheno.ReadTable(in.Pheno)
	if err != nil {
		return nil, err
	}
	y, err := pt.Floats(in.PhenoName)
	if err != nil {
		return nil, err
	}

	var tables []*pheno.Table
	var columns [][]string
	var cov *pheno.Table
	needed := slices.Concat(in.QCovar, in.DCovar, in.Random)
	if in.GxE != "" {
		needed = append(needed, in.GxE)
	}
	if len(needed) > 0 {
		if in.Covar == "" {
			return nil, fmt.Errorf("covariate columns %v need --covar", needed)
		}
	}
	if in.Covar != "" {
		if cov, err = pheno.ReadTable(in.Covar); err != nil {
			return nil, err
		}
		tables, columns = []*pheno.Table{cov}, [][]string{needed}
	}

	ids, yv, err := pheno.Align(samples, y, tables, columns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Pheno, err)
	}
	if dropped := len(samples) - len(ids); dropped > 0 {
		logrus.Infof("%d of %d individuals lack a phenotype or covariates and are excluded", dropped, len(samples))
	}
	fixed, err := pheno.Covariates(cov, ids, in.QCovar, in.DCovar)
	if err != nil {
		return nil, err
	}
	ts := &trainingSet{IDs: ids, Y: yv, Fixed: fixed}
	for _, name := range in.Random {
		labels, err := pheno.Labels(cov, ids, name)
		if err != nil {
			return nil, err
		}
		ts.Random = append(ts.Random, genomic.NewRandomEffect(name, labels))
	}
	if in.GxE != "" {
		if ts.Env, err = pheno.Labels(cov, ids, in.GxE); err != nil {
			return nil, err
		}
	}
	logrus.Infof("training on %d individuals with %d fixed effect(s) and %d random effect(s)",
		len(ids), len(fixed), len(ts.Random))
	return ts, nil
}

// envLevels maps labels to level indices in first-seen order, -1 for "".
func envLevels(labels []string) []int {
	seen := make(map[string]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		if l == "" {
			out[i] = -1
			continue
		}
		k, ok := seen[l]
		if !ok {
			k = len(seen)
			seen[l] = k
		}
		out[i] = k
	}
	return out
}

// phenotypeMap reads one phenotype column keyed by IID.
func phenotypeMap(path, column string) (map[string]float64, error) {
	t, err := pheno.ReadTable(path)
	if err != nil {
		return nil, err
	}
	return t.Floats(column)
}
