// Package predict applies fitted models to new cohorts.
//
// A GBLUP model predicts genetic values through the cross-GRM between the
// new and the training individuals: û = σ² K_cross P y for every genetic
// component. A Bayes model applies the posterior mean marker effects to the
// new genotypes expressed in the training cohort's frequency space. Both add
// the fixed part built from the same covariate layout as in training.
package predict

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/bayes"
	"github.com/genopred/genopred/genomic/pheno"
	"github.com/genopred/genopred/genomic/plink"
	"github.com/genopred/genopred/genomic/reml"
)

// Methods of a fitted model.
const (
	MethodGBLUP = "gblup"
	MethodBayes = "bayes"
)

// Coefficient is one fixed-effect column with its estimate.
type Coefficient struct {
	Name  string  `yaml:"name"`
	Value float64 `yaml:"value"`
}

// Component is one fitted genetic variance component.
type Component struct {
	Name     string  `yaml:"name"`
	Encoding string  `yaml:"encoding"`
	Variance float64 `yaml:"variance"`
}

// GenotypeSettings records how training genotypes were transformed.
type GenotypeSettings struct {
	Standardize bool   `yaml:"standardize"`
	Scale       string `yaml:"scale"`
	Impute      string `yaml:"impute"`
	ChunkSize   int    `yaml:"chunk_size"`
}

// FittedModel is everything needed to predict a new cohort. Train is the
// PLINK prefix of the training genotypes and TrainIDs the individuals, in
// order, that the model was fitted on.
type FittedModel struct {
	Method   string           `yaml:"method"`
	Train    string           `yaml:"train"`
	TrainIDs []string         `yaml:"train_ids"`
	Genotype GenotypeSettings `yaml:"genotype"`
	Fixed    []Coefficient    `yaml:"fixed"`
	Residual float64          `yaml:"residual_variance"`
	Genetic  []Component      `yaml:"genetic,omitempty"`
	Py       []float64        `yaml:"py,omitempty"`
	Markers  *bayes.Effects   `yaml:"markers,omitempty"`
	// Stats maps an encoding name to the .npy file of training statistics.
	Stats map[string]string `yaml:"stats,omitempty"`
}

// GenotypeSettingsFrom records cfg without its encoding.
func GenotypeSettingsFrom(cfg genomic.GenotypeConfig) GenotypeSettings {
	return GenotypeSettings{
		Standardize: cfg.Standardize,
		Scale:       string(cfg.Scale),
		Impute:      string(cfg.Impute),
		ChunkSize:   cfg.ChunkSize,
	}
}

// Config returns the genotype configuration for one encoding.
func (g GenotypeSettings) Config(enc genomic.Encoding) genomic.GenotypeConfig {
	cfg := genomic.GenotypeConfig{
		ChunkSize:   g.ChunkSize,
		Encoding:    enc,
		Standardize: g.Standardize,
		Scale:       genomic.Scale(g.Scale),
		Impute:      genomic.Imputation(g.Impute),
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = genomic.DefaultGenotypeConfig().ChunkSize
	}
	if cfg.Impute == "" {
		cfg.Impute = genomic.ImputeMean
	}
	return cfg
}

// FixedLabels returns the fixed-effect column names in order.
func (m *FittedModel) FixedLabels() []string {
	out := make([]string, len(m.Fixed))
	for i, c := range m.Fixed {
		out[i] = c.Name
	}
	return out
}

// FromREML builds a GBLUP model from a dataset fitted by reml. Only genetic
// components are carried; GxE and other random effects describe training
// individuals and are not predicted.
func FromREML(train string, trainIDs []string, cfg genomic.GenotypeConfig, d *genomic.Dataset, res *reml.Result) *FittedModel {
	m := &FittedModel{
		Method:   MethodGBLUP,
		Train:    train,
		TrainIDs: trainIDs,
		Genotype: GenotypeSettingsFrom(cfg),
		Residual: res.Theta[0],
		Py:       append([]float64(nil), res.Py.RawVector().Data...),
		Fixed:    coefficients(FixedLabelsOf(d), res.Beta),
	}
	for i, g := range d.Effects.Genetic {
		m.Genetic = append(m.Genetic, Component{Name: g.Name, Encoding: g.Encoding.String(), Variance: res.Theta[i+1]})
	}
	return m
}

// FromBayes builds a Bayes model from merged chain posteriors.
func FromBayes(train string, trainIDs []string, cfg genomic.GenotypeConfig, fixed []string, effects *bayes.Effects, residual float64, stats map[string]string) *FittedModel {
	return &FittedModel{
		Method:   MethodBayes,
		Train:    train,
		TrainIDs: trainIDs,
		Genotype: GenotypeSettingsFrom(cfg),
		Residual: residual,
		Fixed:    coefficients(fixed, effects.Fixed),
		Markers:  effects,
		Stats:    stats,
	}
}

// FixedLabelsOf names the columns of d.FixedDesign(): the effect levels when
// set, else name_k.
func FixedLabelsOf(d *genomic.Dataset) []string {
	if len(d.Effects.Fixed) == 0 {
		return []string{pheno.Intercept}
	}
	var out []string
	for _, f := range d.Effects.Fixed {
		_, k := f.Design.Dims()
		for c := 0; c < k; c++ {
			if len(f.Levels) == k {
				out = append(out, f.Levels[c])
				continue
			}
			out = append(out, fmt.Sprintf("%s_%d", f.Name, c))
		}
	}
	return out
}

func coefficients(names []string, values []float64) []Coefficient {
	out := make([]Coefficient, len(names))
	for i, n := range names {
		out[i] = Coefficient{Name: n, Value: values[i]}
	}
	return out
}

// Save writes the model as YAML. The training prefix and statistics files
// are stored relative to the directory of path so that the model can be used
// from any working directory and moved together with its files.
func Save(path string, m *FittedModel) error {
	dir := filepath.Dir(path)
	out := *m
	out.Train = relativeTo(dir, m.Train)
	if m.Stats != nil {
		out.Stats = make(map[string]string, len(m.Stats))
		for enc, p := range m.Stats {
			out.Stats[enc] = relativeTo(dir, p)
		}
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a model written by Save.
func Load(path string) (*FittedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m FittedModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %v: %w", path, err, genomic.ErrMalformedFile)
	}
	dir := filepath.Dir(path)
	m.Train = resolveFrom(dir, m.Train)
	for enc, p := range m.Stats {
		m.Stats[enc] = resolveFrom(dir, p)
	}
	switch m.Method {
	case MethodGBLUP:
		if len(m.Py) != len(m.TrainIDs) {
			return nil, fmt.Errorf("%s: %d projected phenotypes for %d training individuals: %w",
				path, len(m.Py), len(m.TrainIDs), genomic.ErrMalformedFile)
		}
	case MethodBayes:
		if m.Markers == nil {
			return nil, fmt.Errorf("%s: bayes model without marker effects: %w", path, genomic.ErrMalformedFile)
		}
	default:
		return nil, fmt.Errorf("%s: unknown method %q: %w", path, m.Method, genomic.ErrMalformedFile)
	}
	return &m, nil
}

func relativeTo(dir, p string) string {
	if p == "" || plink.IsRemote(p) {
		return p
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return p
	}
	absP, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	rel, err := filepath.Rel(absDir, absP)
	if err != nil {
		return absP
	}
	return rel
}

func resolveFrom(dir, p string) string {
	if p == "" || plink.IsRemote(p) || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
