package genomic

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ModelBundle holds model configuration loadable from a YAML or TOML file.
// Nil pointer fields mean "not set in the file"; they do not override the
// defaults or the command line. String fields use empty string for "not set".
type ModelBundle struct {
	Genotype GenotypeSection `yaml:"genotype" toml:"genotype"`
	REML     REMLSection     `yaml:"reml" toml:"reml"`
	MCMC     MCMCSection     `yaml:"mcmc" toml:"mcmc"`
}

// GenotypeSection holds genotype pipeline settings.
type GenotypeSection struct {
	ChunkSize   *int   `yaml:"chunk_size" toml:"chunk_size"`
	Encoding    string `yaml:"encoding" toml:"encoding"`
	Standardize *bool  `yaml:"standardize" toml:"standardize"`
	Scale       string `yaml:"scale" toml:"scale"`
	Impute      string `yaml:"impute" toml:"impute"`
}

// REMLSection holds variance-component optimizer settings.
type REMLSection struct {
	Policy    string   `yaml:"policy" toml:"policy"`
	MaxIter   *int     `yaml:"max_iter" toml:"max_iter"`
	Tolerance *float64 `yaml:"tolerance" toml:"tolerance"`
	Epsilon   *float64 `yaml:"epsilon" toml:"epsilon"`
}

// MCMCSection holds sampler and runner settings.
type MCMCSection struct {
	Model         string    `yaml:"model" toml:"model"`
	Chains        *int      `yaml:"chains" toml:"chains"`
	Iterations    *int      `yaml:"iterations" toml:"iterations"`
	Burnin        *int      `yaml:"burnin" toml:"burnin"`
	Thin          *int      `yaml:"thin" toml:"thin"`
	Seed          *int64    `yaml:"seed" toml:"seed"`
	Dominance     *bool     `yaml:"dominance" toml:"dominance"`
	H2            *float64  `yaml:"h2" toml:"h2"`
	Pi            []float64 `yaml:"pi" toml:"pi"`
	ProposalScale *float64  `yaml:"proposal_scale" toml:"proposal_scale"`
}

// LoadModelBundle reads a model configuration file. Files ending in .toml are
// decoded as TOML; everything else is decoded as YAML with strict field
// checking so that typos are rejected.
func LoadModelBundle(path string) (*ModelBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model config: %w", err)
	}
	var bundle ModelBundle
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.Decode(string(data), &bundle)
		if err != nil {
			return nil, fmt.Errorf("parsing model config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing model config %s: unknown keys %v", path, undecoded)
		}
		return &bundle, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("parsing model config %s: %w", path, err)
	}
	return &bundle, nil
}

// ValidREMLPolicies is the set of recognized REML update policies.
// Shared by Validate() and reml.NewPolicy() to avoid duplication.
var ValidREMLPolicies = map[string]bool{"": true, "em": true, "ai": true}

// ValidBayesModels is the set of recognized BayesAlphabet members.
var ValidBayesModels = map[string]bool{
	"": true, "A": true, "RR": true, "B": true, "Bpi": true, "C": true, "Cpi": true, "R": true,
}

// Validate checks that all names and parameter ranges in the bundle are valid.
func (b *ModelBundle) Validate() error {
	if _, err := ParseEncoding(b.Genotype.Encoding); err != nil {
		return err
	}
	if !ValidScales[b.Genotype.Scale] {
		return fmt.Errorf("unknown scale %q", b.Genotype.Scale)
	}
	if !ValidImputations[b.Genotype.Impute] {
		return fmt.Errorf("unknown imputation %q", b.Genotype.Impute)
	}
	if b.Genotype.ChunkSize != nil && *b.Genotype.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", *b.Genotype.ChunkSize)
	}
	if !ValidREMLPolicies[b.REML.Policy] {
		return fmt.Errorf("unknown reml policy %q", b.REML.Policy)
	}
	if b.REML.MaxIter != nil && *b.REML.MaxIter <= 0 {
		return fmt.Errorf("max_iter must be positive, got %d", *b.REML.MaxIter)
	}
	if b.REML.Tolerance != nil && *b.REML.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %f", *b.REML.Tolerance)
	}
	if b.REML.Epsilon != nil && *b.REML.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %f", *b.REML.Epsilon)
	}
	if !ValidBayesModels[b.MCMC.Model] {
		return fmt.Errorf("unknown bayes model %q", b.MCMC.Model)
	}
	if b.MCMC.Chains != nil && *b.MCMC.Chains < 1 {
		return fmt.Errorf("chains must be at least 1, got %d", *b.MCMC.Chains)
	}
	if b.MCMC.Iterations != nil && *b.MCMC.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", *b.MCMC.Iterations)
	}
	if b.MCMC.Burnin != nil && *b.MCMC.Burnin < 0 {
		return fmt.Errorf("burnin must be non-negative, got %d", *b.MCMC.Burnin)
	}
	if b.MCMC.Thin != nil && *b.MCMC.Thin < 1 {
		return fmt.Errorf("thin must be at least 1, got %d", *b.MCMC.Thin)
	}
	if b.MCMC.H2 != nil && (*b.MCMC.H2 <= 0 || *b.MCMC.H2 >= 1) {
		return fmt.Errorf("h2 must be in (0, 1), got %f", *b.MCMC.H2)
	}
	if len(b.MCMC.Pi) > 0 {
		sum := 0.0
		for _, p := range b.MCMC.Pi {
			if p < 0 {
				return fmt.Errorf("pi entries must be non-negative, got %v", b.MCMC.Pi)
			}
			sum += p
		}
		if sum <= 0 {
			return fmt.Errorf("pi must have positive mass, got %v", b.MCMC.Pi)
		}
	}
	if b.MCMC.ProposalScale != nil && *b.MCMC.ProposalScale <= 0 {
		return fmt.Errorf("proposal_scale must be positive, got %f", *b.MCMC.ProposalScale)
	}
	return nil
}

// ApplyGenotype overlays the genotype section onto cfg.
func (b *ModelBundle) ApplyGenotype(cfg *GenotypeConfig) {
	g := b.Genotype
	if g.ChunkSize != nil {
		cfg.ChunkSize = *g.ChunkSize
	}
	if g.Encoding != "" {
		cfg.Encoding, _ = ParseEncoding(g.Encoding)
	}
	if g.Standardize != nil {
		cfg.Standardize = *g.Standardize
	}
	if g.Scale != "" {
		cfg.Scale = Scale(g.Scale)
	}
	if g.Impute != "" {
		cfg.Impute = Imputation(g.Impute)
	}
}

// ApplyREML overlays the REML section onto cfg.
func (b *ModelBundle) ApplyREML(cfg *REMLConfig) {
	r := b.REML
	if r.Policy != "" {
		cfg.Policy = r.Policy
	}
	if r.MaxIter != nil {
		cfg.MaxIter = *r.MaxIter
	}
	if r.Tolerance != nil {
		cfg.Tolerance = *r.Tolerance
	}
	if r.Epsilon != nil {
		cfg.Epsilon = *r.Epsilon
	}
}

// ApplyMCMC overlays the MCMC section onto cfg.
func (b *ModelBundle) ApplyMCMC(cfg *MCMCConfig) {
	m := b.MCMC
	if m.Model != "" {
		cfg.Model = m.Model
	}
	if m.Chains != nil {
		cfg.Chains = *m.Chains
	}
	if m.Iterations != nil {
		cfg.Iterations = *m.Iterations
	}
	if m.Burnin != nil {
		cfg.Burnin = *m.Burnin
	}
	if m.Thin != nil {
		cfg.Thin = *m.Thin
	}
	if m.Seed != nil {
		cfg.Seed = *m.Seed
	}
	if m.Dominance != nil {
		cfg.Dominance = *m.Dominance
	}
	if m.H2 != nil {
		cfg.H2 = *m.H2
	}
	if len(m.Pi) > 0 {
		cfg.Pi = append([]float64(nil), m.Pi...)
	}
	if m.ProposalScale != nil {
		cfg.ProposalScale = *m.ProposalScale
	}
}
