package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/genopred/genopred/genomic"
)

var (
	// Genotype pipeline
	chunkSize   int    // Markers decoded per chunk
	encoding    string // additive or dominant
	standardize bool   // Divide centered genotypes by their SD
	scale       string // GRM normalization: vanraden or markers
	impute      string // mean or median

	// REML
	policy    string  // ai or em
	maxIter   int     // Iteration cap
	tolerance float64 // Relative change in θ declaring convergence

	// MCMC
	bayesModel    string    // BayesAlphabet member
	chains        int       // Independent chains
	iterations    int       // Post-burn-in iterations per chain
	burnin        int       // Discarded iterations
	thin          int       // Keep every thin-th sample
	seed          int64     // Master seed; -1 derives from the clock
	dominance     bool      // Fit dominance effects
	h2            float64   // Prior heritability guess
	pi            []float64 // Mixture proportions
	proposalScale float64   // Initial MH step on log ρ

	configPath string // Optional YAML or TOML model bundle
)

func addGenotypeFlags(cmd *cobra.Command) {
	d := genomic.DefaultGenotypeConfig()
	cmd.Flags().IntVar(&chunkSize, "chunk-size", d.ChunkSize, "Markers decoded per chunk")
	cmd.Flags().BoolVar(&standardize, "standardize", d.Standardize, "Standardize genotypes by their SD (false: center only)")
	cmd.Flags().StringVar(&scale, "scale", string(d.Scale), "GRM scale: vanraden (Σ2p(1−p)) or markers (default follows --standardize)")
	cmd.Flags().StringVar(&impute, "impute", string(d.Impute), "Missing genotype imputation: mean or median")
	cmd.Flags().StringVar(&configPath, "config", "", "Model config bundle (.yaml or .toml); explicit flags override it")
}

func addREMLFlags(cmd *cobra.Command) {
	d := genomic.DefaultREMLConfig()
	cmd.Flags().StringVar(&policy, "policy", d.Policy, "REML update policy: ai or em")
	cmd.Flags().IntVar(&maxIter, "max-iter", d.MaxIter, "Maximum REML iterations")
	cmd.Flags().Float64Var(&tolerance, "tol", d.Tolerance, "Convergence tolerance on the relative change of the variance components")
}

func addMCMCFlags(cmd *cobra.Command) {
	d := genomic.DefaultMCMCConfig()
	cmd.Flags().StringVar(&bayesModel, "model", d.Model, "BayesAlphabet model: A, RR, B, Bpi, C, Cpi, R")
	cmd.Flags().IntVar(&chains, "chains", d.Chains, "Number of independent chains")
	cmd.Flags().IntVar(&iterations, "iters", d.Iterations, "Post-burn-in iterations per chain")
	cmd.Flags().IntVar(&burnin, "burnin", d.Burnin, "Burn-in iterations per chain")
	cmd.Flags().IntVar(&thin, "thin", d.Thin, "Keep every n-th post-burn-in sample")
	cmd.Flags().Int64Var(&seed, "seed", d.Seed, "Master seed (-1 derives one from the clock)")
	cmd.Flags().BoolVar(&dominance, "dominance", d.Dominance, "Also fit dominance marker effects")
	cmd.Flags().Float64Var(&h2, "h2", d.H2, "Prior heritability used to scale the variance priors")
	cmd.Flags().Float64SliceVar(&pi, "pi", nil, "Comma-separated mixture proportions (null class first)")
	cmd.Flags().Float64Var(&proposalScale, "proposal-scale", d.ProposalScale, "Initial random-walk step on log ρ for the dominance ratio")
}

// loadBundle reads and validates --config, or returns an empty bundle.
func loadBundle() (*genomic.ModelBundle, error) {
	if configPath == "" {
		return &genomic.ModelBundle{}, nil
	}
	b, err := genomic.LoadModelBundle(configPath)
	if err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("model config %s: %w", configPath, err)
	}
	logrus.Infof("loaded model config %s", configPath)
	return b, nil
}

// genotypeConfig layers defaults, the bundle and explicitly set flags.
func genotypeConfig(cmd *cobra.Command, b *genomic.ModelBundle) (genomic.GenotypeConfig, error) {
	cfg := genomic.DefaultGenotypeConfig()
	b.ApplyGenotype(&cfg)
	f := cmd.Flags()
	if f.Changed("chunk-size") {
		cfg.ChunkSize = chunkSize
	}
	if f.Changed("standardize") {
		cfg.Standardize = standardize
	}
	if f.Changed("scale") {
		cfg.Scale = genomic.Scale(scale)
	}
	if f.Changed("impute") {
		cfg.Impute = genomic.Imputation(impute)
	}
	if f.Lookup("encoding") != nil && f.Changed("encoding") {
		enc, err := genomic.ParseEncoding(encoding)
		if err != nil {
			return cfg, err
		}
		cfg.Encoding = enc
	}
	if cfg.ChunkSize <= 0 {
		return cfg, fmt.Errorf("--chunk-size must be positive, got %d", cfg.ChunkSize)
	}
	if !genomic.ValidScales[string(cfg.Scale)] {
		return cfg, fmt.Errorf("unknown scale %q", cfg.Scale)
	}
	if !genomic.ValidImputations[string(cfg.Impute)] {
		return cfg, fmt.Errorf("unknown imputation %q", cfg.Impute)
	}
	return cfg, nil
}

func remlConfig(cmd *cobra.Command, b *genomic.ModelBundle) (genomic.REMLConfig, error) {
	cfg := genomic.DefaultREMLConfig()
	b.ApplyREML(&cfg)
	f := cmd.Flags()
	if f.Changed("policy") {
		cfg.Policy = policy
	}
	if f.Changed("max-iter") {
		cfg.MaxIter = maxIter
	}
	if f.Changed("tol") {
		cfg.Tolerance = tolerance
	}
	if !genomic.ValidREMLPolicies[cfg.Policy] {
		return cfg, fmt.Errorf("unknown reml policy %q; valid: ai, em", cfg.Policy)
	}
	if cfg.MaxIter <= 0 || cfg.Tolerance <= 0 {
		return cfg, fmt.Errorf("--max-iter and --tol must be positive")
	}
	return cfg, nil
}

func mcmcConfig(cmd *cobra.Command, b *genomic.ModelBundle) (genomic.MCMCConfig, error) {
	cfg := genomic.DefaultMCMCConfig()
	b.ApplyMCMC(&cfg)
	f := cmd.Flags()
	if f.Changed("model") {
		cfg.Model = bayesModel
	}
	if f.Changed("chains") {
		cfg.Chains = chains
	}
	if f.Changed("iters") {
		cfg.Iterations = iterations
	}
	if f.Changed("burnin") {
		cfg.Burnin = burnin
	}
	if f.Changed("thin") {
		cfg.Thin = thin
	}
	if f.Changed("seed") {
		cfg.Seed = seed
	}
	if f.Changed("dominance") {
		cfg.Dominance = dominance
	}
	if f.Changed("h2") {
		cfg.H2 = h2
	}
	if f.Changed("pi") {
		cfg.Pi = pi
	}
	if f.Changed("proposal-scale") {
		cfg.ProposalScale = proposalScale
	}
	// Re-validate the merged values through the bundle rules.
	check := genomic.ModelBundle{MCMC: genomic.MCMCSection{
		Model: cfg.Model, Chains: &cfg.Chains, Iterations: &cfg.Iterations, Burnin: &cfg.Burnin,
		Thin: &cfg.Thin, H2: &cfg.H2, Pi: cfg.Pi, ProposalScale: &cfg.ProposalScale,
	}}
	if err := check.Validate(); err != nil {
		return cfg, err
	}
	cfg.Seed = genomic.ResolveSeed(cfg.Seed)
	return cfg, nil
}
