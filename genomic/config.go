package genomic

import "fmt"

// Encoding selects how decoded minor-allele counts are recoded before use.
type Encoding int

const (
	// Additive keeps the allele count {0, 1, 2}.
	Additive Encoding = iota
	// Dominant maps heterozygotes to 1 and both homozygotes to 0.
	Dominant
)

func (e Encoding) String() string {
	switch e {
	case Additive:
		return "additive"
	case Dominant:
		return "dominant"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// ParseEncoding converts "additive" or "dominant" (empty means additive).
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "", "additive", "add":
		return Additive, nil
	case "dominant", "dom":
		return Dominant, nil
	default:
		return 0, fmt.Errorf("unknown encoding %q; valid: additive, dominant", name)
	}
}

// Scale selects the GRM normalization constant s in G = XXᵀ/s.
type Scale string

const (
	// ScaleAuto picks ScaleMarkers for standardized and ScaleVanRaden for centered GRMs.
	ScaleAuto Scale = ""
	// ScaleVanRaden divides by Σ 2p(1−p) (additive) or Σ h(1−h) (dominant).
	ScaleVanRaden Scale = "vanraden"
	// ScaleMarkers divides by the number of polymorphic markers.
	ScaleMarkers Scale = "markers"
)

// Resolve returns the concrete scale for the given standardization choice.
func (s Scale) Resolve(standardize bool) Scale {
	if s != ScaleAuto {
		return s
	}
	if standardize {
		return ScaleMarkers
	}
	return ScaleVanRaden
}

// ValidScales is the set of recognized scale names.
var ValidScales = map[string]bool{"": true, "vanraden": true, "markers": true}

// Imputation selects the per-marker missing-value replacement.
type Imputation string

const (
	ImputeMean   Imputation = "mean"
	ImputeMedian Imputation = "median"
)

// ValidImputations is the set of recognized imputation names.
var ValidImputations = map[string]bool{"": true, "mean": true, "median": true}

// GenotypeConfig groups genotype pipeline parameters.
type GenotypeConfig struct {
	ChunkSize   int        // markers decoded per chunk (must be > 0)
	Encoding    Encoding   // additive (default) or dominant
	Standardize bool       // divide centered genotypes by their per-SNP SD
	Scale       Scale      // GRM normalization; ScaleAuto follows Standardize
	Impute      Imputation // "mean" (default) or "median"
}

// REMLConfig groups variance-component optimizer parameters.
type REMLConfig struct {
	Policy    string  // "ai" (default) or "em"
	MaxIter   int     // iteration cap (must be > 0)
	Tolerance float64 // relative change ‖Δθ‖/‖θ‖ declaring convergence
	Epsilon   float64 // variance floor, as a fraction of var(y)
}

// MCMCConfig groups BayesAlphabet sampler and runner parameters.
type MCMCConfig struct {
	Model         string    // BayesAlphabet member: A, RR, B, Bpi, C, Cpi, R
	Chains        int       // independent chains (≥ 1)
	Iterations    int       // post-burn-in iterations per chain
	Burnin        int       // iterations discarded before storing
	Thin          int       // keep every Thin-th post-burn-in sample (≥ 1)
	Seed          int64     // master seed; -1 derives from the wall clock
	Dominance     bool      // also fit dominance marker effects
	H2            float64   // prior guess of heritability used to scale priors
	Pi            []float64 // initial (or fixed, for B and C) mixture proportions
	ProposalScale float64   // initial random-walk step on log ρ for the RRD block
}

// DefaultGenotypeConfig returns the genotype settings used when nothing is configured.
func DefaultGenotypeConfig() GenotypeConfig {
	return GenotypeConfig{ChunkSize: 1024, Encoding: Additive, Standardize: true, Impute: ImputeMean}
}

// DefaultREMLConfig returns the REML settings used when nothing is configured.
func DefaultREMLConfig() REMLConfig {
	return REMLConfig{Policy: "ai", MaxIter: 100, Tolerance: 1e-6, Epsilon: 1e-6}
}

// DefaultMCMCConfig returns the MCMC settings used when nothing is configured.
func DefaultMCMCConfig() MCMCConfig {
	return MCMCConfig{
		Model:         "RR",
		Chains:        2,
		Iterations:    5000,
		Burnin:        1000,
		Thin:          1,
		Seed:          42,
		H2:            0.5,
		ProposalScale: 0.5,
	}
}
