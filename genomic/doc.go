// Package genomic provides the shared data model for genomic prediction with
// mixed-effects models.
//
// # Reading Guide
//
// Start with these files to understand the data model:
//   - effects.go: the effects taxonomy (fixed, random, genetic, GxE) and Dataset
//   - errors.go: error kinds and their mapping to process exit codes
//   - rng.go: deterministic, partitioned random number streams
//
// # Architecture
//
// The genomic package defines the data model and configuration; the pipeline
// lives in sub-packages, leaves first:
//   - genomic/plink/: PLINK .bed/.bim/.fam reading, chunked decoding and writing
//   - genomic/geno/: imputation, centering/standardization, encodings, per-SNP statistics
//   - genomic/grm/: streamed genetic relationship matrices (training and cross-cohort)
//   - genomic/reml/: variance components by restricted maximum likelihood (EM and AI)
//   - genomic/bayes/: BayesAlphabet marker-effect samplers
//   - genomic/mcmc/: multi-chain runner, progress indicator, posterior summaries
//   - genomic/predict/: GBLUP and Bayes predictors for held-out cohorts
//   - genomic/pheno/: phenotype, covariate and prediction tables
//   - genomic/simulate/: genotype panels and phenotypes with a target heritability
//
// Data flows BED file → chunked decoded matrix → (impute + encode + center) →
// GRM or in-memory marker matrix → estimator (REML or MCMC) → fitted state →
// predictor → predicted phenotypes.
package genomic
