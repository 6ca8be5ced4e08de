package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/pheno"
	"github.com/genopred/genopred/genomic/plink"
	"github.com/genopred/genopred/genomic/simulate"
)

var (
	simGeno    = simulate.DefaultGenotypeOptions()
	simSeed    int64   // Master seed for simulation
	causalPath string  // Causal variant list
	simH2      float64 // Target heritability
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate genotype panels and phenotypes",
}

var simulateGenoCmd = &cobra.Command{
	Use:   "geno",
	Short: "Simulate a genotype panel under random allele frequencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := simulateGenotypes(outPath, simGeno, simSeed)
		return err
	},
}

var simulatePhenoCmd = &cobra.Command{
	Use:   "pheno",
	Short: "Simulate a phenotype from causal variants with a target heritability",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := simulatePhenotypes(bfile, causalPath, outPath, simH2, simSeed)
		return err
	},
}

func simulateGenotypes(out string, opts simulate.GenotypeOptions, seed int64) (*simulate.Panel, error) {
	if out == "" {
		return nil, fmt.Errorf("--out is required")
	}
	rng := genomic.NewPartitionedRNG(genomic.NewSeedKey(seed)).ForSubsystem(genomic.SubsystemGenotypes)
	return simulate.Genotypes(out, opts, rng)
}

// simulatePhenotypes writes <out>.phen (FID IID pheno) and <out>.par (the
// applied causal effects).
func simulatePhenotypes(prefix, causal, out string, h2 float64, seed int64) (*simulate.Result, error) {
	if prefix == "" || causal == "" || out == "" {
		return nil, fmt.Errorf("--bfile, --causal and --out are required")
	}
	variants, err := pheno.ReadCausal(causal)
	if err != nil {
		return nil, err
	}
	r, err := plink.Open(prefix, genomic.DefaultGenotypeConfig().ChunkSize)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	rng := genomic.NewPartitionedRNG(genomic.NewSeedKey(seed)).ForSubsystem(genomic.SubsystemPhenotypes)
	res, err := simulate.Phenotypes(r, variants, h2, rng)
	if err != nil {
		return nil, err
	}
	if err := simulate.WritePhenotypes(out+".phen", res.Phenotypes); err != nil {
		return nil, err
	}
	if err := simulate.WriteEffects(out+".par", res.Effects); err != nil {
		return nil, err
	}
	return res, nil
}

func init() {
	simulateCmd.PersistentFlags().Int64Var(&simSeed, "seed", 42, "Master seed (-1 derives one from the clock)")
	simulateCmd.PersistentFlags().StringVarP(&outPath, "out", "o", "", "Output prefix")

	f := simulateGenoCmd.Flags()
	f.IntVar(&simGeno.Individuals, "n", simGeno.Individuals, "Number of individuals")
	f.IntVar(&simGeno.Markers, "m", simGeno.Markers, "Number of markers")
	f.IntVar(&simGeno.Chromosomes, "chromosomes", simGeno.Chromosomes, "Number of chromosomes")
	f.Float64Var(&simGeno.MinMAF, "min-maf", simGeno.MinMAF, "Lower bound of the allele frequency draw")
	f.Float64Var(&simGeno.MaxMAF, "max-maf", simGeno.MaxMAF, "Upper bound of the allele frequency draw")
	f.Float64Var(&simGeno.MissingRate, "missing", simGeno.MissingRate, "Probability that a genotype call is missing")
	f.StringVar(&simGeno.IDPrefix, "id-prefix", simGeno.IDPrefix, "Prefix of the simulated individual IDs")

	simulatePhenoCmd.Flags().StringVar(&bfile, "bfile", "", "PLINK fileset prefix")
	simulatePhenoCmd.Flags().StringVar(&causalPath, "causal", "", "Causal variants: SNP ID per line with an optional effect")
	simulatePhenoCmd.Flags().Float64Var(&simH2, "h2", 0.5, "Target heritability in (0, 1]")

	simulateCmd.AddCommand(simulateGenoCmd, simulatePhenoCmd)
}
