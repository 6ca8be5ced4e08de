package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/bayes"
	"github.com/genopred/genopred/genomic/geno"
	"github.com/genopred/genopred/genomic/grm"
	"github.com/genopred/genopred/genomic/mcmc"
	"github.com/genopred/genopred/genomic/plink"
	"github.com/genopred/genopred/genomic/predict"
	"github.com/genopred/genopred/genomic/reml"
)

var (
	phenoPath string   // Phenotype file
	phenoName string   // Phenotype column
	covarPath string   // Covariate file
	qcovar    []string // Quantitative covariate columns
	dcovar    []string // Discrete covariate columns
	random    []string // Random effect columns
	gxe       string   // Environment column for GxE
	grmPrefix string   // Precomputed additive GRM
	plot      bool     // Write trace plots
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a genomic prediction model",
}

var fitREMLCmd = &cobra.Command{
	Use:   "reml",
	Short: "Estimate variance components by REML and build a GBLUP model",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := loadBundle()
		if err != nil {
			return err
		}
		gcfg, err := genotypeConfig(cmd, b)
		if err != nil {
			return err
		}
		rcfg, err := remlConfig(cmd, b)
		if err != nil {
			return err
		}
		_, err = fitREML(cmd.Context(), remlJob{
			Input:     trainingInputFromFlags(),
			Out:       outPath,
			Genotype:  gcfg,
			REML:      rcfg,
			GRM:       grmPrefix,
			Dominance: dominance,
			Progress:  progressWriter(),
		})
		return err
	},
}

var fitBayesCmd = &cobra.Command{
	Use:   "bayes",
	Short: "Sample a BayesAlphabet marker-effect model with parallel chains",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := loadBundle()
		if err != nil {
			return err
		}
		gcfg, err := genotypeConfig(cmd, b)
		if err != nil {
			return err
		}
		mcfg, err := mcmcConfig(cmd, b)
		if err != nil {
			return err
		}
		_, err = fitBayes(cmd.Context(), bayesJob{
			Input:    trainingInputFromFlags(),
			Out:      outPath,
			Genotype: gcfg,
			MCMC:     mcfg,
			Plot:     plot,
			Progress: progressWriter(),
		})
		return err
	},
}

func trainingInputFromFlags() trainingInput {
	return trainingInput{
		BFile:     bfile,
		Pheno:     phenoPath,
		PhenoName: phenoName,
		Covar:     covarPath,
		QCovar:    qcovar,
		DCovar:    dcovar,
		Random:    random,
		GxE:       gxe,
	}
}

type remlJob struct {
	Input     trainingInput
	Out       string
	Genotype  genomic.GenotypeConfig
	REML      genomic.REMLConfig
	GRM       string // precomputed additive GRM prefix; built from Input.BFile when empty
	Dominance bool
	Progress  io.Writer
}

// fitREML writes <out>.hsq (variance component report), the training
// statistics of every GRM it builds and <out>.model.yaml (GBLUP model). A
// cancelled run writes the report of its last iterate and no model.
func fitREML(ctx context.Context, job remlJob) (*predict.FittedModel, error) {
	if job.Out == "" {
		return nil, fmt.Errorf("--out is required")
	}
	ts, err := loadTraining(job.Input)
	if err != nil {
		return nil, err
	}
	d := &genomic.Dataset{
		SampleIDs: ts.IDs,
		Y:         ts.Y,
		Effects:   genomic.Effects{Fixed: ts.Fixed, Random: ts.Random},
	}

	stats := make(map[string]string)
	add, err := trainingGRM(ctx, job, ts, genomic.Additive, stats)
	if err != nil {
		return nil, err
	}
	addEffect := genomic.NewGeneticEffect("additive", genomic.Additive, add)
	d.Effects.Genetic = append(d.Effects.Genetic, addEffect)
	if job.Dominance {
		dom, err := trainingGRM(ctx, job, ts, genomic.Dominant, stats)
		if err != nil {
			return nil, err
		}
		d.Effects.Genetic = append(d.Effects.Genetic, genomic.NewGeneticEffect("dominant", genomic.Dominant, dom))
	}
	if ts.Env != nil {
		d.Effects.GxE = append(d.Effects.GxE, genomic.NewGxEEffect("gxe_"+job.Input.GxE, addEffect, envLevels(ts.Env)))
	}

	m, err := reml.NewModel(d)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, runErr := reml.NewOptimizer(m, job.REML).Run(ctx)
	if runErr != nil && (res == nil || !errors.Is(runErr, genomic.ErrCancelled)) {
		return nil, runErr
	}
	if err := writeReport(job.Out+".hsq", res.Report); err != nil {
		return nil, err
	}
	if runErr != nil {
		logrus.Warnf("reml cancelled after %d iterations; estimates so far written to %s.hsq", res.Iterations, job.Out)
		return nil, runErr
	}
	if !res.Converged {
		logrus.Warnf("reml did not converge in %d iterations; estimates are from the last iteration", res.Iterations)
	}
	logrus.Infof("reml finished in %d iterations (%v), logL %.4f",
		res.Iterations, time.Since(start).Round(time.Millisecond), res.LogLik)

	model := predict.FromREML(job.Input.BFile, ts.IDs, job.Genotype, d, res)
	model.Stats = stats
	if err := predict.Save(job.Out+".model.yaml", model); err != nil {
		return nil, err
	}
	logrus.Infof("wrote %s.hsq and %s.model.yaml", job.Out, job.Out)
	return model, nil
}

func writeReport(path string, r *reml.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := r.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// trainingGRM returns the GRM of the training individuals, from --grm for
// the additive component when given, else built from the fileset. The
// statistics the GRM was built with are recorded in stats by encoding name so
// that prediction scales the cross-GRM the same way.
func trainingGRM(ctx context.Context, job remlJob, ts *trainingSet, enc genomic.Encoding, stats map[string]string) (*mat.SymDense, error) {
	if enc == genomic.Additive && job.GRM != "" {
		if path := statsPath(job.GRM, enc); fileExists(path) {
			stats[enc.String()] = path
		} else {
			logrus.Warnf("%s not found; prediction will use allele frequencies of the training individuals", path)
		}
		g, ids, err := grm.Read(job.GRM)
		if err != nil {
			return nil, err
		}
		pos := make(map[string]int, len(ids))
		for i, id := range ids {
			pos[id] = i
		}
		idx := make([]int, len(ts.IDs))
		for i, id := range ts.IDs {
			k, ok := pos[id]
			if !ok {
				return nil, fmt.Errorf("%s.grm.id: individual %s missing: %w", job.GRM, id, genomic.ErrMalformedFile)
			}
			idx[i] = k
		}
		return grm.Subset(g, idx), nil
	}
	r, err := plink.Open(job.Input.BFile, job.Genotype.ChunkSize, plink.WithKeep(ts.IDs))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	cfg := job.Genotype
	cfg.Encoding = enc
	opts := grm.OptionsFrom(cfg)
	opts.Progress = job.Progress
	res, err := grm.Build(ctx, r, opts)
	if err != nil {
		return nil, err
	}
	path := statsPath(job.Out, enc)
	if err := geno.SaveStats(path, res.Stats); err != nil {
		return nil, err
	}
	stats[enc.String()] = path
	return res.G, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type bayesJob struct {
	Input    trainingInput
	Out      string
	Genotype genomic.GenotypeConfig
	MCMC     genomic.MCMCConfig
	Plot     bool
	Progress io.Writer
}

// fitBayes writes per-chain traces, <out>.summary.tsv, the training
// statistics and <out>.model.yaml. A cancelled run still writes the traces
// and summary of the samples drawn so far.
func fitBayes(ctx context.Context, job bayesJob) (*predict.FittedModel, error) {
	if job.Out == "" {
		return nil, fmt.Errorf("--out is required")
	}
	kind, err := bayes.ParseKind(job.MCMC.Model)
	if err != nil {
		return nil, err
	}
	ts, err := loadTraining(job.Input)
	if err != nil {
		return nil, err
	}
	r, err := plink.Open(job.Input.BFile, job.Genotype.ChunkSize, plink.WithKeep(ts.IDs))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	cfg := job.Genotype
	cfg.Encoding = genomic.Additive
	add, err := geno.LoadMarkers(r, cfg)
	if err != nil {
		return nil, err
	}
	stats := map[string]string{genomic.Additive.String(): statsPath(job.Out, genomic.Additive)}
	if err := geno.SaveStats(stats[genomic.Additive.String()], add.Stats); err != nil {
		return nil, err
	}
	d := &genomic.Dataset{SampleIDs: ts.IDs, Y: ts.Y, Effects: genomic.Effects{Fixed: ts.Fixed}}
	data := &bayes.Data{Y: ts.Y, Fixed: d.FixedDesign(), Additive: add, Random: ts.Random}
	if job.MCMC.Dominance {
		cfg.Encoding = genomic.Dominant
		if data.Dominant, err = geno.LoadMarkers(r, cfg); err != nil {
			return nil, err
		}
		stats[genomic.Dominant.String()] = statsPath(job.Out, genomic.Dominant)
		if err := geno.SaveStats(stats[genomic.Dominant.String()], data.Dominant.Stats); err != nil {
			return nil, err
		}
	}

	priors, err := bayes.NewPriors(kind, data, job.MCMC)
	if err != nil {
		return nil, err
	}
	factory := func(id int, rng *rand.Rand) (mcmc.Chain, error) {
		return bayes.NewChain(kind, data, priors, rng)
	}
	logrus.Infof("sampling Bayes%s: %d chain(s) × (%d burn-in + %d) iterations, seed %d",
		kind, job.MCMC.Chains, job.MCMC.Burnin, job.MCMC.Iterations, job.MCMC.Seed)
	start := time.Now()
	res, runErr := mcmc.NewRunner(mcmc.ConfigFrom(job.MCMC, job.Progress), genomic.NewSeedKey(job.MCMC.Seed)).Run(ctx, factory)
	if res == nil {
		return nil, runErr
	}
	if runErr != nil && !errors.Is(runErr, genomic.ErrCancelled) {
		return nil, runErr
	}
	if err := writeChains(job, res); err != nil {
		return nil, err
	}
	if runErr != nil {
		logrus.Warnf("sampling cancelled after %v; partial traces written to %s", time.Since(start).Round(time.Millisecond), job.Out)
		return nil, runErr
	}
	logrus.Infof("sampling finished in %v", time.Since(start).Round(time.Millisecond))
	for _, s := range res.Summary {
		if s.RHat > 1.1 {
			logrus.Warnf("%s has R-hat %.3f; chains may not have converged", s.Name, s.RHat)
		}
	}

	parts := make([]*bayes.Effects, len(res.Chains))
	for k, c := range res.Chains {
		parts[k] = c.(*bayes.Chain).Effects()
	}
	residual := 0.0
	for _, s := range res.Summary {
		if s.Name == "var_e" {
			residual = s.Mean
		}
	}
	model := predict.FromBayes(job.Input.BFile, ts.IDs, job.Genotype, predict.FixedLabelsOf(d), bayes.MergeEffects(parts), residual, stats)
	if err := predict.Save(job.Out+".model.yaml", model); err != nil {
		return nil, err
	}
	logrus.Infof("wrote %s.model.yaml", job.Out)
	return model, nil
}

func writeChains(job bayesJob, res *mcmc.Result) error {
	if res.Stores[0].Len() == 0 {
		logrus.Warn("no samples retained; traces not written")
		return nil
	}
	if err := mcmc.WriteTraces(job.Out, res); err != nil {
		return err
	}
	if err := mcmc.WriteSummary(job.Out+".summary.tsv", res.Summary); err != nil {
		return err
	}
	if job.Plot {
		return mcmc.PlotTraces(job.Out, res)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{fitREMLCmd, fitBayesCmd} {
		c.Flags().StringVar(&bfile, "bfile", "", "Training PLINK fileset prefix")
		c.Flags().StringVarP(&outPath, "out", "o", "", "Output prefix")
		c.Flags().StringVar(&phenoPath, "pheno", "", "Phenotype file (FID IID values...; gzip/xz and any delimiter)")
		c.Flags().StringVar(&phenoName, "pheno-name", "", "Phenotype column (default: first value column)")
		c.Flags().StringVar(&covarPath, "covar", "", "Covariate file")
		c.Flags().StringSliceVar(&qcovar, "qcovar", nil, "Quantitative covariate columns")
		c.Flags().StringSliceVar(&dcovar, "dcovar", nil, "Discrete covariate columns")
		c.Flags().StringSliceVar(&random, "random", nil, "Covariate columns fitted as iid random effects")
		addGenotypeFlags(c)
	}
	addREMLFlags(fitREMLCmd)
	fitREMLCmd.Flags().StringVar(&grmPrefix, "grm", "", "Precomputed additive GRM prefix (must match the genotype settings)")
	fitREMLCmd.Flags().StringVar(&gxe, "gxe", "", "Covariate column of environments interacting with the additive GRM")
	fitREMLCmd.Flags().BoolVar(&dominance, "dominance", false, "Add a dominance GRM component")

	addMCMCFlags(fitBayesCmd)
	fitBayesCmd.Flags().BoolVar(&plot, "plot", false, "Write PNG trace plots per monitored parameter")

	fitCmd.AddCommand(fitREMLCmd, fitBayesCmd)
}
