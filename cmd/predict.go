package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/pheno"
	"github.com/genopred/genopred/genomic/plink"
	"github.com/genopred/genopred/genomic/predict"
)

var (
	modelPath string // Fitted model YAML
	trainPath string // Overrides the training prefix stored in the model
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict phenotypes of a new cohort from a fitted model",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := runPredict(cmd.Context(), predictJob{
			Model:     modelPath,
			Train:     trainPath,
			BFile:     bfile,
			Covar:     covarPath,
			Out:       outPath,
			Pheno:     phenoPath,
			PhenoName: phenoName,
			Progress:  progressWriter(),
		})
		return err
	},
}

type predictJob struct {
	Model     string
	Train     string
	BFile     string
	Covar     string
	Out       string
	Pheno     string // optional observed phenotypes for evaluation
	PhenoName string
	Progress  io.Writer
}

// runPredict writes <out>.pred.tsv. Nothing is written when the SNP lists of
// the training and test filesets differ.
func runPredict(ctx context.Context, job predictJob) ([]pheno.Prediction, error) {
	if job.Model == "" || job.BFile == "" || job.Out == "" {
		return nil, fmt.Errorf("--model, --bfile and --out are required")
	}
	model, err := predict.Load(job.Model)
	if err != nil {
		return nil, err
	}
	if job.Train != "" {
		model.Train = job.Train
	}
	test, err := plink.Open(job.BFile, model.Genotype.Config(genomic.Additive).ChunkSize)
	if err != nil {
		return nil, err
	}
	defer test.Close()
	testIDs := plink.SampleIDs(test.Samples())

	var cov *pheno.Table
	if job.Covar != "" {
		if cov, err = pheno.ReadTable(job.Covar); err != nil {
			return nil, err
		}
	}
	design, err := pheno.Design(cov, testIDs, model.FixedLabels())
	if err != nil {
		return nil, err
	}
	fixed, err := predict.FixedEffects(model, design)
	if err != nil {
		return nil, err
	}

	var genetic *mat.Dense
	switch model.Method {
	case predict.MethodGBLUP:
		train, err := plink.Open(model.Train, model.Genotype.Config(genomic.Additive).ChunkSize, plink.WithKeep(model.TrainIDs))
		if err != nil {
			return nil, err
		}
		defer train.Close()
		genetic, err = (&predict.GBLUP{Model: model, Progress: job.Progress}).GeneticEffects(ctx, train, test)
		if err != nil {
			return nil, err
		}
	case predict.MethodBayes:
		genetic, err = (&predict.Bayes{Model: model}).GeneticEffects(test)
		if err != nil {
			return nil, err
		}
	}

	preds := predict.Combine(test.Samples(), fixed, genetic)
	if err := pheno.WritePredictions(job.Out+".pred.tsv", preds); err != nil {
		return nil, err
	}
	if job.Pheno != "" {
		observed, err := phenotypeMap(job.Pheno, job.PhenoName)
		if err != nil {
			return nil, err
		}
		r, n, err := predict.Evaluate(preds, observed)
		if err != nil {
			logrus.Warnf("prediction accuracy not computed: %v", err)
		} else {
			logrus.WithFields(logrus.Fields{"pearson": r, "individuals": n}).Info("prediction accuracy")
		}
	}
	return preds, nil
}

func init() {
	predictCmd.Flags().StringVar(&modelPath, "model", "", "Fitted model written by fit (<out>.model.yaml)")
	predictCmd.Flags().StringVar(&trainPath, "train", "", "Training fileset prefix (default: the one recorded in the model)")
	predictCmd.Flags().StringVar(&bfile, "bfile", "", "Test PLINK fileset prefix")
	predictCmd.Flags().StringVar(&covarPath, "covar", "", "Covariate file for the test individuals")
	predictCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output prefix")
	predictCmd.Flags().StringVar(&phenoPath, "pheno", "", "Observed phenotypes of the test individuals, for evaluation")
	predictCmd.Flags().StringVar(&phenoName, "pheno-name", "", "Phenotype column (default: first value column)")
}
