package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/genopred/genopred/genomic"
	"github.com/genopred/genopred/genomic/geno"
	"github.com/genopred/genopred/genomic/grm"
	"github.com/genopred/genopred/genomic/plink"
)

var (
	bfile     string   // PLINK fileset prefix
	outPath   string   // Output prefix
	keepIDs   []string // Restrict to these IIDs
	removeIDs []string // Drop these IIDs
)

var grmCmd = &cobra.Command{
	Use:   "grm",
	Short: "Build a genomic relationship matrix from a PLINK fileset",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := loadBundle()
		if err != nil {
			return err
		}
		cfg, err := genotypeConfig(cmd, b)
		if err != nil {
			return err
		}
		_, err = buildGRM(cmd.Context(), bfile, outPath, cfg, keepIDs, removeIDs, progressWriter())
		return err
	},
}

// buildGRM writes <out>.grm.npy, <out>.grm.id and the per-SNP statistics
// <out>.<encoding>.stats.npy.
func buildGRM(ctx context.Context, prefix, out string, cfg genomic.GenotypeConfig, keep, remove []string, progress io.Writer) (*grm.Result, error) {
	if prefix == "" || out == "" {
		return nil, fmt.Errorf("--bfile and --out are required")
	}
	var opts []plink.Option
	if len(keep) > 0 {
		opts = append(opts, plink.WithKeep(keep))
	}
	if len(remove) > 0 {
		opts = append(opts, plink.WithExclude(remove))
	}
	r, err := plink.Open(prefix, cfg.ChunkSize, opts...)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	start := time.Now()
	gopts := grm.OptionsFrom(cfg)
	gopts.Progress = progress
	res, err := grm.Build(ctx, r, gopts)
	if err != nil {
		return nil, err
	}
	if err := grm.Write(out, res.G, res.Samples); err != nil {
		return nil, err
	}
	if err := geno.SaveStats(statsPath(out, cfg.Encoding), res.Stats); err != nil {
		return nil, err
	}
	logrus.Infof("%s GRM over %d individuals from %d polymorphic markers (%d monomorphic skipped) in %v",
		cfg.Encoding, len(res.Samples), res.NumMarkers, len(res.Mono()), time.Since(start).Round(time.Millisecond))
	return res, nil
}

func statsPath(out string, enc genomic.Encoding) string {
	return fmt.Sprintf("%s.%s.stats.npy", out, enc)
}

func init() {
	grmCmd.Flags().StringVar(&bfile, "bfile", "", "PLINK fileset prefix (.bed/.bim/.fam; gs:// allowed)")
	grmCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output prefix")
	grmCmd.Flags().StringVar(&encoding, "encoding", "additive", "Genotype encoding: additive or dominant")
	grmCmd.Flags().StringSliceVar(&keepIDs, "keep", nil, "Comma-separated IIDs to keep")
	grmCmd.Flags().StringSliceVar(&removeIDs, "remove", nil, "Comma-separated IIDs to drop")
	addGenotypeFlags(grmCmd)
}
