package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"seg2vol/pkg/batch"
	"seg2vol/pkg/catalog"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		overwrite bool
		workers   int
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "run <catalog> [segmentation...]",
		Short: "Reconstruct every selected segmentation of a case",
		Long: "Decode, reconstruct and merge the segmentations of one case.\n" +
			"Segmentations are selected by folder or exported name; \"all\" selects every one.\n" +
			"Without names the catalog's own select list is used.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("overwrite") {
				cfg.Reconstruction.Overwrite = overwrite
			}
			if workers > 0 {
				cfg.Processing.Workers = workers
			}
			if strings.TrimSpace(outputDir) != "" {
				cfg.Output.Dir = outputDir
			}

			cat, err := catalog.Load(args[0])
			if err != nil {
				return err
			}
			runner, err := batch.NewRunner(cfg, ctx.loggerValue())
			if err != nil {
				return err
			}

			report, err := runner.Run(cmd.Context(), cat, args[1:])
			if report != nil {
				fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
			}
			if err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("%d failure(s) in case %s", len(report.Failures), report.Case)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Regenerate volumes even when stored ones are current")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Number of segmentation folders processed at once")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (overrides output.dir)")
	return cmd
}
