package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"seg2vol/pkg/batch"
	"seg2vol/pkg/merge"
)

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var (
		caseName string
		folder   string
		name     string
		mode     string
	)

	cmd := &cobra.Command{
		Use:   "merge <object> <object> [object...]",
		Short: "Merge stored objects of one segmentation into a composite",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(caseName) == "" || strings.TrimSpace(folder) == "" {
				return errors.New("--case and --folder are required")
			}
			if mode != "" {
				cfg.Merge.Mode = mode
			}

			runner, err := batch.NewRunner(cfg, ctx.loggerValue())
			if err != nil {
				return err
			}
			sum, err := runner.MergeStored(cmd.Context(), caseName, folder, merge.Directive{OldObjects: args, NewObject: name})
			if err != nil {
				return err
			}

			t := newReportTable("",
				textColumn("Composite"), textColumn("Constituents"), numericColumn("Slices"), numericColumn("Voxels"), textColumn("Artifact"))
			t.add(sum.Name, strings.Join(sum.Constituents, ", "), sum.NonZeroSlices, sum.VoxelCount, sum.Artifact)
			fmt.Fprintln(cmd.OutOrStdout(), t.render())
			return nil
		},
	}

	cmd.Flags().StringVar(&caseName, "case", "", "Case name")
	cmd.Flags().StringVar(&folder, "folder", "", "Segmentation folder")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Composite name (default: sorted object names joined with +)")
	cmd.Flags().StringVar(&mode, "mode", "", "Merge mode: or or sum (overrides merge.mode)")
	return cmd
}
