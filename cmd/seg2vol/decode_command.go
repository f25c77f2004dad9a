package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"seg2vol/internal/models"
	"seg2vol/pkg/dicomtree"
	"seg2vol/pkg/segmentation"
	"seg2vol/pkg/volumestore"
)

func newDecodeCommand(ctx *commandContext) *cobra.Command {
	var (
		folder    string
		segmentor string
		asYAML    bool
	)

	cmd := &cobra.Command{
		Use:   "decode <seg.dcm>",
		Short: "Decode a segmentation record and summarize its objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := dicomtree.ReadFile(args[0])
			if err != nil {
				return err
			}
			if folder == "" {
				folder = filepath.Base(filepath.Dir(args[0]))
			}
			doc, err := segmentation.Decode(root, models.FolderMeta{Folder: folder, SegmentorName: segmentor})
			if err != nil {
				return err
			}
			ctx.loggerValue().Debug("segmentation decoded", "folder", folder, "frames", doc.FrameCount)

			out := cmd.OutOrStdout()
			if asYAML {
				data, err := yaml.Marshal(volumestore.Summarize(doc))
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}
			fmt.Fprintln(out, renderDocument(doc))
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Folder name recorded for the segmentation (default: parent directory)")
	cmd.Flags().StringVar(&segmentor, "segmentor", "", "Segmentor name recorded for the segmentation")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the document summary as YAML")
	return cmd
}

func renderDocument(doc *models.Document) string {
	t := newReportTable(
		fmt.Sprintf("%s (%s) -> series %s, %d frames of %dx%d",
			doc.ExportedName, doc.SegmentationType, doc.ReferencedSeriesID, doc.FrameCount, doc.Rows, doc.Cols),
		textColumn("Segments"), textColumn("Object"), numericColumn("Frames"))
	for _, obj := range doc.Objects {
		numbers := make([]string, len(obj.Numbers))
		for i, n := range obj.Numbers {
			numbers[i] = strconv.Itoa(n)
		}
		t.add(strings.Join(numbers, ","), obj.Segment.Name, len(obj.Frames))
	}
	return t.render()
}
