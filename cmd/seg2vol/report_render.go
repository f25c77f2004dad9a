package main

import (
	"fmt"
	"strings"
	"time"

	"seg2vol/pkg/batch"
)

func renderReport(report *batch.Report) string {
	var b strings.Builder

	written, skipped, composites := report.Counts()
	fmt.Fprintf(&b, "Case %s (run %s): %d written, %d unchanged, %d composites in %s\n",
		report.Case, report.RunID, written, skipped, composites,
		report.Finished.Sub(report.Started).Round(time.Millisecond))

	objects := newReportTable("Objects",
		textColumn("Segmentation"), textColumn("Object"), textColumn("Status"),
		numericColumn("Frames"), numericColumn("Slices"), numericColumn("Voxels"), textColumn("Artifact"))
	for _, f := range report.Folders {
		for _, o := range f.Objects {
			status := "written"
			switch {
			case o.Skipped:
				status = "unchanged"
			case o.Composite:
				status = "merged"
			}
			objects.add(f.Segmentation, o.Name, status, o.Frames,
				fmt.Sprintf("%d/%d", o.NonZeroSlices, f.Slots), o.VoxelCount, o.Artifact)
		}
	}

	series := newReportTable("Series",
		textColumn("Series"), textColumn("Number"), textColumn("Status"), numericColumn("Slots"), textColumn("Artifact"))
	for _, s := range report.Series {
		status := "written"
		if s.Skipped {
			status = "unchanged"
		}
		series.add(s.SeriesID, s.SeriesNumber, status, s.Slots, s.Artifact)
	}

	diags := newReportTable("Diagnostics",
		textColumn("Segmentation"), textColumn("Object"), numericColumn("Frame"), numericColumn("Slot"), textColumn("Problem"))
	for _, d := range report.Diagnostics {
		var slot any = "-"
		if d.Slot >= 0 {
			slot = d.Slot
		}
		diags.add(d.Segmentation, d.Object, d.FrameIndex, slot, d.Err.Error())
	}

	failures := newReportTable("Failures",
		textColumn("Segmentation"), textColumn("Object"), textColumn("Stage"), textColumn("Error"))
	for _, f := range report.Failures {
		failures.add(f.Segmentation, f.Object, f.Stage, f.Err.Error())
	}

	for _, t := range []*reportTable{objects, series, diags, failures} {
		if t.empty() {
			continue
		}
		b.WriteString(t.render())
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
