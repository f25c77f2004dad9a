package batch

import (
	"fmt"
	"time"

	"seg2vol/pkg/reconstruction"
)

// Stages a failure can be attributed to
const (
	StageSelect      = "select"
	StagePlan        = "plan"
	StageRead        = "read"
	StageDecode      = "decode"
	StageDocument    = "document"
	StageReconstruct = "reconstruct"
	StageStore       = "store"
	StageRegistry    = "registry"
	StageMerge       = "merge"
	StageSeries      = "series"
)

// Failure is a problem scoped to one segmentation, object or merge
// directive. Failures never stop the rest of the batch.
type Failure struct {
	Case         string
	Segmentation string
	Object       string
	Stage        string
	Err          error
}

func (f Failure) Error() string {
	scope := f.Case
	if f.Segmentation != "" {
		scope += "/" + f.Segmentation
	}
	if f.Object != "" {
		scope += "/" + f.Object
	}
	return fmt.Sprintf("%s [%s]: %v", scope, f.Stage, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// ObjectSummary describes one produced (or kept) object volume
type ObjectSummary struct {
	Name          string
	Artifact      string
	Composite     bool
	Constituents  []string
	Skipped       bool
	Frames        int
	VoxelCount    int
	NonZeroSlices int
}

// SeriesSummary describes one scan series volume
type SeriesSummary struct {
	SeriesID     string
	SeriesNumber string
	Artifact     string
	Slots        int
	Skipped      bool
}

// FolderSummary describes one processed segmentation folder
type FolderSummary struct {
	Segmentation string
	ExportedName string
	SeriesNumber string
	Slots        int
	Frames       int
	Document     string
	Objects      []ObjectSummary
}

// Report is the outcome of one run over a case
type Report struct {
	RunID    string
	Case     string
	Started  time.Time
	Finished time.Time

	Folders     []FolderSummary
	Series      []SeriesSummary
	Failures    []Failure
	Diagnostics []reconstruction.Diagnostic
}

// OK reports whether the run finished without failures
func (r *Report) OK() bool {
	return len(r.Failures) == 0
}

// Counts returns the number of written, skipped and composite objects
func (r *Report) Counts() (written, skipped, composites int) {
	for _, f := range r.Folders {
		for _, o := range f.Objects {
			switch {
			case o.Skipped:
				skipped++
			case o.Composite:
				composites++
			default:
				written++
			}
		}
	}
	return written, skipped, composites
}
