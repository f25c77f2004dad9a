package testsupport

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"seg2vol/internal/models"
	"seg2vol/pkg/dicomtree"
	"seg2vol/pkg/tagtree"
)

// Segment names one segment of a synthetic record. A zero Number leaves
// the segment number out of the item.
type Segment struct {
	Number int
	Label  string
}

// Frame describes one synthetic frame. A nil Position or empty Instance
// leaves the corresponding functional group out; nil Pixels fills the
// frame with ones.
type Frame struct {
	Segment  int
	Position []float64
	Instance string
	Pixels   []uint8
}

// SegRecord builds tag trees shaped like a multi-frame segmentation object.
type SegRecord struct {
	SeriesID string
	Rows     int
	Cols     int
	Segments []Segment
	Frames   []Frame

	// ExtraPixelFrames appends frames to the pixel data without per-frame groups
	ExtraPixelFrames int
}

// Tree renders the record.
func (r SegRecord) Tree() *tagtree.Item {
	root := tagtree.NewItem().
		Set(dicomtree.SeriesDescription, []string{"test_export"}).
		Set(dicomtree.SegmentationType, []string{"BINARY"}).
		Set(dicomtree.Rows, []int{r.Rows}).
		Set(dicomtree.Columns, []int{r.Cols})

	if r.SeriesID != "" {
		root.SetSequence(dicomtree.ReferencedSeriesSeq,
			tagtree.NewItem().Set(dicomtree.SeriesInstanceUID, []string{r.SeriesID}))
	}

	root.SetSequence(dicomtree.SharedFunctionalGroupsSeq, tagtree.NewItem().
		SetSequence(dicomtree.PixelMeasuresSeq, tagtree.NewItem().
			Set(dicomtree.PixelSpacing, []string{"0.7", "0.7"}).
			Set(dicomtree.SliceThickness, []string{"2.5"})).
		SetSequence(dicomtree.PlaneOrientationSeq, tagtree.NewItem().
			Set(dicomtree.ImageOrientationPatient, []string{"1", "0", "0", "0", "1", "0"})))

	segItems := make([]*tagtree.Item, 0, len(r.Segments))
	for _, s := range r.Segments {
		it := tagtree.NewItem()
		if s.Number != 0 {
			it.Set(dicomtree.SegmentNumber, []int{s.Number})
		}
		if s.Label != "" {
			it.Set(dicomtree.SegmentLabel, []string{s.Label})
		}
		segItems = append(segItems, it)
	}
	root.SetSequence(dicomtree.SegmentSeq, segItems...)

	frameItems := make([]*tagtree.Item, 0, len(r.Frames))
	pixels := &tagtree.PixelFrames{Rows: r.Rows, Cols: r.Cols}
	for _, f := range r.Frames {
		it := tagtree.NewItem().SetSequence(dicomtree.SegmentIdentificationSeq,
			tagtree.NewItem().Set(dicomtree.ReferencedSegmentNumber, []int{f.Segment}))
		if f.Position != nil {
			it.SetSequence(dicomtree.PlanePositionSeq,
				tagtree.NewItem().Set(dicomtree.ImagePositionPatient, f.Position))
		}
		if f.Instance != "" {
			it.SetSequence(dicomtree.DerivationImageSeq, tagtree.NewItem().
				SetSequence(dicomtree.SourceImageSeq, tagtree.NewItem().
					Set(dicomtree.ReferencedSOPInstUID, []string{f.Instance})))
		}
		frameItems = append(frameItems, it)
		pixels.Frames = append(pixels.Frames, framePixels(f.Pixels, r.Rows*r.Cols))
	}
	for i := 0; i < r.ExtraPixelFrames; i++ {
		pixels.Frames = append(pixels.Frames, framePixels(nil, r.Rows*r.Cols))
	}
	root.SetSequence(dicomtree.PerFrameFunctionalGroupsSeq, frameItems...)
	root.Set(dicomtree.NumberOfFrames, []string{fmt.Sprint(len(pixels.Frames))})
	root.Set(dicomtree.PixelData, pixels)
	return root
}

func framePixels(pixels []uint8, size int) []uint8 {
	if pixels != nil {
		return pixels
	}
	out := make([]uint8, size)
	for i := range out {
		out[i] = 1
	}
	return out
}

// InstanceID returns the synthetic instance id of slice k of a series.
func InstanceID(seriesID string, k int) string {
	return fmt.Sprintf("%s.%d", seriesID, k+1)
}

// AxialSeries builds a catalog entry of n axial slices spaced along z.
func AxialSeries(seriesID, number string, n, rows, cols int, spacing float64) models.SeriesCatalogEntry {
	entry := models.SeriesCatalogEntry{
		SeriesID:       seriesID,
		SeriesNumber:   number,
		Orientation:    []float64{1, 0, 0, 0, 1, 0},
		PixelSpacing:   []float64{0.7, 0.7},
		SliceThickness: spacing,
		Rows:           rows,
		Cols:           cols,
	}
	for k := 0; k < n; k++ {
		pos := r3.Vec{X: -100, Y: -120, Z: float64(k) * spacing}
		entry.Slices = append(entry.Slices, models.SliceRef{
			InstanceID:     InstanceID(seriesID, k),
			InstanceNumber: k + 1,
			Position:       &pos,
		})
	}
	return entry
}

// SlicePosition returns the position slice k of an AxialSeries entry has.
func SlicePosition(k int, spacing float64) []float64 {
	return []float64{-100, -120, float64(k) * spacing}
}
