package reconstruction

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"seg2vol/internal/models"
	"seg2vol/internal/testsupport"
	"seg2vol/pkg/segmentation"
	"seg2vol/pkg/series"
)

const spacing = 2.5

type fakeStore map[string]stored

type stored struct {
	slices      int
	fingerprint string
}

func (s fakeStore) Stat(artifact string) (int, string, error) {
	st, ok := s[artifact]
	if !ok {
		return 0, "", fmt.Errorf("%s: %w", artifact, fs.ErrNotExist)
	}
	return st.slices, st.fingerprint, nil
}

func setup(t *testing.T, slices int, rec testsupport.SegRecord) (*series.Index, *models.Document) {
	t.Helper()
	index, err := series.NewIndex(testsupport.AxialSeries("1.2.3", "7", slices, rec.Rows, rec.Cols, spacing))
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}
	doc, err := segmentation.Decode(rec.Tree(), models.FolderMeta{Folder: "SEG_A", SegmentorName: "reader1"})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return index, doc
}

func record(frames ...testsupport.Frame) testsupport.SegRecord {
	return testsupport.SegRecord{
		SeriesID: "1.2.3",
		Rows:     3,
		Cols:     3,
		Segments: []testsupport.Segment{{Number: 1, Label: "P"}, {Number: 2, Label: "G"}, {Number: 3, Label: "M"}},
		Frames:   frames,
	}
}

func onSlice(seg, k int) testsupport.Frame {
	return testsupport.Frame{
		Segment:  seg,
		Position: testsupport.SlicePosition(k, spacing),
		Instance: testsupport.InstanceID("1.2.3", k),
	}
}

// TestSingleFrameFillsWholeSeries checks the output always has one slice per slot
func TestSingleFrameFillsWholeSeries(t *testing.T) {
	index, doc := setup(t, 50, record(onSlice(1, 17)))

	out, err := NewReconstructor(nil, index, nil, nil).Process(doc)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(out.Objects) != 1 {
		t.Fatalf("Expected 1 object, got %d", len(out.Objects))
	}

	vol := out.Objects[0].Volume
	if vol.Shape() != [3]int{50, 3, 3} {
		t.Errorf("Expected shape (50,3,3), got %v", vol.Shape())
	}
	if got := vol.NonZeroSlices(); got != 1 {
		t.Errorf("Expected 1 non-zero slice, got %d", got)
	}
	if vol.Slice(17)[0] != 1 {
		t.Errorf("Expected slot 17 to hold the frame")
	}
	if out.Objects[0].Artifact != "7_ON_P_FN_SEG_A" {
		t.Errorf("Unexpected artifact name %s", out.Objects[0].Artifact)
	}
}

// TestThreeObjectsAgainstFortySlices reconstructs interleaved objects
func TestThreeObjectsAgainstFortySlices(t *testing.T) {
	order := []int{1, 2, 1, 3, 1, 2, 1, 2, 1}
	var frames []testsupport.Frame
	for i, seg := range order {
		frames = append(frames, onSlice(seg, i+10))
	}
	index, doc := setup(t, 40, record(frames...))

	out, err := NewReconstructor(&Params{}, index, nil, nil).Process(doc)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	expected := map[string]int{"P": 5, "G": 3, "M": 1}
	if len(out.Objects) != len(expected) {
		t.Fatalf("Expected %d objects, got %d", len(expected), len(out.Objects))
	}
	for _, res := range out.Objects {
		if res.Volume.Slices != 40 {
			t.Errorf("%s: expected 40 slices, got %d", res.Object, res.Volume.Slices)
		}
		if got := res.Volume.NonZeroSlices(); got != expected[res.Object] {
			t.Errorf("%s: expected %d non-zero slices, got %d", res.Object, expected[res.Object], got)
		}
		if len(res.Diagnostics) != 0 {
			t.Errorf("%s: unexpected diagnostics %v", res.Object, res.Diagnostics)
		}
	}

	m := out.Objects[2]
	if m.Object != "M" || m.Volume.Slice(13)[0] != 1 {
		t.Errorf("Expected M on slot 13")
	}
	if out.Slots != 40 || out.SeriesNumber != "7" {
		t.Errorf("Unexpected output header: slots %d series %s", out.Slots, out.SeriesNumber)
	}
}

// TestDuplicateSlotLaterFrameWins checks duplicate correlation handling
func TestDuplicateSlotLaterFrameWins(t *testing.T) {
	first := onSlice(1, 4)
	first.Pixels = []uint8{1, 0, 0, 0, 0, 0, 0, 0, 0}
	second := onSlice(1, 4)
	second.Pixels = []uint8{0, 0, 0, 0, 0, 0, 0, 0, 1}

	index, doc := setup(t, 10, record(first, second))
	out, err := NewReconstructor(nil, index, nil, nil).Process(doc)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	res := out.Objects[0]
	slice := res.Volume.Slice(4)
	if slice[0] != 0 || slice[8] != 1 {
		t.Errorf("Expected the later frame to survive, got %v", slice)
	}
	if res.Placed != 1 {
		t.Errorf("Expected 1 placed slot, got %d", res.Placed)
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("Expected 1 diagnostic, got %d", len(res.Diagnostics))
	}
	d := res.Diagnostics[0]
	if !errors.Is(d, ErrDuplicateSlot) || d.FrameIndex != 1 || d.Slot != 4 {
		t.Errorf("Unexpected diagnostic %+v", d)
	}
}

// TestPositionFallback places frames without an instance reference by position
func TestPositionFallback(t *testing.T) {
	frame := testsupport.Frame{Segment: 1, Position: testsupport.SlicePosition(6, spacing)}
	index, doc := setup(t, 12, record(frame))

	out, err := NewReconstructor(nil, index, nil, nil).Process(doc)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	vol := out.Objects[0].Volume
	if vol.Slice(6)[0] != 1 || vol.NonZeroSlices() != 1 {
		t.Errorf("Expected the frame on slot 6 only")
	}
}

// TestUncorrelatedFrameIsDiagnosed keeps going past frames with no slot
func TestUncorrelatedFrameIsDiagnosed(t *testing.T) {
	lost := testsupport.Frame{Segment: 1, Position: []float64{0, 0, 999}, Instance: "9.9.9"}
	index, doc := setup(t, 12, record(lost, onSlice(1, 2)))

	out, err := NewReconstructor(nil, index, nil, nil).Process(doc)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	res := out.Objects[0]
	if res.Placed != 1 || res.Volume.NonZeroSlices() != 1 {
		t.Errorf("Expected one placed frame, got %d", res.Placed)
	}
	if len(res.Diagnostics) != 1 || !errors.Is(res.Diagnostics[0], ErrSliceCorrelation) {
		t.Fatalf("Expected a correlation diagnostic, got %v", res.Diagnostics)
	}
	if res.Diagnostics[0].Slot != -1 {
		t.Errorf("Expected unplaced slot -1, got %d", res.Diagnostics[0].Slot)
	}
}

// TestMissingSeries fails the whole document
func TestMissingSeries(t *testing.T) {
	index, doc := setup(t, 5, record(onSlice(1, 0)))
	doc.ReferencedSeriesID = "4.5.6"

	_, err := NewReconstructor(nil, index, nil, nil).Process(doc)
	if !errors.Is(err, series.ErrSeriesNotFound) {
		t.Errorf("Expected ErrSeriesNotFound, got %v", err)
	}
}

// TestIdempotentSkip covers the stored slot count and fingerprint checks
func TestIdempotentSkip(t *testing.T) {
	index, doc := setup(t, 8, record(onSlice(1, 3)))
	s, _ := index.Series("1.2.3")
	fp := Fingerprint(s.Entry)
	artifact := ArtifactName("7", "P", "SEG_A")

	tests := []struct {
		name      string
		store     fakeStore
		overwrite bool
		skipped   bool
	}{
		{"absent", fakeStore{}, false, false},
		{"matching", fakeStore{artifact: {8, fp}}, false, true},
		{"length only", fakeStore{artifact: {8, ""}}, false, true},
		{"wrong length", fakeStore{artifact: {7, fp}}, false, false},
		{"changed geometry", fakeStore{artifact: {8, "stale"}}, false, false},
		{"overwrite", fakeStore{artifact: {8, fp}}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconstructor(&Params{Overwrite: tt.overwrite}, index, tt.store, nil)
			out, err := r.Process(doc)
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			res := out.Objects[0]
			if res.Skipped != tt.skipped {
				t.Errorf("Expected skipped=%v, got %v", tt.skipped, res.Skipped)
			}
			if !tt.skipped && res.Volume == nil {
				t.Errorf("Expected a volume when not skipped")
			}
		})
	}
}

// TestReconstructObject reconstructs one object by name
func TestReconstructObject(t *testing.T) {
	index, doc := setup(t, 6, record(onSlice(1, 0), onSlice(2, 1)))
	r := NewReconstructor(nil, index, nil, nil)

	res, err := r.ReconstructObject(doc, "G")
	if err != nil {
		t.Fatalf("ReconstructObject failed: %v", err)
	}
	if res.Volume.Slice(1)[0] != 1 || res.Volume.NonZeroSlices() != 1 {
		t.Errorf("Expected G on slot 1 only")
	}

	if _, err := r.ReconstructObject(doc, "X"); err == nil {
		t.Errorf("Expected an error for an unknown object")
	}
}

func TestArtifactName(t *testing.T) {
	if got := ArtifactName("3", "left lung", "a/b"); got != "3_ON_left_lung_FN_a_b" {
		t.Errorf("Unexpected name %s", got)
	}
}
