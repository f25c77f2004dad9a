package volumestore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"seg2vol/internal/models"
	"seg2vol/internal/testsupport"
	"seg2vol/pkg/segmentation"
	"seg2vol/pkg/series"
)

func testVolume() *models.Volume {
	vol := models.NewVolume("P", 4, 2, 3)
	vol.SetSlice(1, []uint8{1, 0, 1, 0, 0, 1})
	return vol
}

func TestWriteAndRead(t *testing.T) {
	store := New(t.TempDir())
	vol := testVolume()

	index, err := series.NewIndex(testsupport.AxialSeries("1.2", "3", 4, 2, 3, 2.5))
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}
	s, _ := index.Series("1.2")
	h := NewHeader("3_ON_P_FN_A", vol, s.Geometry(models.Geometry{}))
	h.Fingerprint = "abc"

	if err := store.Write(vol, h); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, header, err := store.Read("3_ON_P_FN_A")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Shape() != vol.Shape() || got.ObjectName != "P" {
		t.Errorf("Unexpected volume %v %s", got.Shape(), got.ObjectName)
	}
	for i := range vol.Data {
		if got.Data[i] != vol.Data[i] {
			t.Fatalf("Voxel %d: expected %d, got %d", i, vol.Data[i], got.Data[i])
		}
	}
	if header.VoxelCount != 3 {
		t.Errorf("Expected 3 voxels, got %d", header.VoxelCount)
	}
	if len(header.Affine) != 4 || header.Spacing[2] != 2.5 {
		t.Errorf("Unexpected geometry %+v", header)
	}

	slices, fp, err := store.Stat("3_ON_P_FN_A")
	if err != nil || slices != 4 || fp != "abc" {
		t.Errorf("Stat returned %d %q %v", slices, fp, err)
	}

	names, err := store.List()
	if err != nil || len(names) != 1 || names[0] != "3_ON_P_FN_A" {
		t.Errorf("List returned %v %v", names, err)
	}
}

func TestStatMissing(t *testing.T) {
	_, _, err := New(t.TempDir()).Stat("nothing")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected fs.ErrNotExist, got %v", err)
	}
}

func TestStatCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	vol := testVolume()
	if err := store.Write(vol, Header{Artifact: "x"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "volumes", "x.raw"), []byte{1, 2}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Stat("x"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt, got %v", err)
	}
}

func TestWriteAndReadScan(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	vol := models.NewScanVolume("1.2", 3, 2, 2)
	vol.SetSlice(0, []int16{-1024, -1, 0, 1})
	vol.SetSlice(2, []int16{32767, -32768, 400, 40})

	index, err := series.NewIndex(testsupport.AxialSeries("1.2", "3", 3, 2, 2, 2.5))
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}
	s, _ := index.Series("1.2")
	h := NewScanHeader("3", vol, s.Geometry(models.Geometry{}))
	h.Fingerprint = "abc"
	if err := store.WriteScan(vol, h); err != nil {
		t.Fatalf("WriteScan failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "volumes", "3.raw"))
	if err != nil || info.Size() != 24 {
		t.Fatalf("Expected 24 raw bytes, got %v (%v)", info, err)
	}
	slices, fp, err := store.Stat("3")
	if err != nil || slices != 3 || fp != "abc" {
		t.Errorf("Stat returned %d %q %v", slices, fp, err)
	}

	got, header, err := store.ReadScan("3")
	if err != nil {
		t.Fatalf("ReadScan failed: %v", err)
	}
	if header.DataType != DataTypeInt16 || header.SeriesID != "1.2" || len(header.Affine) != 4 {
		t.Errorf("Unexpected header %+v", header)
	}
	for i := range vol.Data {
		if got.Data[i] != vol.Data[i] {
			t.Fatalf("Voxel %d: expected %d, got %d", i, vol.Data[i], got.Data[i])
		}
	}

	if _, _, err := store.Read("3"); !errors.Is(err, ErrDataType) {
		t.Errorf("Expected ErrDataType reading a scan as a mask, got %v", err)
	}
	if err := store.Write(testVolume(), Header{Artifact: "m"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, _, err := store.ReadScan("m"); !errors.Is(err, ErrDataType) {
		t.Errorf("Expected ErrDataType reading a mask as a scan, got %v", err)
	}
}

func TestNewHeaderOrigin(t *testing.T) {
	geom := series.Geometry{Origin: r3.Vec{X: 1, Y: 2, Z: 3}}
	h := NewHeader("a", testVolume(), geom)
	if h.Origin != [3]float64{1, 2, 3} || h.Affine != nil {
		t.Errorf("Unexpected header %+v", h)
	}
}

func TestWriteDocument(t *testing.T) {
	rec := testsupport.SegRecord{
		SeriesID: "1.2",
		Rows:     2,
		Cols:     2,
		Segments: []testsupport.Segment{{Number: 1, Label: "P"}},
		Frames:   []testsupport.Frame{{Segment: 1, Instance: "1.2.1"}, {Segment: 1, Instance: "1.2.2"}},
	}
	doc, err := segmentation.Decode(rec.Tree(), models.FolderMeta{Folder: "SEG_1", SegmentorName: "reader one", ExportName: "liver"})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	store := New(t.TempDir())
	path, err := store.WriteDocument(doc)
	if err != nil {
		t.Fatalf("WriteDocument failed: %v", err)
	}
	if filepath.Base(path) != "EN_liver_SN_reader_one_FN_SEG_1.yaml" {
		t.Errorf("Unexpected document path %s", path)
	}

	sum, err := store.ReadDocument(DocumentName(doc))
	if err != nil {
		t.Fatalf("ReadDocument failed: %v", err)
	}
	if sum.FrameCount != 2 || sum.FramesPerObject["P"] != 2 || sum.ReferencedSeriesID != "1.2" {
		t.Errorf("Unexpected summary %+v", sum)
	}
	if nums := sum.SegmentNumbers["P"]; len(nums) != 1 || nums[0] != 1 {
		t.Errorf("Expected P from segment 1, got %v", sum.SegmentNumbers)
	}
}
