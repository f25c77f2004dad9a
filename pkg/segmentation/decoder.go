// Package segmentation decodes a multi-frame segmentation record into a
// Document holding one ordered frame list per segmented object.
//
// Per-frame attributes (segment number, plane position, source instance and
// pixel array) are resolved as separate lists from the functional group
// sequences and zipped into FrameRecords by index immediately, so the rest of
// the module never has to keep parallel lists in step.
package segmentation

import (
	"errors"
	"fmt"

	"seg2vol/internal/models"
	"seg2vol/pkg/dicomtree"
	"seg2vol/pkg/tagtree"
)

var (
	// ErrMalformed is returned when the per-frame lists disagree in length
	// or reference undefined segments
	ErrMalformed = errors.New("malformed segmentation")

	// ErrMissingTag is returned when the referenced series or the pixel data is absent
	ErrMissingTag = errors.New("missing required tag")
)

const (
	defaultExportedName = "Unnamed_Segmentation"
	defaultType         = "UNKNOWN"
)

var (
	pathSegmentNumbers = tagtree.Path{
		tagtree.Each(dicomtree.PerFrameFunctionalGroupsSeq),
		tagtree.One(dicomtree.SegmentIdentificationSeq),
		tagtree.One(dicomtree.ReferencedSegmentNumber),
	}
	pathPositions = tagtree.Path{
		tagtree.Each(dicomtree.PerFrameFunctionalGroupsSeq),
		tagtree.One(dicomtree.PlanePositionSeq),
		tagtree.One(dicomtree.ImagePositionPatient),
	}
	pathSourceInstances = tagtree.Path{
		tagtree.Each(dicomtree.PerFrameFunctionalGroupsSeq),
		tagtree.One(dicomtree.DerivationImageSeq),
		tagtree.One(dicomtree.SourceImageSeq),
		tagtree.One(dicomtree.ReferencedSOPInstUID),
	}
	pathSegments         = tagtree.Path{tagtree.Each(dicomtree.SegmentSeq)}
	pathReferencedSeries = tagtree.Path{
		tagtree.One(dicomtree.ReferencedSeriesSeq),
		tagtree.One(dicomtree.SeriesInstanceUID),
	}
	pathReferencedClass = tagtree.Path{
		tagtree.One(dicomtree.ReferencedSeriesSeq),
		tagtree.One(dicomtree.ReferencedInstanceSeq),
		tagtree.One(dicomtree.ReferencedSOPClassUID),
	}
	pathPixelSpacing = tagtree.Path{
		tagtree.One(dicomtree.SharedFunctionalGroupsSeq),
		tagtree.One(dicomtree.PixelMeasuresSeq),
		tagtree.One(dicomtree.PixelSpacing),
	}
	pathSliceThickness = tagtree.Path{
		tagtree.One(dicomtree.SharedFunctionalGroupsSeq),
		tagtree.One(dicomtree.PixelMeasuresSeq),
		tagtree.One(dicomtree.SliceThickness),
	}
	pathSliceSpacing = tagtree.Path{
		tagtree.One(dicomtree.SharedFunctionalGroupsSeq),
		tagtree.One(dicomtree.PixelMeasuresSeq),
		tagtree.One(dicomtree.SpacingBetweenSlices),
	}
	pathOrientation = tagtree.Path{
		tagtree.One(dicomtree.SharedFunctionalGroupsSeq),
		tagtree.One(dicomtree.PlaneOrientationSeq),
		tagtree.One(dicomtree.ImageOrientationPatient),
	}
)

// Decode builds a Document from one parsed segmentation record.
// Structural failures wrap ErrMalformed or ErrMissingTag; absent optional
// attributes are left unset.
func Decode(root *tagtree.Item, meta models.FolderMeta) (*models.Document, error) {
	if root == nil {
		return nil, fmt.Errorf("decode %s: empty record: %w", meta.Folder, ErrMissingTag)
	}

	pixelElem, err := tagtree.Resolve(root, tagtree.Path{tagtree.One(dicomtree.PixelData)})
	if err != nil {
		return nil, fmt.Errorf("decode %s: pixel data: %w", meta.Folder, ErrMissingTag)
	}
	pixels, ok := tagtree.Pixels(pixelElem)
	if !ok || len(pixels.Frames) == 0 {
		return nil, fmt.Errorf("decode %s: pixel data holds no frames: %w", meta.Folder, ErrMissingTag)
	}

	seriesElem, err := tagtree.Resolve(root, pathReferencedSeries)
	if err != nil {
		return nil, fmt.Errorf("decode %s: referenced series: %w", meta.Folder, ErrMissingTag)
	}
	seriesID, ok := tagtree.String(seriesElem)
	if !ok {
		return nil, fmt.Errorf("decode %s: referenced series is empty: %w", meta.Folder, ErrMissingTag)
	}

	doc := &models.Document{
		Folder:             meta,
		ReferencedSeriesID: seriesID,
		ExportedName:       optionalString(root, tagtree.Path{tagtree.One(dicomtree.SeriesDescription)}, defaultExportedName),
		SegmentationType:   optionalString(root, tagtree.Path{tagtree.One(dicomtree.SegmentationType)}, defaultType),
		ReferencedClassUID: referencedClass(root),
		Geometry:           decodeGeometry(root),
		Rows:               optionalInt(root, dicomtree.Rows, pixels.Rows),
		Cols:               optionalInt(root, dicomtree.Columns, pixels.Cols),
	}
	if doc.Rows != pixels.Rows || doc.Cols != pixels.Cols {
		return nil, fmt.Errorf("decode %s: frames are %dx%d but record declares %dx%d: %w",
			meta.Folder, pixels.Rows, pixels.Cols, doc.Rows, doc.Cols, ErrMalformed)
	}

	segments, err := decodeSegments(root)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", meta.Folder, err)
	}
	doc.Segments = segments

	frames, err := decodeFrames(root, pixels)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", meta.Folder, err)
	}
	doc.FrameCount = len(frames)

	objects, err := groupFrames(frames, segments)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", meta.Folder, err)
	}
	doc.Objects = objects

	return doc, nil
}

// decodeFrames resolves the index-aligned per-frame lists and zips them
func decodeFrames(root *tagtree.Item, pixels *tagtree.PixelFrames) ([]models.FrameRecord, error) {
	numbers, err := tagtree.ResolveEach(root, pathSegmentNumbers)
	if err != nil {
		if errors.Is(err, tagtree.ErrNotFound) {
			return nil, fmt.Errorf("per-frame segment numbers absent for %d frames: %w", len(pixels.Frames), ErrMalformed)
		}
		return nil, err
	}
	positions, err := tagtree.ResolveEach(root, pathPositions)
	if err != nil {
		return nil, fmt.Errorf("per-frame positions: %w", err)
	}
	instances, err := tagtree.ResolveEach(root, pathSourceInstances)
	if err != nil {
		return nil, fmt.Errorf("per-frame source instances: %w", err)
	}

	// The three paths share one fan-out over the per-frame groups, so they
	// are the same length; only the pixel frames are counted separately.
	if len(numbers) != len(pixels.Frames) {
		return nil, fmt.Errorf("per-frame groups (%d) and pixel frames (%d) disagree: %w",
			len(numbers), len(pixels.Frames), ErrMalformed)
	}
	if n, ok := declaredFrameCount(root); ok && n != len(pixels.Frames) {
		return nil, fmt.Errorf("record declares %d frames but holds %d: %w", n, len(pixels.Frames), ErrMalformed)
	}

	frameSize := pixels.Rows * pixels.Cols
	frames := make([]models.FrameRecord, len(numbers))
	for i := range numbers {
		number, err := tagtree.Int(numbers[i])
		if err != nil {
			return nil, fmt.Errorf("frame %d has no segment number: %w", i, ErrMalformed)
		}
		if len(pixels.Frames[i]) != frameSize {
			return nil, fmt.Errorf("frame %d holds %d pixels, expected %d: %w", i, len(pixels.Frames[i]), frameSize, ErrMalformed)
		}

		frame := models.FrameRecord{
			Index:         i,
			SegmentNumber: number,
			Pixels:        pixels.Frames[i],
		}
		if positions[i] != nil {
			v, err := tagtree.Vec3(positions[i])
			if err != nil {
				return nil, fmt.Errorf("frame %d position: %v: %w", i, err, ErrMalformed)
			}
			frame.Position = &v
		}
		if instances[i] != nil {
			frame.ReferencedInstanceID, _ = tagtree.String(instances[i])
		}
		frames[i] = frame
	}
	return frames, nil
}

// groupFrames partitions frames per object name in order of first
// appearance, keeping the original frame order within each group. Segments
// sharing a label form one object under the first segment seen.
func groupFrames(frames []models.FrameRecord, segments map[int]models.SegmentDefinition) ([]models.ObjectFrames, error) {
	index := make(map[string]int)
	var objects []models.ObjectFrames
	for _, f := range frames {
		def, ok := segments[f.SegmentNumber]
		if !ok {
			return nil, fmt.Errorf("frame %d references undefined segment %d: %w", f.Index, f.SegmentNumber, ErrMalformed)
		}
		pos, seen := index[def.Name]
		if !seen {
			pos = len(objects)
			index[def.Name] = pos
			objects = append(objects, models.ObjectFrames{Segment: def})
		}
		obj := &objects[pos]
		if !containsInt(obj.Numbers, def.Number) {
			obj.Numbers = append(obj.Numbers, def.Number)
		}
		obj.Frames = append(obj.Frames, f)
	}
	return objects, nil
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

func decodeSegments(root *tagtree.Item) (map[int]models.SegmentDefinition, error) {
	segments := make(map[int]models.SegmentDefinition)
	items, err := tagtree.ResolveEach(root, pathSegments)
	if err != nil {
		if errors.Is(err, tagtree.ErrNotFound) {
			return segments, nil
		}
		return nil, err
	}
	for i, seq := range items {
		item := seq.Items[0]
		numElem, ok := item.Get(dicomtree.SegmentNumber)
		if !ok {
			return nil, fmt.Errorf("segment item %d has no segment number: %w", i, ErrMalformed)
		}
		number, err := tagtree.Int(numElem)
		if err != nil {
			return nil, fmt.Errorf("segment item %d: %v: %w", i, err, ErrMalformed)
		}
		if _, dup := segments[number]; dup {
			return nil, fmt.Errorf("segment number %d defined twice: %w", number, ErrMalformed)
		}

		def := models.SegmentDefinition{Number: number, Name: fmt.Sprintf("Label_%d", number)}
		if labelElem, ok := item.Get(dicomtree.SegmentLabel); ok {
			if label, ok := tagtree.String(labelElem); ok {
				def.Name = label
			}
		}
		if colorElem, ok := item.Get(dicomtree.RecommendedDisplayCIELab); ok {
			if color, err := tagtree.Float64s(colorElem); err == nil && len(color) > 0 {
				def.Color = color
			}
		}
		segments[number] = def
	}
	return segments, nil
}

func decodeGeometry(root *tagtree.Item) models.Geometry {
	var g models.Geometry
	if e, err := tagtree.Resolve(root, pathOrientation); err == nil {
		if v, err := tagtree.Float64s(e); err == nil && len(v) == 6 {
			g.Orientation = v
		}
	}
	if e, err := tagtree.Resolve(root, pathPixelSpacing); err == nil {
		if v, err := tagtree.Float64s(e); err == nil && len(v) == 2 {
			g.PixelSpacing = v
		}
	}
	if e, err := tagtree.Resolve(root, pathSliceThickness); err == nil {
		if v, err := tagtree.Float64(e); err == nil {
			g.SliceThickness = &v
		}
	}
	if e, err := tagtree.Resolve(root, pathSliceSpacing); err == nil {
		if v, err := tagtree.Float64(e); err == nil {
			g.SliceSpacing = &v
		}
	}
	return g
}

// referencedClass prefers the top-level SOP class, then the first referenced instance
func referencedClass(root *tagtree.Item) string {
	if s := optionalString(root, tagtree.Path{tagtree.One(dicomtree.ReferencedSOPClassUID)}, ""); s != "" {
		return s
	}
	return optionalString(root, pathReferencedClass, "")
}

func declaredFrameCount(root *tagtree.Item) (int, bool) {
	e, ok := root.Get(dicomtree.NumberOfFrames)
	if !ok {
		return 0, false
	}
	n, err := tagtree.Int(e)
	return n, err == nil
}

func optionalString(root *tagtree.Item, path tagtree.Path, fallback string) string {
	e, err := tagtree.Resolve(root, path)
	if err != nil {
		return fallback
	}
	if s, ok := tagtree.String(e); ok {
		return s
	}
	return fallback
}

func optionalInt(root *tagtree.Item, tag tagtree.Tag, fallback int) int {
	e, ok := root.Get(tag)
	if !ok {
		return fallback
	}
	n, err := tagtree.Int(e)
	if err != nil {
		return fallback
	}
	return n
}
