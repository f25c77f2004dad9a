package models

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// SegmentDefinition describes one named mask object of a segmentation record
type SegmentDefinition struct {
	Number int
	Name   string

	// Color is the recommended CIELab display value, nil when absent
	Color []float64
}

// FrameRecord groups everything known about one physical frame.
// Fields are resolved from index-aligned per-frame lists and must never be
// re-paired after construction.
type FrameRecord struct {
	// Index is the frame's position in the original multi-frame record
	Index int

	SegmentNumber int

	// Position is the image position (patient), nil when the frame carries none
	Position *r3.Vec

	// ReferencedInstanceID is the source slice SOP instance UID, empty when absent
	ReferencedInstanceID string

	// Pixels is the frame mask in row-major order, rows*cols long
	Pixels []uint8
}

// ObjectFrames holds the ordered frames of one named object. Segment is the
// first definition carrying the name; Numbers lists every segment number
// whose frames were grouped under it.
type ObjectFrames struct {
	Segment SegmentDefinition
	Numbers []int
	Frames  []FrameRecord
}

// Geometry is the shared acquisition geometry declared once per document
type Geometry struct {
	// Orientation holds six direction cosines, nil when unset
	Orientation []float64

	// PixelSpacing holds row and column spacing, nil when unset
	PixelSpacing []float64

	// SliceThickness and SliceSpacing are nil when unset
	SliceThickness *float64
	SliceSpacing   *float64
}

// FolderMeta is externally sourced metadata about a segmentation folder
type FolderMeta struct {
	Folder        string
	SegmentorName string
	ExportName    string
	CreatedTime   time.Time
}

// Document is the decoded form of one segmentation record.
// It is built once per decode and treated as immutable afterwards.
type Document struct {
	Folder FolderMeta

	// Segments maps segment number to its definition
	Segments map[int]SegmentDefinition

	// Objects holds one entry per segment that has frames, in first-appearance order
	Objects []ObjectFrames

	ReferencedSeriesID string
	ReferencedClassUID string
	Geometry           Geometry

	ExportedName     string
	SegmentationType string

	Rows       int
	Cols       int
	FrameCount int
}

// Object returns the frames of the named object
func (d *Document) Object(name string) (ObjectFrames, bool) {
	for _, obj := range d.Objects {
		if obj.Segment.Name == name {
			return obj, true
		}
	}
	return ObjectFrames{}, false
}

// ObjectNames returns the names of all objects in document order
func (d *Document) ObjectNames() []string {
	names := make([]string, 0, len(d.Objects))
	for _, obj := range d.Objects {
		names = append(names, obj.Segment.Name)
	}
	return names
}

// FrameCounts returns the number of frames per object name
func (d *Document) FrameCounts() map[string]int {
	counts := make(map[string]int, len(d.Objects))
	for _, obj := range d.Objects {
		counts[obj.Segment.Name] += len(obj.Frames)
	}
	return counts
}

// MaxSegmentNumber returns the highest defined segment number
func (d *Document) MaxSegmentNumber() int {
	max := 0
	for n := range d.Segments {
		if n > max {
			max = n
		}
	}
	return max
}
