package series

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"seg2vol/internal/models"
)

// Geometry is the physical placement of a reconstructed volume
type Geometry struct {
	// Origin is the position of slot 0
	Origin r3.Vec

	// Spacing is (column, row, slice) spacing in mm
	Spacing [3]float64

	// Orientation holds the row and column direction cosines
	Orientation [6]float64

	// Affine maps (column, row, slot, 1) voxel indices to patient coordinates
	Affine *mat.Dense
}

var axialOrientation = []float64{1, 0, 0, 0, 1, 0}

// Geometry derives the volume geometry of the series. Attributes the
// catalog lacks are taken from the segmentation's shared geometry.
func (s *Series) Geometry(shared models.Geometry) Geometry {
	var g Geometry

	orientation := s.Entry.Orientation
	if len(orientation) != 6 {
		orientation = shared.Orientation
	}
	if len(orientation) != 6 {
		orientation = axialOrientation
	}
	copy(g.Orientation[:], orientation)

	pixelSpacing := s.Entry.PixelSpacing
	if len(pixelSpacing) != 2 {
		pixelSpacing = shared.PixelSpacing
	}
	g.Spacing = [3]float64{1, 1, 1}
	if len(pixelSpacing) == 2 {
		// PixelSpacing is (row spacing, column spacing)
		g.Spacing[0], g.Spacing[1] = pixelSpacing[1], pixelSpacing[0]
	}
	g.Spacing[2] = s.sliceSpacing(shared)

	if slices := s.Entry.Slices; len(slices) > 0 && slices[0].Position != nil {
		g.Origin = *slices[0].Position
	}

	row := r3.Vec{X: g.Orientation[0], Y: g.Orientation[1], Z: g.Orientation[2]}
	col := r3.Vec{X: g.Orientation[3], Y: g.Orientation[4], Z: g.Orientation[5]}
	normal := r3.Cross(row, col)
	if s.slicesDescend(normal) {
		normal = r3.Scale(-1, normal)
	}

	row = r3.Scale(g.Spacing[0], row)
	col = r3.Scale(g.Spacing[1], col)
	normal = r3.Scale(g.Spacing[2], normal)
	g.Affine = mat.NewDense(4, 4, []float64{
		row.X, col.X, normal.X, g.Origin.X,
		row.Y, col.Y, normal.Y, g.Origin.Y,
		row.Z, col.Z, normal.Z, g.Origin.Z,
		0, 0, 0, 1,
	})
	return g
}

// sliceSpacing prefers the measured distance between the first two slots
func (s *Series) sliceSpacing(shared models.Geometry) float64 {
	slices := s.Entry.Slices
	if len(slices) > 1 && slices[0].Position != nil && slices[1].Position != nil {
		if d := r3.Norm(r3.Sub(*slices[1].Position, *slices[0].Position)); d > 0 {
			return d
		}
	}
	switch {
	case shared.SliceSpacing != nil && *shared.SliceSpacing > 0:
		return *shared.SliceSpacing
	case s.Entry.SliceThickness > 0:
		return s.Entry.SliceThickness
	case shared.SliceThickness != nil && *shared.SliceThickness > 0:
		return *shared.SliceThickness
	}
	return 1
}

// slicesDescend reports whether slot order runs against the normal
func (s *Series) slicesDescend(normal r3.Vec) bool {
	slices := s.Entry.Slices
	if len(slices) < 2 || slices[0].Position == nil || slices[len(slices)-1].Position == nil {
		return false
	}
	return r3.Dot(r3.Sub(*slices[len(slices)-1].Position, *slices[0].Position), normal) < 0
}
