package registry

import (
	"gonum.org/v1/gonum/floats"

	"seg2vol/internal/models"
)

// Stats summarizes the occupancy of a volume
type Stats struct {
	Slices        int
	VoxelCount    int
	NonZeroSlices int

	// MeanSliceFill and MaxSliceFill are fractions of a slice's voxels set,
	// the mean taken over non-empty slices only
	MeanSliceFill float64
	MaxSliceFill  float64
}

// VolumeStats computes the occupancy statistics of a volume
func VolumeStats(vol *models.Volume) Stats {
	st := Stats{Slices: vol.Slices}
	size := float64(vol.Rows * vol.Cols)
	if vol.Slices == 0 || size == 0 {
		return st
	}

	fill := make([]float64, 0, vol.Slices)
	for z := 0; z < vol.Slices; z++ {
		n := 0
		for _, b := range vol.Slice(z) {
			if b != 0 {
				n++
			}
		}
		if n == 0 {
			continue
		}
		st.VoxelCount += n
		fill = append(fill, float64(n)/size)
	}
	st.NonZeroSlices = len(fill)
	if len(fill) > 0 {
		st.MeanSliceFill = floats.Sum(fill) / float64(len(fill))
		st.MaxSliceFill = floats.Max(fill)
	}
	return st
}
