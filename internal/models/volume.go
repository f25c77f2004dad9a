package models

// Volume represents one object's voxel mask aligned to a scan series
type Volume struct {
	// ObjectName is the segment (or composite) name the volume belongs to
	ObjectName string

	// Data is the 3D mask as a 1D array in slice-major, row-major order
	Data []uint8

	// Slices equals the slot count of the referenced series
	Slices int

	Rows int
	Cols int
}

// NewVolume allocates an all-zero volume of the given shape
func NewVolume(name string, slices, rows, cols int) *Volume {
	return &Volume{
		ObjectName: name,
		Data:       make([]uint8, slices*rows*cols),
		Slices:     slices,
		Rows:       rows,
		Cols:       cols,
	}
}

// Shape returns (slices, rows, cols)
func (v *Volume) Shape() [3]int {
	return [3]int{v.Slices, v.Rows, v.Cols}
}

// SameShape reports whether two volumes can be combined voxel by voxel
func (v *Volume) SameShape(o *Volume) bool {
	return v.Shape() == o.Shape()
}

// Slice returns the voxels of slot z, sharing storage with the volume
func (v *Volume) Slice(z int) []uint8 {
	n := v.Rows * v.Cols
	return v.Data[z*n : (z+1)*n]
}

// SetSlice copies a frame into slot z
func (v *Volume) SetSlice(z int, pixels []uint8) {
	copy(v.Slice(z), pixels)
}

// VoxelCount returns the number of non-zero voxels
func (v *Volume) VoxelCount() int {
	count := 0
	for _, b := range v.Data {
		if b != 0 {
			count++
		}
	}
	return count
}

// NonZeroSlices returns the number of slots holding at least one non-zero voxel
func (v *Volume) NonZeroSlices() int {
	count := 0
	for z := 0; z < v.Slices; z++ {
		for _, b := range v.Slice(z) {
			if b != 0 {
				count++
				break
			}
		}
	}
	return count
}

// ScanVolume holds the stored pixel values of a scan series in slot order,
// shaped like the object volumes reconstructed against it
type ScanVolume struct {
	SeriesID string

	// Data is slice-major, row-major like Volume.Data
	Data []int16

	Slices int
	Rows   int
	Cols   int
}

// NewScanVolume allocates an all-zero scan volume
func NewScanVolume(seriesID string, slices, rows, cols int) *ScanVolume {
	return &ScanVolume{
		SeriesID: seriesID,
		Data:     make([]int16, slices*rows*cols),
		Slices:   slices,
		Rows:     rows,
		Cols:     cols,
	}
}

// Shape returns (slices, rows, cols)
func (v *ScanVolume) Shape() [3]int {
	return [3]int{v.Slices, v.Rows, v.Cols}
}

// Slice returns the pixels of slot z, sharing storage with the volume
func (v *ScanVolume) Slice(z int) []int16 {
	n := v.Rows * v.Cols
	return v.Data[z*n : (z+1)*n]
}

// SetSlice copies an image into slot z
func (v *ScanVolume) SetSlice(z int, pixels []int16) {
	copy(v.Slice(z), pixels)
}
