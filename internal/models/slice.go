package models

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// SliceRef represents a single slice of an acquired scan series
type SliceRef struct {
	// InstanceID is the SOP instance UID of the slice
	InstanceID string

	// InstanceNumber is the declared instance number, 0 when unknown
	InstanceNumber int

	// Position is the image position (patient) of the slice corner, nil when unknown
	Position *r3.Vec

	// Slot is the index of the slice within the series' declared order
	Slot int

	// Path is the image file of the slice, empty when unknown
	Path string
}

// SliceImage is the stored pixel data of one scan slice
type SliceImage struct {
	InstanceID string
	Rows       int
	Cols       int

	// Pixels holds the first sample of every pixel in row-major order
	Pixels []int16
}

// SeriesCatalogEntry describes one scan series and its slices
type SeriesCatalogEntry struct {
	SeriesID     string
	SeriesNumber string
	Description  string
	FolderPath   string

	// Orientation holds the six direction cosines shared by the series, nil when unknown
	Orientation []float64

	// PixelSpacing holds the row and column spacing in mm, nil when unknown
	PixelSpacing []float64

	// SliceThickness is the nominal slice thickness in mm, 0 when unknown
	SliceThickness float64

	Rows int
	Cols int

	Slices []SliceRef
}
