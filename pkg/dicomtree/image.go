package dicomtree

import (
	"errors"
	"fmt"
	"math"

	"github.com/suyashkumar/dicom"

	"seg2vol/internal/models"
	"seg2vol/pkg/tagtree"
)

// ErrNoImage is returned when a file carries no pixel frame
var ErrNoImage = errors.New("no image pixels")

// ReadImage parses one scan slice and returns its first frame as stored
// values. Unlike ReadFile, pixel values keep their full range.
func ReadImage(path string) (*models.SliceImage, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	img, err := ImageFromDataset(ds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// ImageFromDataset extracts the instance id and first pixel frame of a slice
func ImageFromDataset(ds dicom.Dataset) (*models.SliceImage, error) {
	var (
		instanceID string
		info       *dicom.PixelDataInfo
	)
	for _, el := range ds.Elements {
		if el == nil || el.Value == nil {
			continue
		}
		switch (tagtree.Tag{Group: el.Tag.Group, Element: el.Tag.Element}) {
		case SOPInstanceUID:
			if el.Value.ValueType() == dicom.Strings {
				if v := dicom.MustGetStrings(el.Value); len(v) > 0 {
					instanceID = v[0]
				}
			}
		case PixelData:
			if el.Value.ValueType() == dicom.PixelData {
				pd := dicom.MustGetPixelDataInfo(el.Value)
				info = &pd
			}
		}
	}

	if info == nil || info.IntentionallySkipped || len(info.Frames) == 0 {
		return nil, ErrNoImage
	}
	if info.IsEncapsulated || info.Frames[0].Encapsulated {
		return nil, ErrEncapsulated
	}
	native := info.Frames[0].NativeData
	return sliceImage(instanceID, native.Rows, native.Cols, native.Data)
}

// sliceImage keeps the first sample of every pixel, clamped to int16
func sliceImage(instanceID string, rows, cols int, samples [][]int) (*models.SliceImage, error) {
	if rows*cols != len(samples) {
		return nil, fmt.Errorf("frame is %dx%d but holds %d pixels: %w", rows, cols, len(samples), ErrNoImage)
	}
	img := &models.SliceImage{InstanceID: instanceID, Rows: rows, Cols: cols, Pixels: make([]int16, len(samples))}
	for p, s := range samples {
		if len(s) == 0 {
			continue
		}
		img.Pixels[p] = clampInt16(s[0])
	}
	return img, nil
}

func clampInt16(v int) int16 {
	switch {
	case v < math.MinInt16:
		return math.MinInt16
	case v > math.MaxInt16:
		return math.MaxInt16
	default:
		return int16(v)
	}
}
