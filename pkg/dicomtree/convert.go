// Package dicomtree adapts parsed DICOM datasets into tag trees.
package dicomtree

import (
	"errors"
	"fmt"

	"github.com/suyashkumar/dicom"

	"seg2vol/pkg/tagtree"
)

// ErrEncapsulated is returned for compressed pixel data, which is not decoded
var ErrEncapsulated = errors.New("encapsulated pixel data is not supported")

// ReadFile parses a DICOM file, including pixel data, into a tag tree
func ReadFile(path string) (*tagtree.Item, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return FromDataset(ds)
}

// ReadHeader parses a DICOM file without its pixel data
func ReadHeader(path string) (*tagtree.Item, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return FromDataset(ds)
}

// FromDataset converts a dataset into a tag tree, keeping element and item order
func FromDataset(ds dicom.Dataset) (*tagtree.Item, error) {
	return fromElements(ds.Elements)
}

func fromElements(elements []*dicom.Element) (*tagtree.Item, error) {
	item := tagtree.NewItem()
	for _, el := range elements {
		if el == nil || el.Value == nil {
			continue
		}
		t := tagtree.Tag{Group: el.Tag.Group, Element: el.Tag.Element}

		switch el.Value.ValueType() {
		case dicom.Sequences:
			seqItems, _ := el.Value.GetValue().([]*dicom.SequenceItemValue)
			children := make([]*tagtree.Item, 0, len(seqItems))
			for i, seqItem := range seqItems {
				nested, _ := seqItem.GetValue().([]*dicom.Element)
				child, err := fromElements(nested)
				if err != nil {
					return nil, fmt.Errorf("%s item %d: %w", t, i, err)
				}
				children = append(children, child)
			}
			item.SetSequence(t, children...)
		case dicom.Strings:
			item.Set(t, dicom.MustGetStrings(el.Value))
		case dicom.Ints:
			item.Set(t, dicom.MustGetInts(el.Value))
		case dicom.Floats:
			item.Set(t, dicom.MustGetFloats(el.Value))
		case dicom.Bytes:
			item.Set(t, dicom.MustGetBytes(el.Value))
		case dicom.PixelData:
			info := dicom.MustGetPixelDataInfo(el.Value)
			if info.IntentionallySkipped {
				continue
			}
			frames, err := pixelFrames(info)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", t, err)
			}
			item.Set(t, frames)
		}
	}
	return item, nil
}

// pixelFrames flattens native frames into one byte per pixel.
// Segmentation masks are binary or fractional, so values are clamped to 0..255.
func pixelFrames(info dicom.PixelDataInfo) (*tagtree.PixelFrames, error) {
	if info.IsEncapsulated {
		return nil, ErrEncapsulated
	}
	out := &tagtree.PixelFrames{}
	for i, f := range info.Frames {
		if f.Encapsulated {
			return nil, fmt.Errorf("frame %d: %w", i, ErrEncapsulated)
		}
		native := f.NativeData
		if i == 0 {
			out.Rows, out.Cols = native.Rows, native.Cols
		} else if native.Rows != out.Rows || native.Cols != out.Cols {
			return nil, fmt.Errorf("frame %d is %dx%d, expected %dx%d", i, native.Rows, native.Cols, out.Rows, out.Cols)
		}
		pixels := make([]uint8, len(native.Data))
		for p, samples := range native.Data {
			if len(samples) == 0 {
				continue
			}
			pixels[p] = clampByte(samples[0])
		}
		out.Frames = append(out.Frames, pixels)
	}
	return out, nil
}

func clampByte(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}
