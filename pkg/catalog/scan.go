package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"seg2vol/internal/models"
	"seg2vol/pkg/dicomtree"
	"seg2vol/pkg/tagtree"
)

// ScanSeriesFolder reads the headers of every *.dcm file in dir, skipping
// pixel data, and groups the slices by series instance uid.
func ScanSeriesFolder(dir string) ([]models.SeriesCatalogEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading series folder: %w", err)
	}

	bySeries := make(map[string]*models.SeriesCatalogEntry)
	var order []string
	for _, de := range entries {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), ".dcm") {
			continue
		}
		path := filepath.Join(dir, de.Name())
		root, err := dicomtree.ReadHeader(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", de.Name(), err)
		}
		hdr, err := sliceHeader(root)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", de.Name(), err)
		}

		entry, ok := bySeries[hdr.SeriesID]
		if !ok {
			entry = &hdr.SeriesCatalogEntry
			entry.FolderPath = dir
			bySeries[hdr.SeriesID] = entry
			order = append(order, hdr.SeriesID)
		}
		hdr.slice.Path = path
		entry.Slices = append(entry.Slices, hdr.slice)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("no .dcm files in %s", dir)
	}

	sort.Strings(order)
	out := make([]models.SeriesCatalogEntry, 0, len(order))
	for _, id := range order {
		out = append(out, *bySeries[id])
	}
	return out, nil
}

type header struct {
	models.SeriesCatalogEntry
	slice models.SliceRef
}

// sliceHeader extracts the series attributes and slice reference of one
// image header
func sliceHeader(root *tagtree.Item) (header, error) {
	var h header

	id, ok := tagtree.String(get(root, dicomtree.SeriesInstanceUID))
	if !ok || id == "" {
		return h, errors.New("image has no series instance uid")
	}
	h.SeriesID = id
	h.SeriesNumber, _ = tagtree.String(get(root, dicomtree.SeriesNumber))
	h.Description, _ = tagtree.String(get(root, dicomtree.SeriesDescription))
	h.Orientation, _ = tagtree.Float64s(get(root, dicomtree.ImageOrientationPatient))
	h.PixelSpacing, _ = tagtree.Float64s(get(root, dicomtree.PixelSpacing))
	h.SliceThickness, _ = tagtree.Float64(get(root, dicomtree.SliceThickness))
	h.Rows, _ = tagtree.Int(get(root, dicomtree.Rows))
	h.Cols, _ = tagtree.Int(get(root, dicomtree.Columns))

	h.slice.InstanceID, _ = tagtree.String(get(root, dicomtree.SOPInstanceUID))
	h.slice.InstanceNumber, _ = tagtree.Int(get(root, dicomtree.InstanceNumber))
	if pos, err := tagtree.Vec3(get(root, dicomtree.ImagePositionPatient)); err == nil {
		h.slice.Position = &pos
	}
	return h, nil
}

func get(root *tagtree.Item, tag tagtree.Tag) *tagtree.Element {
	e, _ := root.Get(tag)
	return e
}
