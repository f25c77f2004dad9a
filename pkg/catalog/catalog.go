// Package catalog loads the description of a case: its scan series, its
// segmentation folders and which of them to process.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"seg2vol/internal/models"
	"seg2vol/pkg/merge"
)

// SelectAll selects every segmentation of the case
const SelectAll = "all"

// SliceFile is one slice of a series in the catalog file
type SliceFile struct {
	InstanceID     string    `yaml:"instance_id" json:"instance_id"`
	InstanceNumber int       `yaml:"instance_number,omitempty" json:"instance_number,omitempty"`
	Position       []float64 `yaml:"position,flow,omitempty" json:"position,omitempty"`
	Path           string    `yaml:"path,omitempty" json:"path,omitempty"`
}

// SeriesFile is one scan series in the catalog file
type SeriesFile struct {
	SeriesID       string      `yaml:"series_id" json:"series_id"`
	SeriesNumber   string      `yaml:"series_number" json:"series_number"`
	Description    string      `yaml:"description,omitempty" json:"description,omitempty"`
	FolderPath     string      `yaml:"folder_path,omitempty" json:"folder_path,omitempty"`
	Orientation    []float64   `yaml:"orientation,flow,omitempty" json:"orientation,omitempty"`
	PixelSpacing   []float64   `yaml:"pixel_spacing,flow,omitempty" json:"pixel_spacing,omitempty"`
	SliceThickness float64     `yaml:"slice_thickness,omitempty" json:"slice_thickness,omitempty"`
	Rows           int         `yaml:"rows,omitempty" json:"rows,omitempty"`
	Cols           int         `yaml:"cols,omitempty" json:"cols,omitempty"`
	Slices         []SliceFile `yaml:"slices,omitempty" json:"slices,omitempty"`
}

// Segmentation is one segmentation folder of the case
type Segmentation struct {
	Folder        string    `yaml:"folder" json:"folder"`
	Path          string    `yaml:"path" json:"path"`
	SegmentorName string    `yaml:"segmentor_name,omitempty" json:"segmentor_name,omitempty"`
	ExportedName  string    `yaml:"exported_name,omitempty" json:"exported_name,omitempty"`
	CreatedTime   time.Time `yaml:"created_time,omitempty" json:"created_time,omitempty"`
}

// Meta returns the folder metadata handed to the decoder
func (s Segmentation) Meta() models.FolderMeta {
	return models.FolderMeta{
		Folder:        s.Folder,
		SegmentorName: s.SegmentorName,
		ExportName:    s.ExportedName,
		CreatedTime:   s.CreatedTime,
	}
}

// Catalog is the parsed catalog file of one case
type Catalog struct {
	Case          string         `yaml:"case" json:"case"`
	Series        []SeriesFile   `yaml:"series" json:"series"`
	Segmentations []Segmentation `yaml:"segmentations" json:"segmentations"`
	Select        []string       `yaml:"select,omitempty" json:"select,omitempty"`
	MergePlan     merge.Plan     `yaml:"merge_plan,omitempty" json:"merge_plan,omitempty"`
	MergePlanPath string         `yaml:"merge_plan_path,omitempty" json:"merge_plan_path,omitempty"`

	dir string
}

// Load reads a catalog from a YAML or JSON file. Relative paths inside the
// catalog are resolved against the catalog's directory.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.dir = filepath.Dir(path)
	for i := range c.Series {
		c.Series[i].FolderPath = c.resolve(c.Series[i].FolderPath)
		for j := range c.Series[i].Slices {
			c.Series[i].Slices[j].Path = c.resolve(c.Series[i].Slices[j].Path)
		}
	}
	for i := range c.Segmentations {
		c.Segmentations[i].Path = c.resolve(c.Segmentations[i].Path)
	}
	c.MergePlanPath = c.resolve(c.MergePlanPath)
	return c, nil
}

// Parse decodes a catalog document. JSON input parses as YAML.
func Parse(data []byte) (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("error parsing catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

func (c *Catalog) validate() error {
	if strings.TrimSpace(c.Case) == "" {
		return errors.New("catalog has no case name")
	}
	folders := make(map[string]bool, len(c.Segmentations))
	for i, s := range c.Segmentations {
		if s.Folder == "" {
			return fmt.Errorf("segmentation %d has no folder name", i)
		}
		if folders[s.Folder] {
			return fmt.Errorf("segmentation folder %s listed twice", s.Folder)
		}
		folders[s.Folder] = true
	}
	for i, s := range c.Series {
		if s.SeriesID == "" && s.FolderPath == "" {
			return fmt.Errorf("series %d has neither series_id nor folder_path", i)
		}
		for j, sl := range s.Slices {
			if sl.Position != nil && len(sl.Position) != 3 {
				return fmt.Errorf("series %s slice %d: position needs 3 coordinates, got %d", s.SeriesID, j, len(sl.Position))
			}
		}
	}
	return nil
}

// Plan returns the merge plan: the file named by merge_plan_path when set,
// else the inline merge_plan.
func (c *Catalog) Plan() (merge.Plan, error) {
	if c.MergePlanPath != "" {
		return merge.LoadPlan(c.MergePlanPath)
	}
	return c.MergePlan, nil
}

// Entry converts a catalog series to the indexed model
func (s SeriesFile) Entry() models.SeriesCatalogEntry {
	entry := models.SeriesCatalogEntry{
		SeriesID:       s.SeriesID,
		SeriesNumber:   s.SeriesNumber,
		Description:    s.Description,
		FolderPath:     s.FolderPath,
		Orientation:    s.Orientation,
		PixelSpacing:   s.PixelSpacing,
		SliceThickness: s.SliceThickness,
		Rows:           s.Rows,
		Cols:           s.Cols,
	}
	for _, sl := range s.Slices {
		ref := models.SliceRef{InstanceID: sl.InstanceID, InstanceNumber: sl.InstanceNumber, Path: sl.Path}
		if len(sl.Position) == 3 {
			ref.Position = &r3.Vec{X: sl.Position[0], Y: sl.Position[1], Z: sl.Position[2]}
		}
		entry.Slices = append(entry.Slices, ref)
	}
	return entry
}

// Entries returns the catalog series as index entries. Series listed by
// folder only are filled from the DICOM headers found there.
func (c *Catalog) Entries() ([]models.SeriesCatalogEntry, error) {
	var out []models.SeriesCatalogEntry
	for _, s := range c.Series {
		if len(s.Slices) > 0 || s.FolderPath == "" {
			out = append(out, s.Entry())
			continue
		}
		scanned, err := ScanSeriesFolder(s.FolderPath)
		if err != nil {
			return nil, err
		}
		for _, e := range scanned {
			if s.SeriesID != "" && e.SeriesID != s.SeriesID {
				continue
			}
			if s.SeriesNumber != "" {
				e.SeriesNumber = s.SeriesNumber
			}
			if s.Description != "" {
				e.Description = s.Description
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// Selection is the outcome of resolving requested names
type Selection struct {
	Segmentations []Segmentation

	// Invalid lists names that matched no folder or exported name
	Invalid []string
}

// Resolve selects segmentations by folder or exported name. An empty list
// falls back to the catalog's select field; "all" selects everything.
// Catalog order is kept and each folder is selected once.
func (c *Catalog) Resolve(names []string) Selection {
	if len(names) == 0 {
		names = c.Select
	}
	var sel Selection
	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(n), SelectAll) {
			sel.Segmentations = append([]Segmentation(nil), c.Segmentations...)
			return sel
		}
	}

	wanted := make(map[int]bool)
	for _, n := range names {
		n = strings.TrimSpace(n)
		found := false
		for i, s := range c.Segmentations {
			if s.Folder == n || (s.ExportedName != "" && s.ExportedName == n) {
				wanted[i] = true
				found = true
			}
		}
		if !found {
			sel.Invalid = append(sel.Invalid, n)
		}
	}
	for i, s := range c.Segmentations {
		if wanted[i] {
			sel.Segmentations = append(sel.Segmentations, s)
		}
	}
	return sel
}
