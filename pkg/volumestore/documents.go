package volumestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"seg2vol/internal/models"
)

// DocumentSummary is a decoded segmentation without its pixels
type DocumentSummary struct {
	Folder             string           `yaml:"folder"`
	SegmentorName      string           `yaml:"segmentorName"`
	ExportedName       string           `yaml:"exportedName"`
	CreatedTime        time.Time        `yaml:"createdTime,omitempty"`
	SegmentationType   string           `yaml:"segmentationType"`
	ReferencedSeriesID string           `yaml:"referencedSeriesId"`
	ReferencedClassUID string           `yaml:"referencedClassUid,omitempty"`
	Rows               int              `yaml:"rows"`
	Cols               int              `yaml:"cols"`
	FrameCount         int              `yaml:"frameCount"`
	Objects            []string         `yaml:"objects"`
	FramesPerObject    map[string]int   `yaml:"framesPerObject"`
	SegmentNumbers     map[string][]int `yaml:"segmentNumbers,omitempty"`
	PixelSpacing       []float64        `yaml:"pixelSpacing,flow,omitempty"`
	Orientation        []float64        `yaml:"orientation,flow,omitempty"`
	SliceThickness     *float64         `yaml:"sliceThickness,omitempty"`
}

// Summarize drops the pixels of a document
func Summarize(doc *models.Document) DocumentSummary {
	return DocumentSummary{
		Folder:             doc.Folder.Folder,
		SegmentorName:      doc.Folder.SegmentorName,
		ExportedName:       doc.ExportedName,
		CreatedTime:        doc.Folder.CreatedTime,
		SegmentationType:   doc.SegmentationType,
		ReferencedSeriesID: doc.ReferencedSeriesID,
		ReferencedClassUID: doc.ReferencedClassUID,
		Rows:               doc.Rows,
		Cols:               doc.Cols,
		FrameCount:         doc.FrameCount,
		Objects:            doc.ObjectNames(),
		FramesPerObject:    doc.FrameCounts(),
		SegmentNumbers:     segmentNumbers(doc),
		PixelSpacing:       doc.Geometry.PixelSpacing,
		Orientation:        doc.Geometry.Orientation,
		SliceThickness:     doc.Geometry.SliceThickness,
	}
}

func segmentNumbers(doc *models.Document) map[string][]int {
	out := make(map[string][]int, len(doc.Objects))
	for _, obj := range doc.Objects {
		out[obj.Segment.Name] = obj.Numbers
	}
	return out
}

// DocumentName returns the summary file name of a document
func DocumentName(doc *models.Document) string {
	export := doc.Folder.ExportName
	if export == "" {
		export = doc.ExportedName
	}
	clean := strings.NewReplacer(" ", "_", "/", "_")
	return clean.Replace(fmt.Sprintf("EN_%s_SN_%s_FN_%s", export, doc.Folder.SegmentorName, doc.Folder.Folder))
}

// WriteDocument stores the summary of a decoded document and returns its path
func (s *Store) WriteDocument(doc *models.Document) (string, error) {
	dir := filepath.Join(s.dir, "documents")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating document directory: %w", err)
	}
	data, err := yaml.Marshal(Summarize(doc))
	if err != nil {
		return "", fmt.Errorf("error marshaling document summary: %w", err)
	}
	path := filepath.Join(dir, DocumentName(doc)+".yaml")
	if err := writeFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ReadDocument loads a stored document summary
func (s *Store) ReadDocument(name string) (DocumentSummary, error) {
	var sum DocumentSummary
	data, err := os.ReadFile(filepath.Join(s.dir, "documents", name+".yaml"))
	if err != nil {
		return sum, fmt.Errorf("document %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, &sum); err != nil {
		return sum, fmt.Errorf("document %s: %w", name, err)
	}
	return sum, nil
}
