// Package volumestore persists reconstructed volumes and decoded document
// summaries under a case output directory.
//
// Each volume is stored as two files: <artifact>.raw holds the voxels in
// slice-major, row-major order and <artifact>.yaml holds the header with the
// shape, placement and series fingerprint. Object masks hold one byte per
// voxel; scan series hold little-endian int16 values.
package volumestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"seg2vol/internal/models"
	"seg2vol/pkg/series"
)

var (
	// ErrCorrupt is returned when a header and its voxel file disagree
	ErrCorrupt = errors.New("stored volume is corrupt")

	// ErrDataType is returned when an artifact is read as the wrong kind of volume
	ErrDataType = errors.New("stored volume has another data type")
)

// Voxel data types recorded in headers
const (
	DataTypeUint8 = "uint8"
	DataTypeInt16 = "int16"
)

// Header describes a stored volume
type Header struct {
	Object       string      `yaml:"object"`
	Artifact     string      `yaml:"artifact"`
	Segmentation string      `yaml:"segmentation,omitempty"`
	SeriesID     string      `yaml:"seriesId,omitempty"`
	SeriesNumber string      `yaml:"seriesNumber,omitempty"`
	DataType     string      `yaml:"dataType,omitempty"`
	Shape        [3]int      `yaml:"shape,flow"`
	Spacing      [3]float64  `yaml:"spacing,flow"`
	Orientation  [6]float64  `yaml:"orientation,flow"`
	Origin       [3]float64  `yaml:"origin,flow"`
	Affine       [][]float64 `yaml:"affine,omitempty"`
	Fingerprint  string      `yaml:"fingerprint,omitempty"`
	Constituents []string    `yaml:"constituents,omitempty"`
	VoxelCount   int         `yaml:"voxelCount"`
	WrittenAt    time.Time   `yaml:"writtenAt"`
}

// NewHeader builds the header of a volume placed with the given geometry
func NewHeader(artifact string, vol *models.Volume, geom series.Geometry) Header {
	h := Header{
		Object:     vol.ObjectName,
		Artifact:   artifact,
		DataType:   DataTypeUint8,
		Shape:      vol.Shape(),
		VoxelCount: vol.VoxelCount(),
	}
	h.place(geom)
	return h
}

// NewScanHeader builds the header of a scan series volume
func NewScanHeader(artifact string, vol *models.ScanVolume, geom series.Geometry) Header {
	h := Header{
		Artifact: artifact,
		SeriesID: vol.SeriesID,
		DataType: DataTypeInt16,
		Shape:    vol.Shape(),
	}
	h.place(geom)
	return h
}

func (h *Header) place(geom series.Geometry) {
	h.Spacing = geom.Spacing
	h.Orientation = geom.Orientation
	h.Origin = [3]float64{geom.Origin.X, geom.Origin.Y, geom.Origin.Z}
	h.Affine = nil
	if geom.Affine != nil {
		r, _ := geom.Affine.Dims()
		for i := 0; i < r; i++ {
			h.Affine = append(h.Affine, mat.Row(nil, i, geom.Affine))
		}
	}
}

// voxelBytes returns the stored size of one voxel
func (h Header) voxelBytes() int {
	if h.DataType == DataTypeInt16 {
		return 2
	}
	return 1
}

func (h Header) rawSize() int {
	return h.Shape[0] * h.Shape[1] * h.Shape[2] * h.voxelBytes()
}

// Store reads and writes volumes under one case directory
type Store struct {
	dir string
}

// New returns a store rooted at caseDir
func New(caseDir string) *Store {
	return &Store{dir: caseDir}
}

// Dir returns the case directory
func (s *Store) Dir() string { return s.dir }

func (s *Store) volumePath(artifact, ext string) string {
	return filepath.Join(s.dir, "volumes", artifact+ext)
}

// Write stores the voxels and header of an object volume, replacing
// earlier output
func (s *Store) Write(vol *models.Volume, h Header) error {
	h.DataType = DataTypeUint8
	h.Shape = vol.Shape()
	h.VoxelCount = vol.VoxelCount()
	return s.write(vol.Data, h)
}

// WriteScan stores a scan series volume, replacing earlier output
func (s *Store) WriteScan(vol *models.ScanVolume, h Header) error {
	h.DataType = DataTypeInt16
	h.Shape = vol.Shape()
	h.VoxelCount = 0
	raw := make([]byte, 2*len(vol.Data))
	for i, v := range vol.Data {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(v))
	}
	return s.write(raw, h)
}

// write stores raw voxels then the header, so a partial write never looks
// current
func (s *Store) write(raw []byte, h Header) error {
	if h.Artifact == "" {
		return errors.New("volume header has no artifact name")
	}
	if err := os.MkdirAll(filepath.Join(s.dir, "volumes"), 0755); err != nil {
		return fmt.Errorf("error creating volume directory: %w", err)
	}
	if h.WrittenAt.IsZero() {
		h.WrittenAt = time.Now().UTC()
	}
	// Drop any previous header first so a crash between the two writes
	// leaves the artifact absent instead of stale.
	if err := os.Remove(s.volumePath(h.Artifact, ".yaml")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error removing old header: %w", err)
	}
	if err := writeFile(s.volumePath(h.Artifact, ".raw"), raw); err != nil {
		return err
	}

	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("error marshaling volume header: %w", err)
	}
	return writeFile(s.volumePath(h.Artifact, ".yaml"), data)
}

// Stat returns the stored slice count and fingerprint of an artifact. It
// returns an error wrapping fs.ErrNotExist when the artifact was never written.
func (s *Store) Stat(artifact string) (int, string, error) {
	h, err := s.ReadHeader(artifact)
	if err != nil {
		return 0, "", err
	}
	info, err := os.Stat(s.volumePath(artifact, ".raw"))
	if err != nil {
		return 0, "", fmt.Errorf("volume %s: %w", artifact, err)
	}
	if info.Size() != int64(h.rawSize()) {
		return 0, "", fmt.Errorf("volume %s holds %d bytes for %s shape %v: %w", artifact, info.Size(), h.DataType, h.Shape, ErrCorrupt)
	}
	return h.Shape[0], h.Fingerprint, nil
}

// ReadHeader loads the header of an artifact
func (s *Store) ReadHeader(artifact string) (Header, error) {
	var h Header
	data, err := os.ReadFile(s.volumePath(artifact, ".yaml"))
	if err != nil {
		return h, fmt.Errorf("volume %s: %w", artifact, err)
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("volume %s header: %w", artifact, err)
	}
	return h, nil
}

// Read loads a stored object volume and its header
func (s *Store) Read(artifact string) (*models.Volume, Header, error) {
	data, h, err := s.readRaw(artifact, DataTypeUint8)
	if err != nil {
		return nil, h, err
	}
	return &models.Volume{
		ObjectName: h.Object,
		Data:       data,
		Slices:     h.Shape[0],
		Rows:       h.Shape[1],
		Cols:       h.Shape[2],
	}, h, nil
}

// ReadScan loads a stored scan series volume and its header
func (s *Store) ReadScan(artifact string) (*models.ScanVolume, Header, error) {
	raw, h, err := s.readRaw(artifact, DataTypeInt16)
	if err != nil {
		return nil, h, err
	}
	vol := models.NewScanVolume(h.SeriesID, h.Shape[0], h.Shape[1], h.Shape[2])
	for i := range vol.Data {
		vol.Data[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return vol, h, nil
}

// readRaw loads the voxel bytes of an artifact of the given data type.
// Headers without a data type hold object masks.
func (s *Store) readRaw(artifact, dataType string) ([]byte, Header, error) {
	h, err := s.ReadHeader(artifact)
	if err != nil {
		return nil, h, err
	}
	stored := h.DataType
	if stored == "" {
		stored = DataTypeUint8
	}
	if stored != dataType {
		return nil, h, fmt.Errorf("volume %s holds %s, not %s: %w", artifact, stored, dataType, ErrDataType)
	}
	data, err := os.ReadFile(s.volumePath(artifact, ".raw"))
	if err != nil {
		return nil, h, fmt.Errorf("volume %s: %w", artifact, err)
	}
	if len(data) != h.rawSize() {
		return nil, h, fmt.Errorf("volume %s holds %d bytes for %s shape %v: %w", artifact, len(data), dataType, h.Shape, ErrCorrupt)
	}
	return data, h, nil
}

// List returns the stored artifact names in sorted order
func (s *Store) List() ([]string, error) {
	matches, err := filepath.Glob(s.volumePath("*", ".yaml"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("error writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
