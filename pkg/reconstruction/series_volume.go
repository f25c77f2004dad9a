package reconstruction

import (
	"errors"
	"fmt"
	"strings"

	"seg2vol/internal/models"
	"seg2vol/pkg/series"
)

var (
	// ErrMissingImage marks a slot whose image file is unknown
	ErrMissingImage = errors.New("slice image missing")

	// ErrImageMismatch marks an image file holding another instance than its slot
	ErrImageMismatch = errors.New("slice image belongs to another instance")
)

// ImageReader loads the stored pixels of one slice image
type ImageReader func(path string) (*models.SliceImage, error)

// SeriesResult is the reconstruction of a scan series itself
type SeriesResult struct {
	SeriesID     string
	SeriesNumber string
	Artifact     string
	Slots        int
	Geometry     series.Geometry
	Fingerprint  string

	// Volume is nil when Skipped is set
	Volume *models.ScanVolume

	// Skipped is set when a stored volume already matches the series
	Skipped bool
}

// SeriesArtifactName returns the output name of a series volume: the series
// number, or the series id when the number is unknown
func SeriesArtifactName(entry models.SeriesCatalogEntry) string {
	clean := strings.NewReplacer(" ", "_", "/", "_", string('\\'), "_")
	if entry.SeriesNumber != "" {
		return clean.Replace(entry.SeriesNumber)
	}
	return clean.Replace(entry.SeriesID)
}

// HasImages reports whether any slice of the series names an image file
func HasImages(entry models.SeriesCatalogEntry) bool {
	for _, ref := range entry.Slices {
		if ref.Path != "" {
			return true
		}
	}
	return false
}

// ReconstructSeries stacks the slice images of a series in slot order into
// a volume with the same shape and placement as the object volumes built
// against it. Shared fills attributes the catalog lacks, as in Process.
// Every slot needs a readable image; the first failure is returned.
func (r *Reconstructor) ReconstructSeries(seriesID string, shared models.Geometry, read ImageReader) (SeriesResult, error) {
	s, err := r.index.Series(seriesID)
	if err != nil {
		return SeriesResult{}, err
	}

	res := SeriesResult{
		SeriesID:     s.Entry.SeriesID,
		SeriesNumber: s.Entry.SeriesNumber,
		Artifact:     SeriesArtifactName(s.Entry),
		Slots:        s.SlotCount(),
		Geometry:     s.Geometry(shared),
		Fingerprint:  Fingerprint(s.Entry),
	}
	log := r.logger.With("series", seriesID, "artifact", res.Artifact)

	if res.Slots == 0 {
		return res, fmt.Errorf("series %s has no slices: %w", seriesID, ErrMissingImage)
	}
	if r.upToDate(res.Artifact, res.Slots, res.Fingerprint, log) {
		res.Skipped = true
		return res, nil
	}

	var vol *models.ScanVolume
	for _, ref := range s.Entry.Slices {
		if ref.Path == "" {
			return res, fmt.Errorf("series %s slot %d (%s): %w", seriesID, ref.Slot, ref.InstanceID, ErrMissingImage)
		}
		img, err := read(ref.Path)
		if err != nil {
			return res, fmt.Errorf("series %s slot %d: %w", seriesID, ref.Slot, err)
		}
		if img.InstanceID != "" && ref.InstanceID != "" && img.InstanceID != ref.InstanceID {
			return res, fmt.Errorf("series %s slot %d expects %s, %s holds %s: %w",
				seriesID, ref.Slot, ref.InstanceID, ref.Path, img.InstanceID, ErrImageMismatch)
		}

		if vol == nil {
			if (s.Entry.Rows != 0 && s.Entry.Rows != img.Rows) || (s.Entry.Cols != 0 && s.Entry.Cols != img.Cols) {
				return res, fmt.Errorf("series %s declares %dx%d, slot %d is %dx%d: %w",
					seriesID, s.Entry.Rows, s.Entry.Cols, ref.Slot, img.Rows, img.Cols, ErrFrameShape)
			}
			vol = models.NewScanVolume(seriesID, res.Slots, img.Rows, img.Cols)
		}
		if img.Rows != vol.Rows || img.Cols != vol.Cols || len(img.Pixels) != img.Rows*img.Cols {
			return res, fmt.Errorf("series %s slot %d is %dx%d, expected %dx%d: %w",
				seriesID, ref.Slot, img.Rows, img.Cols, vol.Rows, vol.Cols, ErrFrameShape)
		}
		vol.SetSlice(ref.Slot, img.Pixels)
	}

	log.Debug("series reconstructed", "slots", res.Slots, "rows", vol.Rows, "cols", vol.Cols)
	res.Volume = vol
	return res, nil
}
