package reconstruction

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	"seg2vol/internal/logging"
	"seg2vol/internal/models"
	"seg2vol/pkg/series"
)

var (
	// ErrSliceCorrelation marks a frame that matched no slot by instance id or position
	ErrSliceCorrelation = errors.New("slice correlation failed")

	// ErrDuplicateSlot marks a frame that overwrote an earlier frame's slot
	ErrDuplicateSlot = errors.New("duplicate slot correlation")

	// ErrFrameShape marks a frame whose size differs from the series geometry
	ErrFrameShape = errors.New("frame shape mismatch")
)

// Params holds the reconstruction parameters.
type Params struct {
	// Tolerance is the maximum distance, in patient units, between a frame's
	// position and a slice's position for the two to be matched.
	Tolerance float64

	// Overwrite forces regeneration of volumes that already exist with the
	// expected slot count.
	Overwrite bool
}

// Store reports what a previous run produced for an artifact.
// Stat returns an error wrapping fs.ErrNotExist when nothing is stored.
type Store interface {
	Stat(artifact string) (slices int, fingerprint string, err error)
}

// Diagnostic records a frame that could not be placed cleanly. Diagnostics
// never abort the object or the batch.
type Diagnostic struct {
	Segmentation string
	Object       string
	FrameIndex   int

	// Slot is the target slot, -1 when the frame was not placed
	Slot int

	Err error
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("segmentation %s object %s frame %d: %v", d.Segmentation, d.Object, d.FrameIndex, d.Err)
}

func (d Diagnostic) Unwrap() error { return d.Err }

// Result is the reconstruction of one object
type Result struct {
	Object   string
	Artifact string

	// Volume is nil when Skipped is set
	Volume *models.Volume

	// Skipped is set when a stored volume already matches the series
	Skipped bool

	Placed      int
	Diagnostics []Diagnostic
}

// Output is the reconstruction of every object in one document
type Output struct {
	Segmentation string
	SeriesID     string
	SeriesNumber string
	Slots        int
	Geometry     series.Geometry
	Fingerprint  string
	Objects      []Result
}

// Diagnostics returns all diagnostics of the output in object order
func (o *Output) Diagnostics() []Diagnostic {
	var out []Diagnostic
	for _, obj := range o.Objects {
		out = append(out, obj.Diagnostics...)
	}
	return out
}

// Reconstructor places decoded segmentation frames into volumes shaped like
// the referenced scan series.
//
// The process for every object is:
// 1. Resolve the slot count N of the referenced series
// 2. Allocate an all-zero (N, rows, cols) volume
// 3. Resolve each frame's slot by referenced instance id, then by position
// 4. Copy the frame into its slot; later frames win on duplicates
//
// Slot 0 is always the first slice of the series' declared order,
// independent of the order frames appear in the segmentation.
type Reconstructor struct {
	params *Params
	index  *series.Index
	store  Store
	logger *slog.Logger
}

// NewReconstructor creates a new reconstructor. The store may be nil, in
// which case every object is regenerated.
func NewReconstructor(params *Params, index *series.Index, store Store, logger *slog.Logger) *Reconstructor {
	if params == nil {
		params = &Params{}
	}
	if params.Tolerance <= 0 {
		params.Tolerance = series.DefaultTolerance
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconstructor{
		params: params,
		index:  index,
		store:  store,
		logger: logger,
	}
}

// Process reconstructs every object of the document. The only error
// returned is a failed series lookup; per-frame problems are reported as
// diagnostics on each Result.
func (r *Reconstructor) Process(doc *models.Document) (*Output, error) {
	s, err := r.index.Series(doc.ReferencedSeriesID)
	if err != nil {
		return nil, fmt.Errorf("segmentation %s: %w", doc.Folder.Folder, err)
	}

	out := &Output{
		Segmentation: doc.Folder.Folder,
		SeriesID:     s.Entry.SeriesID,
		SeriesNumber: s.Entry.SeriesNumber,
		Slots:        s.SlotCount(),
		Geometry:     s.Geometry(doc.Geometry),
		Fingerprint:  Fingerprint(s.Entry),
	}

	for _, obj := range doc.Objects {
		res := r.reconstructObject(doc, s, out.Fingerprint, obj)
		out.Objects = append(out.Objects, res)
	}
	return out, nil
}

// ReconstructObject reconstructs a single named object of the document
func (r *Reconstructor) ReconstructObject(doc *models.Document, name string) (Result, error) {
	obj, ok := doc.Object(name)
	if !ok {
		return Result{}, fmt.Errorf("segmentation %s has no object %q", doc.Folder.Folder, name)
	}
	s, err := r.index.Series(doc.ReferencedSeriesID)
	if err != nil {
		return Result{}, fmt.Errorf("segmentation %s: %w", doc.Folder.Folder, err)
	}
	return r.reconstructObject(doc, s, Fingerprint(s.Entry), obj), nil
}

func (r *Reconstructor) reconstructObject(doc *models.Document, s *series.Series, fingerprint string, obj models.ObjectFrames) Result {
	name := obj.Segment.Name
	res := Result{
		Object:   name,
		Artifact: ArtifactName(s.Entry.SeriesNumber, name, doc.Folder.Folder),
	}
	n := s.SlotCount()
	log := r.logger.With("segmentation", doc.Folder.Folder, "object", name, "artifact", res.Artifact)

	if r.upToDate(res.Artifact, n, fingerprint, log) {
		res.Skipped = true
		return res
	}

	vol := models.NewVolume(name, n, doc.Rows, doc.Cols)
	shapeOK := (s.Entry.Rows == 0 || s.Entry.Rows == doc.Rows) && (s.Entry.Cols == 0 || s.Entry.Cols == doc.Cols)
	writtenBy := make(map[int]int, len(obj.Frames))

	for _, frame := range obj.Frames {
		diag := Diagnostic{Segmentation: doc.Folder.Folder, Object: name, FrameIndex: frame.Index, Slot: -1}

		if !shapeOK || len(frame.Pixels) != doc.Rows*doc.Cols {
			diag.Err = fmt.Errorf("frame is %dx%d, series is %dx%d: %w", doc.Rows, doc.Cols, s.Entry.Rows, s.Entry.Cols, ErrFrameShape)
			res.Diagnostics = append(res.Diagnostics, diag)
			continue
		}

		slot, err := s.LookupSlot(series.SliceKey{
			InstanceID: frame.ReferencedInstanceID,
			Position:   frame.Position,
		}, r.params.Tolerance)
		if err != nil {
			diag.Err = fmt.Errorf("%w: %v", ErrSliceCorrelation, err)
			res.Diagnostics = append(res.Diagnostics, diag)
			continue
		}

		if prev, dup := writtenBy[slot]; dup {
			diag.Slot = slot
			diag.Err = fmt.Errorf("%w: slot %d already written by frame %d", ErrDuplicateSlot, slot, prev)
			res.Diagnostics = append(res.Diagnostics, diag)
		} else {
			res.Placed++
		}
		writtenBy[slot] = frame.Index
		vol.SetSlice(slot, frame.Pixels)
	}

	for _, d := range res.Diagnostics {
		log.Warn("frame diagnostic", "frame", d.FrameIndex, "slot", d.Slot, "error", d.Err)
	}
	log.Debug("object reconstructed", "slots", n, "frames", len(obj.Frames), "placed", res.Placed)

	res.Volume = vol
	return res
}

// upToDate applies the idempotence shortcut: a stored volume with the
// expected slot count is kept unless overwrite is set. A stored fingerprint
// must also match; headers written without one are trusted on slot count alone.
func (r *Reconstructor) upToDate(artifact string, slots int, fingerprint string, log *slog.Logger) bool {
	if r.params.Overwrite || r.store == nil {
		return false
	}
	stored, storedPrint, err := r.store.Stat(artifact)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("stored volume unreadable, regenerating", "error", err)
		}
		return false
	}
	if stored != slots {
		log.Info("stored volume has wrong slot count, regenerating", "stored", stored, "expected", slots)
		return false
	}
	if storedPrint != "" && storedPrint != fingerprint {
		log.Info("series geometry changed, regenerating")
		return false
	}
	log.Debug("stored volume up to date, skipping")
	return true
}

// ArtifactName returns the output name of an object volume
func ArtifactName(seriesNumber, object, folder string) string {
	clean := strings.NewReplacer(" ", "_", "/", "_", string('\\'), "_")
	return fmt.Sprintf("%s_ON_%s_FN_%s", clean.Replace(seriesNumber), clean.Replace(object), clean.Replace(folder))
}

// Fingerprint hashes the slot order and positions of a series
func Fingerprint(entry models.SeriesCatalogEntry) string {
	h := sha256.New()
	for _, ref := range entry.Slices {
		h.Write([]byte(ref.InstanceID))
		h.Write([]byte{0})
		if ref.Position != nil {
			for _, c := range []float64{ref.Position.X, ref.Position.Y, ref.Position.Z} {
				h.Write([]byte(strconv.FormatFloat(c, 'g', 10, 64)))
				h.Write([]byte{','})
			}
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
