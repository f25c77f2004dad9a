// Package merge combines object volumes of one segmentation into composite
// objects, either by logical OR or by saturating sum.
package merge

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"seg2vol/internal/models"
)

var (
	// ErrShapeMismatch is returned when input volumes differ in shape
	ErrShapeMismatch = errors.New("volume shape mismatch")

	// ErrNoInputs is returned when there is nothing to merge
	ErrNoInputs = errors.New("no volumes to merge")

	// ErrUnknownMode is returned for a merge mode other than or/sum
	ErrUnknownMode = errors.New("unknown merge mode")
)

// Mode selects how voxels are combined
type Mode string

const (
	// Or sets a voxel to 1 when any input voxel is non-zero
	Or Mode = "or"

	// Sum adds voxel values, saturating at the merger's cap
	Sum Mode = "sum"
)

// DefaultSaturation caps saturating sums
const DefaultSaturation = 255

// ParseMode converts a configured mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Or, Sum:
		return m, nil
	case "":
		return Or, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Merger combines volumes elementwise
type Merger struct {
	Mode       Mode
	Saturation int
}

// NewMerger creates a merger. A saturation outside 1..255 uses DefaultSaturation.
func NewMerger(mode Mode, saturation int) *Merger {
	if saturation < 1 || saturation > 255 {
		saturation = DefaultSaturation
	}
	return &Merger{Mode: mode, Saturation: saturation}
}

// Merge combines the volumes into a new volume named name. Inputs are left
// untouched. The operation is commutative and associative in both modes.
func (m *Merger) Merge(name string, vols ...*models.Volume) (*models.Volume, error) {
	if len(vols) == 0 {
		return nil, ErrNoInputs
	}
	first := vols[0]
	for _, v := range vols[1:] {
		if !first.SameShape(v) {
			return nil, fmt.Errorf("%s is %v, %s is %v: %w", first.ObjectName, first.Shape(), v.ObjectName, v.Shape(), ErrShapeMismatch)
		}
	}

	out := models.NewVolume(name, first.Slices, first.Rows, first.Cols)
	switch m.Mode {
	case Or, "":
		for _, v := range vols {
			for i, b := range v.Data {
				if b != 0 {
					out.Data[i] = 1
				}
			}
		}
	case Sum:
		limit := m.Saturation
		if limit < 1 || limit > 255 {
			limit = DefaultSaturation
		}
		for i := range out.Data {
			total := 0
			for _, v := range vols {
				total += int(v.Data[i])
			}
			if total > limit {
				total = limit
			}
			out.Data[i] = uint8(total)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, m.Mode)
	}
	return out, nil
}

// CompositeName returns the name of a composite: the requested name when
// set, else the sorted constituent names joined with "+".
func CompositeName(requested string, constituents []string) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	names := append([]string(nil), constituents...)
	sort.Strings(names)
	return strings.Join(names, "+")
}
