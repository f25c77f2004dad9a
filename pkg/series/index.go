// Package series indexes scan series by identifier and resolves slices to
// slots: the position of each slice in the series' declared order.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"seg2vol/internal/models"
)

var (
	// ErrSeriesNotFound is returned when no series carries the requested identifier
	ErrSeriesNotFound = errors.New("series not found")

	// ErrSliceNotFound is returned when no slot matches an instance or position
	ErrSliceNotFound = errors.New("slice not found")

	// ErrAmbiguousPosition is returned when more than one slot lies within
	// tolerance of a position. It wraps ErrSliceNotFound.
	ErrAmbiguousPosition = fmt.Errorf("%w: position matches several slots", ErrSliceNotFound)
)

// DefaultTolerance is the position match tolerance in patient units (mm)
const DefaultTolerance = 1e-3

// Series is one indexed series with its slices in slot order
type Series struct {
	Entry models.SeriesCatalogEntry

	byInstance map[string]int
	tree       *kdtree.Tree
}

// Index maps series identifiers to slot-ordered slices
type Index struct {
	series map[string]*Series
	order  []string
}

// SliceKey selects a slot by instance id, by position, or both
type SliceKey struct {
	InstanceID string
	Position   *r3.Vec
}

// NewIndex orders every entry's slices and builds the lookup structures
func NewIndex(entries ...models.SeriesCatalogEntry) (*Index, error) {
	ix := &Index{series: make(map[string]*Series, len(entries))}
	for _, entry := range entries {
		if err := ix.Add(entry); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

// Add indexes one more series
func (ix *Index) Add(entry models.SeriesCatalogEntry) error {
	if entry.SeriesID == "" {
		return fmt.Errorf("series %q has no identifier", entry.SeriesNumber)
	}
	if _, dup := ix.series[entry.SeriesID]; dup {
		return fmt.Errorf("series %s indexed twice", entry.SeriesID)
	}

	entry.Slices = orderSlices(entry)
	s := &Series{Entry: entry, byInstance: make(map[string]int, len(entry.Slices))}

	var points slicePoints
	for _, ref := range entry.Slices {
		if ref.InstanceID != "" {
			if prev, dup := s.byInstance[ref.InstanceID]; dup {
				return fmt.Errorf("series %s: instance %s at slots %d and %d", entry.SeriesID, ref.InstanceID, prev, ref.Slot)
			}
			s.byInstance[ref.InstanceID] = ref.Slot
		}
		if ref.Position != nil {
			points = append(points, slicePoint{Vec: *ref.Position, Slot: ref.Slot})
		}
	}
	if len(points) > 0 {
		s.tree = kdtree.New(points, true)
	}

	ix.series[entry.SeriesID] = s
	ix.order = append(ix.order, entry.SeriesID)
	return nil
}

// IDs returns the indexed series identifiers in insertion order
func (ix *Index) IDs() []string {
	out := make([]string, len(ix.order))
	copy(out, ix.order)
	return out
}

// Series returns the indexed series with the given identifier
func (ix *Index) Series(seriesID string) (*Series, error) {
	s, ok := ix.series[seriesID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", seriesID, ErrSeriesNotFound)
	}
	return s, nil
}

// Lookup returns the slot-ordered slices of a series
func (ix *Index) Lookup(seriesID string) ([]models.SliceRef, error) {
	s, err := ix.Series(seriesID)
	if err != nil {
		return nil, err
	}
	return s.Entry.Slices, nil
}

// LookupSlot resolves a slice key within a series. The instance id is tried
// first, then the position within tolerance.
func (ix *Index) LookupSlot(seriesID string, key SliceKey, tolerance float64) (int, error) {
	s, err := ix.Series(seriesID)
	if err != nil {
		return 0, err
	}
	return s.LookupSlot(key, tolerance)
}

// SlotCount returns the number of slots of the series
func (s *Series) SlotCount() int {
	return len(s.Entry.Slices)
}

// LookupSlot resolves a slice key, trying the instance id before the position
func (s *Series) LookupSlot(key SliceKey, tolerance float64) (int, error) {
	if key.InstanceID != "" {
		slot, err := s.SlotByInstance(key.InstanceID)
		if err == nil || key.Position == nil {
			return slot, err
		}
	}
	if key.Position != nil {
		return s.SlotByPosition(*key.Position, tolerance)
	}
	return 0, fmt.Errorf("series %s: empty slice key: %w", s.Entry.SeriesID, ErrSliceNotFound)
}

// SlotByInstance returns the slot of the slice with the given instance id
func (s *Series) SlotByInstance(instanceID string) (int, error) {
	slot, ok := s.byInstance[instanceID]
	if !ok {
		return 0, fmt.Errorf("series %s: instance %s: %w", s.Entry.SeriesID, instanceID, ErrSliceNotFound)
	}
	return slot, nil
}

// SlotByPosition returns the single slot whose position lies within
// tolerance of p. Several candidates fail with ErrAmbiguousPosition rather
// than picking the nearest.
func (s *Series) SlotByPosition(p r3.Vec, tolerance float64) (int, error) {
	if s.tree == nil {
		return 0, fmt.Errorf("series %s has no slice positions: %w", s.Entry.SeriesID, ErrSliceNotFound)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	slots := within(s.tree, p, tolerance)
	switch len(slots) {
	case 0:
		return 0, fmt.Errorf("series %s: position (%g, %g, %g): %w", s.Entry.SeriesID, p.X, p.Y, p.Z, ErrSliceNotFound)
	case 1:
		return slots[0], nil
	default:
		sort.Ints(slots)
		return 0, fmt.Errorf("series %s: position (%g, %g, %g) slots %v: %w", s.Entry.SeriesID, p.X, p.Y, p.Z, slots, ErrAmbiguousPosition)
	}
}

// orderSlices sorts slices along the slice normal (or the dominant axis),
// falling back to instance number and then declared order when any slice
// lacks a position, and assigns slots.
func orderSlices(entry models.SeriesCatalogEntry) []models.SliceRef {
	slices := make([]models.SliceRef, len(entry.Slices))
	copy(slices, entry.Slices)

	allPositions, allNumbers := len(slices) > 0, len(slices) > 0
	for _, ref := range slices {
		if ref.Position == nil {
			allPositions = false
		}
		if ref.InstanceNumber <= 0 {
			allNumbers = false
		}
	}

	switch {
	case allPositions:
		axis := sliceAxis(entry.Orientation, slices)
		sort.SliceStable(slices, func(i, j int) bool {
			di, dj := r3.Dot(*slices[i].Position, axis), r3.Dot(*slices[j].Position, axis)
			if di != dj {
				return di < dj
			}
			return slices[i].InstanceNumber < slices[j].InstanceNumber
		})
	case allNumbers:
		sort.SliceStable(slices, func(i, j int) bool {
			return slices[i].InstanceNumber < slices[j].InstanceNumber
		})
	}

	for i := range slices {
		slices[i].Slot = i
	}
	return slices
}

// sliceAxis returns the unit slice normal from the orientation cosines, or
// the coordinate axis along which slice positions spread the most
func sliceAxis(orientation []float64, slices []models.SliceRef) r3.Vec {
	if len(orientation) == 6 {
		row := r3.Vec{X: orientation[0], Y: orientation[1], Z: orientation[2]}
		col := r3.Vec{X: orientation[3], Y: orientation[4], Z: orientation[5]}
		n := r3.Cross(row, col)
		if norm := r3.Norm(n); norm > 1e-6 {
			return r3.Scale(1/norm, n)
		}
	}

	lo := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, ref := range slices {
		p := *ref.Position
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	spread := r3.Sub(hi, lo)
	switch {
	case spread.X > spread.Y && spread.X > spread.Z:
		return r3.Vec{X: 1}
	case spread.Y > spread.Z:
		return r3.Vec{Y: 1}
	default:
		return r3.Vec{Z: 1}
	}
}
