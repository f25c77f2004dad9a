package series

import (
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// slicePoint is a slice position tagged with its slot
type slicePoint struct {
	r3.Vec
	Slot int
}

// Compare implements the kdtree.Comparable interface
func (p slicePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(slicePoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p slicePoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p slicePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(slicePoint)
	d := r3.Sub(p.Vec, q.Vec)
	return r3.Dot(d, d)
}

// slicePoints is a collection of slicePoint that satisfies kdtree.Interface
type slicePoints []slicePoint

func (p slicePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p slicePoints) Len() int                              { return len(p) }
func (p slicePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p slicePoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{slicePoints: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{slicePoints: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for slicePoints
type pointPlane struct {
	slicePoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.slicePoints[i].X < p.slicePoints[j].X
	case 1:
		return p.slicePoints[i].Y < p.slicePoints[j].Y
	case 2:
		return p.slicePoints[i].Z < p.slicePoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{slicePoints: p.slicePoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.slicePoints[i], p.slicePoints[j] = p.slicePoints[j], p.slicePoints[i]
}

// within returns the slots of all points within tolerance of q
func within(tree *kdtree.Tree, q r3.Vec, tolerance float64) []int {
	keeper := kdtree.NewDistKeeper(tolerance * tolerance)
	tree.NearestSet(keeper, slicePoint{Vec: q})

	var slots []int
	for _, item := range keeper.Heap {
		// Skip the sentinel value
		if item.Comparable == nil {
			continue
		}
		slots = append(slots, item.Comparable.(slicePoint).Slot)
	}
	return slots
}
