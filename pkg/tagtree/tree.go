// Package tagtree provides a generic tree of tagged elements and path
// resolution over it. A tree is made of Items; each Item holds Elements keyed
// by Tag, and an Element is either a leaf carrying a scalar value or a
// sequence carrying an ordered list of nested Items.
//
// Declared order is preserved everywhere: Items keep the insertion order of
// their Elements, sequences keep the order of their Items, and path
// resolution never sorts. Callers rely on that order to keep per-frame lists
// aligned with one another.
package tagtree

import (
	"fmt"
)

// Tag identifies an element by its group and element numbers
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag in (GGGG,EEEE) form
func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group, t.Element)
}

// PixelFrames holds decoded per-frame pixel arrays of a multi-frame record
type PixelFrames struct {
	Rows   int
	Cols   int
	Frames [][]uint8
}

// Element is one tagged entry of an Item
type Element struct {
	Tag Tag

	// Value holds the leaf value: string, []string, []int, []float64, []byte or *PixelFrames
	Value any

	// Items holds the nested items of a sequence element
	Items []*Item

	sequence bool
}

// IsSequence reports whether the element holds nested items
func (e *Element) IsSequence() bool {
	return e.sequence
}

// Item is an ordered collection of elements
type Item struct {
	elements map[Tag]*Element
	order    []Tag
}

// NewItem creates an empty item
func NewItem() *Item {
	return &Item{elements: make(map[Tag]*Element)}
}

// Set stores a leaf value under tag, replacing any previous element
func (it *Item) Set(tag Tag, value any) *Item {
	it.put(&Element{Tag: tag, Value: value})
	return it
}

// SetSequence stores a sequence of items under tag
func (it *Item) SetSequence(tag Tag, items ...*Item) *Item {
	it.put(&Element{Tag: tag, Items: items, sequence: true})
	return it
}

func (it *Item) put(e *Element) {
	if _, ok := it.elements[e.Tag]; !ok {
		it.order = append(it.order, e.Tag)
	}
	it.elements[e.Tag] = e
}

// Get returns the element stored under tag
func (it *Item) Get(tag Tag) (*Element, bool) {
	if it == nil {
		return nil, false
	}
	e, ok := it.elements[tag]
	return e, ok
}

// Tags returns the element tags in insertion order
func (it *Item) Tags() []Tag {
	out := make([]Tag, len(it.order))
	copy(out, it.order)
	return out
}

// Len returns the number of elements in the item
func (it *Item) Len() int {
	return len(it.order)
}
