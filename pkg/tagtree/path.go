package tagtree

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a path segment is absent
var ErrNotFound = errors.New("tag path not found")

// Step is one segment of a Path
type Step struct {
	Tag Tag

	// Each fans out over every item of the sequence instead of descending
	// into the first one
	Each bool
}

// One returns a singular step
func One(tag Tag) Step { return Step{Tag: tag} }

// Each returns a repeated step
func Each(tag Tag) Step { return Step{Tag: tag, Each: true} }

// Path addresses an element through nested sequences.
// Every step but the last must name a sequence element.
type Path []Step

// String renders the path as tags joined by '/', with '*' marking repeated steps
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.Tag.String()
		if s.Each {
			parts[i] += "*"
		}
	}
	return strings.Join(parts, "/")
}

func (p Path) repeated() bool {
	for _, s := range p {
		if s.Each {
			return true
		}
	}
	return false
}

// Resolve resolves a path without repeated steps to a single element.
// Singular steps through a sequence descend into its first item.
func Resolve(root *Item, path Path) (*Element, error) {
	if path.repeated() {
		return nil, fmt.Errorf("resolve %s: path has repeated steps", path)
	}
	e, err := descend(root, path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	return e, nil
}

// ResolveEach resolves a path containing repeated steps to one entry per
// fanned-out item, in declared order. An entry is nil when its branch lacks
// the rest of the path; branches are never dropped. ErrNotFound is returned
// only when the path is absent before its first repeated step.
//
// Nested repeated steps flatten depth-first: each outer item contributes the
// entries of its inner fan-out, or a single nil when the inner sequence is
// absent or empty. Index alignment across paths therefore only holds for
// paths sharing one repeated step.
func ResolveEach(root *Item, path Path) ([]*Element, error) {
	first := -1
	for i, s := range path {
		if s.Each {
			first = i
			break
		}
	}
	if first < 0 {
		e, err := Resolve(root, path)
		if err != nil {
			return nil, err
		}
		return []*Element{e}, nil
	}

	seq, err := descend(root, path[:first+1])
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if !seq.IsSequence() {
		return nil, fmt.Errorf("resolve %s: %s is not a sequence: %w", path, seq.Tag, ErrNotFound)
	}

	rest := path[first+1:]
	var out []*Element
	for _, item := range seq.Items {
		if len(rest) == 0 {
			// The repeated step is terminal: each item is itself the result.
			out = append(out, &Element{Tag: seq.Tag, Items: []*Item{item}, sequence: true})
			continue
		}
		if rest.repeated() {
			sub, err := ResolveEach(item, rest)
			if err != nil || len(sub) == 0 {
				out = append(out, nil)
				continue
			}
			out = append(out, sub...)
			continue
		}
		e, err := descend(item, rest)
		if err != nil {
			out = append(out, nil)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ResolveAll is like ResolveEach but fails with ErrNotFound when any
// branch is missing.
func ResolveAll(root *Item, path Path) ([]*Element, error) {
	elems, err := ResolveEach(root, path)
	if err != nil {
		return nil, err
	}
	for i, e := range elems {
		if e == nil {
			return nil, fmt.Errorf("resolve %s: item %d: %w", path, i, ErrNotFound)
		}
	}
	return elems, nil
}

// descend walks singular steps; the Each flag of the final step is ignored
// so that callers can fetch a sequence element itself.
func descend(root *Item, path Path) (*Element, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("empty path: %w", ErrNotFound)
	}
	current := root
	for i, step := range path {
		e, ok := current.Get(step.Tag)
		if !ok {
			return nil, fmt.Errorf("%s: %w", step.Tag, ErrNotFound)
		}
		if i == len(path)-1 {
			return e, nil
		}
		if !e.IsSequence() || len(e.Items) == 0 {
			return nil, fmt.Errorf("%s has no items: %w", step.Tag, ErrNotFound)
		}
		current = e.Items[0]
	}
	return nil, ErrNotFound
}
