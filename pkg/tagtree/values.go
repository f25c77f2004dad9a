package tagtree

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Strings returns the element value as a list of strings.
// Numeric values are formatted; nil elements yield ok=false.
func Strings(e *Element) ([]string, bool) {
	if e == nil || e.IsSequence() {
		return nil, false
	}
	switch v := e.Value.(type) {
	case string:
		return splitMulti(v), true
	case []string:
		return v, true
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out, true
	case []float64:
		out := make([]string, len(v))
		for i, f := range v {
			out[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return out, true
	case []byte:
		return []string{strings.TrimRight(string(v), "\x00 ")}, true
	default:
		return nil, false
	}
}

// String returns the first string value, trimmed of padding
func String(e *Element) (string, bool) {
	vals, ok := Strings(e)
	if !ok || len(vals) == 0 {
		return "", false
	}
	s := strings.TrimRight(strings.TrimSpace(vals[0]), "\x00")
	if s == "" {
		return "", false
	}
	return s, true
}

// Float64s returns the element value as floats, parsing decimal strings
func Float64s(e *Element) ([]float64, error) {
	if e == nil {
		return nil, ErrNotFound
	}
	switch v := e.Value.(type) {
	case []float64:
		return v, nil
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, nil
	}
	vals, ok := Strings(e)
	if !ok {
		return nil, fmt.Errorf("%s: value of type %T is not numeric", e.Tag, e.Value)
	}
	out := make([]float64, 0, len(vals))
	for _, s := range vals {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: parse %q: %w", e.Tag, s, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Float64 returns the first numeric value of the element
func Float64(e *Element) (float64, error) {
	vals, err := Float64s(e)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("%s: empty value: %w", e.Tag, ErrNotFound)
	}
	return vals[0], nil
}

// Int returns the first value of the element as an integer
func Int(e *Element) (int, error) {
	if e == nil {
		return 0, ErrNotFound
	}
	if v, ok := e.Value.([]int); ok {
		if len(v) == 0 {
			return 0, fmt.Errorf("%s: empty value: %w", e.Tag, ErrNotFound)
		}
		return v[0], nil
	}
	s, ok := String(e)
	if !ok {
		return 0, fmt.Errorf("%s: empty value: %w", e.Tag, ErrNotFound)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, fmt.Errorf("%s: parse %q: %w", e.Tag, s, err)
		}
		n = int(f)
	}
	return n, nil
}

// Vec3 returns a three-component numeric value as a vector
func Vec3(e *Element) (r3.Vec, error) {
	vals, err := Float64s(e)
	if err != nil {
		return r3.Vec{}, err
	}
	if len(vals) != 3 {
		return r3.Vec{}, fmt.Errorf("%s: expected 3 values, got %d", e.Tag, len(vals))
	}
	return r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

// Pixels returns the element value as decoded pixel frames
func Pixels(e *Element) (*PixelFrames, bool) {
	if e == nil {
		return nil, false
	}
	p, ok := e.Value.(*PixelFrames)
	return p, ok && p != nil
}

// splitMulti splits a backslash-delimited multi-valued string
func splitMulti(s string) []string {
	return strings.Split(s, `\`)
}
