package merge

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"seg2vol/internal/models"
)

// AllSegmentations is the plan key whose directives apply to every folder
const AllSegmentations = "all"

var (
	// ErrNoConstituents is returned when none of a directive's objects exist
	ErrNoConstituents = errors.New("no constituent objects available")

	// ErrNameClash is returned when a composite would take the name of one
	// of its own constituents
	ErrNameClash = errors.New("composite name matches a constituent")
)

// Directive asks for one composite object
type Directive struct {
	OldObjects []string `yaml:"old_objects" json:"old_objects"`
	NewObject  string   `yaml:"new_object,omitempty" json:"new_object,omitempty"`
}

// Name returns the composite name the directive produces when every
// requested object is available
func (d Directive) Name() string {
	return CompositeName(d.NewObject, d.OldObjects)
}

// NameFor returns the composite name the directive produces from the
// objects present in available. The name follows the constituents actually
// merged, so a missing object never appears in it.
func (d Directive) NameFor(available func(name string) bool) string {
	var present []string
	seen := make(map[string]bool, len(d.OldObjects))
	for _, name := range d.OldObjects {
		if seen[name] || !available(name) {
			continue
		}
		seen[name] = true
		present = append(present, name)
	}
	return CompositeName(d.NewObject, present)
}

// Plan maps segmentation folders (or "all") to merge directives
type Plan map[string][]Directive

type planFile struct {
	MergePlan Plan `yaml:"merge_plan" json:"merge_plan"`
}

// LoadPlan reads a merge plan from a YAML or JSON file
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading merge plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a merge plan document. JSON input parses as YAML.
func ParsePlan(data []byte) (Plan, error) {
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing merge plan: %w", err)
	}
	for key, directives := range f.MergePlan {
		for i, d := range directives {
			if len(d.OldObjects) == 0 {
				return nil, fmt.Errorf("merge plan %s directive %d lists no objects", key, i)
			}
		}
	}
	return f.MergePlan, nil
}

// For returns the directives of a folder followed by the "all" directives
func (p Plan) For(folder string) []Directive {
	var out []Directive
	out = append(out, p[folder]...)
	if folder != AllSegmentations {
		out = append(out, p[AllSegmentations]...)
	}
	return out
}

// Composite is the result of one directive
type Composite struct {
	Directive    Directive
	Name         string
	Volume       *models.Volume
	Constituents []string
	Missing      []string
}

// Outcome pairs a directive with its composite or failure
type Outcome struct {
	Composite *Composite
	Err       error
}

// Apply runs directives in order against the available objects. Each
// composite becomes available to later directives. Missing constituents are
// skipped with a warning; a directive with none available fails alone.
func (m *Merger) Apply(directives []Directive, objects map[string]*models.Volume, logger *slog.Logger) []Outcome {
	outcomes := make([]Outcome, 0, len(directives))
	for _, d := range directives {
		c, err := m.applyOne(d, objects, logger)
		if err != nil {
			outcomes = append(outcomes, Outcome{Err: err})
			continue
		}
		objects[c.Name] = c.Volume
		outcomes = append(outcomes, Outcome{Composite: c})
	}
	return outcomes
}

func (m *Merger) applyOne(d Directive, objects map[string]*models.Volume, logger *slog.Logger) (*Composite, error) {
	c := &Composite{Directive: d}
	var vols []*models.Volume
	seen := make(map[string]bool, len(d.OldObjects))
	for _, name := range d.OldObjects {
		if seen[name] {
			continue
		}
		seen[name] = true
		v, ok := objects[name]
		if !ok || v == nil {
			c.Missing = append(c.Missing, name)
			if logger != nil {
				logger.Warn("merge constituent missing, skipping", "composite", d.Name(), "object", name)
			}
			continue
		}
		vols = append(vols, v)
		c.Constituents = append(c.Constituents, name)
	}
	if len(vols) == 0 {
		return nil, fmt.Errorf("composite %s: %w (wanted %v)", d.Name(), ErrNoConstituents, d.OldObjects)
	}
	c.Name = CompositeName(d.NewObject, c.Constituents)
	for _, name := range c.Constituents {
		if name == c.Name {
			return nil, fmt.Errorf("composite %s: %w (merged %v, missing %v)", c.Name, ErrNameClash, c.Constituents, c.Missing)
		}
	}

	vol, err := m.Merge(c.Name, vols...)
	if err != nil {
		return nil, fmt.Errorf("composite %s: %w", c.Name, err)
	}
	c.Volume = vol
	return c, nil
}
