package merge

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"seg2vol/internal/models"
)

func randomVolume(rng *rand.Rand, name string) *models.Volume {
	vol := models.NewVolume(name, 5, 3, 3)
	for i := range vol.Data {
		if rng.Intn(3) == 0 {
			vol.Data[i] = 1
		}
	}
	return vol
}

func equalData(a, b *models.Volume) bool {
	if !a.SameShape(b) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

// TestOrCommutativeAssociative checks the algebra of logical OR merges
func TestOrCommutativeAssociative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := NewMerger(Or, 0)

	for trial := 0; trial < 20; trial++ {
		a, b, c := randomVolume(rng, "A"), randomVolume(rng, "B"), randomVolume(rng, "C")

		ab, _ := m.Merge("AB", a, b)
		ba, _ := m.Merge("BA", b, a)
		if !equalData(ab, ba) {
			t.Fatalf("Trial %d: merge(A,B) != merge(B,A)", trial)
		}

		bc, _ := m.Merge("BC", b, c)
		left, _ := m.Merge("L", ab, c)
		right, _ := m.Merge("R", a, bc)
		if !equalData(left, right) {
			t.Fatalf("Trial %d: merge(merge(A,B),C) != merge(A,merge(B,C))", trial)
		}
	}
}

// TestOrMergeSliceScenario merges P, M and MPD on two neighbouring slices
func TestOrMergeSliceScenario(t *testing.T) {
	p := models.NewVolume("P", 40, 2, 2)
	mm := models.NewVolume("M", 40, 2, 2)
	mpd := models.NewVolume("MPD", 40, 2, 2)
	p.Slice(12)[3] = 1
	mpd.Slice(12)[3] = 1

	out, err := NewMerger(Or, 0).Merge("P+M+MPD", p, mm, mpd)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if out.Slice(12)[3] != 1 {
		t.Errorf("Expected voxel set on slice 12")
	}
	for i, b := range out.Slice(13) {
		if b != 0 {
			t.Errorf("Slice 13 voxel %d: expected 0, got %d", i, b)
		}
	}
	if out.VoxelCount() != 1 {
		t.Errorf("Expected 1 voxel, got %d", out.VoxelCount())
	}
	if p.VoxelCount() != 1 {
		t.Errorf("Inputs must not be modified")
	}
}

func TestSaturatingSum(t *testing.T) {
	a := models.NewVolume("A", 1, 1, 3)
	b := models.NewVolume("B", 1, 1, 3)
	copy(a.Data, []uint8{200, 1, 0})
	copy(b.Data, []uint8{100, 1, 0})

	out, err := NewMerger(Sum, 0).Merge("S", a, b)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if out.Data[0] != 255 || out.Data[1] != 2 || out.Data[2] != 0 {
		t.Errorf("Unexpected sums %v", out.Data)
	}

	capped, _ := NewMerger(Sum, 3).Merge("S", a, b, b)
	if capped.Data[0] != 3 || capped.Data[1] != 3 {
		t.Errorf("Expected values capped at 3, got %v", capped.Data)
	}
}

func TestMergeErrors(t *testing.T) {
	m := NewMerger(Or, 0)
	if _, err := m.Merge("X"); !errors.Is(err, ErrNoInputs) {
		t.Errorf("Expected ErrNoInputs, got %v", err)
	}
	_, err := m.Merge("X", models.NewVolume("A", 3, 2, 2), models.NewVolume("B", 4, 2, 2))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	bad := &Merger{Mode: "max"}
	if _, err := bad.Merge("X", models.NewVolume("A", 1, 1, 1)); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Expected ErrUnknownMode, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"OR": Or, " sum ": Sum, "": Or} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("xor"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Expected ErrUnknownMode, got %v", err)
	}
}

func TestCompositeName(t *testing.T) {
	if got := CompositeName("", []string{"P", "MPD", "M"}); got != "M+MPD+P" {
		t.Errorf("Unexpected name %s", got)
	}
	if CompositeName("", []string{"B", "A"}) != CompositeName("", []string{"A", "B"}) {
		t.Errorf("Composite names must not depend on order")
	}
	if got := CompositeName("pancreas", []string{"P", "M"}); got != "pancreas" {
		t.Errorf("Expected requested name, got %s", got)
	}
}

func TestPlanFor(t *testing.T) {
	plan, err := ParsePlan([]byte(`
merge_plan:
  SEG_A:
    - old_objects: [P, M]
      new_object: PM
  all:
    - old_objects: [P, G]
`))
	if err != nil {
		t.Fatalf("ParsePlan failed: %v", err)
	}

	ds := plan.For("SEG_A")
	if len(ds) != 2 || ds[0].Name() != "PM" || ds[1].Name() != "G+P" {
		t.Errorf("Unexpected directives %+v", ds)
	}
	if other := plan.For("SEG_B"); len(other) != 1 {
		t.Errorf("Expected only the all directive, got %+v", other)
	}
}

func TestLoadPlanJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	data := `{"merge_plan": {"all": [{"old_objects": ["P", "MPD"], "new_object": "duct"}]}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	plan, err := LoadPlan(path)
	if err != nil {
		t.Fatalf("LoadPlan failed: %v", err)
	}
	if ds := plan.For("x"); len(ds) != 1 || ds[0].Name() != "duct" {
		t.Errorf("Unexpected directives %+v", ds)
	}
}

func TestParsePlanRejectsEmptyDirective(t *testing.T) {
	if _, err := ParsePlan([]byte("merge_plan:\n  all:\n    - new_object: X\n")); err == nil {
		t.Error("Expected an error for a directive without objects")
	}
}

func TestApply(t *testing.T) {
	p := models.NewVolume("P", 2, 1, 2)
	g := models.NewVolume("G", 2, 1, 2)
	p.Data[0] = 1
	g.Data[3] = 1
	objects := map[string]*models.Volume{"P": p, "G": g}

	outcomes := NewMerger(Or, 0).Apply([]Directive{
		{OldObjects: []string{"P", "G", "X"}},
		{OldObjects: []string{"G+P", "P"}, NewObject: "all_of_it"},
		{OldObjects: []string{"Y", "Z"}},
	}, objects, nil)

	if len(outcomes) != 3 {
		t.Fatalf("Expected 3 outcomes, got %d", len(outcomes))
	}
	first := outcomes[0].Composite
	if first == nil || first.Name != "G+P" || first.Volume.VoxelCount() != 2 {
		t.Fatalf("Unexpected first outcome %+v", outcomes[0])
	}
	if len(first.Missing) != 1 || first.Missing[0] != "X" {
		t.Errorf("Expected X to be reported missing, got %v", first.Missing)
	}
	if second := outcomes[1].Composite; second == nil || second.Volume.VoxelCount() != 2 {
		t.Errorf("Expected composites to feed later directives, got %+v", outcomes[1])
	}
	if !errors.Is(outcomes[2].Err, ErrNoConstituents) {
		t.Errorf("Expected ErrNoConstituents, got %v", outcomes[2].Err)
	}
	if _, ok := objects["all_of_it"]; !ok {
		t.Errorf("Expected composites to be added to the object set")
	}
	if _, ok := objects["G+P+X"]; ok {
		t.Errorf("Expected the composite to be named after merged objects only")
	}
}

func TestApplyNamesFromMergedObjects(t *testing.T) {
	p := models.NewVolume("P", 1, 1, 2)
	g := models.NewVolume("G", 1, 1, 2)
	objects := map[string]*models.Volume{"P": p, "G": g}

	outcomes := NewMerger(Or, 0).Apply([]Directive{
		{OldObjects: []string{"X", "P", "G", "P"}},
		{OldObjects: []string{"P", "Y"}},
		{OldObjects: []string{"G", "Y"}, NewObject: "G"},
		{OldObjects: []string{"P", "Y"}, NewObject: "Pancreas"},
	}, objects, nil)

	c := outcomes[0].Composite
	if c == nil || c.Name != "G+P" {
		t.Fatalf("Expected G+P, got %+v", outcomes[0])
	}
	if len(c.Constituents) != 2 || c.Constituents[0] != "P" || c.Constituents[1] != "G" {
		t.Errorf("Expected constituents in directive order, got %v", c.Constituents)
	}
	for i := 1; i <= 2; i++ {
		if !errors.Is(outcomes[i].Err, ErrNameClash) {
			t.Errorf("Directive %d: expected ErrNameClash, got %+v", i, outcomes[i])
		}
	}
	if objects["P"] != p || objects["G"] != g {
		t.Errorf("Expected constituents to stay in place")
	}
	if c := outcomes[3].Composite; c == nil || c.Name != "Pancreas" || len(c.Missing) != 1 {
		t.Errorf("Expected a named single-object composite, got %+v", outcomes[3])
	}
}

func TestDirectiveNameFor(t *testing.T) {
	have := map[string]bool{"P": true, "G": true}
	available := func(name string) bool { return have[name] }

	if got := (Directive{OldObjects: []string{"P", "G", "X"}}).NameFor(available); got != "G+P" {
		t.Errorf("Expected G+P, got %q", got)
	}
	if got := (Directive{OldObjects: []string{"X"}, NewObject: "Named"}).NameFor(available); got != "Named" {
		t.Errorf("Expected the requested name, got %q", got)
	}
	if got := (Directive{OldObjects: []string{"X", "Y"}}).NameFor(available); got != "" {
		t.Errorf("Expected no name without constituents, got %q", got)
	}
}
