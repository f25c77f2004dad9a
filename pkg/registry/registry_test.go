package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"seg2vol/internal/models"
)

func openTest(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "case", "registry.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)

	rec := Record{
		Case:         "c1",
		Segmentation: "SEG_A",
		Object:       "MPD+P",
		Artifact:     "7_ON_MPD+P_FN_SEG_A",
		Composite:    true,
		Constituents: []string{"P", "MPD"},
		MergeMode:    "or",
		Stats:        Stats{Slices: 40, VoxelCount: 12, NonZeroSlices: 3},
		RunID:        "run-1",
	}
	if err := r.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := r.Get(ctx, "c1", "SEG_A", "MPD+P")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Composite || got.Slices != 40 || got.VoxelCount != 12 || got.RunID != "run-1" {
		t.Errorf("Unexpected record %+v", got)
	}
	if len(got.Constituents) != 2 || got.Constituents[0] != "P" || got.Constituents[1] != "MPD" {
		t.Errorf("Constituents out of order: %v", got.Constituents)
	}
	if got.UpdatedAt.IsZero() {
		t.Errorf("Expected an update time")
	}
}

func TestPutReplaces(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)

	base := Record{Case: "c1", Segmentation: "S", Object: "X", Composite: true, Constituents: []string{"a", "b", "c"}}
	if err := r.Put(ctx, base); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	base.Constituents = []string{"a"}
	base.Stats.Slices = 9
	if err := r.Put(ctx, base); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	recs, err := r.List(ctx, "c1", "S")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Slices != 9 || len(recs[0].Constituents) != 1 {
		t.Errorf("Expected the record to be replaced, got %+v", recs)
	}
}

func TestCompositesAndList(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)

	for _, rec := range []Record{
		{Case: "c1", Segmentation: "S1", Object: "P"},
		{Case: "c1", Segmentation: "S1", Object: "G"},
		{Case: "c1", Segmentation: "S1", Object: "G+P", Composite: true, Constituents: []string{"G", "P"}},
		{Case: "c1", Segmentation: "S2", Object: "P"},
		{Case: "c2", Segmentation: "S1", Object: "P"},
	} {
		if err := r.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	comps, err := r.Composites(ctx, "c1", "S1")
	if err != nil {
		t.Fatalf("Composites failed: %v", err)
	}
	if len(comps) != 1 || comps[0].Object != "G+P" {
		t.Errorf("Unexpected composites %+v", comps)
	}

	all, err := r.List(ctx, "c1", "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("Expected 4 records in case c1, got %d", len(all))
	}
}

func TestGetMissing(t *testing.T) {
	_, err := openTest(t).Get(context.Background(), "c", "s", "o")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := r.Put(context.Background(), Record{Case: "c", Segmentation: "s", Object: "o"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_ = r.Close()

	r, err = Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer r.Close()
	if _, err := r.Get(context.Background(), "c", "s", "o"); err != nil {
		t.Errorf("Record lost after reopen: %v", err)
	}
}

func TestVolumeStats(t *testing.T) {
	vol := models.NewVolume("P", 4, 2, 2)
	vol.SetSlice(0, []uint8{1, 1, 0, 0})
	vol.SetSlice(2, []uint8{1, 1, 1, 1})

	st := VolumeStats(vol)
	if st.Slices != 4 || st.VoxelCount != 6 || st.NonZeroSlices != 2 {
		t.Errorf("Unexpected stats %+v", st)
	}
	if math.Abs(st.MeanSliceFill-0.75) > 1e-12 || st.MaxSliceFill != 1 {
		t.Errorf("Unexpected fill %g / %g", st.MeanSliceFill, st.MaxSliceFill)
	}

	empty := VolumeStats(models.NewVolume("E", 3, 2, 2))
	if empty.NonZeroSlices != 0 || empty.MeanSliceFill != 0 {
		t.Errorf("Unexpected empty stats %+v", empty)
	}
}

func TestConcurrentPut(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- r.Put(ctx, Record{Case: "c", Segmentation: fmt.Sprintf("S%d", i), Object: "P"})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	recs, err := r.List(ctx, "c", "")
	if err != nil || len(recs) != 8 {
		t.Errorf("Expected 8 records, got %d (%v)", len(recs), err)
	}
}

func TestPutCompositeNumbers(t *testing.T) {
	ctx := context.Background()
	r := openTest(t)

	n, err := r.PutComposite(ctx, Record{Case: "c", Segmentation: "S", Object: "G+P"}, 3)
	if err != nil || n != 4 {
		t.Fatalf("Expected 4 on an empty registry, got %d (%v)", n, err)
	}
	if err := r.Put(ctx, Record{Case: "c", Segmentation: "S", Object: "M", SegmentNumber: 7}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if n, _ := r.PutComposite(ctx, Record{Case: "c", Segmentation: "S", Object: "M+P"}, 3); n != 8 {
		t.Errorf("Expected 8, got %d", n)
	}
	if n, _ := r.PutComposite(ctx, Record{Case: "c", Segmentation: "S", Object: "G+P"}, 3); n != 4 {
		t.Errorf("Expected a registered composite to keep 4, got %d", n)
	}
	if n, _ := r.PutComposite(ctx, Record{Case: "c", Segmentation: "other", Object: "G+P"}, 0); n != 1 {
		t.Errorf("Expected 1 for another segmentation, got %d", n)
	}

	got, err := r.Get(ctx, "c", "S", "M+P")
	if err != nil || !got.Composite || got.SegmentNumber != 8 {
		t.Errorf("Unexpected stored composite %+v (%v)", got, err)
	}
}

func TestPutCompositeAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.db")

	var handles []*Registry
	for i := 0; i < 2; i++ {
		r, err := Open(path)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		t.Cleanup(func() { _ = r.Close() })
		handles = append(handles, r)
	}
	if err := handles[0].Put(ctx, Record{Case: "c", Segmentation: "S", Object: "P", SegmentNumber: 3}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	const perHandle = 5
	var wg sync.WaitGroup
	numbers := make(chan int, 2*perHandle)
	errs := make(chan error, 2*perHandle)
	for h, r := range handles {
		wg.Add(1)
		go func(h int, r *Registry) {
			defer wg.Done()
			for i := 0; i < perHandle; i++ {
				n, err := r.PutComposite(ctx, Record{Case: "c", Segmentation: "S", Object: fmt.Sprintf("C%d_%d", h, i)}, 0)
				if err != nil {
					errs <- err
					return
				}
				numbers <- n
			}
		}(h, r)
	}
	wg.Wait()
	close(numbers)
	close(errs)
	for err := range errs {
		t.Fatalf("PutComposite failed: %v", err)
	}

	seen := make(map[int]bool)
	for n := range numbers {
		if seen[n] {
			t.Errorf("Segment number %d allocated twice", n)
		}
		if n <= 3 {
			t.Errorf("Segment number %d collides with decoded segments", n)
		}
		seen[n] = true
	}
	if len(seen) != 2*perHandle {
		t.Errorf("Expected %d distinct numbers, got %d", 2*perHandle, len(seen))
	}
}
