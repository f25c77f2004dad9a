// Package batch drives one case start to finish: selection, decoding,
// reconstruction, persistence and merging of every segmentation folder.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"seg2vol/internal/logging"
	"seg2vol/internal/models"
	"seg2vol/pkg/catalog"
	"seg2vol/pkg/config"
	"seg2vol/pkg/dicomtree"
	"seg2vol/pkg/merge"
	"seg2vol/pkg/reconstruction"
	"seg2vol/pkg/registry"
	"seg2vol/pkg/segmentation"
	"seg2vol/pkg/series"
	"seg2vol/pkg/tagtree"
	"seg2vol/pkg/volumestore"
)

// Runner processes cases with a fixed configuration
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger
	merger *merge.Merger

	// read loads a segmentation record from disk
	read func(path string) (*tagtree.Item, error)

	// readImage loads one scan slice image
	readImage reconstruction.ImageReader
}

// NewRunner creates a runner. The logger may be nil.
func NewRunner(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := merge.ParseMode(cfg.Merge.Mode)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		cfg:       cfg,
		logger:    logger,
		merger:    merge.NewMerger(mode, cfg.Merge.Saturation),
		read:      dicomtree.ReadFile,
		readImage: dicomtree.ReadImage,
	}, nil
}

// caseRun holds what every folder of one run shares
type caseRun struct {
	caseName string
	runID    string
	index    *series.Index
	plan     merge.Plan
	store    *volumestore.Store
	registry *registry.Registry
	rec      *reconstruction.Reconstructor
	logger   *slog.Logger
}

type folderResult struct {
	order   int
	summary *FolderSummary

	// seriesID and shared are set once the document decoded
	seriesID string
	shared   models.Geometry

	failures []Failure
	diags    []reconstruction.Diagnostic
}

// Run processes the selected segmentations of a case. names selects by
// folder or exported name; empty uses the catalog's own selection. The
// returned error covers only problems that prevent the whole case from
// running; everything else is reported as a Failure.
func (r *Runner) Run(ctx context.Context, cat *catalog.Catalog, names []string) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Case: cat.Case, Started: time.Now()}
	log := r.logger.With("run_id", report.RunID, "case", cat.Case)

	sel := cat.Resolve(names)
	for _, name := range sel.Invalid {
		report.Failures = append(report.Failures, Failure{
			Case: cat.Case, Segmentation: name, Stage: StageSelect,
			Err: errors.New("no segmentation folder or exported name matches"),
		})
		log.Warn("invalid segmentation name", "name", name)
	}

	entries, err := cat.Entries()
	if err != nil {
		return nil, fmt.Errorf("load series catalog: %w", err)
	}
	index, err := series.NewIndex(entries...)
	if err != nil {
		return nil, fmt.Errorf("index series: %w", err)
	}

	plan, err := cat.Plan()
	if err != nil {
		report.Failures = append(report.Failures, Failure{Case: cat.Case, Stage: StagePlan, Err: err})
		log.Error("merge plan unusable, continuing without it", "error", err)
		plan = nil
	}

	store := volumestore.New(r.cfg.CaseDir(cat.Case))
	reg, err := registry.Open(r.cfg.RegistryPath(cat.Case))
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer reg.Close()

	run := &caseRun{
		caseName: cat.Case,
		runID:    report.RunID,
		index:    index,
		plan:     plan,
		store:    store,
		registry: reg,
		rec: reconstruction.NewReconstructor(&reconstruction.Params{
			Tolerance: r.cfg.Reconstruction.PositionTolerance,
			Overwrite: r.cfg.Reconstruction.Overwrite,
		}, index, store, log),
		logger: log,
	}

	log.Info("run started", "segmentations", len(sel.Segmentations), "series", len(index.IDs()), "workers", r.cfg.Processing.Workers)
	results := r.processFolders(ctx, run, sel.Segmentations)

	for _, res := range results {
		if res.summary != nil {
			report.Folders = append(report.Folders, *res.summary)
		}
		report.Failures = append(report.Failures, res.failures...)
		report.Diagnostics = append(report.Diagnostics, res.diags...)
	}
	if r.cfg.Reconstruction.SeriesVolumes && ctx.Err() == nil {
		r.buildSeries(ctx, run, results, report)
	}
	report.Finished = time.Now()

	written, skipped, composites := report.Counts()
	log.Info("run finished",
		"written", written, "skipped", skipped, "composites", composites,
		"failures", len(report.Failures), "diagnostics", len(report.Diagnostics),
		"elapsed", report.Finished.Sub(report.Started).Round(time.Millisecond))
	return report, ctx.Err()
}

// processFolders fans the folders out to a bounded set of workers and
// returns results in selection order. Folders not yet started when ctx is
// cancelled are left out.
func (r *Runner) processFolders(ctx context.Context, run *caseRun, segs []catalog.Segmentation) []folderResult {
	type job struct {
		order int
		seg   catalog.Segmentation
	}

	workers := r.cfg.Processing.Workers
	if workers > len(segs) {
		workers = len(segs)
	}
	jobs := make(chan job)
	resultChan := make(chan folderResult)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res := r.processFolder(ctx, run, j.seg)
				res.order = j.order
				resultChan <- res
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, seg := range segs {
			select {
			case jobs <- job{order: i, seg: seg}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]folderResult, 0, len(segs))
	for res := range resultChan {
		results = append(results, res)
	}
	sort.Slice(results, func(a, b int) bool { return results[a].order < results[b].order })
	return results
}

func (r *Runner) processFolder(ctx context.Context, run *caseRun, seg catalog.Segmentation) folderResult {
	var res folderResult
	log := run.logger.With("segmentation", seg.Folder)
	fail := func(stage, object string, err error) {
		res.failures = append(res.failures, Failure{
			Case: run.caseName, Segmentation: seg.Folder, Object: object, Stage: stage, Err: err,
		})
		log.Error("stage failed", "stage", stage, "object", object, "error", err)
	}

	root, err := r.read(seg.Path)
	if err != nil {
		fail(StageRead, "", err)
		return res
	}
	doc, err := segmentation.Decode(root, seg.Meta())
	if err != nil {
		fail(StageDecode, "", err)
		return res
	}

	summary := &FolderSummary{Segmentation: seg.Folder, ExportedName: doc.ExportedName, Frames: doc.FrameCount}
	res.summary = summary
	res.seriesID, res.shared = doc.ReferencedSeriesID, doc.Geometry

	if path, err := run.store.WriteDocument(doc); err != nil {
		fail(StageDocument, "", err)
	} else {
		summary.Document = path
	}

	out, err := run.rec.Process(doc)
	if err != nil {
		fail(StageReconstruct, "", err)
		return res
	}
	summary.SeriesNumber = out.SeriesNumber
	summary.Slots = out.Slots
	res.diags = out.Diagnostics()

	frames := doc.FrameCounts()
	objects := make(map[string]*models.Volume, len(out.Objects))
	skipped := make(map[string]bool)
	for _, obj := range out.Objects {
		sum := ObjectSummary{Name: obj.Object, Artifact: obj.Artifact, Skipped: obj.Skipped, Frames: frames[obj.Object]}
		if obj.Skipped {
			vol, _, err := run.store.Read(obj.Artifact)
			if err != nil {
				fail(StageStore, obj.Object, err)
				continue
			}
			objects[obj.Object] = vol
			skipped[obj.Object] = true
			sum.VoxelCount, sum.NonZeroSlices = vol.VoxelCount(), vol.NonZeroSlices()
			summary.Objects = append(summary.Objects, sum)
			continue
		}

		def, _ := doc.Object(obj.Object)
		if stage, err := r.persist(ctx, run, out, seg.Folder, obj.Artifact, obj.Volume, def.Segment.Number, nil); err != nil {
			fail(stage, obj.Object, err)
			continue
		}
		objects[obj.Object] = obj.Volume
		sum.VoxelCount, sum.NonZeroSlices = obj.Volume.VoxelCount(), obj.Volume.NonZeroSlices()
		summary.Objects = append(summary.Objects, sum)
	}

	if err := ctx.Err(); err != nil {
		fail(StageMerge, "", err)
		return res
	}
	r.mergeObjects(ctx, run, out, seg.Folder, doc.MaxSegmentNumber(), objects, skipped, summary, fail)
	return res
}

// directives returns the plan's directives for the folder followed by the
// composites earlier runs registered and the plan no longer names. Planned
// names follow the constituents available, as merge.Apply names them.
func (r *Runner) directives(ctx context.Context, run *caseRun, folder string, objects map[string]*models.Volume) ([]merge.Directive, error) {
	ds := run.plan.For(folder)
	planned := make(map[string]bool, len(ds))
	available := func(name string) bool { return objects[name] != nil || planned[name] }
	for _, d := range ds {
		if name := d.NameFor(available); name != "" {
			planned[name] = true
		}
	}

	recs, err := run.registry.Composites(ctx, run.caseName, folder)
	if err != nil {
		return ds, err
	}
	for _, rec := range recs {
		if planned[rec.Object] || len(rec.Constituents) == 0 {
			continue
		}
		ds = append(ds, merge.Directive{OldObjects: rec.Constituents, NewObject: rec.Object})
	}
	return ds, nil
}

func (r *Runner) mergeObjects(ctx context.Context, run *caseRun, out *reconstruction.Output, folder string, maxSegment int,
	objects map[string]*models.Volume, skipped map[string]bool, summary *FolderSummary, fail func(string, string, error)) {

	ds, err := r.directives(ctx, run, folder, objects)
	if err != nil {
		fail(StageRegistry, "", err)
	}
	if len(ds) == 0 {
		return
	}

	for i, outcome := range r.merger.Apply(ds, objects, run.logger.With("segmentation", folder)) {
		if outcome.Err != nil {
			fail(StageMerge, ds[i].Name(), outcome.Err)
			continue
		}
		c := outcome.Composite
		artifact := reconstruction.ArtifactName(out.SeriesNumber, c.Name, folder)
		sum := ObjectSummary{
			Name:          c.Name,
			Artifact:      artifact,
			Composite:     true,
			Constituents:  c.Constituents,
			VoxelCount:    c.Volume.VoxelCount(),
			NonZeroSlices: c.Volume.NonZeroSlices(),
		}

		if r.compositeUpToDate(run, out, artifact, c.Constituents, skipped) {
			sum.Skipped = true
			skipped[c.Name] = true
			summary.Objects = append(summary.Objects, sum)
			continue
		}
		if stage, err := r.persist(ctx, run, out, folder, artifact, c.Volume, maxSegment, c.Constituents); err != nil {
			fail(stage, c.Name, err)
			continue
		}
		summary.Objects = append(summary.Objects, sum)
	}
}

// compositeUpToDate reports whether a composite built only from unchanged
// objects is already stored for the current series geometry
func (r *Runner) compositeUpToDate(run *caseRun, out *reconstruction.Output, artifact string, constituents []string, skipped map[string]bool) bool {
	if r.cfg.Reconstruction.Overwrite {
		return false
	}
	for _, name := range constituents {
		if !skipped[name] {
			return false
		}
	}
	slices, fp, err := run.store.Stat(artifact)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			run.logger.Warn("stored composite unreadable, regenerating", "artifact", artifact, "error", err)
		}
		return false
	}
	return slices == out.Slots && (fp == "" || fp == out.Fingerprint)
}

// persist writes a volume and records it in the registry, returning the
// failed stage with any error. Objects are recorded under segmentNumber;
// composites (non-nil constituents) are numbered by the registry above it.
func (r *Runner) persist(ctx context.Context, run *caseRun, out *reconstruction.Output, folder, artifact string, vol *models.Volume, segmentNumber int, constituents []string) (string, error) {
	h := volumestore.NewHeader(artifact, vol, out.Geometry)
	h.Segmentation = folder
	h.SeriesID = out.SeriesID
	h.SeriesNumber = out.SeriesNumber
	h.Fingerprint = out.Fingerprint
	h.Constituents = constituents
	if err := run.store.Write(vol, h); err != nil {
		return StageStore, err
	}

	rec := registry.Record{
		Case:          run.caseName,
		Segmentation:  folder,
		Object:        vol.ObjectName,
		Artifact:      artifact,
		SegmentNumber: segmentNumber,
		Composite:     constituents != nil,
		Constituents:  constituents,
		Stats:         registry.VolumeStats(vol),
		RunID:         run.runID,
	}
	if rec.Composite {
		rec.MergeMode = string(r.merger.Mode)
		rec.SegmentNumber = 0
		if _, err := run.registry.PutComposite(ctx, rec, segmentNumber); err != nil {
			return StageRegistry, err
		}
		return "", nil
	}
	if err := run.registry.Put(ctx, rec); err != nil {
		return StageRegistry, err
	}
	return "", nil
}

// buildSeries writes the base volume of every series the processed folders
// reference, once per series, placed with the first referencing folder's
// shared geometry. Series without known slice images are left out.
func (r *Runner) buildSeries(ctx context.Context, run *caseRun, results []folderResult, report *Report) {
	done := make(map[string]bool)
	for _, res := range results {
		if res.seriesID == "" || done[res.seriesID] {
			continue
		}
		done[res.seriesID] = true
		if ctx.Err() != nil {
			return
		}

		log := run.logger.With("series", res.seriesID)
		s, err := run.index.Series(res.seriesID)
		if err != nil {
			continue // already reported by the folder
		}
		if !reconstruction.HasImages(s.Entry) {
			log.Info("series lists no slice images, base volume not built")
			continue
		}

		fail := func(err error) {
			report.Failures = append(report.Failures, Failure{Case: run.caseName, Object: res.seriesID, Stage: StageSeries, Err: err})
			log.Error("stage failed", "stage", StageSeries, "error", err)
		}
		out, err := run.rec.ReconstructSeries(res.seriesID, res.shared, r.readImage)
		if err != nil {
			fail(err)
			continue
		}
		if !out.Skipped {
			h := volumestore.NewScanHeader(out.Artifact, out.Volume, out.Geometry)
			h.SeriesNumber = out.SeriesNumber
			h.Fingerprint = out.Fingerprint
			if err := run.store.WriteScan(out.Volume, h); err != nil {
				fail(err)
				continue
			}
		}
		report.Series = append(report.Series, SeriesSummary{
			SeriesID:     out.SeriesID,
			SeriesNumber: out.SeriesNumber,
			Artifact:     out.Artifact,
			Slots:        out.Slots,
			Skipped:      out.Skipped,
		})
	}
}
