package batch

import (
	"context"
	"fmt"
	"time"

	"seg2vol/internal/models"
	"seg2vol/pkg/merge"
	"seg2vol/pkg/reconstruction"
	"seg2vol/pkg/registry"
	"seg2vol/pkg/volumestore"
)

// MergeStored applies one directive to volumes a previous run stored for a
// segmentation folder, writes the composite and registers it. Later runs
// re-merge the composite like any registered one.
func (r *Runner) MergeStored(ctx context.Context, caseName, folder string, d merge.Directive) (*ObjectSummary, error) {
	store := volumestore.New(r.cfg.CaseDir(caseName))
	names, err := store.List()
	if err != nil {
		return nil, fmt.Errorf("list stored volumes: %w", err)
	}

	objects := make(map[string]*models.Volume)
	headers := make(map[string]volumestore.Header)
	for _, artifact := range names {
		h, err := store.ReadHeader(artifact)
		if err != nil {
			return nil, err
		}
		if h.Segmentation != folder {
			continue
		}
		for _, want := range d.OldObjects {
			if h.Object != want {
				continue
			}
			vol, _, err := store.Read(artifact)
			if err != nil {
				return nil, err
			}
			objects[h.Object] = vol
			headers[h.Object] = h
		}
	}

	outcome := r.merger.Apply([]merge.Directive{d}, objects, r.logger.With("case", caseName, "segmentation", folder))[0]
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	c := outcome.Composite

	base := headers[c.Constituents[0]]
	h := base
	h.Object = c.Name
	h.Artifact = reconstruction.ArtifactName(base.SeriesNumber, c.Name, folder)
	h.Constituents = c.Constituents
	h.WrittenAt = time.Time{}
	if err := store.Write(c.Volume, h); err != nil {
		return nil, err
	}

	reg, err := registry.Open(r.cfg.RegistryPath(caseName))
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer reg.Close()
	if _, err := reg.PutComposite(ctx, registry.Record{
		Case:         caseName,
		Segmentation: folder,
		Object:       c.Name,
		Artifact:     h.Artifact,
		Constituents: c.Constituents,
		MergeMode:    string(r.merger.Mode),
		Stats:        registry.VolumeStats(c.Volume),
	}, 0); err != nil {
		return nil, err
	}

	return &ObjectSummary{
		Name:          c.Name,
		Artifact:      h.Artifact,
		Composite:     true,
		Constituents:  c.Constituents,
		VoxelCount:    c.Volume.VoxelCount(),
		NonZeroSlices: c.Volume.NonZeroSlices(),
	}, nil
}
