package pipeline

import (
	"fmt"

	"regionsplat/internal/models"
	"regionsplat/pkg/archive"
	"regionsplat/pkg/dispatch"
	"regionsplat/pkg/errs"
	"regionsplat/pkg/ndarray"
	"regionsplat/pkg/quantisation"
	"regionsplat/pkg/splat"
)

// Masked splats feature images through a region mask and archives one image
// per mask page, named by the page's region identifier.
type Masked struct {
	Params

	// Features are the feature files, in depth order.
	Features []string

	// Mask is the stacked mask container.
	Mask string

	// Output is the base output path; its extension becomes .tar.
	Output string

	// Rescale stretches the result over the full output range.
	Rescale bool
}

// Process runs the invocation. The archive is written only once every page
// has been encoded.
func (m *Masked) Process() error {
	p := m.Params.withDefaults()
	log := p.Logger.With("output", m.Output)
	pool := dispatch.New(p.Workers)
	r := p.reader()

	features, err := r.ReadFeatures(pool, m.Features)
	if err != nil {
		return fmt.Errorf("masked: reading features: %w", err)
	}
	log.Info("masked: features ingested", "count", len(m.Features), "image", features.String())

	mask, err := r.ReadMask(m.Mask)
	if err != nil {
		return fmt.Errorf("masked: reading mask: %w", err)
	}
	ids, err := mask.Identifiers()
	if err != nil {
		return fmt.Errorf("masked: reading identifiers: %w", err)
	}
	weights, err := mask.Normalise(p.Compute)
	if err != nil {
		return fmt.Errorf("masked: normalising mask: %w", err)
	}
	log.Info("masked: mask ingested", "path", m.Mask, "shape", mask.Native.Shape(), "regions", len(ids))

	result, err := splat.Reduce(features.Tensor, weights)
	if err != nil {
		return fmt.Errorf("masked: %w", err)
	}
	log.Info("masked: splat reduced", "shape", result.Shape(), "summary", splat.Summarise(result).String())

	if m.Rescale {
		if result, err = splat.Rescale(result); err != nil {
			return fmt.Errorf("masked: rescaling: %w", err)
		}
	}

	if n := result.Dim(0); n != len(ids) {
		return errs.Shape("masked.identifiers", "%d output pages but %d region identifiers", n, len(ids))
	}

	target := p.ElementType
	if !target.Valid() {
		target = features.Original
	}
	stem := archive.Stem(m.Output)
	ext := p.extension()

	quantise := func(page *ndarray.Array) (*ndarray.Array, error) {
		q, err := quantisation.Unnormalise(page, target)
		if err != nil {
			return nil, err
		}
		return splat.DropUnitSample(q), nil
	}
	tasks := make([]models.ImageTask, 0, len(ids))
	for i, page := range result.Unstack(0) {
		tasks = append(tasks, p.submit(pool, archive.IdentifierEntry(stem, ids[i], ext), page, quantise))
	}

	entries, err := collect(tasks)
	if err != nil {
		return fmt.Errorf("masked: encoding: %w", err)
	}
	dst := archive.Path(m.Output)
	if err := archive.Commit(p.FS, dst, entries, p.Now()); err != nil {
		return fmt.Errorf("masked: %w", err)
	}
	log.Info("masked: archive written", "path", dst, "entries", len(entries), "type", target, "format", p.Format)
	return nil
}
