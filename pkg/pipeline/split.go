package pipeline

import (
	"fmt"
	"path/filepath"

	"regionsplat/internal/models"
	"regionsplat/pkg/archive"
	"regionsplat/pkg/decompose"
	"regionsplat/pkg/dispatch"
	"regionsplat/pkg/imageio"
	"regionsplat/pkg/ndarray"
)

// Split decomposes masks into one image per directory and depth layer and
// archives each mask's layers in <OutputDir>/<stem>.tar.
type Split struct {
	Params

	// Masks are the stacked mask containers.
	Masks []string

	// OutputDir receives the archives; empty means the working directory.
	OutputDir string
}

type splitJob struct {
	mask  *imageio.Mask
	dst   string
	tasks []models.ImageTask
}

// Process runs the invocation. Every layer of every mask is submitted before
// any archive is committed; archives are then written in input order.
func (s *Split) Process() error {
	p := s.Params.withDefaults()
	pool := dispatch.New(p.Workers)
	r := p.reader()

	masks, err := dispatch.Map(pool, s.Masks, r.ReadMask)
	if err != nil {
		return fmt.Errorf("split: reading masks: %w", err)
	}

	ext := p.extension()
	jobs := make([]splitJob, len(masks))
	for i, m := range masks {
		slices, err := decompose.Slices(m.Native)
		if err != nil {
			return fmt.Errorf("split: %s: %w", m.Path, err)
		}
		stem := archive.Stem(m.Path)
		job := splitJob{mask: m, dst: filepath.Join(s.OutputDir, stem+archive.Extension)}
		for _, sl := range slices {
			convert := func(*ndarray.Array) (*ndarray.Array, error) {
				return decompose.Convert(sl, p.ElementType, p.Compute)
			}
			job.tasks = append(job.tasks, p.submit(pool, archive.CoordinateEntry(stem, sl.Coord, ext), sl.Pixels, convert))
		}
		p.Logger.Info("split: layers submitted", "path", m.Path, "shape", m.Native.Shape(), "layers", len(slices))
		jobs[i] = job
	}

	for _, job := range jobs {
		entries, err := collect(job.tasks)
		if err != nil {
			return fmt.Errorf("split: %s: encoding: %w", job.mask.Path, err)
		}
		if err := archive.Commit(p.FS, job.dst, entries, p.Now()); err != nil {
			return fmt.Errorf("split: %w", err)
		}
		p.Logger.Info("split: archive written", "path", job.dst, "entries", len(entries), "format", p.Format)
	}
	return nil
}
