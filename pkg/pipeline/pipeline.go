// Package pipeline wires ingestion, reduction or decomposition, parallel
// encoding and archival into the two invocations of the tool.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"

	"regionsplat/internal/models"
	"regionsplat/pkg/archive"
	"regionsplat/pkg/codec"
	"regionsplat/pkg/dispatch"
	"regionsplat/pkg/dtype"
	"regionsplat/pkg/imageio"
	"regionsplat/pkg/ndarray"
)

// Params holds the settings shared by both invocations.
type Params struct {
	// FS is where inputs are read and archives written.
	FS billy.Filesystem

	// Format is the codec of every archived image.
	Format codec.Format

	// FormatName is the codec as the user spelled it. It shapes entry
	// extensions; empty uses the codec's conventional extension.
	FormatName string

	// Codec tunes the encoder.
	Codec codec.Options

	// ElementType forces the stored integer type. dtype.Invalid infers it:
	// the promoted feature type for splatting, the native mask type for
	// decomposition.
	ElementType dtype.DType

	// Compute is the floating type used between normalise and unnormalise.
	Compute dtype.DType

	// Workers bounds the encode pool; zero uses one worker per CPU.
	Workers int

	// Logger receives progress; nil uses slog.Default.
	Logger *slog.Logger

	// Now stamps archive entries; nil uses time.Now.
	Now func() time.Time
}

func (p Params) withDefaults() Params {
	if p.Format == codec.Invalid {
		p.Format = codec.PNG
	}
	if p.Compute == dtype.Invalid {
		p.Compute = dtype.Float32
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return p
}

func (p Params) extension() string {
	return p.Format.ExtensionFor(p.FormatName)
}

func (p Params) reader() *imageio.Reader {
	return imageio.NewReader(p.FS, p.Compute, p.Logger)
}

// submit schedules the encoding of one array under name. prepare runs inside
// the worker before encoding.
func (p Params) submit(pool *dispatch.Pool, name string, a *ndarray.Array, prepare func(*ndarray.Array) (*ndarray.Array, error)) models.ImageTask {
	return models.ImageTask{
		Name: name,
		Result: dispatch.Submit(pool, func() ([]byte, error) {
			ready, err := prepare(a)
			if err != nil {
				return nil, err
			}
			return p.Format.Encode(ready, p.Codec)
		}),
	}
}

// collect waits for tasks in submission order.
func collect(tasks []models.ImageTask) ([]archive.Entry, error) {
	futures := make([]*dispatch.Future[[]byte], len(tasks))
	for i, t := range tasks {
		futures[i] = t.Result
	}
	payloads, err := dispatch.Collect(futures)
	if err != nil {
		return nil, err
	}
	entries := make([]archive.Entry, len(tasks))
	for i, t := range tasks {
		entries[i] = archive.Entry{Name: t.Name, Data: payloads[i]}
	}
	return entries, nil
}
