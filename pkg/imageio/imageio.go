// Package imageio ingests feature images and splatting masks into the
// canonical five-axis tensor [directory, depth, width, height, sample].
//
// A stacked (TIFF) container contributes one directory entry per page and its
// volumetric depth; a single-frame image gets unit directory and depth axes.
// Pixel values are normalised to a floating compute type and the element type
// found on disk is kept alongside so that outputs can be quantised back.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"log/slog"

	// Single-frame codecs understood by Read.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"

	"regionsplat/pkg/dispatch"
	"regionsplat/pkg/dtype"
	"regionsplat/pkg/errs"
	"regionsplat/pkg/ndarray"
	"regionsplat/pkg/quantisation"
	"regionsplat/pkg/tiff"
)

// Canonical axes of an ingested tensor.
const (
	AxisDirectory = iota
	AxisDepth
	AxisWidth
	AxisHeight
	AxisSample
)

// Image is an ingested tensor and the element type it had on disk.
type Image struct {
	Tensor   *ndarray.Array
	Original dtype.DType
}

// Reader loads images from a filesystem.
type Reader struct {
	fs      billy.Filesystem
	compute dtype.DType
	logger  *slog.Logger
}

// NewReader returns a Reader that normalises into compute, which must be a
// floating type.
func NewReader(fs billy.Filesystem, compute dtype.DType, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{fs: fs, compute: compute, logger: logger}
}

// Compute is the floating type tensors are normalised into.
func (r *Reader) Compute() dtype.DType { return r.compute }

func (r *Reader) load(path string) ([]byte, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, errs.Resource("imageio.open", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errs.Resource("imageio.read", path, err)
	}
	return data, nil
}

func isStack(data []byte) bool {
	return mimetype.Detect(data).Is("image/tiff") || tiff.IsTIFF(data)
}

// Read ingests one file, stacked or single-frame.
func (r *Reader) Read(path string) (*Image, error) {
	data, err := r.load(path)
	if err != nil {
		return nil, err
	}
	var native *ndarray.Array
	if isStack(data) {
		f, err := tiff.Decode(data)
		if err != nil {
			return nil, errs.Resource("imageio.decode", path, err)
		}
		if native, err = stack(f); err != nil {
			return nil, withPath(err, path)
		}
	} else {
		img, format, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, errs.Resource("imageio.decode", path, err)
		}
		r.logger.Debug("imageio: decoded single frame", "path", path, "format", format)
		if native, err = Canonicalise(Pixels(img)); err != nil {
			return nil, withPath(err, path)
		}
	}

	tensor, err := quantisation.Normalise(native, r.compute)
	if err != nil {
		return nil, withPath(err, path)
	}
	r.logger.Debug("imageio: ingested", "path", path, "shape", tensor.Shape(), "original", native.DType())
	return &Image{Tensor: tensor, Original: native.DType()}, nil
}

func withPath(err error, path string) error {
	if e, ok := err.(*errs.Error); ok && e.Path == "" {
		c := *e
		c.Path = path
		return &c
	}
	return err
}

// stack concatenates every page of f, each as [1, depth, width, height,
// sample], along the directory axis.
func stack(f *tiff.File) (*ndarray.Array, error) {
	pages := make([]*ndarray.Array, len(f.Pages))
	for i, p := range f.Pages {
		pages[i] = p.Pixels().SwapAxes(1, 2).ExpandDims(0)
	}
	out, err := ndarray.Concatenate(AxisDirectory, pages...)
	if err != nil {
		return nil, errs.Shape("imageio.stack", "pages cannot be stacked: %v", err)
	}
	return out, nil
}

// Canonicalise turns a single-frame pixel array of shape [width, height] or
// [width, height, sample] into the five-axis form. Any other rank is
// rejected: only stacked containers may carry volumetric data.
func Canonicalise(a *ndarray.Array) (*ndarray.Array, error) {
	switch a.Rank() {
	case 2:
		a = a.ExpandDims(-1)
	case 3:
	default:
		return nil, errs.Shape("imageio.canonicalise",
			"a single-frame image must have rank 2 or 3, got %d; volumetric data needs a stacked container", a.Rank())
	}
	return a.ExpandDims(0).ExpandDims(0), nil
}

// ReadFeatures ingests independent feature files on pool, joins them along
// the directory axis in the order given and swaps directory with depth so
// that every feature page becomes one depth layer. The original type of the
// batch is the promotion of every file's type.
func (r *Reader) ReadFeatures(pool *dispatch.Pool, paths []string) (*Image, error) {
	if len(paths) == 0 {
		return nil, errs.Value("imageio.features", "no feature given")
	}
	images, err := dispatch.Map(pool, paths, r.Read)
	if err != nil {
		return nil, err
	}
	tensors := make([]*ndarray.Array, len(images))
	originals := make([]dtype.DType, len(images))
	for i, img := range images {
		tensors[i] = img.Tensor
		originals[i] = img.Original
	}
	joined, err := ndarray.Concatenate(AxisDirectory, tensors...)
	if err != nil {
		return nil, errs.Shape("imageio.features", "features cannot be joined: %v", err)
	}
	return &Image{
		Tensor:   joined.SwapAxes(AxisDirectory, AxisDepth),
		Original: dtype.PromoteAll(originals...),
	}, nil
}

// String describes an image for logs.
func (img *Image) String() string {
	return fmt.Sprintf("%v %s (from %s)", img.Tensor.Shape(), img.Tensor.DType(), img.Original)
}
