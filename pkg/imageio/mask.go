package imageio

import (
	"errors"
	"fmt"

	"regionsplat/pkg/dtype"
	"regionsplat/pkg/errs"
	"regionsplat/pkg/ndarray"
	"regionsplat/pkg/quantisation"
	"regionsplat/pkg/tiff"
)

// IdentifierTag is the private tag under which the region splatter stores each
// mask page's identifier.
const IdentifierTag uint16 = 29716

// Mask is a dense splatting mask in its native unsigned element type.
type Mask struct {
	Path string
	// Native is [directory, depth, width, height].
	Native *ndarray.Array
	pages  []*tiff.Page
}

// ReadMask ingests a stacked mask container. The container must hold a
// single-channel unsigned integer image on every page.
func (r *Reader) ReadMask(path string) (*Mask, error) {
	data, err := r.load(path)
	if err != nil {
		return nil, err
	}
	if !isStack(data) {
		return nil, errs.Resource("imageio.mask", path, errNotStacked)
	}
	f, err := tiff.Decode(data)
	if err != nil {
		return nil, errs.Resource("imageio.mask", path, err)
	}
	native, err := stack(f)
	if err != nil {
		return nil, withPath(err, path)
	}
	if dt := native.DType(); !dt.IsUnsigned() {
		err := errs.Type("imageio.mask", "mask element type must be unsigned, got %s", dt)
		return nil, withPath(err, path)
	}
	if s := native.Dim(AxisSample); s != 1 {
		err := errs.Shape("imageio.mask", "mask must have one sample per pixel, got %d", s)
		return nil, withPath(err, path)
	}
	squeezed, err := native.Squeeze(AxisSample)
	if err != nil {
		return nil, errs.Shape("imageio.mask", "%v", err)
	}
	r.logger.Debug("imageio: mask ingested", "path", path, "shape", squeezed.Shape(), "type", squeezed.DType())
	return &Mask{Path: path, Native: squeezed, pages: f.Pages}, nil
}

var errNotStacked = errors.New("not a stacked container")

// DType is the native element type of the mask.
func (m *Mask) DType() dtype.DType { return m.Native.DType() }

// Directories is the number of mask pages.
func (m *Mask) Directories() int { return m.Native.Dim(AxisDirectory) }

// Depth is the number of regions per page.
func (m *Mask) Depth() int { return m.Native.Dim(AxisDepth) }

// Identifiers returns one region identifier per page, in page order.
// Byte-typed values are read as big-endian integers.
func (m *Mask) Identifiers() ([]uint64, error) {
	ids := make([]uint64, len(m.pages))
	for i, p := range m.pages {
		f, ok := p.Field(IdentifierTag)
		if !ok {
			return nil, errs.Resource("imageio.identifiers", m.Path,
				fmt.Errorf("page %d carries no identifier tag %d", i, IdentifierTag))
		}
		var (
			v   uint64
			err error
		)
		if f.Type.Size() == 1 && f.Type != tiff.TypeASCII {
			v, err = f.BigEndian()
		} else {
			v, err = f.Uint()
		}
		if err != nil {
			return nil, errs.Resource("imageio.identifiers", m.Path, err)
		}
		ids[i] = v
	}
	return ids, nil
}

// Normalise returns the mask weights as [directory, depth, width, height] in
// the floating type compute.
func (m *Mask) Normalise(compute dtype.DType) (*ndarray.Array, error) {
	out, err := quantisation.Normalise(m.Native, compute)
	if err != nil {
		return nil, withPath(err, m.Path)
	}
	return out, nil
}
