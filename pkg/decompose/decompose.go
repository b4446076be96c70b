// Package decompose splits dense multi-region masks into one image per
// directory and depth layer.
package decompose

import (
	"regionsplat/internal/models"
	"regionsplat/pkg/dtype"
	"regionsplat/pkg/errs"
	"regionsplat/pkg/ndarray"
	"regionsplat/pkg/quantisation"
)

// Slice is one [width, height] layer of a mask.
type Slice struct {
	Coord  models.SliceCoordinate
	Pixels *ndarray.Array
}

// Slices extracts every layer of a [directory, depth, width, height] mask in
// directory-major order. Each slice owns a copy of its pixels.
func Slices(mask *ndarray.Array) ([]Slice, error) {
	if mask.Rank() != 4 {
		return nil, errs.Shape("decompose.slices", "mask must have rank 4, got shape %v", mask.Shape())
	}
	var out []Slice
	for d, page := range mask.Unstack(0) {
		for k, layer := range page.Unstack(0) {
			out = append(out, Slice{
				Coord:  models.SliceCoordinate{Directory: d, Depth: k},
				Pixels: layer,
			})
		}
	}
	return out, nil
}

// Convert re-quantises the slice pixels into target through compute. An
// invalid target, or one equal to the native type, leaves the pixels as they
// are.
func Convert(s Slice, target, compute dtype.DType) (*ndarray.Array, error) {
	if !target.Valid() || target == s.Pixels.DType() {
		return s.Pixels, nil
	}
	return quantisation.Convert(s.Pixels, target, compute)
}
