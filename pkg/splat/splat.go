// Package splat blends region features through per-region weighting masks.
package splat

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"regionsplat/pkg/errs"
	"regionsplat/pkg/ndarray"
	"regionsplat/pkg/quantisation"
)

// Reduce computes, for every output directory and every (width, height,
// sample) position, the sum over depth of feature times mask.
//
// feature is [directory, depth, width, height, sample]; mask is [directory,
// depth, width, height] with an optional unit sample axis and broadcasts over
// samples. Directory and depth extents must match or be 1 on one side. The
// result is [directory, width, height, sample] in the feature's type.
func Reduce(feature, mask *ndarray.Array) (*ndarray.Array, error) {
	const op = "splat.reduce"
	if !feature.DType().IsFloat() || !mask.DType().IsFloat() {
		return nil, errs.Type(op, "feature and mask must be floating, got %s and %s", feature.DType(), mask.DType())
	}
	if feature.Rank() != 5 {
		return nil, errs.Shape(op, "feature must have rank 5, got shape %v", feature.Shape())
	}
	if mask.Rank() == 5 {
		squeezed, err := mask.Squeeze(4)
		if err != nil {
			return nil, errs.Shape(op, "mask sample axis must be 1: %v", err)
		}
		mask = squeezed
	}
	if mask.Rank() != 4 {
		return nil, errs.Shape(op, "mask must have rank 4, got shape %v", mask.Shape())
	}

	fs, ms := feature.Shape(), mask.Shape()
	dirs, err := broadcast("directory", fs[0], ms[0])
	if err != nil {
		return nil, err
	}
	depth, err := broadcast("depth", fs[1], ms[1])
	if err != nil {
		return nil, err
	}
	if fs[2] != ms[2] || fs[3] != ms[3] {
		return nil, errs.Shape(op, "feature extent %dx%d does not match mask extent %dx%d", fs[2], fs[3], ms[2], ms[3])
	}

	w, h, s := fs[2], fs[3], fs[4]
	plane := w * h
	out := ndarray.New(feature.DType(), dirs, w, h, s)
	acc := make([]float64, plane*s)
	for i := range dirs {
		clear(acc)
		fi, mi := pick(i, fs[0]), pick(i, ms[0])
		for j := range depth {
			fj, mj := pick(j, fs[1]), pick(j, ms[1])
			fbase := (fi*fs[1] + fj) * plane * s
			mbase := (mi*ms[1] + mj) * plane
			for p := range plane {
				m := mask.At(mbase + p)
				for c := range s {
					acc[p*s+c] += feature.At(fbase+p*s+c) * m
				}
			}
		}
		base := i * plane * s
		for p, v := range acc {
			out.Set(base+p, v)
		}
	}
	return out, nil
}

func broadcast(axis string, a, b int) (int, error) {
	switch {
	case a == b:
		return a, nil
	case a == 1:
		return b, nil
	case b == 1:
		return a, nil
	}
	return 0, errs.Shape("splat.reduce", "%s extents %d and %d cannot be broadcast", axis, a, b)
}

func pick(i, extent int) int {
	if extent == 1 {
		return 0
	}
	return i
}

// Rescale stretches result in place so that its own minimum maps to 0 and
// its maximum to 1.
func Rescale(result *ndarray.Array) (*ndarray.Array, error) {
	vs := result.Floats()
	if len(vs) == 0 {
		return result, nil
	}
	return quantisation.Scale(result, floats.Max(vs), floats.Min(vs), true)
}

// Summary describes the value distribution of a result.
type Summary struct {
	Min, Max, Mean, StdDev float64
}

func (s Summary) String() string {
	return fmt.Sprintf("min=%.6g max=%.6g mean=%.6g stddev=%.6g", s.Min, s.Max, s.Mean, s.StdDev)
}

// Summarise computes the summary of every element of a.
func Summarise(a *ndarray.Array) Summary {
	vs := a.Floats()
	if len(vs) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(vs, nil)
	if len(vs) == 1 {
		std = 0
	}
	return Summary{Min: floats.Min(vs), Max: floats.Max(vs), Mean: mean, StdDev: std}
}

// DropUnitSample removes a trailing sample axis of size 1, leaving other
// arrays untouched.
func DropUnitSample(a *ndarray.Array) *ndarray.Array {
	if a.Rank() == 0 || a.Dim(a.Rank()-1) != 1 {
		return a
	}
	squeezed, err := a.Squeeze(-1)
	if err != nil {
		return a
	}
	return squeezed
}
