// Package quantisation maps pixel values between the native range of an
// integer element type, [T_MIN, T_MAX], and the unit interval [0.0, 1.0] used
// for floating point processing.
//
// Arithmetic runs at the precision of the floating array involved, so a
// float32 array is rounded to float32 after every step.
package quantisation

import (
	"math"

	"regionsplat/pkg/dtype"
	"regionsplat/pkg/errs"
	"regionsplat/pkg/ndarray"
)

// Scale maps [lower, upper] of a floating array onto [0, 1] by subtracting
// lower and dividing by (upper - lower). It mutates a when inplace is set,
// otherwise a copy is scaled.
func Scale(a *ndarray.Array, upper, lower float64, inplace bool) (*ndarray.Array, error) {
	dt := a.DType()
	if !dt.IsFloat() {
		return nil, errs.Type("quantisation.scale", "only an array of floats can be scaled, got %s", dt)
	}
	span := dt.Round(upper - lower)
	if span == 0 {
		return nil, errs.Value("quantisation.scale", "degenerate range: upper and lower are both %v", upper)
	}

	out := a
	if !inplace {
		out = a.Clone()
	}
	lo := dt.Round(lower)
	for i := range out.Len() {
		v := dt.Round(out.At(i) - lo)
		out.Set(i, v/span)
	}
	return out, nil
}

// Normalise converts an integer array to the floating type target, mapping
// the full range of its element type onto [0, 1].
func Normalise(a *ndarray.Array, target dtype.DType) (*ndarray.Array, error) {
	src := a.DType()
	if !src.IsInteger() {
		return nil, errs.Type("quantisation.normalise", "only an array of integers can be normalised, got %s", src)
	}
	if !target.IsFloat() {
		return nil, errs.Type("quantisation.normalise", "normalised target must be floating, got %s", target)
	}
	lo, hi := src.Limits()
	return Scale(a.Astype(target), hi, lo, true)
}

// Unnormalise converts a floating array in [0, 1] to the integer type target,
// rounding half to even before the cast. Values outside the unit interval
// saturate at the range of target.
func Unnormalise(a *ndarray.Array, target dtype.DType) (*ndarray.Array, error) {
	if !target.IsInteger() {
		return nil, errs.Type("quantisation.unnormalise", "only integer targets can be unnormalised to, got %s", target)
	}
	src := a.DType()
	if !src.IsFloat() {
		return nil, errs.Type("quantisation.unnormalise", "only an array of floats can be unnormalised, got %s", src)
	}

	lo, hi := target.Limits()
	span := src.Round(hi - lo)
	offset := src.Round(lo)
	out := ndarray.New(target, a.Shape()...)
	for i := range a.Len() {
		v := src.Round(a.At(i) * span)
		v = src.Round(v + offset)
		out.Set(i, math.RoundToEven(v))
	}
	return out, nil
}

// Convert remaps an integer array to another integer type through the
// floating intermediate compute.
func Convert(a *ndarray.Array, target, compute dtype.DType) (*ndarray.Array, error) {
	n, err := Normalise(a, compute)
	if err != nil {
		return nil, err
	}
	return Unnormalise(n, target)
}
