// Package ndarray provides a dtype-tagged, C-ordered N-dimensional array
// stored as little-endian bytes, with the handful of structural operations the
// image pipelines need: concatenation, axis swaps, squeezing and unstacking.
package ndarray

import (
	"encoding/binary"
	"fmt"
	"math"

	"regionsplat/pkg/dtype"
)

// Array is an N-dimensional array of a single element type.
type Array struct {
	dt    dtype.DType
	shape []int
	data  []byte
}

// New allocates a zero-filled array.
func New(dt dtype.DType, shape ...int) *Array {
	return &Array{
		dt:    dt,
		shape: append([]int(nil), shape...),
		data:  make([]byte, volume(shape)*dt.Size()),
	}
}

// FromBytes wraps little-endian element data without copying.
func FromBytes(dt dtype.DType, data []byte, shape ...int) (*Array, error) {
	if !dt.Valid() {
		return nil, fmt.Errorf("invalid element type")
	}
	if want := volume(shape) * dt.Size(); len(data) != want {
		return nil, fmt.Errorf("%d bytes cannot hold %v of %s (need %d)", len(data), shape, dt, want)
	}
	return &Array{dt: dt, shape: append([]int(nil), shape...), data: data}, nil
}

// FromFloats builds an array of type dt holding vs, converted as by Set.
func FromFloats(dt dtype.DType, vs []float64, shape ...int) (*Array, error) {
	if volume(shape) != len(vs) {
		return nil, fmt.Errorf("%d values cannot fill shape %v", len(vs), shape)
	}
	a := New(dt, shape...)
	for i, v := range vs {
		a.Set(i, v)
	}
	return a, nil
}

func volume(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func (a *Array) DType() dtype.DType { return a.dt }

// Shape returns a copy of the extents.
func (a *Array) Shape() []int { return append([]int(nil), a.shape...) }

// Dim returns the extent of one axis.
func (a *Array) Dim(axis int) int { return a.shape[axis] }

func (a *Array) Rank() int { return len(a.shape) }

// Len is the number of elements.
func (a *Array) Len() int { return volume(a.shape) }

// Bytes exposes the little-endian backing store.
func (a *Array) Bytes() []byte { return a.data }

// Strides returns the element stride of every axis.
func (a *Array) Strides() []int {
	st := make([]int, len(a.shape))
	n := 1
	for i := len(a.shape) - 1; i >= 0; i-- {
		st[i] = n
		n *= a.shape[i]
	}
	return st
}

// Offset converts a multi-index into a flat element index.
func (a *Array) Offset(idx ...int) int {
	off := 0
	for i, x := range idx {
		off = off*a.shape[i] + x
	}
	return off
}

// At returns element i (flat index) as a float64.
func (a *Array) At(i int) float64 {
	b := a.data[i*a.dt.Size():]
	switch a.dt {
	case dtype.Uint8:
		return float64(b[0])
	case dtype.Uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case dtype.Uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case dtype.Uint64:
		return float64(binary.LittleEndian.Uint64(b))
	case dtype.Int8:
		return float64(int8(b[0]))
	case dtype.Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case dtype.Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case dtype.Int64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case dtype.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case dtype.Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	panic("ndarray: invalid element type")
}

// Uint returns element i of an integer array without a float64 round trip.
func (a *Array) Uint(i int) uint64 {
	b := a.data[i*a.dt.Size():]
	switch a.dt.Size() {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// Set stores v at flat index i. Integer targets truncate toward zero and
// saturate at the type's range; NaN stores zero.
func (a *Array) Set(i int, v float64) {
	b := a.data[i*a.dt.Size():]
	if a.dt.IsInteger() {
		if math.IsNaN(v) {
			v = 0
		}
		lo, hi := a.dt.Limits()
		v = math.Trunc(math.Max(lo, math.Min(hi, v)))
	}
	switch a.dt {
	case dtype.Uint8:
		b[0] = uint8(v)
	case dtype.Uint16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case dtype.Uint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case dtype.Uint64:
		if v >= math.MaxUint64 {
			binary.LittleEndian.PutUint64(b, math.MaxUint64)
		} else {
			binary.LittleEndian.PutUint64(b, uint64(v))
		}
	case dtype.Int8:
		b[0] = uint8(int8(v))
	case dtype.Int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case dtype.Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case dtype.Int64:
		if v >= math.MaxInt64 {
			binary.LittleEndian.PutUint64(b, math.MaxInt64)
		} else {
			binary.LittleEndian.PutUint64(b, uint64(int64(v)))
		}
	case dtype.Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case dtype.Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	default:
		panic("ndarray: invalid element type")
	}
}

// Floats decodes every element into a new float64 slice.
func (a *Array) Floats() []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.At(i)
	}
	return out
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	return &Array{dt: a.dt, shape: a.Shape(), data: append([]byte(nil), a.data...)}
}

// Astype converts every element to dt, always returning a new array.
func (a *Array) Astype(dt dtype.DType) *Array {
	if dt == a.dt {
		return a.Clone()
	}
	out := New(dt, a.shape...)
	for i := range a.Len() {
		out.Set(i, a.At(i))
	}
	return out
}

// Reshape returns a view with a new shape over the same data.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	if volume(shape) != a.Len() {
		return nil, fmt.Errorf("cannot reshape %v into %v", a.shape, shape)
	}
	return &Array{dt: a.dt, shape: append([]int(nil), shape...), data: a.data}, nil
}

// ExpandDims inserts a unit axis before position axis. Negative positions
// count from the end, -1 appending.
func (a *Array) ExpandDims(axis int) *Array {
	if axis < 0 {
		axis += len(a.shape) + 1
	}
	shape := make([]int, 0, len(a.shape)+1)
	shape = append(shape, a.shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, a.shape[axis:]...)
	return &Array{dt: a.dt, shape: shape, data: a.data}
}

// Squeeze removes a unit axis.
func (a *Array) Squeeze(axis int) (*Array, error) {
	if axis < 0 {
		axis += len(a.shape)
	}
	if axis < 0 || axis >= len(a.shape) || a.shape[axis] != 1 {
		return nil, fmt.Errorf("cannot squeeze axis %d of shape %v", axis, a.shape)
	}
	shape := append(append([]int(nil), a.shape[:axis]...), a.shape[axis+1:]...)
	return &Array{dt: a.dt, shape: shape, data: a.data}, nil
}

// SwapAxes returns a copy with axes i and j exchanged.
func (a *Array) SwapAxes(i, j int) *Array {
	perm := make([]int, len(a.shape))
	for k := range perm {
		perm[k] = k
	}
	perm[i], perm[j] = perm[j], perm[i]
	return a.Transpose(perm...)
}

// Transpose returns a copy whose axis k is axis perm[k] of a.
func (a *Array) Transpose(perm ...int) *Array {
	shape := make([]int, len(perm))
	for k, p := range perm {
		shape[k] = a.shape[p]
	}
	out := New(a.dt, shape...)
	src := a.Strides()
	size := a.dt.Size()
	idx := make([]int, len(shape))
	for n := range out.Len() {
		off := 0
		for k, x := range idx {
			off += x * src[perm[k]]
		}
		copy(out.data[n*size:(n+1)*size], a.data[off*size:(off+1)*size])
		for k := len(idx) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < shape[k] {
				break
			}
			idx[k] = 0
		}
	}
	return out
}

// Concatenate joins arrays of the same type and rank along axis.
func Concatenate(axis int, arrays ...*Array) (*Array, error) {
	if len(arrays) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}
	first := arrays[0]
	shape := first.Shape()
	for _, b := range arrays[1:] {
		if b.dt != first.dt {
			return nil, fmt.Errorf("cannot concatenate %s with %s", first.dt, b.dt)
		}
		if b.Rank() != first.Rank() {
			return nil, fmt.Errorf("cannot concatenate rank %d with rank %d", first.Rank(), b.Rank())
		}
		for k := range shape {
			if k != axis && b.shape[k] != shape[k] {
				return nil, fmt.Errorf("shape %v does not match %v off axis %d", b.shape, first.shape, axis)
			}
		}
		shape[axis] += b.shape[axis]
	}
	out := New(first.dt, shape...)
	outer := volume(shape[:axis])
	pos := 0
	for o := range outer {
		for _, b := range arrays {
			chunk := volume(b.shape[axis:]) * b.dt.Size()
			pos += copy(out.data[pos:], b.data[o*chunk:(o+1)*chunk])
		}
	}
	return out, nil
}

// Unstack splits a along axis into arrays with that axis removed.
func (a *Array) Unstack(axis int) []*Array {
	n := a.shape[axis]
	shape := append(append([]int(nil), a.shape[:axis]...), a.shape[axis+1:]...)
	outer := volume(a.shape[:axis])
	inner := volume(a.shape[axis+1:]) * a.dt.Size()
	parts := make([]*Array, n)
	for k := range parts {
		p := New(a.dt, shape...)
		for o := range outer {
			src := (o*n + k) * inner
			copy(p.data[o*inner:(o+1)*inner], a.data[src:src+inner])
		}
		parts[k] = p
	}
	return parts
}
