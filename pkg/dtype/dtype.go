// Package dtype defines the closed set of pixel element types handled by the
// toolkit, together with their representable ranges and promotion rules.
package dtype

import (
	"fmt"
	"math"
	"strings"
)

// DType identifies an element type.
type DType uint8

const (
	Invalid DType = iota
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
)

// Category groups element types by representation.
type Category uint8

const (
	Unsigned Category = iota + 1
	Signed
	Floating
)

type info struct {
	name     string
	size     int
	category Category
	min, max float64
}

// Ranges of the 64-bit integers are the nearest float64 values.
var table = [...]info{
	Invalid: {name: "invalid"},
	Uint8:   {"uint8", 1, Unsigned, 0, math.MaxUint8},
	Uint16:  {"uint16", 2, Unsigned, 0, math.MaxUint16},
	Uint32:  {"uint32", 4, Unsigned, 0, math.MaxUint32},
	Uint64:  {"uint64", 8, Unsigned, 0, math.MaxUint64},
	Int8:    {"int8", 1, Signed, math.MinInt8, math.MaxInt8},
	Int16:   {"int16", 2, Signed, math.MinInt16, math.MaxInt16},
	Int32:   {"int32", 4, Signed, math.MinInt32, math.MaxInt32},
	Int64:   {"int64", 8, Signed, math.MinInt64, math.MaxInt64},
	Float32: {"float32", 4, Floating, -math.MaxFloat32, math.MaxFloat32},
	Float64: {"float64", 8, Floating, -math.MaxFloat64, math.MaxFloat64},
}

// All lists every valid element type.
var All = []DType{Uint8, Uint16, Uint32, Uint64, Int8, Int16, Int32, Int64, Float32, Float64}

func (d DType) info() info {
	if int(d) >= len(table) {
		return table[Invalid]
	}
	return table[d]
}

func (d DType) String() string { return d.info().name }

// Valid reports whether d is one of the defined element types.
func (d DType) Valid() bool { return d != Invalid && int(d) < len(table) }

// Size is the width of one element in bytes.
func (d DType) Size() int { return d.info().size }

// Bits is the width of one element in bits.
func (d DType) Bits() int { return d.info().size * 8 }

func (d DType) Category() Category { return d.info().category }

// IsInteger reports whether d is a signed or unsigned integer type.
func (d DType) IsInteger() bool {
	c := d.Category()
	return c == Unsigned || c == Signed
}

func (d DType) IsUnsigned() bool { return d.Category() == Unsigned }

func (d DType) IsFloat() bool { return d.Category() == Floating }

// Limits returns the representable minimum and maximum of d.
func (d DType) Limits() (lo, hi float64) {
	i := d.info()
	return i.min, i.max
}

// Round returns v at the precision of a float element type. Other types return
// v unchanged.
func (d DType) Round(v float64) float64 {
	if d == Float32 {
		return float64(float32(v))
	}
	return v
}

var aliases = map[string]DType{
	"u1": Uint8, "u2": Uint16, "u4": Uint32, "u8": Uint64,
	"i1": Int8, "i2": Int16, "i4": Int32, "i8": Int64,
	"f4": Float32, "f8": Float64,
	"uint8": Uint8, "uint16": Uint16, "uint32": Uint32, "uint64": Uint64,
	"int8": Int8, "int16": Int16, "int32": Int32, "int64": Int64,
	"float32": Float32, "float64": Float64,
	"single": Float32, "double": Float64,
}

// Parse resolves an element type name. Both spelled out names ("uint16") and
// short codes ("u2", "<u2") are accepted.
func Parse(name string) (DType, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimLeft(n, "<>=|")
	if d, ok := aliases[n]; ok {
		return d, nil
	}
	return Invalid, fmt.Errorf("unknown element type %q", name)
}

// Promote returns the narrowest type that can represent every value of both a
// and b.
func Promote(a, b DType) DType {
	if a == b {
		return a
	}
	ca, cb := a.Category(), b.Category()
	switch {
	case ca == cb:
		if a.Size() >= b.Size() {
			return a
		}
		return b
	case ca == Floating || cb == Floating:
		f, i := a, b
		if cb == Floating {
			f, i = b, a
		}
		if i.Size() <= 2 || f == Float64 {
			return f
		}
		return Float64
	default:
		u, s := a, b
		if ca == Signed {
			u, s = b, a
		}
		if s.Size() > u.Size() {
			return s
		}
		switch u.Size() {
		case 1:
			return Int16
		case 2:
			return Int32
		case 4:
			return Int64
		}
		return Float64
	}
}

// PromoteAll folds Promote over ds. It returns Invalid for an empty list.
func PromoteAll(ds ...DType) DType {
	if len(ds) == 0 {
		return Invalid
	}
	out := ds[0]
	for _, d := range ds[1:] {
		out = Promote(out, d)
	}
	return out
}
