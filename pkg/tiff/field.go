package tiff

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Baseline and extension tags read or written by this package.
const (
	TagNewSubfileType  uint16 = 254
	TagImageWidth      uint16 = 256
	TagImageLength     uint16 = 257
	TagBitsPerSample   uint16 = 258
	TagCompression     uint16 = 259
	TagPhotometric     uint16 = 262
	TagDescription     uint16 = 270
	TagStripOffsets    uint16 = 273
	TagSamplesPerPixel uint16 = 277
	TagRowsPerStrip    uint16 = 278
	TagStripByteCounts uint16 = 279
	TagPlanarConfig    uint16 = 284
	TagSoftware        uint16 = 305
	TagPredictor       uint16 = 317
	TagTileWidth       uint16 = 322
	TagTileLength      uint16 = 323
	TagTileOffsets     uint16 = 324
	TagTileByteCounts  uint16 = 325
	TagExtraSamples    uint16 = 338
	TagSampleFormat    uint16 = 339
	TagImageDepth      uint16 = 32997
	TagTileDepth       uint16 = 32998
)

// FieldType is the TIFF type code of a field value.
type FieldType uint16

const (
	TypeByte      FieldType = 1
	TypeASCII     FieldType = 2
	TypeShort     FieldType = 3
	TypeLong      FieldType = 4
	TypeRational  FieldType = 5
	TypeSByte     FieldType = 6
	TypeUndefined FieldType = 7
	TypeSShort    FieldType = 8
	TypeSLong     FieldType = 9
	TypeSRational FieldType = 10
	TypeFloat     FieldType = 11
	TypeDouble    FieldType = 12
	TypeLong8     FieldType = 16
)

// Size is the width in bytes of one value of t, zero if t is unknown.
func (t FieldType) Size() int {
	switch t {
	case TypeByte, TypeASCII, TypeSByte, TypeUndefined:
		return 1
	case TypeShort, TypeSShort:
		return 2
	case TypeLong, TypeSLong, TypeFloat:
		return 4
	case TypeRational, TypeSRational, TypeDouble, TypeLong8:
		return 8
	}
	return 0
}

// Field is one directory entry. Data holds the raw value bytes in the byte
// order of the file the field came from.
type Field struct {
	Tag   uint16
	Type  FieldType
	Count uint32
	Data  []byte
	order binary.ByteOrder
}

func (f Field) byteOrder() binary.ByteOrder {
	if f.order == nil {
		return binary.LittleEndian
	}
	return f.order
}

// Uints decodes an integer-typed field.
func (f Field) Uints() ([]uint64, error) {
	o := f.byteOrder()
	n := int(f.Count)
	out := make([]uint64, n)
	switch f.Type {
	case TypeByte, TypeUndefined:
		for i := range n {
			out[i] = uint64(f.Data[i])
		}
	case TypeShort:
		for i := range n {
			out[i] = uint64(o.Uint16(f.Data[2*i:]))
		}
	case TypeLong:
		for i := range n {
			out[i] = uint64(o.Uint32(f.Data[4*i:]))
		}
	case TypeLong8:
		for i := range n {
			out[i] = o.Uint64(f.Data[8*i:])
		}
	default:
		return nil, fmt.Errorf("tag %d: type %d is not an unsigned integer", f.Tag, f.Type)
	}
	return out, nil
}

// Uint decodes the first value of an integer-typed field.
func (f Field) Uint() (uint64, error) {
	vs, err := f.Uints()
	if err != nil {
		return 0, err
	}
	if len(vs) == 0 {
		return 0, fmt.Errorf("tag %d: no value", f.Tag)
	}
	return vs[0], nil
}

// BigEndian interprets the raw bytes of a byte or undefined field as one
// big-endian unsigned integer, which is how opaque identifiers are stored.
func (f Field) BigEndian() (uint64, error) {
	if f.Type.Size() != 1 {
		return 0, fmt.Errorf("tag %d: type %d is not byte-sized", f.Tag, f.Type)
	}
	if len(f.Data) > 8 {
		return 0, fmt.Errorf("tag %d: %d bytes overflow 64 bits", f.Tag, len(f.Data))
	}
	var v uint64
	for _, b := range f.Data {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// String decodes an ASCII field without its terminator.
func (f Field) String() string {
	return strings.TrimRight(string(f.Data), "\x00")
}

// Short builds a SHORT field.
func Short(tag uint16, vs ...uint16) Field {
	data := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return Field{Tag: tag, Type: TypeShort, Count: uint32(len(vs)), Data: data}
}

// Long builds a LONG field.
func Long(tag uint16, vs ...uint32) Field {
	data := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	return Field{Tag: tag, Type: TypeLong, Count: uint32(len(vs)), Data: data}
}

// Undefined builds an UNDEFINED field holding opaque bytes.
func Undefined(tag uint16, data []byte) Field {
	return Field{Tag: tag, Type: TypeUndefined, Count: uint32(len(data)), Data: append([]byte(nil), data...)}
}

// ASCII builds a NUL-terminated ASCII field.
func ASCII(tag uint16, s string) Field {
	data := append([]byte(s), 0)
	return Field{Tag: tag, Type: TypeASCII, Count: uint32(len(data)), Data: data}
}

func longs(tag uint16, vs []uint64) (Field, error) {
	out := make([]uint32, len(vs))
	for i, v := range vs {
		if v > math.MaxUint32 {
			return Field{}, fmt.Errorf("tag %d: offset %d exceeds classic TIFF", tag, v)
		}
		out[i] = uint32(v)
	}
	return Long(tag, out...), nil
}
