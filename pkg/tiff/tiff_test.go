package tiff

import (
	"bytes"
	"encoding/binary"
	"testing"

	"regionsplat/pkg/dtype"
	"regionsplat/pkg/ndarray"
)

// pattern fills an array with a value derived from every flat index.
func pattern(dt dtype.DType, shape ...int) *ndarray.Array {
	a := ndarray.New(dt, shape...)
	lo, hi := dt.Limits()
	span := hi - lo + 1
	if dt.IsFloat() {
		span = 1000
		lo = 0
	}
	for i := range a.Len() {
		a.Set(i, lo+float64((i*7919)%int(min(span, 1<<20))))
	}
	return a
}

func samePixels(t *testing.T, want, got *ndarray.Array) {
	t.Helper()
	if want.DType() != got.DType() {
		t.Fatalf("Expected %s, got %s", want.DType(), got.DType())
	}
	if !bytes.Equal(want.Bytes(), got.Bytes()) {
		t.Fatal("Pixel data differs after round trip")
	}
}

func TestRoundTripStrips(t *testing.T) {
	types := []dtype.DType{dtype.Uint8, dtype.Uint16, dtype.Int16, dtype.Uint32, dtype.Int32, dtype.Float32}
	for _, c := range []Compression{None, Deflate, Zstd} {
		for _, dt := range types {
			t.Run(c.String()+"/"+dt.String(), func(t *testing.T) {
				px := pattern(dt, 1, 37, 129, 3)
				flat, _ := px.Reshape(37, 129, 3)

				var buf bytes.Buffer
				if err := Encode(&buf, []Frame{{Pixels: flat}}, Options{Compression: c}); err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				f, err := Decode(buf.Bytes())
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				if len(f.Pages) != 1 {
					t.Fatalf("Expected 1 page, got %d", len(f.Pages))
				}
				p := f.Pages[0]
				if p.Width != 129 || p.Height != 37 || p.Depth != 1 || p.Samples != 3 {
					t.Errorf("Unexpected extent %dx%dx%d/%d", p.Width, p.Height, p.Depth, p.Samples)
				}
				samePixels(t, px, p.Pixels())
			})
		}
	}
}

func TestRoundTripVolumetricTiles(t *testing.T) {
	for _, c := range []Compression{None, Deflate, Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			px := pattern(dtype.Uint16, 3, 70, 33, 1)
			var buf bytes.Buffer
			if err := Encode(&buf, []Frame{{Pixels: px}}, Options{Compression: c, TileSize: 20}); err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			f, err := Decode(buf.Bytes())
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			p := f.Pages[0]
			if _, tiled := p.Field(TagTileWidth); !tiled {
				t.Error("Expected a volumetric page to be tiled")
			}
			if p.Depth != 3 || p.Height != 70 || p.Width != 33 {
				t.Errorf("Unexpected extent %dx%dx%d", p.Width, p.Height, p.Depth)
			}
			samePixels(t, px, p.Pixels())
		})
	}
}

func TestPagesKeepExtraTags(t *testing.T) {
	const tag = 29716
	ids := []uint32{7, 3, 19}
	frames := make([]Frame, len(ids))
	for i, id := range ids {
		frames[i] = Frame{
			Pixels: pattern(dtype.Uint16, 2, 4, 5, 1),
			Extra:  []Field{Long(tag, id)},
		}
	}
	var buf bytes.Buffer
	if err := Encode(&buf, frames, Options{Description: "mask"}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	f, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(f.Pages) != len(ids) {
		t.Fatalf("Expected %d pages, got %d", len(ids), len(f.Pages))
	}
	for i, p := range f.Pages {
		field, ok := p.Field(tag)
		if !ok {
			t.Fatalf("Page %d lost tag %d", i, tag)
		}
		v, err := field.Uint()
		if err != nil {
			t.Fatalf("Page %d: %v", i, err)
		}
		if v != uint64(ids[i]) {
			t.Errorf("Page %d: expected identifier %d, got %d", i, ids[i], v)
		}
		if d, _ := p.Field(TagDescription); d.String() != "mask" {
			t.Errorf("Page %d: expected description %q, got %q", i, "mask", d.String())
		}
	}
}

func TestDecodeBigEndian(t *testing.T) {
	be := binary.BigEndian
	var b bytes.Buffer
	b.WriteString("MM\x00*")
	binary.Write(&b, be, uint32(12))
	binary.Write(&b, be, []uint16{0x0102, 0x0304})

	type entry struct {
		tag, typ uint16
		value    uint32
	}
	entries := []entry{
		{TagImageWidth, uint16(TypeShort), 2},
		{TagImageLength, uint16(TypeShort), 1},
		{TagBitsPerSample, uint16(TypeShort), 16},
		{TagStripOffsets, uint16(TypeLong), 8},
		{TagSamplesPerPixel, uint16(TypeShort), 1},
		{TagStripByteCounts, uint16(TypeLong), 4},
	}
	binary.Write(&b, be, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&b, be, e.tag)
		binary.Write(&b, be, e.typ)
		binary.Write(&b, be, uint32(1))
		if e.typ == uint16(TypeShort) {
			binary.Write(&b, be, uint16(e.value))
			binary.Write(&b, be, uint16(0))
		} else {
			binary.Write(&b, be, e.value)
		}
	}
	binary.Write(&b, be, uint32(0))

	f, err := Decode(b.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	px := f.Pages[0].Pixels()
	if px.At(0) != 0x0102 || px.At(1) != 0x0304 {
		t.Errorf("Expected [258 772], got [%v %v]", px.At(0), px.At(1))
	}
}

func TestUnpackBits(t *testing.T) {
	got, err := unpackBits([]byte{0xFE, 0xAA, 0x02, 0x80, 0x00, 0x2A}, 6)
	if err != nil {
		t.Fatalf("unpackBits failed: %v", err)
	}
	want := []byte{0xAA, 0xAA, 0xAA, 0x80, 0x00, 0x2A}
	if !bytes.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestHorizontalPredictor(t *testing.T) {
	buf := []byte{1, 0, 1, 0, 1, 0}
	prepare(buf, layout{samples: 1, dt: dtype.Uint16, predictor: 2}, binary.LittleEndian, 3)
	for i, want := range []uint16{1, 2, 3} {
		if got := binary.LittleEndian.Uint16(buf[2*i:]); got != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestIdentifierBytes(t *testing.T) {
	f := Undefined(29716, []byte{0, 0, 1, 2})
	v, err := f.BigEndian()
	if err != nil {
		t.Fatalf("BigEndian failed: %v", err)
	}
	if v != 258 {
		t.Errorf("Expected 258, got %d", v)
	}
	if _, err := Long(29716, 1).BigEndian(); err == nil {
		t.Error("Expected a LONG field to be rejected")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for name, data := range map[string][]byte{
		"short":   []byte("II"),
		"magic":   []byte("II\x2b\x00\x08\x00\x00\x00"),
		"badmark": []byte("XX*\x00\x08\x00\x00\x00"),
		"nopages": []byte("II*\x00\x00\x00\x00\x00"),
	} {
		if _, err := Decode(data); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestDecodeRejectsCorruptHeaders(t *testing.T) {
	tests := []struct {
		name   string
		pixels *ndarray.Array
		extra  []Field
	}{
		{"empty bits per sample", pattern(dtype.Uint8, 4, 4), []Field{{Tag: TagBitsPerSample, Type: TypeShort, Count: 0}}},
		{"empty width", pattern(dtype.Uint8, 4, 4), []Field{{Tag: TagImageWidth, Type: TypeLong, Count: 0}}},
		{"huge page", pattern(dtype.Uint8, 4, 4), []Field{Long(TagImageWidth, 1<<30), Long(TagImageLength, 1<<30)}},
		{"huge tile", pattern(dtype.Uint8, 2, 4, 4, 1), []Field{Long(TagTileWidth, 1<<20), Long(TagTileLength, 1<<20)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, []Frame{{Pixels: tt.pixels, Extra: tt.extra}}, Options{}); err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if _, err := Decode(buf.Bytes()); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
