// Package codec encodes quantised [width, height] or [width, height, sample]
// arrays into single-image files.
package codec

import (
	"bytes"
	"fmt"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"

	"regionsplat/pkg/dtype"
	"regionsplat/pkg/errs"
	"regionsplat/pkg/ndarray"
	"regionsplat/pkg/tiff"
)

// Format is an output codec.
type Format uint8

const (
	Invalid Format = iota
	PNG
	JPEG
	GIF
	BMP
	TIFF
)

// Options tunes encoders that have knobs. Zero values select defaults.
type Options struct {
	// Compression applies to TIFF output only.
	Compression tiff.Compression
	// Quality applies to JPEG output only; zero selects 95.
	Quality int
}

type entry struct {
	name      string
	extension string
	// types is the closed set of element types the codec stores; nil means
	// every integer type.
	types    []dtype.DType
	channels []int
	encode   func(io.Writer, *ndarray.Array, Options) error
}

var u8 = []dtype.DType{dtype.Uint8}

var table = [...]entry{
	PNG:  {"png", "png", []dtype.DType{dtype.Uint8, dtype.Uint16}, []int{1, 2, 3, 4}, encodePNG},
	JPEG: {"jpeg", "jpg", u8, []int{1, 3}, encodeJPEG},
	GIF:  {"gif", "gif", u8, []int{1, 3, 4}, encodeGIF},
	BMP:  {"bmp", "bmp", u8, []int{1, 3, 4}, encodeBMP},
	TIFF: {"tiff", "tif", nil, nil, encodeTIFF},
}

var aliases = map[string]Format{
	"png":  PNG,
	"jpeg": JPEG,
	"jpg":  JPEG,
	"gif":  GIF,
	"bmp":  BMP,
	"tiff": TIFF,
	"tif":  TIFF,
}

// Lookup resolves a codec name, ignoring case.
func Lookup(name string) (Format, error) {
	f, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Invalid, errs.Value("codec.lookup", "unknown output format %q", name)
	}
	return f, nil
}

// Names lists the canonical codec names.
func Names() []string {
	names := make([]string, 0, len(table)-1)
	for _, e := range table[PNG:] {
		names = append(names, e.name)
	}
	return names
}

func (f Format) entry() entry {
	if f <= Invalid || int(f) >= len(table) {
		return entry{name: "invalid"}
	}
	return table[f]
}

func (f Format) String() string { return f.entry().name }

// Extension is the conventional filename extension, without the dot.
func (f Format) Extension() string { return f.entry().extension }

// ExtensionFor is the extension for a codec requested as name. The jpeg and
// tiff spellings shorten to jpg and tif; any other name is kept as written,
// so "PNG" yields "PNG". An empty name gives Extension.
func (f Format) ExtensionFor(name string) string {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "":
		return f.Extension()
	case "jpeg":
		return "jpg"
	case "tiff":
		return "tif"
	}
	return name
}

// Supports reports whether f can store elements of type dt.
func (f Format) Supports(dt dtype.DType) bool {
	e := f.entry()
	if e.encode == nil || !dt.IsInteger() {
		return false
	}
	if e.types == nil {
		return true
	}
	for _, t := range e.types {
		if t == dt {
			return true
		}
	}
	return false
}

// Encode serialises a, which must be [width, height] or [width, height,
// sample] in an element type the codec stores.
func (f Format) Encode(a *ndarray.Array, opt Options) ([]byte, error) {
	e := f.entry()
	if e.encode == nil {
		return nil, errs.Value("codec.encode", "no encoder for format %s", f)
	}
	if !f.Supports(a.DType()) {
		return nil, errs.Type("codec.encode", "%s cannot store %s elements", f, a.DType())
	}
	switch a.Rank() {
	case 2:
		a = a.ExpandDims(-1)
	case 3:
	default:
		return nil, errs.Shape("codec.encode", "%s needs rank 2 or 3, got shape %v", f, a.Shape())
	}
	if e.channels != nil && !contains(e.channels, a.Dim(2)) {
		return nil, errs.Shape("codec.encode", "%s cannot store %d channels", f, a.Dim(2))
	}
	var buf bytes.Buffer
	if err := e.encode(&buf, a, opt); err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", f, err)
	}
	return buf.Bytes(), nil
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func encodePNG(w io.Writer, a *ndarray.Array, _ Options) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(w, toImage(a))
}

func encodeJPEG(w io.Writer, a *ndarray.Array, opt Options) error {
	q := opt.Quality
	if q == 0 {
		q = 95
	}
	return jpeg.Encode(w, toImage(a), &jpeg.Options{Quality: q})
}

func encodeGIF(w io.Writer, a *ndarray.Array, _ Options) error {
	return gif.Encode(w, toPaletted(a), &gif.Options{NumColors: 256})
}

func encodeBMP(w io.Writer, a *ndarray.Array, _ Options) error {
	return bmp.Encode(w, toImage(a))
}

func encodeTIFF(w io.Writer, a *ndarray.Array, opt Options) error {
	// Pages are stored row-major: [height, width, sample].
	frame := tiff.Frame{Pixels: a.SwapAxes(0, 1)}
	return tiff.Encode(w, []tiff.Frame{frame}, tiff.Options{Compression: opt.Compression})
}
