package tiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"regionsplat/pkg/ndarray"
)

// Frame is one page to be written.
type Frame struct {
	// Pixels is [height, width], [height, width, samples] or
	// [depth, height, width, samples].
	Pixels *ndarray.Array
	// Extra fields are written alongside the generated ones and replace a
	// generated field with the same tag.
	Extra []Field
}

// Options controls Encode.
type Options struct {
	Compression Compression
	Description string
	Software    string
	// TileSize is the tile edge used for volumetric pages. It is rounded up
	// to a multiple of 16; zero selects 64.
	TileSize int
}

const stripTarget = 8 << 10

// Encode writes frames as one little-endian container. Pages with a depth of
// one are stored in strips, volumetric pages in 3-D tiles of depth one.
func Encode(w io.Writer, frames []Frame, opt Options) error {
	if len(frames) == 0 {
		return fmt.Errorf("tiff: nothing to encode")
	}
	if opt.Compression == 0 {
		opt.Compression = None
	}
	var buf bytes.Buffer
	buf.Write([]byte("II*\x00"))
	buf.Write([]byte{0, 0, 0, 0})
	link := 4

	for i, fr := range frames {
		l, err := frameLayout(fr.Pixels)
		if err != nil {
			return fmt.Errorf("tiff: frame %d: %w", i, err)
		}
		var fields []Field
		if l.depth == 1 {
			fields, err = writeStrips(&buf, fr.Pixels, l, opt)
		} else {
			fields, err = writeTiles(&buf, fr.Pixels, l, opt)
		}
		if err != nil {
			return fmt.Errorf("tiff: frame %d: %w", i, err)
		}
		fields = append(fields, baseFields(l, opt)...)
		fields = mergeFields(fields, fr.Extra)

		pad(&buf)
		at := buf.Len()
		binary.LittleEndian.PutUint32(buf.Bytes()[link:], uint32(at))
		link = writeIFD(&buf, fields)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func frameLayout(a *ndarray.Array) (layout, error) {
	if a == nil {
		return layout{}, fmt.Errorf("no pixels")
	}
	s := a.Shape()
	l := layout{depth: 1, samples: 1, dt: a.DType()}
	switch len(s) {
	case 2:
		l.height, l.width = s[0], s[1]
	case 3:
		l.height, l.width, l.samples = s[0], s[1], s[2]
	case 4:
		l.depth, l.height, l.width, l.samples = s[0], s[1], s[2], s[3]
	default:
		return layout{}, fmt.Errorf("rank %d cannot be written", len(s))
	}
	if l.width == 0 || l.height == 0 || l.depth == 0 || l.samples == 0 {
		return layout{}, fmt.Errorf("empty extent %v", s)
	}
	return l, nil
}

func baseFields(l layout, opt Options) []Field {
	bits := make([]uint16, l.samples)
	formats := make([]uint16, l.samples)
	for i := range bits {
		bits[i] = uint16(l.dt.Bits())
		formats[i] = sampleFormatOf(l.dt)
	}
	photometric := uint16(1)
	colour := 1
	if l.samples >= 3 {
		photometric, colour = 2, 3
	}
	fields := []Field{
		Long(TagImageWidth, uint32(l.width)),
		Long(TagImageLength, uint32(l.height)),
		Short(TagBitsPerSample, bits...),
		Short(TagCompression, uint16(opt.Compression)),
		Short(TagPhotometric, photometric),
		Short(TagSamplesPerPixel, uint16(l.samples)),
		Short(TagPlanarConfig, 1),
		Short(TagSampleFormat, formats...),
	}
	if extra := l.samples - colour; extra > 0 {
		kinds := make([]uint16, extra)
		kinds[0] = 2
		fields = append(fields, Short(TagExtraSamples, kinds...))
	}
	if l.depth > 1 {
		fields = append(fields, Long(TagImageDepth, uint32(l.depth)))
	}
	if opt.Description != "" {
		fields = append(fields, ASCII(TagDescription, opt.Description))
	}
	if opt.Software != "" {
		fields = append(fields, ASCII(TagSoftware, opt.Software))
	}
	return fields
}

func mergeFields(base, extra []Field) []Field {
	byTag := make(map[uint16]Field, len(base)+len(extra))
	for _, f := range base {
		byTag[f.Tag] = f
	}
	for _, f := range extra {
		byTag[f.Tag] = f
	}
	out := make([]Field, 0, len(byTag))
	for _, f := range byTag {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

func pad(buf *bytes.Buffer) {
	if buf.Len()%2 != 0 {
		buf.WriteByte(0)
	}
}

func writeChunk(buf *bytes.Buffer, raw []byte, c Compression) (off, n uint64, err error) {
	data, err := deflate(c, raw)
	if err != nil {
		return 0, 0, err
	}
	pad(buf)
	off = uint64(buf.Len())
	buf.Write(data)
	return off, uint64(len(data)), nil
}

func writeStrips(buf *bytes.Buffer, a *ndarray.Array, l layout, opt Options) ([]Field, error) {
	rowBytes := l.width * l.samples * l.dt.Size()
	rps := max(1, stripTarget/rowBytes)
	rps = min(rps, l.height)
	src := a.Bytes()
	var offs, counts []uint64
	for y := 0; y < l.height; y += rps {
		n := min(rps, l.height-y)
		off, size, err := writeChunk(buf, src[y*rowBytes:(y+n)*rowBytes], opt.Compression)
		if err != nil {
			return nil, err
		}
		offs = append(offs, off)
		counts = append(counts, size)
	}
	offField, err := longs(TagStripOffsets, offs)
	if err != nil {
		return nil, err
	}
	countField, err := longs(TagStripByteCounts, counts)
	if err != nil {
		return nil, err
	}
	return []Field{offField, countField, Long(TagRowsPerStrip, uint32(rps))}, nil
}

func writeTiles(buf *bytes.Buffer, a *ndarray.Array, l layout, opt Options) ([]Field, error) {
	edge := opt.TileSize
	if edge <= 0 {
		edge = 64
	}
	edge = (edge + 15) / 16 * 16
	across := (l.width + edge - 1) / edge
	down := (l.height + edge - 1) / edge
	pixel := l.samples * l.dt.Size()
	tileRow := edge * pixel
	imageRow := l.width * pixel
	src := a.Bytes()

	var offs, counts []uint64
	tile := make([]byte, edge*tileRow)
	for z := range l.depth {
		for ty := range down {
			for tx := range across {
				clear(tile)
				x0, y0 := tx*edge, ty*edge
				cols := min(edge, l.width-x0) * pixel
				for y := 0; y < edge && y0+y < l.height; y++ {
					at := (z*l.height+y0+y)*imageRow + x0*pixel
					copy(tile[y*tileRow:], src[at:at+cols])
				}
				off, size, err := writeChunk(buf, tile, opt.Compression)
				if err != nil {
					return nil, err
				}
				offs = append(offs, off)
				counts = append(counts, size)
			}
		}
	}
	offField, err := longs(TagTileOffsets, offs)
	if err != nil {
		return nil, err
	}
	countField, err := longs(TagTileByteCounts, counts)
	if err != nil {
		return nil, err
	}
	return []Field{
		offField, countField,
		Long(TagTileWidth, uint32(edge)),
		Long(TagTileLength, uint32(edge)),
		Long(TagTileDepth, 1),
	}, nil
}

// writeIFD appends a directory and its out-of-line values, returning the
// position of its next-directory pointer.
func writeIFD(buf *bytes.Buffer, fields []Field) int {
	start := buf.Len()
	ext := start + 2 + 12*len(fields) + 4
	var values bytes.Buffer

	entries := make([]byte, 2+12*len(fields)+4)
	binary.LittleEndian.PutUint16(entries, uint16(len(fields)))
	for i, f := range fields {
		e := entries[2+12*i:]
		binary.LittleEndian.PutUint16(e, f.Tag)
		binary.LittleEndian.PutUint16(e[2:], uint16(f.Type))
		binary.LittleEndian.PutUint32(e[4:], f.Count)
		if len(f.Data) <= 4 {
			copy(e[8:12], f.Data)
			continue
		}
		if values.Len()%2 != 0 {
			values.WriteByte(0)
		}
		binary.LittleEndian.PutUint32(e[8:], uint32(ext+values.Len()))
		values.Write(f.Data)
	}
	buf.Write(entries)
	buf.Write(values.Bytes())
	return start + 2 + 12*len(fields)
}
