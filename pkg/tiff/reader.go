// Package tiff reads and writes multi-page Tagged Image File Format
// containers, including volumetric pages (ImageDepth) stored as strips or 3-D
// tiles, and exposes every directory entry so that private tags survive.
//
// Pixel data is returned raw: no photometric interpretation, palette lookup or
// orientation handling takes place.
package tiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"regionsplat/pkg/dtype"
	"regionsplat/pkg/ndarray"
)

// File is a decoded container.
type File struct {
	ByteOrder binary.ByteOrder
	Pages     []*Page
}

// Page is one image file directory and its pixels.
type Page struct {
	Width, Height, Depth int
	Samples              int
	DType                dtype.DType
	Compression          Compression

	fields map[uint16]Field
	pixels *ndarray.Array
}

// Field returns the directory entry for tag.
func (p *Page) Field(tag uint16) (Field, bool) {
	f, ok := p.fields[tag]
	return f, ok
}

// Tags lists the tags present in ascending order.
func (p *Page) Tags() []uint16 {
	tags := make([]uint16, 0, len(p.fields))
	for t := range p.fields {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Pixels returns the page as [depth, height, width, samples]. Every axis is
// kept, even when its extent is 1.
func (p *Page) Pixels() *ndarray.Array { return p.pixels }

// IsTIFF reports whether data starts with a classic TIFF header.
func IsTIFF(data []byte) bool {
	return len(data) >= 4 && (bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*")))
}

// Decode reads every page of a container held in memory.
func Decode(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("tiff: file too short")
	}
	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("tiff: bad byte order mark %q", data[:2])
	}
	switch magic := order.Uint16(data[2:]); magic {
	case 42:
	case 43:
		return nil, fmt.Errorf("tiff: BigTIFF is not supported")
	default:
		return nil, fmt.Errorf("tiff: bad magic %d", magic)
	}

	f := &File{ByteOrder: order}
	seen := make(map[uint32]bool)
	for off := order.Uint32(data[4:]); off != 0; {
		if seen[off] {
			return nil, fmt.Errorf("tiff: directory loop at offset %d", off)
		}
		seen[off] = true
		fields, next, err := readIFD(data, order, off)
		if err != nil {
			return nil, fmt.Errorf("tiff: page %d: %w", len(f.Pages), err)
		}
		page, err := decodePage(data, fields)
		if err != nil {
			return nil, fmt.Errorf("tiff: page %d: %w", len(f.Pages), err)
		}
		f.Pages = append(f.Pages, page)
		off = next
	}
	if len(f.Pages) == 0 {
		return nil, fmt.Errorf("tiff: no pages")
	}
	return f, nil
}

// DecodeReader reads a whole container from r.
func DecodeReader(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func readIFD(data []byte, order binary.ByteOrder, off uint32) (map[uint16]Field, uint32, error) {
	if int(off)+2 > len(data) {
		return nil, 0, fmt.Errorf("directory offset %d out of range", off)
	}
	n := int(order.Uint16(data[off:]))
	end := int(off) + 2 + 12*n + 4
	if end > len(data) {
		return nil, 0, fmt.Errorf("directory at %d truncated", off)
	}
	fields := make(map[uint16]Field, n)
	for i := range n {
		e := data[int(off)+2+12*i:]
		ft := FieldType(order.Uint16(e[2:]))
		f := Field{
			Tag:   order.Uint16(e),
			Type:  ft,
			Count: order.Uint32(e[4:]),
			order: order,
		}
		if ft.Size() == 0 {
			continue
		}
		size := int(f.Count) * ft.Size()
		if size <= 4 {
			f.Data = append([]byte(nil), e[8:8+size]...)
		} else {
			at := int(order.Uint32(e[8:]))
			if at+size > len(data) || at < 0 {
				return nil, 0, fmt.Errorf("tag %d value out of range", f.Tag)
			}
			f.Data = append([]byte(nil), data[at:at+size]...)
		}
		fields[f.Tag] = f
	}
	return fields, order.Uint32(data[end-4:]), nil
}

func fieldUint(fields map[uint16]Field, tag uint16, def uint64) (uint64, error) {
	f, ok := fields[tag]
	if !ok {
		return def, nil
	}
	return f.Uint()
}

func fieldUints(fields map[uint16]Field, tag uint16) ([]uint64, error) {
	f, ok := fields[tag]
	if !ok {
		return nil, fmt.Errorf("missing tag %d", tag)
	}
	return f.Uints()
}

func sampleType(format, bits uint64) (dtype.DType, error) {
	types := map[[2]uint64]dtype.DType{
		{1, 8}: dtype.Uint8, {1, 16}: dtype.Uint16, {1, 32}: dtype.Uint32, {1, 64}: dtype.Uint64,
		{2, 8}: dtype.Int8, {2, 16}: dtype.Int16, {2, 32}: dtype.Int32, {2, 64}: dtype.Int64,
		{3, 32}: dtype.Float32, {3, 64}: dtype.Float64,
	}
	if dt, ok := types[[2]uint64{format, bits}]; ok {
		return dt, nil
	}
	return dtype.Invalid, fmt.Errorf("unsupported sample format %d with %d bits", format, bits)
}

func sampleFormatOf(dt dtype.DType) uint16 {
	switch dt.Category() {
	case dtype.Signed:
		return 2
	case dtype.Floating:
		return 3
	}
	return 1
}

type layout struct {
	width, height, depth, samples int
	dt                            dtype.DType
	compression                   Compression
	predictor                     uint64
}

func decodePage(data []byte, fields map[uint16]Field) (*Page, error) {
	var (
		l   layout
		err error
		v   uint64
	)
	read := func(tag uint16, def uint64) int {
		if err != nil {
			return 0
		}
		v, err = fieldUint(fields, tag, def)
		return int(v)
	}
	l.width = read(TagImageWidth, 0)
	l.height = read(TagImageLength, 0)
	l.depth = read(TagImageDepth, 1)
	l.samples = read(TagSamplesPerPixel, 1)
	l.compression = Compression(read(TagCompression, uint64(None)))
	l.predictor = uint64(read(TagPredictor, 1))
	planar := read(TagPlanarConfig, 1)
	format := read(TagSampleFormat, 1)
	if err != nil {
		return nil, err
	}
	if l.width <= 0 || l.height <= 0 || l.depth <= 0 || l.samples <= 0 {
		return nil, fmt.Errorf("invalid extent %dx%dx%d with %d samples", l.width, l.height, l.depth, l.samples)
	}
	if planar != 1 {
		return nil, fmt.Errorf("planar configuration %d is not supported", planar)
	}

	bits, err := fieldUints(fields, TagBitsPerSample)
	if err != nil {
		bits = []uint64{1}
	}
	if len(bits) == 0 {
		return nil, fmt.Errorf("tag %d has no value", TagBitsPerSample)
	}
	for _, b := range bits[1:] {
		if b != bits[0] {
			return nil, fmt.Errorf("mixed bits per sample %v", bits)
		}
	}
	if l.dt, err = sampleType(uint64(format), bits[0]); err != nil {
		return nil, err
	}
	if l.predictor != 1 && (l.predictor != 2 || !l.dt.IsInteger()) {
		return nil, fmt.Errorf("predictor %d is not supported for %s", l.predictor, l.dt)
	}

	if err := checkVolume("page", l.dt.Size(), l.depth, l.height, l.width, l.samples); err != nil {
		return nil, err
	}

	order := binary.ByteOrder(binary.LittleEndian)
	if f, ok := fields[TagImageWidth]; ok {
		order = f.byteOrder()
	}

	px := ndarray.New(l.dt, l.depth, l.height, l.width, l.samples)
	if _, tiled := fields[TagTileWidth]; tiled {
		err = decodeTiles(data, fields, l, order, px)
	} else {
		err = decodeStrips(data, fields, l, order, px)
	}
	if err != nil {
		return nil, err
	}
	return &Page{
		Width:       l.width,
		Height:      l.height,
		Depth:       l.depth,
		Samples:     l.samples,
		DType:       l.dt,
		Compression: l.compression,
		fields:      fields,
		pixels:      px,
	}, nil
}

// maxChunkBytes bounds the decoded size of one page or tile.
const maxChunkBytes uint64 = 1 << 31

func checkVolume(what string, size int, extents ...int) error {
	total := uint64(size)
	for _, e := range extents {
		if e <= 0 {
			return fmt.Errorf("invalid %s extent %v", what, extents)
		}
		total *= uint64(e)
		if total > maxChunkBytes {
			return fmt.Errorf("%s extent %v exceeds %d bytes", what, extents, maxChunkBytes)
		}
	}
	return nil
}

func chunks(data []byte, fields map[uint16]Field, offTag, countTag uint16) ([][]byte, error) {
	offs, err := fieldUints(fields, offTag)
	if err != nil {
		return nil, err
	}
	counts, err := fieldUints(fields, countTag)
	if err != nil {
		return nil, err
	}
	if len(offs) != len(counts) {
		return nil, fmt.Errorf("%d offsets but %d byte counts", len(offs), len(counts))
	}
	out := make([][]byte, len(offs))
	for i := range offs {
		end := offs[i] + counts[i]
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("chunk %d out of range", i)
		}
		out[i] = data[offs[i]:end]
	}
	return out, nil
}

// prepare turns one decompressed chunk of rows, each rowLen samples long, into
// little-endian values with the predictor undone.
func prepare(buf []byte, l layout, order binary.ByteOrder, rowLen int) {
	size := l.dt.Size()
	if order == binary.BigEndian && size > 1 {
		for i := 0; i+size <= len(buf); i += size {
			for a, b := i, i+size-1; a < b; a, b = a+1, b-1 {
				buf[a], buf[b] = buf[b], buf[a]
			}
		}
	}
	if l.predictor != 2 {
		return
	}
	rowBytes := rowLen * size
	stride := l.samples * size
	for r := 0; r+rowBytes <= len(buf); r += rowBytes {
		row := buf[r : r+rowBytes]
		for i := stride; i < len(row); i += size {
			switch size {
			case 1:
				row[i] += row[i-stride]
			case 2:
				binary.LittleEndian.PutUint16(row[i:], binary.LittleEndian.Uint16(row[i:])+binary.LittleEndian.Uint16(row[i-stride:]))
			case 4:
				binary.LittleEndian.PutUint32(row[i:], binary.LittleEndian.Uint32(row[i:])+binary.LittleEndian.Uint32(row[i-stride:]))
			case 8:
				binary.LittleEndian.PutUint64(row[i:], binary.LittleEndian.Uint64(row[i:])+binary.LittleEndian.Uint64(row[i-stride:]))
			}
		}
	}
}

// decodeStrips treats a volumetric page as depth*height consecutive rows.
func decodeStrips(data []byte, fields map[uint16]Field, l layout, order binary.ByteOrder, px *ndarray.Array) error {
	parts, err := chunks(data, fields, TagStripOffsets, TagStripByteCounts)
	if err != nil {
		return err
	}
	rows := l.depth * l.height
	rps, err := fieldUint(fields, TagRowsPerStrip, uint64(rows))
	if err != nil {
		return err
	}
	if rps == 0 || rps > uint64(rows) {
		rps = uint64(rows)
	}
	rowBytes := l.width * l.samples * l.dt.Size()
	dst := px.Bytes()
	for i, part := range parts {
		first := i * int(rps)
		if first >= rows {
			break
		}
		n := min(int(rps), rows-first)
		buf, err := inflate(l.compression, part, n*rowBytes)
		if err != nil {
			return fmt.Errorf("strip %d: %w", i, err)
		}
		buf = append([]byte(nil), buf...)
		prepare(buf, l, order, l.width*l.samples)
		copy(dst[first*rowBytes:], buf)
	}
	return nil
}

func decodeTiles(data []byte, fields map[uint16]Field, l layout, order binary.ByteOrder, px *ndarray.Array) error {
	parts, err := chunks(data, fields, TagTileOffsets, TagTileByteCounts)
	if err != nil {
		return err
	}
	tw, err := fieldUint(fields, TagTileWidth, 0)
	if err != nil {
		return err
	}
	th, err := fieldUint(fields, TagTileLength, 0)
	if err != nil {
		return err
	}
	td, err := fieldUint(fields, TagTileDepth, 1)
	if err != nil {
		return err
	}
	if tw == 0 || th == 0 || td == 0 {
		return fmt.Errorf("invalid tile extent %dx%dx%d", tw, th, td)
	}
	if err := checkVolume("tile", l.dt.Size(), int(td), int(th), int(tw), l.samples); err != nil {
		return err
	}
	tileW, tileH, tileD := int(tw), int(th), int(td)
	across := (l.width + tileW - 1) / tileW
	down := (l.height + tileH - 1) / tileH
	deep := (l.depth + tileD - 1) / tileD
	if len(parts) < across*down*deep {
		return fmt.Errorf("%d tiles present, %d required", len(parts), across*down*deep)
	}

	pixel := l.samples * l.dt.Size()
	tileRow := tileW * pixel
	imageRow := l.width * pixel
	dst := px.Bytes()
	for t := range across * down * deep {
		z0 := (t / (across * down)) * tileD
		y0 := ((t / across) % down) * tileH
		x0 := (t % across) * tileW
		buf, err := inflate(l.compression, parts[t], tileD*tileH*tileRow)
		if err != nil {
			return fmt.Errorf("tile %d: %w", t, err)
		}
		buf = append([]byte(nil), buf...)
		prepare(buf, l, order, tileW*l.samples)

		cols := min(tileW, l.width-x0) * pixel
		for z := 0; z < tileD && z0+z < l.depth; z++ {
			for y := 0; y < tileH && y0+y < l.height; y++ {
				src := (z*tileH + y) * tileRow
				at := ((z0+z)*l.height+y0+y)*imageRow + x0*pixel
				copy(dst[at:at+cols], buf[src:src+cols])
			}
		}
	}
	return nil
}
