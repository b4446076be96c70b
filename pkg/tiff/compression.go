package tiff

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/tiff/lzw"
)

// Compression is the value of the Compression tag.
type Compression uint16

const (
	None         Compression = 1
	LZW          Compression = 5
	Deflate      Compression = 8
	PackBits     Compression = 32773
	AdobeDeflate Compression = 32946
	Zstd         Compression = 50000
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZW:
		return "lzw"
	case Deflate, AdobeDeflate:
		return "deflate"
	case PackBits:
		return "packbits"
	case Zstd:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint16(c))
}

// ParseCompression resolves a compression name accepted by Encode.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return None, nil
	case "deflate", "zlib":
		return Deflate, nil
	case "zstd":
		return Zstd, nil
	}
	return 0, fmt.Errorf("unsupported tiff compression %q", name)
}

// inflate expands one strip or tile to exactly want bytes. Short chunks are
// zero padded, as encoders may truncate the final strip.
func inflate(c Compression, chunk []byte, want int) ([]byte, error) {
	var out []byte
	switch c {
	case None:
		out = chunk
	case LZW:
		r := lzw.NewReader(bytes.NewReader(chunk), lzw.MSB, 8)
		defer r.Close()
		var err error
		if out, err = readUpTo(r, want); err != nil {
			return nil, fmt.Errorf("lzw: %w", err)
		}
	case Deflate, AdobeDeflate:
		r, err := zlib.NewReader(bytes.NewReader(chunk))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer r.Close()
		if out, err = readUpTo(r, want); err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
	case Zstd:
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer d.Close()
		if out, err = d.DecodeAll(chunk, make([]byte, 0, want)); err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
	case PackBits:
		var err error
		if out, err = unpackBits(chunk, want); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}

	switch {
	case len(out) > want:
		out = out[:want]
	case len(out) < want:
		padded := make([]byte, want)
		copy(padded, out)
		out = padded
	}
	return out, nil
}

func readUpTo(r io.Reader, want int) ([]byte, error) {
	buf := make([]byte, want)
	n, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return buf[:n], err
}

func unpackBits(src []byte, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	for i := 0; i < len(src) && len(out) < want; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(src) {
				return nil, fmt.Errorf("packbits: literal run overflows input")
			}
			out = append(out, src[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(src) {
				return nil, fmt.Errorf("packbits: repeat run overflows input")
			}
			for range 1 - n {
				out = append(out, src[i])
			}
			i++
		}
	}
	return out, nil
}

// deflate compresses one strip or tile for writing.
func deflate(c Compression, raw []byte) ([]byte, error) {
	switch c {
	case None:
		return raw, nil
	case Deflate, AdobeDeflate:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Zstd:
		e, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer e.Close()
		return e.EncodeAll(raw, nil), nil
	}
	return nil, fmt.Errorf("cannot write compression %s", c)
}
