package pipeline

import (
	"archive/tar"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionsplat/pkg/codec"
	"regionsplat/pkg/dtype"
	"regionsplat/pkg/errs"
	"regionsplat/pkg/imageio"
	"regionsplat/pkg/ndarray"
	"regionsplat/pkg/tiff"
)

const w, h = 4, 3

func flatPNG(t *testing.T, fs billy.Filesystem, name string, v uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, util.WriteFile(fs, name, buf.Bytes(), 0o644))
}

// flatPage builds a [depth, h, w, 1] page where layer k holds values[k].
func flatPage(dt dtype.DType, values ...float64) *ndarray.Array {
	a := ndarray.New(dt, len(values), h, w, 1)
	per := h * w
	for k, v := range values {
		for i := range per {
			a.Set(k*per+i, v)
		}
	}
	return a
}

func writeStack(t *testing.T, fs billy.Filesystem, name string, frames ...tiff.Frame) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, frames, tiff.Options{Compression: tiff.Zstd}))
	require.NoError(t, util.WriteFile(fs, name, buf.Bytes(), 0o644))
}

func tagged(id uint16, px *ndarray.Array) tiff.Frame {
	return tiff.Frame{Pixels: px, Extra: []tiff.Field{tiff.Short(imageio.IdentifierTag, id)}}
}

type entry struct {
	name string
	data []byte
}

func readArchive(t *testing.T, fs billy.Filesystem, name string) []entry {
	t.Helper()
	data, err := util.ReadFile(fs, name)
	require.NoError(t, err)
	var out []entry
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		out = append(out, entry{hdr.Name, body})
	}
}

func names(entries []entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

// splatFixture writes three flat features (10, 20, 30) and a three-page mask
// whose pages select the first feature, the second feature, and a
// 0.2/0.3/0.5 blend of all three.
func splatFixture(t *testing.T) billy.Filesystem {
	fs := memfs.New()
	flatPNG(t, fs, "in/a.png", 10)
	flatPNG(t, fs, "in/b.png", 20)
	flatPNG(t, fs, "in/c.png", 30)
	writeStack(t, fs, "in/mask.tif",
		tagged(7, flatPage(dtype.Uint16, 65535, 0, 0)),
		tagged(3, flatPage(dtype.Uint16, 0, 65535, 0)),
		tagged(19, flatPage(dtype.Uint16, 13107, 19661, 32767)),
	)
	return fs
}

func masked(fs billy.Filesystem) *Masked {
	return &Masked{
		Params: Params{
			FS:      fs,
			Format:  codec.PNG,
			Workers: 3,
			Now:     func() time.Time { return time.Unix(1_700_000_000, 0) },
		},
		Features: []string{"in/a.png", "in/b.png", "in/c.png"},
		Mask:     "in/mask.tif",
		Output:   "out/result.png",
	}
}

func TestMaskedArchivesOneImagePerRegion(t *testing.T) {
	fs := splatFixture(t)
	require.NoError(t, masked(fs).Process())

	entries := readArchive(t, fs, "out/result.tar")
	require.Equal(t, []string{
		"result/Identifier-7.png",
		"result/Identifier-3.png",
		"result/Identifier-19.png",
	}, names(entries))

	for i, want := range []uint8{10, 20, 23} {
		img := decodePNG(t, entries[i].data)
		g, ok := img.(*image.Gray)
		require.True(t, ok, "entry %d decoded as %T", i, img)
		assert.Equal(t, image.Rect(0, 0, w, h), g.Bounds())
		assert.Equal(t, want, g.GrayAt(w-1, h-1).Y, "entry %s", entries[i].name)
	}
}

func TestMaskedRescaleAndExplicitType(t *testing.T) {
	fs := splatFixture(t)
	job := masked(fs)
	job.Rescale = true
	job.ElementType = dtype.Uint16
	require.NoError(t, job.Process())

	entries := readArchive(t, fs, "out/result.tar")
	require.Len(t, entries, 3)
	for i, want := range []uint16{0, 50412, 65535} {
		g, ok := decodePNG(t, entries[i].data).(*image.Gray16)
		require.True(t, ok)
		assert.InDelta(t, want, g.Gray16At(0, 0).Y, 2, "entry %s", entries[i].name)
	}
}

func TestMaskedIdentifierCountMismatch(t *testing.T) {
	fs := memfs.New()
	// One feature page with two in-page layers yields two output pages.
	writeStack(t, fs, "feat.tif", tiff.Frame{Pixels: flatPage(dtype.Uint8, 5, 6)})
	writeStack(t, fs, "mask.tif", tagged(1, flatPage(dtype.Uint16, 65535)))

	job := &Masked{
		Params:   Params{FS: fs, Format: codec.TIFF},
		Features: []string{"feat.tif"},
		Mask:     "mask.tif",
		Output:   "out.tif",
	}
	err := job.Process()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrShape)
	_, statErr := fs.Stat("out.tar")
	assert.Error(t, statErr, "no archive may be written on failure")
}

func TestMaskedFailuresLeaveNoArchive(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*Masked)
		kind  errs.Kind
	}{
		{"missing feature", func(m *Masked) { m.Features[1] = "in/nope.png" }, errs.KindResource},
		{"no features", func(m *Masked) { m.Features = nil }, errs.KindValue},
		{"mask is not stacked", func(m *Masked) { m.Mask = "in/a.png" }, errs.KindResource},
		{"codec cannot store type", func(m *Masked) {
			m.Format = codec.JPEG
			m.ElementType = dtype.Uint16
		}, errs.KindType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := splatFixture(t)
			job := masked(fs)
			tt.apply(job)
			err := job.Process()
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))
			_, statErr := fs.Stat("out/result.tar")
			assert.Error(t, statErr)
		})
	}
}

func rgbPNG(t *testing.T, fs billy.Filesystem, name string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, util.WriteFile(fs, name, buf.Bytes(), 0o644))
}

func TestMaskedColourFeaturesToJPEG(t *testing.T) {
	fs := splatFixture(t)
	rgbPNG(t, fs, "in/a.png", color.RGBA{R: 200, G: 40, B: 90, A: 255})
	rgbPNG(t, fs, "in/b.png", color.RGBA{R: 10, G: 250, B: 120, A: 255})
	rgbPNG(t, fs, "in/c.png", color.RGBA{R: 60, G: 60, B: 60, A: 255})

	job := masked(fs)
	job.Format = codec.JPEG
	job.FormatName = "JPEG"
	require.NoError(t, job.Process())

	entries := readArchive(t, fs, "out/result.tar")
	require.Equal(t, []string{
		"result/Identifier-7.jpg",
		"result/Identifier-3.jpg",
		"result/Identifier-19.jpg",
	}, names(entries))

	for i, want := range []color.RGBA{{R: 200, G: 40, B: 90}, {R: 10, G: 250, B: 120}} {
		img, err := jpeg.Decode(bytes.NewReader(entries[i].data))
		require.NoError(t, err)
		r, g, b, _ := img.At(1, 1).RGBA()
		assert.InDelta(t, want.R, r>>8, 4, "entry %s red", entries[i].name)
		assert.InDelta(t, want.G, g>>8, 4, "entry %s green", entries[i].name)
		assert.InDelta(t, want.B, b>>8, 4, "entry %s blue", entries[i].name)
	}
}

func TestEntryExtensionKeepsFormatSpelling(t *testing.T) {
	fs := splatFixture(t)
	job := masked(fs)
	job.FormatName = "PNG"
	require.NoError(t, job.Process())
	assert.Equal(t, "result/Identifier-7.PNG", readArchive(t, fs, "out/result.tar")[0].name)

	fs = memfs.New()
	writeStack(t, fs, "m.tif", tagged(1, layered(0, 1)))
	split := &Split{
		Params: Params{FS: fs, Format: codec.TIFF, FormatName: "TIFF"},
		Masks:  []string{"m.tif"},
	}
	require.NoError(t, split.Process())
	assert.Equal(t, []string{"m/Directory-0_Depth-0.tif"}, names(readArchive(t, fs, "m.tar")))
}

// layered builds a [depth, h, w, 1] page whose voxel (k, y, x) is
// 1000*n + 100*k + 10*x + y.
func layered(n, depth int) *ndarray.Array {
	a := ndarray.New(dtype.Uint16, depth, h, w, 1)
	for k := range depth {
		for y := range h {
			for x := range w {
				a.Set(a.Offset(k, y, x, 0), float64(1000*n+100*k+10*x+y))
			}
		}
	}
	return a
}

func TestSplitArchivesEveryLayer(t *testing.T) {
	fs := memfs.New()
	writeStack(t, fs, "masks/first.tif", tagged(1, layered(0, 3)), tagged(2, layered(1, 3)))
	writeStack(t, fs, "masks/second.tif", tagged(9, layered(5, 1)))

	job := &Split{
		Params:    Params{FS: fs, Format: codec.TIFF, Workers: 2},
		Masks:     []string{"masks/first.tif", "masks/second.tif"},
		OutputDir: "out",
	}
	require.NoError(t, job.Process())

	first := readArchive(t, fs, "out/first.tar")
	assert.Equal(t, []string{
		"first/Directory-0_Depth-0.tif",
		"first/Directory-0_Depth-1.tif",
		"first/Directory-0_Depth-2.tif",
		"first/Directory-1_Depth-0.tif",
		"first/Directory-1_Depth-1.tif",
		"first/Directory-1_Depth-2.tif",
	}, names(first))

	second := readArchive(t, fs, "out/second.tar")
	require.Equal(t, []string{"second/Directory-0_Depth-0.tif"}, names(second))

	// Entry i of first holds layer i%3 of directory i/3.
	for i, e := range first {
		assertLayer(t, e, layered(i/3, 3), i%3)
	}
	assertLayer(t, second[0], layered(5, 1), 0)
}

func assertLayer(t *testing.T, e entry, want *ndarray.Array, k int) {
	t.Helper()
	f, err := tiff.Decode(e.data)
	require.NoError(t, err, e.name)
	require.Len(t, f.Pages, 1, e.name)
	px := f.Pages[0].Pixels()
	assert.Equal(t, dtype.Uint16, px.DType(), e.name)
	require.Equal(t, []int{1, h, w, 1}, px.Shape(), e.name)
	for y := range h {
		for x := range w {
			assert.Equal(t, want.At(want.Offset(k, y, x, 0)), px.At(px.Offset(0, y, x, 0)),
				"%s at x=%d y=%d", e.name, x, y)
		}
	}
}

func TestSplitConvertsToExplicitType(t *testing.T) {
	fs := memfs.New()
	writeStack(t, fs, "m.tif", tagged(1, flatPage(dtype.Uint16, 65535, 0)))

	job := &Split{
		Params: Params{FS: fs, Format: codec.PNG, ElementType: dtype.Uint8},
		Masks:  []string{"m.tif"},
	}
	require.NoError(t, job.Process())

	entries := readArchive(t, fs, "m.tar")
	require.Len(t, entries, 2)
	for i, want := range []uint8{255, 0} {
		g, ok := decodePNG(t, entries[i].data).(*image.Gray)
		require.True(t, ok)
		assert.Equal(t, color.Gray{Y: want}, g.GrayAt(1, 1))
	}
}

func TestSplitFailsBeforeWritingAnything(t *testing.T) {
	fs := memfs.New()
	writeStack(t, fs, "good.tif", tagged(1, layered(0, 1)))
	flatPNG(t, fs, "flat.png", 1)

	job := &Split{
		Params: Params{FS: fs},
		Masks:  []string{"good.tif", "flat.png"},
	}
	err := job.Process()
	assert.ErrorIs(t, err, errs.ErrResource)
	_, statErr := fs.Stat("good.tar")
	assert.Error(t, statErr)
}
