package codec

import (
	"image"
	"image/color"
	"image/draw"

	"regionsplat/pkg/dtype"
	"regionsplat/pkg/ndarray"
)

// toImage wraps a [width, height, sample] array of 8 or 16-bit unsigned
// elements as an image. One sample is gray, two gray with alpha, three RGB
// and four RGBA with straight alpha.
func toImage(a *ndarray.Array) image.Image {
	w, h, s := a.Dim(0), a.Dim(1), a.Dim(2)
	r := image.Rect(0, 0, w, h)
	wide := a.DType() == dtype.Uint16
	px := make([]uint32, s)

	var img draw.Image
	switch {
	case s == 1 && wide:
		img = image.NewGray16(r)
	case s == 1:
		img = image.NewGray(r)
	case wide:
		img = image.NewNRGBA64(r)
	default:
		img = image.NewNRGBA(r)
	}

	i := 0
	for x := range w {
		for y := range h {
			for k := range s {
				px[k] = uint32(a.Uint(i))
				i++
			}
			img.Set(x, y, pixel(px, wide))
		}
	}
	return img
}

func pixel(px []uint32, wide bool) color.Color {
	var r, g, b, al uint32
	switch len(px) {
	case 1:
		if wide {
			return color.Gray16{Y: uint16(px[0])}
		}
		return color.Gray{Y: uint8(px[0])}
	case 2:
		r, g, b, al = px[0], px[0], px[0], px[1]
	case 3:
		r, g, b = px[0], px[1], px[2]
		al = 0xff
		if wide {
			al = 0xffff
		}
	default:
		r, g, b, al = px[0], px[1], px[2], px[3]
	}
	if wide {
		return color.NRGBA64{R: uint16(r), G: uint16(g), B: uint16(b), A: uint16(al)}
	}
	return color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: uint8(al)}
}

var grayPalette = func() color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		p[i] = color.Gray{Y: uint8(i)}
	}
	return p
}()

// toPaletted maps gray frames onto an exact 256-level palette; colour frames
// are quantised by the GIF encoder.
func toPaletted(a *ndarray.Array) image.Image {
	if a.Dim(2) != 1 {
		return toImage(a)
	}
	w, h := a.Dim(0), a.Dim(1)
	img := image.NewPaletted(image.Rect(0, 0, w, h), grayPalette)
	i := 0
	for x := range w {
		for y := range h {
			img.SetColorIndex(x, y, uint8(a.Uint(i)))
			i++
		}
	}
	return img
}
