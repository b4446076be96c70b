package imageio

import (
	"encoding/binary"
	"image"
	"image/color"

	"regionsplat/pkg/dtype"
	"regionsplat/pkg/ndarray"
)

// Pixels copies a decoded frame into a native array of shape [width, height]
// for single-channel images or [width, height, sample] otherwise. Paletted
// frames yield their indices; other colour models keep their stored depth.
func Pixels(img image.Image) *ndarray.Array {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch m := img.(type) {
	case *image.Gray:
		return gather(dtype.Uint8, w, h, 1, func(x, y int, px []uint16) {
			px[0] = uint16(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
		})
	case *image.Gray16:
		return gather(dtype.Uint16, w, h, 1, func(x, y int, px []uint16) {
			px[0] = m.Gray16At(b.Min.X+x, b.Min.Y+y).Y
		})
	case *image.Paletted:
		return gather(dtype.Uint8, w, h, 1, func(x, y int, px []uint16) {
			px[0] = uint16(m.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
		})
	case *image.YCbCr:
		return gather(dtype.Uint8, w, h, 3, func(x, y int, px []uint16) {
			c := m.YCbCrAt(b.Min.X+x, b.Min.Y+y)
			r, g, bl := color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
			px[0], px[1], px[2] = uint16(r), uint16(g), uint16(bl)
		})
	case *image.CMYK:
		return gather(dtype.Uint8, w, h, 4, func(x, y int, px []uint16) {
			c := m.CMYKAt(b.Min.X+x, b.Min.Y+y)
			px[0], px[1], px[2], px[3] = uint16(c.C), uint16(c.M), uint16(c.Y), uint16(c.K)
		})
	case *image.RGBA:
		// Truecolour files without alpha decode to opaque RGBA.
		if m.Opaque() {
			return gather(dtype.Uint8, w, h, 3, func(x, y int, px []uint16) {
				c := m.RGBAAt(b.Min.X+x, b.Min.Y+y)
				px[0], px[1], px[2] = uint16(c.R), uint16(c.G), uint16(c.B)
			})
		}
	case *image.RGBA64:
		if m.Opaque() {
			return gather(dtype.Uint16, w, h, 3, func(x, y int, px []uint16) {
				c := m.RGBA64At(b.Min.X+x, b.Min.Y+y)
				px[0], px[1], px[2] = c.R, c.G, c.B
			})
		}
		return gather(dtype.Uint16, w, h, 4, func(x, y int, px []uint16) {
			c := color.NRGBA64Model.Convert(m.RGBA64At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			px[0], px[1], px[2], px[3] = c.R, c.G, c.B, c.A
		})
	case *image.NRGBA64:
		return gather(dtype.Uint16, w, h, 4, func(x, y int, px []uint16) {
			c := m.NRGBA64At(b.Min.X+x, b.Min.Y+y)
			px[0], px[1], px[2], px[3] = c.R, c.G, c.B, c.A
		})
	}
	return gather(dtype.Uint8, w, h, 4, func(x, y int, px []uint16) {
		c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
		px[0], px[1], px[2], px[3] = uint16(c.R), uint16(c.G), uint16(c.B), uint16(c.A)
	})
}

func gather(dt dtype.DType, w, h, samples int, at func(x, y int, px []uint16)) *ndarray.Array {
	shape := []int{w, h, samples}
	if samples == 1 {
		shape = shape[:2]
	}
	a := ndarray.New(dt, shape...)
	data := a.Bytes()
	size := dt.Size()
	px := make([]uint16, samples)
	i := 0
	for x := range w {
		for y := range h {
			at(x, y, px)
			for _, v := range px {
				if size == 1 {
					data[i] = uint8(v)
				} else {
					binary.LittleEndian.PutUint16(data[i:], v)
				}
				i += size
			}
		}
	}
	return a
}
