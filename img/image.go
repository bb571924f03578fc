// Package img contains routines for handling sets of 28x28 grayscale images and preparing
// user supplied pictures for classification.
package img

import (
	"image"
	"image/color"
)

var GrayModel = color.ModelFunc(grayModel)

// Gray color stored a float in range 0-1
type Gray struct {
	Y float32
}

func (c Gray) RGBA() (r, g, b, a uint32) {
	y := clampu(c.Y, 0, 1)
	return y, y, y, 0xffff
}

func grayModel(c color.Color) color.Color {
	if _, ok := c.(Gray); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return Gray{Y: 0.299*float32(r)/0xffff + 0.587*float32(g)/0xffff + 0.114*float32(b)/0xffff}
}

// GrayImage type stores the image data as float32 values in row major order, so Pix
// has the same layout as a single (28, 28, 1) network input.
type GrayImage struct {
	Pix    []float32
	Height int
	Width  int
}

func NewGray(width, height int) *GrayImage {
	return &GrayImage{Pix: make([]float32, height*width), Height: height, Width: width}
}

func (m *GrayImage) ColorModel() color.Model {
	return GrayModel
}

func (m *GrayImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *GrayImage) GrayAt(x, y int) Gray {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return Gray{}
	}
	return Gray{Y: m.Pix[y*m.Width+x]}
}

func (m *GrayImage) At(x, y int) color.Color {
	return m.GrayAt(x, y)
}

func (m *GrayImage) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = grayModel(c).(Gray).Y
}

// Highlight renders a monochrome image as dark ink on white. If on is set the background is
// tinted red, used to flag misclassified samples.
func Highlight(src *GrayImage, on bool) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			v := uint8(clampu(1-src.Pix[y*src.Width+x], 0, 1) >> 8)
			c := color.RGBA{R: v, G: v, B: v, A: 0xff}
			if on {
				c.R = 0xff
			}
			dst.SetRGBA(x, y, c)
		}
	}
	return dst
}

func clamp(x, x0, x1 float32) float32 {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}

func clampu(x, x0, x1 float32) uint32 {
	return uint32(clamp(x, x0, x1) * 0xffff)
}
