package img

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned if the input is not a supported image
var ErrDecode = errors.New("cannot decode image")

// largest accepted source image
const maxPixels = 4096 * 4096

// Decode reads an image in any of the registered formats: png, jpeg, gif, bmp, tiff or webp.
func Decode(r io.Reader) (image.Image, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	conf, format, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if conf.Width <= 0 || conf.Height <= 0 || conf.Width*conf.Height > maxPixels {
		return nil, fmt.Errorf("%w: %s image size %dx%d not supported", ErrDecode, format, conf.Width, conf.Height)
	}
	m, _, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, format, err)
	}
	return m, nil
}

// DecodeDataURL decodes a base64 encoded image data URL as generated by canvas.toDataURL()
func DecodeDataURL(url string) (image.Image, error) {
	header, payload, ok := strings.Cut(strings.TrimSpace(url), ",")
	if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("%w: expecting base64 image data URL", ErrDecode)
	}
	buf, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Decode(bytes.NewReader(buf))
}

// Invert setting for the Preprocessor
type Invert int

const (
	InvertAuto Invert = iota
	InvertAlways
	InvertNever
)

var invertNames = []string{"auto", "always", "never"}

func (i Invert) String() string {
	if i < 0 || int(i) >= len(invertNames) {
		return fmt.Sprintf("Invert(%d)", int(i))
	}
	return invertNames[i]
}

// ParseInvert converts auto, always or never to an Invert value
func ParseInvert(s string) (Invert, error) {
	for i, name := range invertNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Invert(i), nil
		}
	}
	return 0, fmt.Errorf("invalid invert option %q: must be one of %s", s, strings.Join(invertNames, ", "))
}

// Preprocessor converts an arbitrary picture to the form of the training images: white
// strokes on a black background, scaled to Width x Height with values from 0 to 1.
type Preprocessor struct {
	Width  int
	Height int
	Invert Invert
	Scaler draw.Scaler
}

// NewPreprocessor returns a preprocessor for 28x28 images using Catmull-Rom resampling.
func NewPreprocessor(invert Invert) *Preprocessor {
	return &Preprocessor{Width: 28, Height: 28, Invert: invert, Scaler: draw.CatmullRom}
}

// Shape of the tensor generated by Input
func (p *Preprocessor) Shape() []int {
	return []int{1, p.Height, p.Width, 1}
}

// Gray converts the source image to 8 bit grayscale after compositing it on a white
// background, and resizes it if required.
func (p *Preprocessor) Gray(src image.Image) *image.Gray {
	b := src.Bounds()
	flat := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(flat, flat.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), src, b.Min, draw.Over)
	if b.Dx() == p.Width && b.Dy() == p.Height {
		return flat
	}
	dst := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	p.Scaler.Scale(dst, dst.Bounds(), flat, flat.Bounds(), draw.Src, nil)
	return dst
}

// Process returns the normalised image, inverted if required.
func (p *Preprocessor) Process(src image.Image) *GrayImage {
	g := p.Gray(src)
	invert := p.Invert == InvertAlways || (p.Invert == InvertAuto && lightBackground(g))
	dst := NewGray(p.Width, p.Height)
	for y := 0; y < p.Height; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+p.Width]
		for x, v := range row {
			if invert {
				v = 255 - v
			}
			dst.Pix[y*p.Width+x] = float32(v) / 255
		}
	}
	return dst
}

// Input returns the processed pixels in the layout of a single network input
func (p *Preprocessor) Input(src image.Image) []float32 {
	return p.Process(src).Pix
}

// true if the mean of the border pixels is above mid gray
func lightBackground(g *image.Gray) bool {
	b := g.Bounds()
	var sum, n int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if y == b.Min.Y || y == b.Max.Y-1 || x == b.Min.X || x == b.Max.X-1 {
				sum += int(g.GrayAt(x, y).Y)
				n++
			}
		}
	}
	return n > 0 && 2*sum > 255*n
}
