package img

import (
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	gridBorder = 4
	captionH   = 16
)

// GridOptions controls the layout of a sample grid
type GridOptions struct {
	Cols    int
	Scale   int
	Caption bool
	// Predicted classes, if set images which do not match the label are highlighted
	Pred []int32
}

// Grid renders the selected images in a grid with the class name of each under the image.
func Grid(d *Data, index []int, opts GridOptions) *image.RGBA {
	if opts.Cols < 1 {
		opts.Cols = 1
	}
	if opts.Scale < 1 {
		opts.Scale = 1
	}
	rows := (len(index) + opts.Cols - 1) / opts.Cols
	cw, ch := d.Dims[1]*opts.Scale, d.Dims[0]*opts.Scale
	cellW, cellH := cw+gridBorder, ch+gridBorder
	if opts.Caption {
		cellH += captionH
	}
	dst := image.NewRGBA(image.Rect(0, 0, opts.Cols*cellW+gridBorder, rows*cellH+gridBorder))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	drawer := &font.Drawer{Dst: dst, Src: image.Black, Face: basicfont.Face7x13}
	for i, ix := range index {
		x0 := gridBorder + (i%opts.Cols)*cellW
		y0 := gridBorder + (i/opts.Cols)*cellH
		highlight := opts.Pred != nil && opts.Pred[i] != d.Labels[ix]
		src := Highlight(d.Gray(ix), highlight)
		r := image.Rect(x0, y0, x0+cw, y0+ch)
		draw.NearestNeighbor.Scale(dst, r, src, src.Bounds(), draw.Src, nil)
		if opts.Caption {
			caption(drawer, d.Class[d.Labels[ix]], x0, y0+ch+captionH-4, cw)
		}
	}
	return dst
}

// draw text centered in the given width, truncated if needed
func caption(d *font.Drawer, text string, x, y, width int) {
	for len(text) > 0 && d.MeasureString(text).Ceil() > width {
		text = text[:len(text)-1]
	}
	dx := (width - d.MeasureString(text).Ceil()) / 2
	d.Dot = fixed.P(x+dx, y)
	d.DrawString(text)
}
