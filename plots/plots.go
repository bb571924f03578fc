// Package plots draws the training history charts for the command line and web interfaces.
package plots

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bondmcsteve/artificial-intelligence/nnet"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgpdf"
	"gonum.org/v1/plot/vg/vgsvg"
)

// Loss returns a plot of the training and validation loss for each epoch
func Loss(stats []nnet.Stats) *plot.Plot {
	p := newPlot("loss")
	addLine(p, "loss", stats, 0, func(s nnet.Stats) float64 { return s.Loss })
	if hasValid(stats) {
		addLine(p, "val_loss", stats, 1, func(s nnet.Stats) float64 { return s.ValLoss })
	}
	return p
}

// Accuracy returns a plot of the training and validation accuracy in percent for each epoch
func Accuracy(stats []nnet.Stats) *plot.Plot {
	p := newPlot("accuracy %")
	addLine(p, "accuracy", stats, 0, func(s nnet.Stats) float64 { return 100 * s.Accuracy })
	if hasValid(stats) {
		addLine(p, "val_accuracy", stats, 1, func(s nnet.Stats) float64 { return 100 * s.ValAccuracy })
	}
	return p
}

// SVG renders a single plot as SVG with size in pixels
func SVG(p *plot.Plot, width, height int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := p.WriterTo(pixels(width), pixels(height), "svg")
	if err != nil {
		return nil, err
	}
	if _, err = writer.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write draws the loss and accuracy plots side by side. Format is svg, png or pdf.
func Write(w io.Writer, stats []nnet.Stats, format string, width, height int) error {
	var c interface {
		vg.CanvasSizer
		io.WriterTo
	}
	wd, ht := pixels(width), pixels(height)
	switch strings.ToLower(format) {
	case "svg":
		c = vgsvg.New(wd, ht)
	case "png":
		c = vgimg.PngCanvas{Canvas: vgimg.New(wd, ht)}
	case "pdf":
		c = vgpdf.New(wd, ht)
	default:
		return fmt.Errorf("unsupported plot format %q", format)
	}
	plots := [][]*plot.Plot{{Loss(stats), Accuracy(stats)}}
	tiles := draw.Tiles{Rows: 1, Cols: 2, PadX: vg.Millimeter, PadY: vg.Millimeter}
	canvases := plot.Align(plots, tiles, draw.New(c))
	for i, p := range plots[0] {
		p.Draw(canvases[0][i])
	}
	_, err := c.WriteTo(w)
	return err
}

// Save writes the history plots to a file with the format taken from the extension
func Save(path string, stats []nnet.Stats, width, height int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if err = Write(f, stats, format, width, height); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// size in points which renders as n pixels at the default image resolution
func pixels(n int) vg.Length {
	return vg.Inch * vg.Length(n) / vgimg.DefaultDPI
}

func hasValid(stats []nnet.Stats) bool {
	for _, s := range stats {
		if s.Valid {
			return true
		}
	}
	return false
}

func newPlot(ylabel string) *plot.Plot {
	p := plot.New()
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = ylabel
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = vg.Points(12)
	p.X.Tick.Marker = epochTicks(0)
	p.Add(plotter.NewGrid())
	return p
}

// integer epoch ticks, thinned out to at most 10 labels
type epochTicks int

func (t epochTicks) Ticks(min, max float64) []plot.Tick {
	step := int(max-min)/10 + 1
	var ticks []plot.Tick
	for x := int(min); x <= int(max); x++ {
		tick := plot.Tick{Value: float64(x)}
		if (x-int(min))%step == 0 {
			tick.Label = fmt.Sprint(x)
		}
		ticks = append(ticks, tick)
	}
	return ticks
}

func addLine(p *plot.Plot, name string, stats []nnet.Stats, ix int, value func(nnet.Stats) float64) {
	l := newLinePlot(stats, ix, value)
	p.Add(l)
	p.Legend.Add(name+" ", l)
}

func newLinePlot(stats []nnet.Stats, ix int, value func(nnet.Stats) float64) linePlot {
	var pts plotter.XYs
	xmax, ymax := 1.0, 0.0
	for _, s := range stats {
		pt := plotter.XY{X: float64(s.Epoch), Y: value(s)}
		pts = append(pts, pt)
		if pt.X > xmax {
			xmax = pt.X
		}
		if pt.Y > ymax {
			ymax = pt.Y
		}
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		l = &plotter.Line{XYs: pts}
	}
	l.Width = vg.Points(2)
	l.Color = plotutil.Color(ix)
	return linePlot{Line: l, xmin: 1, xmax: xmax, ymin: 0, ymax: ymax}
}

// modified plotter.Line with a fixed scale starting from zero
type linePlot struct {
	*plotter.Line
	xmin, xmax, ymin, ymax float64
}

func (l linePlot) DataRange() (xmin, xmax, ymin, ymax float64) {
	return l.xmin, l.xmax, l.ymin, l.ymax
}
