package img

import (
	"encoding/gob"
	"fmt"
	"image"
	"io"

	"github.com/bondmcsteve/artificial-intelligence/stats"
)

// Image data set which implements the nnet.Data interface. Pixels are stored as raw
// bytes and scaled to the range 0-1 as they are read.
type Data struct {
	DataHead
	Pix []uint8
}

type DataHead struct {
	Name   string
	Class  []string
	Dims   []int
	Labels []int32
	Mean   float32
	StdDev float32
}

// Create a new image set from height x width byte images stored one after the other.
func NewData(name string, classes []string, labels []int32, height, width int, pix []uint8) (*Data, error) {
	if len(labels)*height*width != len(pix) {
		return nil, fmt.Errorf("%s: have %d labels and %d pixels for %dx%d images", name, len(labels), len(pix), height, width)
	}
	for i, l := range labels {
		if l < 0 || int(l) >= len(classes) {
			return nil, fmt.Errorf("%s: label %d at index %d out of range", name, l, i)
		}
	}
	return &Data{
		DataHead: DataHead{Name: name, Class: classes, Dims: []int{height, width, 1}, Labels: labels},
		Pix:      pix,
	}, nil
}

// Len function returns number of images
func (d *Data) Len() int { return len(d.Labels) }

// Classes returns the label names
func (d *Data) Classes() []string { return d.Class }

// Shape returns height, width, channels
func (d *Data) Shape() []int { return d.Dims }

// Label returns classification for given images
func (d *Data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

// Input returns the pixel data divided by 255 in buf array
func (d *Data) Input(index []int, buf []float32) {
	nfeat := d.nfeat()
	for i, ix := range index {
		src := d.Pix[ix*nfeat : (ix+1)*nfeat]
		dst := buf[i*nfeat : (i+1)*nfeat]
		for j, v := range src {
			dst[j] = float32(v) / 255
		}
	}
}

// Image returns given image number
func (d *Data) Image(ix int) image.Image {
	return d.Gray(ix)
}

// Gray returns given image number with normalised pixel values
func (d *Data) Gray(ix int) *GrayImage {
	m := NewGray(d.Dims[1], d.Dims[0])
	d.Input([]int{ix}, m.Pix)
	return m
}

// Slice returns images from start to end
func (d *Data) Slice(start, end int) *Data {
	data := *d
	nfeat := d.nfeat()
	data.Labels = append([]int32{}, d.Labels[start:end]...)
	data.Pix = append([]uint8{}, d.Pix[start*nfeat:end*nfeat]...)
	return &data
}

// Distribution returns the number of samples for each class
func (d *Data) Distribution() []int {
	count := make([]int, len(d.Class))
	for _, l := range d.Labels {
		count[l]++
	}
	return count
}

func (d *Data) nfeat() int {
	n := 1
	for _, d := range d.Dims {
		n *= d
	}
	return n
}

// Encode data to binary file
func (d *Data) Encode(w io.Writer) error {
	enc := gob.NewEncoder(w)
	if err := enc.Encode(&d.DataHead); err != nil {
		return fmt.Errorf("error encoding header: %w", err)
	}
	if err := enc.Encode(d.Pix); err != nil {
		return fmt.Errorf("error encoding pixels: %w", err)
	}
	return nil
}

// Decode data from binary file
func (d *Data) Decode(r io.Reader) error {
	d.DataHead = DataHead{}
	d.Pix = nil
	dec := gob.NewDecoder(r)
	if err := dec.Decode(&d.DataHead); err != nil {
		return fmt.Errorf("error decoding header: %w", err)
	}
	if err := dec.Decode(&d.Pix); err != nil {
		return fmt.Errorf("error decoding pixels: %w", err)
	}
	if len(d.Pix) != d.Len()*d.nfeat() {
		return fmt.Errorf("error decoding %s: expecting %d pixels, got %d", d.Name, d.Len()*d.nfeat(), len(d.Pix))
	}
	return nil
}

// Calculate mean and stddev of the normalised pixel values over a set of images
func GetStats(data ...*Data) (mean, std float32) {
	var s stats.Average
	for _, d := range data {
		for _, v := range d.Pix {
			s.Add(float64(v) / 255)
		}
	}
	mean, std = float32(s.Mean), float32(s.StdDev)
	for _, d := range data {
		d.Mean, d.StdDev = mean, std
	}
	return mean, std
}
