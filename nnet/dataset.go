package nnet

import (
	"fmt"
	"image"
	"math/rand"
	"strconv"

	"github.com/bondmcsteve/artificial-intelligence/num"
)

// Data interface type represents the raw data for a training or test set
type Data interface {
	Len() int
	Classes() []string
	Shape() []int
	Label(index []int, label []int32)
	Input(index []int, buf []float32)
	Image(i int) image.Image
}

// Dataset type encapsulates a set of training, test or validation data.
type Dataset struct {
	Data
	Samples   int
	BatchSize int
	Batches   int
	queue     num.Queue
	xBuffer   []float32
	yBuffer   []int32
	x, y, y1H [2]num.Array
	indexes   []int
	batch     int
	rng       *rand.Rand
}

// Create a new Dataset struct and allocate array buffers for full batches and the final partial batch.
func NewDataset(q num.Queue, data Data, batchSize int, rng *rand.Rand) *Dataset {
	d := &Dataset{Data: data, Samples: data.Len(), queue: q, rng: rng}
	if batchSize <= 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	d.Batches = d.Samples / d.BatchSize
	last := d.Samples % d.BatchSize
	if last != 0 {
		d.Batches++
	}
	nfeat := num.Prod(data.Shape())
	d.xBuffer = make([]float32, nfeat*d.BatchSize)
	d.yBuffer = make([]int32, d.BatchSize)
	for i, size := range []int{d.BatchSize, last} {
		if size == 0 {
			continue
		}
		d.x[i] = q.NewArray(num.Float32, append([]int{size}, data.Shape()...)...)
		d.y[i] = q.NewArray(num.Int32, size)
		d.y1H[i] = q.NewArray(num.Float32, size, d.NumClasses())
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	return d
}

// NumClasses is the width of the one hot label vectors
func (d *Dataset) NumClasses() int {
	return len(d.Classes())
}

// release allocated buffers
func (d *Dataset) Release() {
	for i := range d.x {
		num.Release(d.x[i], d.y[i], d.y1H[i])
	}
}

// Called at start of each epoch
func (d *Dataset) NextEpoch() {
	d.batch = 0
}

// Get next batch of data: input images, integer labels and one hot encoded labels.
func (d *Dataset) NextBatch() (x, y, yOneHot num.Array) {
	start := d.batch * d.BatchSize
	end := start + d.BatchSize
	buf := 0
	if end > d.Samples {
		end = d.Samples
		buf = 1
	}
	n := end - start
	nfeat := num.Prod(d.Shape())
	d.Input(d.indexes[start:end], d.xBuffer)
	d.Label(d.indexes[start:end], d.yBuffer)
	x, y, yOneHot = d.x[buf], d.y[buf], d.y1H[buf]
	d.queue.Call(
		num.Write(x, d.xBuffer[:n*nfeat]),
		num.Write(y, d.yBuffer[:n]),
		num.Onehot(y, yOneHot, d.NumClasses()),
	).Finish()
	d.batch = (d.batch + 1) % d.Batches
	return
}

// Shuffle the data set
func (d *Dataset) Shuffle() {
	d.indexes = d.rng.Perm(d.Samples)
}

// Split divides the data into training and validation sets. The validation set is the last
// fraction of the samples, taken before any shuffling.
func Split(d Data, fraction float64) (train, valid Data, err error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("validation fraction %g must be in range (0,1)", fraction)
	}
	n := d.Len()
	at := int(float64(n) * (1 - fraction))
	if at == 0 || at == n {
		return nil, nil, fmt.Errorf("cannot split %d samples with validation fraction %g", n, fraction)
	}
	return Subset(d, 0, at), Subset(d, at, n), nil
}

// Subset returns a view on samples [start, end) of the data
func Subset(d Data, start, end int) Data {
	return subset{Data: d, start: start, n: end - start}
}

type subset struct {
	Data
	start, n int
}

func (s subset) Len() int { return s.n }

func (s subset) offset(index []int) []int {
	ix := make([]int, len(index))
	for i, v := range index {
		ix[i] = v + s.start
	}
	return ix
}

func (s subset) Label(index []int, label []int32) { s.Data.Label(s.offset(index), label) }

func (s subset) Input(index []int, buf []float32) { s.Data.Input(s.offset(index), buf) }

func (s subset) Image(i int) image.Image { return s.Data.Image(i + s.start) }

type data struct {
	Class  []string
	Dims   []int
	Labels []int32
	Inputs []float32
}

// NewData function creates a new in memory data set which implements the Data interface
func NewData(nclasses int, shape []int, labels []int32, inputs []float32) Data {
	classes := make([]string, nclasses)
	for i := range classes {
		classes[i] = strconv.Itoa(i)
	}
	return data{Class: classes, Dims: shape, Labels: labels, Inputs: inputs}
}

func (d data) Len() int { return len(d.Labels) }

func (d data) Classes() []string { return d.Class }

func (d data) Shape() []int { return d.Dims }

func (d data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

func (d data) Input(index []int, buf []float32) {
	nfeat := num.Prod(d.Dims)
	for i, ix := range index {
		copy(buf[i*nfeat:], d.Inputs[ix*nfeat:(ix+1)*nfeat])
	}
}

func (d data) Image(i int) image.Image { return nil }
