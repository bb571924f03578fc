package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/bondmcsteve/artificial-intelligence/num"
)

// Layer interface type represents one layer of the neural net.
// Shapes exclude the leading batch dimension; arrays passed to Fprop and Bprop include it.
type Layer interface {
	Init(q num.Queue, inShape []int) error
	InShape() []int
	OutShape() []int
	Fprop(in num.Array) num.Array
	Bprop(grad num.Array) num.Array
	ToString() string
}

// ParamLayer is a layer with weight and bias parameters
type ParamLayer interface {
	Layer
	InitParams(init string, rng *rand.Rand)
	Params() (W, B num.Array)
	ParamGrads() (dW, dB num.Array)
	SetParams(W, B num.Array)
	NumParams() int
}

// OutputLayer is the final layer in the stack
type OutputLayer interface {
	Layer
	Loss(yOneHot, yPred num.Array) num.Array
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage `json:",omitempty"`
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() (Layer, error) {
	var layer Layer
	var cfg interface{}
	switch l.Type {
	case "conv":
		c := new(Conv)
		cfg, layer = c, &convLayer{cfg: c}
	case "maxPool":
		c := new(MaxPool)
		cfg, layer = c, &poolLayer{Pool: (*Pool)(c)}
	case "avgPool":
		c := new(AvgPool)
		cfg, layer = c, &poolLayer{Pool: (*Pool)(c), average: true}
	case "linear":
		c := new(Linear)
		cfg, layer = c, &linear{cfg: c}
	case "activation":
		c := new(Activation)
		cfg, layer = c, &activation{cfg: c}
	case "flatten":
		return &flatten{}, nil
	default:
		return nil, fmt.Errorf("invalid layer type: %q", l.Type)
	}
	if err := json.Unmarshal(l.Data, cfg); err != nil {
		return nil, fmt.Errorf("%s layer: %w", l.Type, err)
	}
	if a, ok := layer.(*activation); ok && a.cfg.Atype != "relu" && a.cfg.Atype != "softmax" {
		return nil, fmt.Errorf("activation type %q invalid", a.cfg.Atype)
	}
	return layer, nil
}

func (l LayerConfig) String() string {
	layer, err := l.Unmarshal()
	if err != nil {
		return err.Error()
	}
	return layer.ToString()
}

// Convolutional layer with square kernel, implements ParamLayer interface.
// Pad of -1 selects "same" padding of Size/2.
type Conv struct {
	Nfeats, Size, Stride, Pad int
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

func (c Conv) ToString() string {
	return fmt.Sprintf("conv %+v", c)
}

// Pooling window settings
type Pool struct {
	Size, Stride int
}

// Max pooling layer, should follow conv layer.
type MaxPool Pool

func (c MaxPool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "maxPool", Data: marshal(c)}
}

// Average pooling layer as used in LeNet-5.
type AvgPool Pool

func (c AvgPool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "avgPool", Data: marshal(c)}
}

// Linear fully connected layer, implements ParamLayer interface.
type Linear struct {
	Nout int
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

// Relu or softmax activation layer. Softmax implements the OutputLayer interface.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

// Flatten layer reshapes from 4 to 2 dimensions.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

// base layer type with output and gradient buffers for each batch size seen
type layerBase struct {
	queue    num.Queue
	inShape  []int
	outShape []int
	src      num.Array
	dst      map[int]num.Array
	dsrc     map[int]num.Array
}

func (l *layerBase) init(q num.Queue, inShape, outShape []int) {
	l.queue = q
	l.inShape = append([]int{}, inShape...)
	l.outShape = append([]int{}, outShape...)
	l.dst = make(map[int]num.Array)
	l.dsrc = make(map[int]num.Array)
}

func (l *layerBase) InShape() []int { return l.inShape }

func (l *layerBase) OutShape() []int { return l.outShape }

// output array for batch of size n
func (l *layerBase) output(n int) num.Array {
	if a, ok := l.dst[n]; ok {
		return a
	}
	a := l.queue.NewArray(num.Float32, append([]int{n}, l.outShape...)...)
	l.dst[n] = a
	return a
}

// input gradient array for batch of size n
func (l *layerBase) inputGrad(n int) num.Array {
	if a, ok := l.dsrc[n]; ok {
		return a
	}
	a := l.queue.NewArray(num.Float32, append([]int{n}, l.inShape...)...)
	l.dsrc[n] = a
	return a
}

func batchSize(a num.Array) int { return a.Dims()[0] }

// linear layer implementation: dst = src x W + B
type linear struct {
	cfg *Linear
	layerBase
	paramBase
	ones map[int]num.Array
}

func (l *linear) ToString() string { return fmt.Sprintf("linear %+v", *l.cfg) }

func (l *linear) Init(q num.Queue, inShape []int) error {
	if len(inShape) != 1 {
		return fmt.Errorf("linear: expect flattened input, got shape %v", inShape)
	}
	if l.cfg.Nout < 1 {
		return fmt.Errorf("linear: invalid output size %d", l.cfg.Nout)
	}
	l.layerBase.init(q, inShape, []int{l.cfg.Nout})
	l.paramBase = newParams(q, []int{inShape[0], l.cfg.Nout}, []int{l.cfg.Nout})
	l.ones = make(map[int]num.Array)
	return nil
}

func (l *linear) Fprop(in num.Array) num.Array {
	l.src = in
	dst := l.output(batchSize(in))
	l.queue.Call(
		num.Copy(dst, l.b),
		num.Gemm(1, 1, in, l.w, dst, num.NoTrans, num.NoTrans),
	)
	return dst
}

func (l *linear) Bprop(grad num.Array) num.Array {
	n := batchSize(grad)
	ones, ok := l.ones[n]
	if !ok {
		ones = l.queue.NewArray(num.Float32, n)
		l.queue.Call(num.Fill(ones, 1))
		l.ones[n] = ones
	}
	dsrc := l.inputGrad(n)
	l.queue.Call(
		num.Gemv(1, 0, grad, ones, l.db, num.Trans),
		num.Gemm(1, 0, l.src, grad, l.dw, num.Trans, num.NoTrans),
		num.Gemm(1, 0, grad, l.w, dsrc, num.NoTrans, num.Trans),
	)
	return dsrc
}

// layerDNN wraps a num.Layer primitive, creating a new one for each batch size
type layerDNN struct {
	layerBase
	create func(nBatch int) num.Layer
	layers map[int]num.Layer
	layer  num.Layer
}

func (l *layerDNN) get(n int) num.Layer {
	if layer, ok := l.layers[n]; ok {
		return layer
	}
	layer := l.create(n)
	l.layers[n] = layer
	return layer
}

func (l *layerDNN) Fprop(in num.Array) num.Array {
	l.layer = l.get(batchSize(in))
	l.layer.SetSrc(in)
	l.queue.Call(num.Fprop(l.layer))
	return l.layer.Dst()
}

func (l *layerDNN) Bprop(grad num.Array) num.Array {
	l.layer.SetDiffDst(grad)
	l.queue.Call(num.BpropData(l.layer))
	if l.layer.HasParams() {
		l.queue.Call(
			num.BpropFilter(l.layer),
			num.BpropBias(l.layer),
		)
	}
	return l.layer.DiffSrc()
}

// convolutional layer implementation
type convLayer struct {
	cfg *Conv
	layerDNN
	paramBase
}

func (l *convLayer) ToString() string { return l.cfg.ToString() }

func (l *convLayer) Init(q num.Queue, inShape []int) error {
	if len(inShape) != 3 {
		return fmt.Errorf("conv: expect 3 dimensional input, got shape %v", inShape)
	}
	c := *l.cfg
	if c.Stride < 1 {
		c.Stride = 1
	}
	if c.Pad < 0 {
		c.Pad = c.Size / 2
	}
	h, w, depth := inShape[0], inShape[1], inShape[2]
	oh := (h+2*c.Pad-c.Size)/c.Stride + 1
	ow := (w+2*c.Pad-c.Size)/c.Stride + 1
	if c.Nfeats < 1 || c.Size < 1 || oh < 1 || ow < 1 {
		return fmt.Errorf("conv: %+v invalid for input shape %v", *l.cfg, inShape)
	}
	l.layerBase.init(q, inShape, []int{oh, ow, c.Nfeats})
	l.paramBase = newParams(q, []int{c.Size, c.Size, depth, c.Nfeats}, []int{c.Nfeats})
	l.layers = make(map[int]num.Layer)
	l.create = func(n int) num.Layer {
		layer := q.ConvLayer(n, h, w, depth, c.Nfeats, c.Size, c.Stride, c.Pad)
		layer.SetParams(l.w, l.b, l.dw, l.db)
		return layer
	}
	return nil
}

// pool layer implementation
type poolLayer struct {
	*Pool
	layerDNN
	average bool
}

func (l *poolLayer) ToString() string {
	if l.average {
		return fmt.Sprintf("avgPool %+v", *l.Pool)
	}
	return fmt.Sprintf("maxPool %+v", *l.Pool)
}

func (l *poolLayer) Init(q num.Queue, inShape []int) error {
	if len(inShape) != 3 {
		return fmt.Errorf("pool: expect 3 dimensional input, got shape %v", inShape)
	}
	size, stride := l.Size, l.Stride
	if stride < 1 {
		stride = size
	}
	h, w, depth := inShape[0], inShape[1], inShape[2]
	if size < 1 || h < size || w < size {
		return fmt.Errorf("pool: window %d invalid for input shape %v", size, inShape)
	}
	l.layerBase.init(q, inShape, []int{(h-size)/stride + 1, (w-size)/stride + 1, depth})
	l.layers = make(map[int]num.Layer)
	l.create = func(n int) num.Layer {
		return q.PoolLayer(n, h, w, depth, size, stride, l.average)
	}
	return nil
}

// relu or softmax activation layer
type activation struct {
	cfg *Activation
	layerBase
	loss map[int]num.Array
}

func (l *activation) ToString() string { return "activation " + l.cfg.Atype }

func (l *activation) Init(q num.Queue, inShape []int) error {
	if l.cfg.Atype == "softmax" && len(inShape) != 1 {
		return fmt.Errorf("softmax: expect flattened input, got shape %v", inShape)
	}
	l.layerBase.init(q, inShape, inShape)
	l.loss = make(map[int]num.Array)
	return nil
}

func (l *activation) Fprop(in num.Array) num.Array {
	l.src = in
	dst := l.output(batchSize(in))
	if l.cfg.Atype == "softmax" {
		l.queue.Call(num.Softmax(in, dst))
	} else {
		l.queue.Call(num.Relu(in, dst))
	}
	return dst
}

// For softmax the gradient passed in is already with respect to the pre-activation input,
// since the combined softmax and cross entropy derivative is yPred - yOneHot.
func (l *activation) Bprop(grad num.Array) num.Array {
	dsrc := l.inputGrad(batchSize(grad))
	if l.cfg.Atype == "softmax" {
		l.queue.Call(num.Copy(dsrc, grad))
	} else {
		l.queue.Call(num.ReluD(l.src, grad, dsrc))
	}
	return dsrc
}

func (l *activation) Loss(yOneHot, yPred num.Array) num.Array {
	n := batchSize(yPred)
	loss, ok := l.loss[n]
	if !ok {
		loss = l.queue.NewArray(num.Float32, n)
		l.loss[n] = loss
	}
	l.queue.Call(num.SoftmaxLoss(yOneHot, yPred, loss))
	return loss
}

type flatten struct {
	layerBase
}

func (l *flatten) ToString() string { return "flatten" }

func (l *flatten) Init(q num.Queue, inShape []int) error {
	l.layerBase.init(q, inShape, []int{num.Prod(inShape)})
	return nil
}

func (l *flatten) Fprop(in num.Array) num.Array {
	l.src = in
	return in.Reshape(batchSize(in), -1)
}

func (l *flatten) Bprop(grad num.Array) num.Array {
	return grad.Reshape(l.src.Dims()...)
}

// weight and bias parameters
type paramBase struct {
	que    num.Queue
	w, b   num.Array
	dw, db num.Array
}

func newParams(q num.Queue, wShape, bShape []int) paramBase {
	return paramBase{
		que: q,
		w:   q.NewArray(num.Float32, wShape...),
		b:   q.NewArray(num.Float32, bShape...),
		dw:  q.NewArray(num.Float32, wShape...),
		db:  q.NewArray(num.Float32, bShape...),
	}
}

func (p *paramBase) Params() (W, B num.Array) {
	return p.w, p.b
}

func (p *paramBase) ParamGrads() (dW, dB num.Array) {
	return p.dw, p.db
}

func (p *paramBase) NumParams() int {
	return p.w.Size() + p.b.Size()
}

// Fan in and fan out for a [k, k, in, out] or [in, out] weight array.
func (p *paramBase) fans() (fanIn, fanOut float64) {
	dims := p.w.Dims()
	receptive := num.Prod(dims[:len(dims)-2])
	fanIn = float64(receptive * dims[len(dims)-2])
	fanOut = float64(receptive * dims[len(dims)-1])
	return
}

// InitParams sets the bias to zero and initialises the weights using one of
// glorot_uniform: uniform in +-sqrt(6/(fanIn+fanOut))
// normal: gaussian with stddev 1/sqrt(fanIn)
func (p *paramBase) InitParams(init string, rng *rand.Rand) {
	fanIn, fanOut := p.fans()
	weights := make([]float32, p.w.Size())
	if init == "normal" {
		scale := 1 / math.Sqrt(fanIn)
		for i := range weights {
			weights[i] = float32(rng.NormFloat64() * scale)
		}
	} else {
		limit := math.Sqrt(6 / (fanIn + fanOut))
		for i := range weights {
			weights[i] = float32((2*rng.Float64() - 1) * limit)
		}
	}
	p.que.Call(
		num.Write(p.w, weights),
		num.Fill(p.b, 0),
	)
}

func (p *paramBase) SetParams(W, B num.Array) {
	p.que.Call(num.Copy(p.w, W), num.Copy(p.b, B))
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
