package num

import (
	"fmt"
)

// Layer interface type represents a convolution or pooling layer primitive.
// Arrays are in NHWC order: batch, height, width, channels.
type Layer interface {
	Dst() Array
	DiffSrc() Array
	SetSrc(Array)
	SetDiffDst(Array)
	SetParams(W, B, dW, dB Array)
	HasParams() bool
	Type() string
	InShape() []int
	OutShape() []int
	FilterShape() []int
	BiasShape() []int
}

// primitive operations implemented by each layer type
type layerOps interface {
	fprop()
	bpropData()
	bpropFilter()
	bpropBias()
}

type layerBase struct {
	ltype          string
	inShape        []int
	outShape       []int
	src, diffDst   Array
	dst, diffSrc   Array
	w, b, dw, db   Array
	filter, biasSh []int
}

func (l *layerBase) Dst() Array { return l.dst }

func (l *layerBase) DiffSrc() Array { return l.diffSrc }

func (l *layerBase) Type() string { return l.ltype }

func (l *layerBase) InShape() []int { return l.inShape }

func (l *layerBase) OutShape() []int { return l.outShape }

func (l *layerBase) FilterShape() []int { return l.filter }

func (l *layerBase) BiasShape() []int { return l.biasSh }

func (l *layerBase) HasParams() bool { return l.filter != nil }

func (l *layerBase) SetDiffDst(a Array) {
	if a.Size() != Prod(l.outShape) {
		panic(fmt.Sprintf("%s: gradient shape %v does not match %v", l.ltype, a.Dims(), l.outShape))
	}
	l.diffDst = a
}

func (l *layerBase) SetParams(W, B, dW, dB Array) {
	if !l.HasParams() {
		panic(l.ltype + ": layer has no parameters")
	}
	if !SameShape(W.Dims(), l.filter) || !SameShape(B.Dims(), l.biasSh) {
		panic(fmt.Sprintf("%s: invalid parameter shape %v %v", l.ltype, W.Dims(), B.Dims()))
	}
	l.w, l.b, l.dw, l.db = W, B, dW, dB
}

func (l *layerBase) SetSrc(a Array) {
	if a.Size() != Prod(l.inShape) {
		panic(fmt.Sprintf("%s: input shape %v does not match %v", l.ltype, a.Dims(), l.inShape))
	}
	l.src = a
}

// Convolution layer with nFeats output channels, square kernel of given size, stride and zero padding.
// Implemented as im2col followed by a matrix multiply.
type convLayer struct {
	layerBase
	n, h, width, c int
	oh, ow, nFeats int
	size, stride   int
	pad            int
	col, diffCol   Array
}

// ConvLayer creates a new convolution primitive. Filter shape is [size, size, depth, nFeats].
func (d cpuDevice) ConvLayer(nBatch, h, w, depth, nFeats, size, stride, pad int) Layer {
	if stride < 1 {
		stride = 1
	}
	oh := (h+2*pad-size)/stride + 1
	ow := (w+2*pad-size)/stride + 1
	if oh < 1 || ow < 1 {
		panic(fmt.Sprintf("ConvLayer: kernel %d too large for %dx%d input", size, h, w))
	}
	l := &convLayer{n: nBatch, h: h, width: w, c: depth, oh: oh, ow: ow, nFeats: nFeats, size: size, stride: stride, pad: pad}
	l.layerBase = layerBase{
		ltype:    "conv",
		inShape:  []int{nBatch, h, w, depth},
		outShape: []int{nBatch, oh, ow, nFeats},
		filter:   []int{size, size, depth, nFeats},
		biasSh:   []int{nFeats},
	}
	rows, k := nBatch*oh*ow, size*size*depth
	l.col = d.NewArray(Float32, rows, k)
	l.diffCol = d.NewArray(Float32, rows, k)
	l.dst = d.NewArray(Float32, l.outShape...)
	l.diffSrc = d.NewArray(Float32, l.inShape...)
	return l
}

// weights as a [size*size*depth, nFeats] matrix
func (l *convLayer) weights(W Array) Array {
	return W.Reshape(l.size*l.size*l.c, l.nFeats)
}

// output or output gradient as a [batch*oh*ow, nFeats] matrix
func (l *convLayer) outputs(a Array) Array {
	return a.Reshape(l.n*l.oh*l.ow, l.nFeats)
}

// copy input patches to rows of the col matrix, patch order is ky, kx, channel
func (l *convLayer) im2col() {
	src, col := l.src.Float32s(), l.col.Float32s()
	k := l.size * l.size * l.c
	row := 0
	for n := 0; n < l.n; n++ {
		for oy := 0; oy < l.oh; oy++ {
			for ox := 0; ox < l.ow; ox++ {
				out := col[row*k : (row+1)*k]
				i := 0
				for ky := 0; ky < l.size; ky++ {
					y := oy*l.stride + ky - l.pad
					for kx := 0; kx < l.size; kx++ {
						x := ox*l.stride + kx - l.pad
						if y < 0 || y >= l.h || x < 0 || x >= l.width {
							for ch := 0; ch < l.c; ch++ {
								out[i+ch] = 0
							}
						} else {
							base := ((n*l.h+y)*l.width + x) * l.c
							copy(out[i:i+l.c], src[base:base+l.c])
						}
						i += l.c
					}
				}
				row++
			}
		}
	}
}

// accumulate col matrix gradients back to the input positions
func (l *convLayer) col2im() {
	dsrc, dcol := l.diffSrc.Float32s(), l.diffCol.Float32s()
	for i := range dsrc {
		dsrc[i] = 0
	}
	k := l.size * l.size * l.c
	row := 0
	for n := 0; n < l.n; n++ {
		for oy := 0; oy < l.oh; oy++ {
			for ox := 0; ox < l.ow; ox++ {
				in := dcol[row*k : (row+1)*k]
				i := 0
				for ky := 0; ky < l.size; ky++ {
					y := oy*l.stride + ky - l.pad
					for kx := 0; kx < l.size; kx++ {
						x := ox*l.stride + kx - l.pad
						if y >= 0 && y < l.h && x >= 0 && x < l.width {
							base := ((n*l.h+y)*l.width + x) * l.c
							for ch := 0; ch < l.c; ch++ {
								dsrc[base+ch] += in[i+ch]
							}
						}
						i += l.c
					}
				}
				row++
			}
		}
	}
}

func (l *convLayer) fprop() {
	l.im2col()
	dst := l.outputs(l.dst)
	Copy(dst, l.b).call()
	Gemm(1, 1, l.col, l.weights(l.w), dst, NoTrans, NoTrans).call()
}

func (l *convLayer) bpropData() {
	Gemm(1, 0, l.outputs(l.diffDst), l.weights(l.w), l.diffCol, NoTrans, Trans).call()
	l.col2im()
}

func (l *convLayer) bpropFilter() {
	Gemm(1, 0, l.col, l.outputs(l.diffDst), l.weights(l.dw), Trans, NoTrans).call()
}

func (l *convLayer) bpropBias() {
	db, grad := l.db.Float32s(), l.diffDst.Float32s()
	for i := range db {
		db[i] = 0
	}
	for i, g := range grad {
		db[i%l.nFeats] += g
	}
}

// Max or average pooling layer with square window and no padding.
type poolLayer struct {
	layerBase
	n, h, width, c int
	oh, ow         int
	size, stride   int
	average        bool
	mask           []int
}

// PoolLayer creates a new max pooling, or if average is set, average pooling primitive.
func (d cpuDevice) PoolLayer(nBatch, h, w, depth, size, stride int, average bool) Layer {
	if stride < 1 {
		stride = size
	}
	oh := (h-size)/stride + 1
	ow := (w-size)/stride + 1
	if oh < 1 || ow < 1 {
		panic(fmt.Sprintf("PoolLayer: window %d too large for %dx%d input", size, h, w))
	}
	l := &poolLayer{n: nBatch, h: h, width: w, c: depth, oh: oh, ow: ow, size: size, stride: stride, average: average}
	l.layerBase = layerBase{
		ltype:    "maxPool",
		inShape:  []int{nBatch, h, w, depth},
		outShape: []int{nBatch, oh, ow, depth},
	}
	if average {
		l.ltype = "avgPool"
	} else {
		l.mask = make([]int, Prod(l.outShape))
	}
	l.dst = d.NewArray(Float32, l.outShape...)
	l.diffSrc = d.NewArray(Float32, l.inShape...)
	return l
}

func (l *poolLayer) fprop() {
	src, dst := l.src.Float32s(), l.dst.Float32s()
	scale := 1 / float32(l.size*l.size)
	j := 0
	for n := 0; n < l.n; n++ {
		for oy := 0; oy < l.oh; oy++ {
			for ox := 0; ox < l.ow; ox++ {
				for ch := 0; ch < l.c; ch++ {
					var sum float32
					best := -1
					for ky := 0; ky < l.size; ky++ {
						for kx := 0; kx < l.size; kx++ {
							ix := ((n*l.h+oy*l.stride+ky)*l.width+ox*l.stride+kx)*l.c + ch
							sum += src[ix]
							if best < 0 || src[ix] > src[best] {
								best = ix
							}
						}
					}
					if l.average {
						dst[j] = sum * scale
					} else {
						dst[j] = src[best]
						l.mask[j] = best
					}
					j++
				}
			}
		}
	}
}

func (l *poolLayer) bpropData() {
	grad, dsrc := l.diffDst.Float32s(), l.diffSrc.Float32s()
	for i := range dsrc {
		dsrc[i] = 0
	}
	if !l.average {
		for j, ix := range l.mask {
			dsrc[ix] += grad[j]
		}
		return
	}
	scale := 1 / float32(l.size*l.size)
	j := 0
	for n := 0; n < l.n; n++ {
		for oy := 0; oy < l.oh; oy++ {
			for ox := 0; ox < l.ow; ox++ {
				for ch := 0; ch < l.c; ch++ {
					g := grad[j] * scale
					for ky := 0; ky < l.size; ky++ {
						for kx := 0; kx < l.size; kx++ {
							dsrc[((n*l.h+oy*l.stride+ky)*l.width+ox*l.stride+kx)*l.c+ch] += g
						}
					}
					j++
				}
			}
		}
	}
}

func (l *poolLayer) bpropFilter() {}

func (l *poolLayer) bpropBias() {}

// Forward propagation
func Fprop(layer Layer) Function {
	l := layer.(layerOps)
	return newFunction(layer.Type()+"_fprop", l.fprop)
}

// Backward propagation of the gradient to the layer input
func BpropData(layer Layer) Function {
	l := layer.(layerOps)
	return newFunction(layer.Type()+"_bprop", l.bpropData)
}

// Backward propagation of the gradient to the layer weights
func BpropFilter(layer Layer) Function {
	l := layer.(layerOps)
	return newFunction(layer.Type()+"_bprop_filter", l.bpropFilter)
}

// Backward propagation of the gradient to the layer bias
func BpropBias(layer Layer) Function {
	l := layer.(layerOps)
	return newFunction(layer.Type()+"_bprop_bias", l.bpropBias)
}
