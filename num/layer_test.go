package num

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestConvFprop(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	layer := dev.ConvLayer(1, 3, 3, 1, 1, 2, 1, 0)
	if shape := layer.OutShape(); !reflect.DeepEqual(shape, []int{1, 2, 2, 1}) {
		t.Fatal("invalid output shape", shape)
	}
	x := dev.NewArray(Float32, layer.InShape()...)
	W := dev.NewArray(Float32, layer.FilterShape()...)
	B := dev.NewArray(Float32, layer.BiasShape()...)
	layer.SetSrc(x)
	layer.SetParams(W, B, dev.NewArrayLike(W), dev.NewArrayLike(B))
	res := make([]float32, 4)
	q.Call(
		Write(x, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}),
		Fill(W, 1),
		Fill(B, 0.5),
		Fprop(layer),
		Read(layer.Dst(), res),
	).Finish()
	expect := []float32{12.5, 16.5, 24.5, 28.5}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

// width differs from height and each filter tap has its own weight
func TestConvRectangular(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	layer := dev.ConvLayer(1, 2, 3, 1, 1, 2, 1, 0)
	if shape := layer.OutShape(); !reflect.DeepEqual(shape, []int{1, 1, 2, 1}) {
		t.Fatal("invalid output shape", shape)
	}
	x := dev.NewArray(Float32, layer.InShape()...)
	W := dev.NewArray(Float32, layer.FilterShape()...)
	B := dev.NewArray(Float32, layer.BiasShape()...)
	layer.SetSrc(x)
	layer.SetParams(W, B, dev.NewArrayLike(W), dev.NewArrayLike(B))
	res := make([]float32, 2)
	q.Call(
		Write(x, []float32{1, 2, 3, 4, 5, 6}),
		Write(W, []float32{1, 2, 3, 4}),
		Fill(B, 0),
		Fprop(layer),
		Read(layer.Dst(), res),
	).Finish()
	if expect := []float32{37, 47}; !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestConvSamePadding(t *testing.T) {
	dev := NewDevice()
	layer := dev.ConvLayer(2, 28, 28, 1, 10, 5, 1, 2)
	if shape := layer.OutShape(); !reflect.DeepEqual(shape, []int{2, 28, 28, 10}) {
		t.Error("invalid output shape", shape)
	}
	pool := dev.PoolLayer(2, 28, 28, 10, 2, 2, true)
	if shape := pool.OutShape(); !reflect.DeepEqual(shape, []int{2, 14, 14, 10}) {
		t.Error("invalid pool output shape", shape)
	}
}

func TestMaxPool(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	layer := dev.PoolLayer(1, 4, 4, 1, 2, 2, false)
	x := dev.NewArray(Float32, layer.InShape()...)
	layer.SetSrc(x)
	res := make([]float32, 4)
	q.Call(
		Write(x, []float32{
			1, 2, 5, 3,
			4, 0, 1, 1,
			9, 1, 2, 2,
			1, 1, 3, 8,
		}),
		Fprop(layer),
		Read(layer.Dst(), res),
	).Finish()
	expect := []float32{4, 5, 9, 8}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

// loss is the dot product of the layer output with a fixed random vector
func gradLoss(q Queue, layer Layer, r []float32) float64 {
	q.Call(Fprop(layer)).Finish()
	var sum float64
	for i, v := range layer.Dst().Float32s() {
		sum += float64(v) * float64(r[i])
	}
	return sum
}

func checkGradient(t *testing.T, name string, q Queue, layer Layer, x Array, grad []float32, r []float32) {
	const h = 0.04
	xd := x.Float32s()
	for i := range xd {
		save := xd[i]
		xd[i] = save + h
		l1 := gradLoss(q, layer, r)
		xd[i] = save - h
		l2 := gradLoss(q, layer, r)
		xd[i] = save
		num := (l1 - l2) / (2 * h)
		if diff := math.Abs(num - float64(grad[i])); diff > 2e-2*math.Max(1, math.Abs(num)) {
			t.Fatalf("%s: gradient mismatch at %d: numeric %.5f got %.5f", name, i, num, grad[i])
		}
	}
}

func testLayerGradient(t *testing.T, name string, layer Layer) {
	dev := NewDevice()
	q := dev.NewQueue()
	rng := rand.New(rand.NewSource(42))
	x := dev.NewArray(Float32, layer.InShape()...)
	// distinct values so max pooling does not flip under the perturbation
	for i, v := range rng.Perm(x.Size()) {
		x.Float32s()[i] = float32(v) * 0.1
	}
	layer.SetSrc(x)
	var W, B, dW, dB Array
	if layer.HasParams() {
		W = dev.NewArray(Float32, layer.FilterShape()...)
		B = dev.NewArray(Float32, layer.BiasShape()...)
		dW, dB = dev.NewArrayLike(W), dev.NewArrayLike(B)
		for i := range W.Float32s() {
			W.Float32s()[i] = float32(rng.NormFloat64()) * 0.5
		}
		for i := range B.Float32s() {
			B.Float32s()[i] = float32(rng.NormFloat64())
		}
		layer.SetParams(W, B, dW, dB)
	}
	r := make([]float32, layer.Dst().Size())
	for i := range r {
		r[i] = float32(rng.NormFloat64())
	}
	diff := dev.NewArrayLike(layer.Dst())
	layer.SetDiffDst(diff)
	q.Call(
		Write(diff, r),
		Fprop(layer),
		BpropData(layer),
	)
	if layer.HasParams() {
		q.Call(BpropFilter(layer), BpropBias(layer))
	}
	q.Finish()
	checkGradient(t, name+" input", q, layer, x, append([]float32{}, layer.DiffSrc().Float32s()...), r)
	if layer.HasParams() {
		checkGradient(t, name+" filter", q, layer, W, append([]float32{}, dW.Float32s()...), r)
		checkGradient(t, name+" bias", q, layer, B, append([]float32{}, dB.Float32s()...), r)
	}
}

func TestConvGradient(t *testing.T) {
	dev := NewDevice()
	testLayerGradient(t, "conv", dev.ConvLayer(2, 6, 6, 2, 3, 3, 1, 0))
	testLayerGradient(t, "conv_pad", dev.ConvLayer(1, 5, 5, 1, 2, 5, 1, 2))
	testLayerGradient(t, "conv_stride", dev.ConvLayer(1, 7, 7, 2, 2, 3, 2, 1))
}

func TestPoolGradient(t *testing.T) {
	dev := NewDevice()
	testLayerGradient(t, "maxPool", dev.PoolLayer(2, 6, 6, 2, 2, 2, false))
	testLayerGradient(t, "avgPool", dev.PoolLayer(2, 6, 6, 2, 2, 2, true))
}
