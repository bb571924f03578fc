package num

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestArray(t *testing.T) {
	xd := []float32{1, 1, 2, 2, 3, 3}
	dev := NewDevice()
	q := dev.NewQueue()
	x := dev.NewArray(Float32, 6)
	if typ := x.Dtype(); typ != Float32 {
		t.Error("dtype invalid: got", typ)
	}
	x = x.Reshape(2, 3)
	if dim := x.Dims(); !reflect.DeepEqual(dim, []int{2, 3}) {
		t.Error("dims invalid: got", dim)
	}
	if dim := x.Reshape(-1, 2).Dims(); !reflect.DeepEqual(dim, []int{3, 2}) {
		t.Error("reshape with -1 invalid: got", dim)
	}
	res := make([]float32, 6)
	q.Call(
		Write(x, xd),
		Read(x, res),
	).Finish()
	if !reflect.DeepEqual(res, xd) {
		t.Error("got", res, "expect", xd)
	}
	t.Logf("x\n%s", x.String(q))
}

func TestQueueOrder(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	x := dev.NewArray(Float32, 1)
	res := make([]float32, 1)
	for i := 0; i < 3*queueSize; i++ {
		q.Call(Axpy(1, onesLike(dev, x), x))
	}
	q.Call(Read(x, res)).Finish()
	if res[0] != 3*queueSize {
		t.Error("got", res[0], "expect", 3*queueSize)
	}
}

func onesLike(dev Device, a Array) Array {
	b := dev.NewArrayLike(a)
	copy(b.Float32s(), []float32{1})
	return b
}

func TestCopy(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	x := dev.NewArray(Float32, 2, 3)
	y := dev.NewArray(Float32, 3)
	res := make([]float32, 6)
	q.Call(
		Write(y, []float32{3, 2, 1}),
		Copy(x, y),
		Read(x, res),
	).Finish()
	expect := []float32{3, 2, 1, 3, 2, 1}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestOnehot(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	y := dev.NewArray(Int32, 4)
	y1h := dev.NewArray(Float32, 4, 3)
	res := make([]float32, 12)
	vec := []int32{2, 1, 0, 2}
	q.Call(
		Write(y, vec),
		Onehot(y, y1h, 3),
		Read(y1h, res),
	).Finish()
	t.Logf("y1hot %s\n%s", y.String(q), y1h.String(q))
	expect := []float32{0, 0, 1, 0, 1, 0, 1, 0, 0, 0, 0, 1}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
	res2 := make([]int32, 4)
	q.Call(
		Fill(y, 0),
		Unhot(y1h, y),
		Read(y, res2),
	).Finish()
	if !reflect.DeepEqual(res2, vec) {
		t.Error("got", res2, "expect", vec)
	}
}

func TestOnehotProperty(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	const n, classes = 200, 10
	rng := rand.New(rand.NewSource(1))
	labels := make([]int32, n)
	for i := range labels {
		labels[i] = int32(rng.Intn(classes))
	}
	y := dev.NewArray(Int32, n)
	y1h := dev.NewArray(Float32, n, classes)
	back := dev.NewArray(Int32, n)
	q.Call(
		Write(y, labels),
		Onehot(y, y1h, classes),
		Unhot(y1h, back),
	).Finish()
	hot := y1h.Float32s()
	for i, label := range labels {
		ones := 0
		for j, v := range hot[i*classes : (i+1)*classes] {
			switch v {
			case 1:
				ones++
				if j != int(label) {
					t.Fatalf("row %d: one at %d expect %d", i, j, label)
				}
			case 0:
			default:
				t.Fatalf("row %d: invalid value %g", i, v)
			}
		}
		if ones != 1 {
			t.Fatalf("row %d: got %d ones", i, ones)
		}
		if back.Int32s()[i] != label {
			t.Fatalf("row %d: argmax %d expect %d", i, back.Int32s()[i], label)
		}
	}
}

func TestAxpy(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	x := dev.NewArray(Float32, 2, 3)
	y := dev.NewArray(Float32, 2, 3)
	res := make([]float32, 6)
	q.Call(
		Write(x, []float32{1, 1, 2, 2, 3, 3}),
		Write(y, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}),
		Axpy(2, x, y),
		Read(y, res),
	).Finish()
	expect := []float32{2.5, 2.5, 4.5, 4.5, 6.5, 6.5}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestSum(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	x := dev.NewArray(Float32, 2, 3)
	sum := dev.NewArray(Float32)
	res := make([]float32, 1)
	// scalar sum
	q.Call(
		Write(x, []float32{1, 2, 3, 4, 5, 6}),
		Sum(x, sum, 1.0/6.0),
		Read(sum, res),
	).Finish()
	if res[0] != 3.5 {
		t.Error("got", res[0], "expect", 3.5)
	}
	// sum for each column
	sum = dev.NewArray(Float32, 3)
	res = make([]float32, 3)
	ones := dev.NewArray(Float32, 2)
	q.Call(
		Fill(ones, 1),
		Gemv(1, 0, x, ones, sum, Trans),
		Read(sum, res),
	).Finish()
	expect := []float32{5, 7, 9}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}

func TestGemm(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	x := dev.NewArray(Float32, 2, 3)
	y := dev.NewArray(Float32, 3, 2)
	z := dev.NewArray(Float32, 2, 2)
	q.Call(Write(x, []float32{1, 2, 3, 4, 5, 6}))
	res := make([]float32, 4)
	for _, trans := range []TransType{NoTrans, Trans} {
		if trans == Trans {
			y = y.Reshape(2, 3)
			q.Call(Write(y, []float32{7, 9, 11, 8, 10, 12}))
		} else {
			q.Call(Write(y, []float32{7, 8, 9, 10, 11, 12}))
		}
		q.Call(
			Gemm(1, 0, x, y, z, NoTrans, trans),
			Read(z, res),
		).Finish()
		expect := []float32{58, 64, 139, 154}
		if !reflect.DeepEqual(res, expect) {
			t.Error("got", res, "expect", expect)
		}
	}
}

func TestSoftmax(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	x := dev.NewArray(Float32, 2, 3)
	p := dev.NewArray(Float32, 2, 3)
	y := dev.NewArray(Float32, 2, 3)
	loss := dev.NewArray(Float32, 2)
	q.Call(
		Write(x, []float32{1, 2, 3, 1000, 1000, 1000}),
		Write(y, []float32{0, 0, 1, 1, 0, 0}),
		Softmax(x, p),
		SoftmaxLoss(y, p, loss),
	).Finish()
	pd := p.Float32s()
	for row := 0; row < 2; row++ {
		var sum float32
		for _, v := range pd[row*3 : (row+1)*3] {
			sum += v
		}
		if math.Abs(float64(sum-1)) > 1e-6 {
			t.Errorf("row %d: probabilities sum to %g", row, sum)
		}
	}
	e := math.Exp(1)
	expect0 := e * e / (1 + e + e*e)
	if math.Abs(float64(pd[2])-expect0) > 1e-6 {
		t.Error("got", pd[2], "expect", expect0)
	}
	ld := loss.Float32s()
	if math.Abs(float64(ld[0])+math.Log(expect0)) > 1e-5 {
		t.Error("loss got", ld[0], "expect", -math.Log(expect0))
	}
	if math.Abs(float64(ld[1])-math.Log(3)) > 1e-5 {
		t.Error("loss got", ld[1], "expect", math.Log(3))
	}
}

func TestRelu(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	x := dev.NewArray(Float32, 4)
	y := dev.NewArray(Float32, 4)
	g := dev.NewArray(Float32, 4)
	dx := dev.NewArray(Float32, 4)
	q.Call(
		Write(x, []float32{-1, 0, 0.5, 2}),
		Write(g, []float32{1, 1, 1, 1}),
		Relu(x, y),
		ReluD(x, g, dx),
	).Finish()
	if expect := []float32{0, 0, 0.5, 2}; !reflect.DeepEqual(y.Float32s(), expect) {
		t.Error("got", y.Float32s(), "expect", expect)
	}
	if expect := []float32{0, 0, 1, 1}; !reflect.DeepEqual(dx.Float32s(), expect) {
		t.Error("got", dx.Float32s(), "expect", expect)
	}
}

func TestAdamStep(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	w := dev.NewArray(Float32, 2)
	dw := dev.NewArray(Float32, 2)
	m := dev.NewArray(Float32, 2)
	v := dev.NewArray(Float32, 2)
	// first step with bias correction moves each weight by lr in the opposite direction to the gradient
	lr := float32(0.01 * math.Sqrt(1-0.999) / (1 - 0.9))
	q.Call(
		Write(w, []float32{1, 1}),
		Write(dw, []float32{0.5, -2}),
		AdamStep(lr, 0.9, 0.999, 1e-7, w, dw, m, v),
	).Finish()
	wd := w.Float32s()
	if math.Abs(float64(wd[0])-0.99) > 1e-4 || math.Abs(float64(wd[1])-1.01) > 1e-4 {
		t.Error("got", wd, "expect [0.99 1.01]")
	}
}

func TestProfile(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue()
	q.Profiling(true)
	x := dev.NewArray(Float32, 10)
	q.Call(Fill(x, 1), Scale(2, x)).Finish()
	if x.Float32s()[9] != 2 {
		t.Error("got", x.Float32s()[9], "expect 2")
	}
	t.Logf("%s\n%s", dev, q.Profile())
}

func randSlice(n int) []float32 {
	res := make([]float32, n)
	for i := range res {
		res[i] = float32(rand.Intn(20))
	}
	return res
}

func BenchmarkGemm(b *testing.B) {
	size := 100
	dev := NewDevice()
	q := dev.NewQueue()
	x := dev.NewArray(Float32, size, size)
	y := dev.NewArray(Float32, size, size)
	z := dev.NewArray(Float32, size, size)
	q.Call(
		Write(x, randSlice(size*size)),
		Write(y, randSlice(size*size)),
	).Finish()
	for i := 0; i < b.N; i++ {
		q.Call(Gemm(1, 0, x, y, z, NoTrans, NoTrans)).Finish()
	}
}
