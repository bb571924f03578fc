// Package num contains numeric Array processing routines such as optimised matrix multiplication.
//
// Operations are returned as Function values which are queued with Queue.Call and executed in order.
// Matrix products use the gonum BLAS implementation.
package num

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Data type of an element of the array
type DataType int

const (
	Int32 DataType = iota
	Float32
)

// TransType flag indicates if matrix is transposed
type TransType int

const (
	NoTrans TransType = iota
	Trans
)

func (t TransType) blas() blas.Transpose {
	if t == Trans {
		return blas.Trans
	}
	return blas.NoTrans
}

// Function which may be called via the queue
type Function struct {
	desc string
	call func()
}

func (f Function) String() string { return f.desc }

func newFunction(desc string, call func()) Function {
	return Function{desc: desc, call: call}
}

// Read data from array into a slice.
func Read(a Array, data interface{}) Function {
	return newFunction("read", func() {
		switch d := data.(type) {
		case []float32:
			copy(d, a.Float32s())
		case []int32:
			copy(d, a.Int32s())
		default:
			panic(fmt.Sprintf("Read: invalid type %T", data))
		}
	})
}

// Write data from a slice into the given array.
func Write(a Array, data interface{}) Function {
	return newFunction("write", func() {
		switch d := data.(type) {
		case []float32:
			copy(a.Float32s(), d)
		case []int32:
			copy(a.Int32s(), d)
		default:
			panic(fmt.Sprintf("Write: invalid type %T", data))
		}
	})
}

// Fill array with a scalar value
func Fill(a Array, scalar float32) Function {
	return newFunction("fill", func() {
		if a.Dtype() == Int32 {
			d := a.Int32s()
			for i := range d {
				d[i] = int32(scalar)
			}
			return
		}
		d := a.Float32s()
		for i := range d {
			d[i] = scalar
		}
	})
}

// Copy from src to dst, broadcast vector to matrix if needed, vector is tiled row wise
func Copy(dst, src Array) Function {
	if src.Dtype() != dst.Dtype() {
		panic("Copy: arguments must be same type")
	}
	ddim, sdim := dst.Dims(), src.Dims()
	switch {
	case dst.Size() == src.Size():
		return newFunction("copy", func() {
			if dst.Dtype() == Int32 {
				copy(dst.Int32s(), src.Int32s())
			} else {
				copy(dst.Float32s(), src.Float32s())
			}
		})
	case len(sdim) == 1 && len(ddim) == 2 && sdim[0] == ddim[1]:
		return newFunction("tile", func() {
			d, s := dst.Float32s(), src.Float32s()
			for row := 0; row < ddim[0]; row++ {
				copy(d[row*ddim[1]:(row+1)*ddim[1]], s)
			}
		})
	default:
		panic(fmt.Sprintf("Copy: cannot copy from %v to %v shape", sdim, ddim))
	}
}

// Element wise != comparison
func Neq(x, y, res Array) Function {
	if x.Dtype() != Int32 || y.Dtype() != Int32 || res.Dtype() != Int32 {
		panic("Neq: incorrect datatype")
	}
	if !SameShape(x.Dims(), res.Dims()) || !SameShape(y.Dims(), res.Dims()) {
		panic("Neq: arrays must be same shape")
	}
	return newFunction("neq", func() {
		xd, yd, rd := x.Int32s(), y.Int32s(), res.Int32s()
		for i := range rd {
			if xd[i] != yd[i] {
				rd[i] = 1
			} else {
				rd[i] = 0
			}
		}
	})
}

// Convert to one hot representation: x is a vector of n labels, y is a n x classes matrix
func Onehot(x, y Array, classes int) Function {
	if x.Dtype() != Int32 || y.Dtype() != Float32 {
		panic("Onehot: incorrect datatype")
	}
	xdim, ydim := x.Dims(), y.Dims()
	if len(xdim) != 1 || len(ydim) != 2 || xdim[0] != ydim[0] || ydim[1] != classes {
		panic("Onehot: invalid array shape")
	}
	return newFunction("onehot", func() {
		xd, yd := x.Int32s(), y.Float32s()
		for i := range yd {
			yd[i] = 0
		}
		for i, label := range xd {
			if label < 0 || int(label) >= classes {
				panic(fmt.Sprintf("Onehot: label %d out of range", label))
			}
			yd[i*classes+int(label)] = 1
		}
	})
}

// Convert from OneHot format back to labels, the index of the largest value in each row
func Unhot(x, y Array) Function {
	if x.Dtype() != Float32 || y.Dtype() != Int32 {
		panic("Unhot: incorrect datatype")
	}
	xdim, ydim := x.Dims(), y.Dims()
	if len(xdim) != 2 || len(ydim) != 1 || xdim[0] != ydim[0] {
		panic("Unhot: invalid array shape")
	}
	return newFunction("unhot", func() {
		xd, yd := x.Float32s(), y.Int32s()
		cols := xdim[1]
		for row := range yd {
			yd[row] = int32(Argmax(xd[row*cols : (row+1)*cols]))
		}
	})
}

// Argmax returns the index of the first maximum value in the slice
func Argmax(x []float32) int {
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}
	return best
}

// Scale array: x <- alpha*x
func Scale(alpha float32, x Array) Function {
	if x.Dtype() != Float32 {
		panic("Scale: dtype must by Float32")
	}
	return newFunction("scale", func() {
		blas32.Scal(alpha, vector(x))
	})
}

// Array addition and scaling: y <- alpha*x + y
func Axpy(alpha float32, x, y Array) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 {
		panic("Axpy: dtype must by Float32")
	}
	if x.Size() != y.Size() {
		panic("Axpy: arrays must be same size")
	}
	return newFunction("axpy", func() {
		blas32.Axpy(alpha, vector(x), vector(y))
	})
}

// Calculate the scalar sum of the values in the array. Multiplies each result by scale.
func Sum(a, total Array, scale float32) Function {
	if len(total.Dims()) != 0 || total.Dtype() != Float32 {
		panic("Sum: result type should be float32 scalar")
	}
	return newFunction("sum", func() {
		var sum float64
		if a.Dtype() == Int32 {
			for _, v := range a.Int32s() {
				sum += float64(v)
			}
		} else {
			for _, v := range a.Float32s() {
				sum += float64(v)
			}
		}
		total.Float32s()[0] = float32(sum) * scale
	})
}

// Matrix vector multiplication: y <- alpha*dot(mA,x) + beta*y
func Gemv(alpha, beta float32, mA, x, y Array, aTrans TransType) Function {
	if mA.Dtype() != Float32 || x.Dtype() != Float32 || y.Dtype() != Float32 {
		panic("Gemv: dtype must by Float32")
	}
	adim, xdim, ydim := mA.Dims(), x.Dims(), y.Dims()
	if len(adim) != 2 || len(xdim) != 1 || len(ydim) != 1 {
		panic("Gemv: must have matrix and vector inputs")
	}
	m, n := adim[0], adim[1]
	if aTrans == Trans {
		m, n = n, m
	}
	if xdim[0] != n || ydim[0] != m {
		panic("Gemv: incorrect vector size")
	}
	return newFunction("gemv", func() {
		blas32.Gemv(aTrans.blas(), alpha, general(mA), vector(x), beta, vector(y))
	})
}

// Matrix matrix multiplication: mC <- alpha*dot(mA, mB) + beta*mC
func Gemm(alpha, beta float32, mA, mB, mC Array, aTrans, bTrans TransType) Function {
	if mA.Dtype() != Float32 || mB.Dtype() != Float32 || mC.Dtype() != Float32 {
		panic("Gemm: dtype must by Float32")
	}
	adim, bdim, cdim := mA.Dims(), mB.Dims(), mC.Dims()
	if len(adim) != 2 || len(bdim) != 2 || len(cdim) != 2 {
		panic("Gemm: must have 2 dimensional arrays")
	}
	m, k := adim[0], adim[1]
	k2, n := bdim[0], bdim[1]
	if aTrans == Trans {
		m, k = k, m
	}
	if bTrans == Trans {
		k2, n = n, k2
	}
	if k2 != k {
		panic(fmt.Sprintf("Gemm: invalid input shape %v x %v", adim, bdim))
	}
	if cdim[0] != m || cdim[1] != n {
		panic(fmt.Sprintf("Gemm: invalid output shape %v expecting [%d %d]", cdim, m, n))
	}
	return newFunction("gemm", func() {
		blas32.Gemm(aTrans.blas(), bTrans.blas(), alpha, general(mA), general(mB), beta, general(mC))
	})
}

// Relu rectified linear activation function: y = max(x, 0)
func Relu(x, y Array) Function {
	return unaryFunc("relu", x, y, func(xd, yd []float32) {
		for i, v := range xd {
			if v > 0 {
				yd[i] = v
			} else {
				yd[i] = 0
			}
		}
	})
}

// ReluD is the relu derivative: y = grad where x > 0 else 0
func ReluD(x, grad, y Array) Function {
	return binaryFunc("relu_d", x, grad, y, func(xd, gd, yd []float32) {
		for i, v := range xd {
			if v > 0 {
				yd[i] = gd[i]
			} else {
				yd[i] = 0
			}
		}
	})
}

// Softmax activation function applied to each row of a matrix
func Softmax(x, res Array) Function {
	if x.Dtype() != Float32 || res.Dtype() != Float32 {
		panic("Softmax: dtype must by Float32")
	}
	xdim, rdim := x.Dims(), res.Dims()
	if len(xdim) != 2 || !SameShape(xdim, rdim) {
		panic("Softmax: arrays must be 2d and same shape")
	}
	return newFunction("softmax", func() {
		xd, rd := x.Float32s(), res.Float32s()
		cols := xdim[1]
		for row := 0; row < xdim[0]; row++ {
			in, out := xd[row*cols:(row+1)*cols], rd[row*cols:(row+1)*cols]
			xmax := in[Argmax(in)]
			var sum float64
			for i, v := range in {
				e := math.Exp(float64(v - xmax))
				out[i] = float32(e)
				sum += e
			}
			for i := range out {
				out[i] = float32(float64(out[i]) / sum)
			}
		}
	})
}

// Epsilon is the clipping value applied to probabilities before taking the log in SoftmaxLoss.
const Epsilon = 1e-7

// SoftmaxLoss is the categorical cross entropy -sum(y*log(p)) for each row,
// where y is the one hot target matrix and p the predicted probabilities.
func SoftmaxLoss(y, p, res Array) Function {
	if y.Dtype() != Float32 || p.Dtype() != Float32 || res.Dtype() != Float32 {
		panic("SoftmaxLoss: dtype must by Float32")
	}
	ydim, pdim, rdim := y.Dims(), p.Dims(), res.Dims()
	if len(ydim) != 2 || !SameShape(ydim, pdim) || len(rdim) != 1 || rdim[0] != ydim[0] {
		panic("SoftmaxLoss: invalid array shape")
	}
	return newFunction("softmax_loss", func() {
		yd, pd, rd := y.Float32s(), p.Float32s(), res.Float32s()
		cols := ydim[1]
		for row := range rd {
			var loss float64
			for i := row * cols; i < (row+1)*cols; i++ {
				if yd[i] != 0 {
					prob := math.Min(math.Max(float64(pd[i]), Epsilon), 1-Epsilon)
					loss -= float64(yd[i]) * math.Log(prob)
				}
			}
			rd[row] = float32(loss)
		}
	})
}

// AdamStep applies one Adam update to the parameters w given gradient dw and the
// first and second moment estimates m and v. lr is the bias corrected learning rate.
func AdamStep(lr, beta1, beta2, epsilon float32, w, dw, m, v Array) Function {
	for _, a := range []Array{dw, m, v} {
		if a.Dtype() != Float32 || a.Size() != w.Size() {
			panic("AdamStep: arrays must be Float32 and same size")
		}
	}
	return newFunction("adam", func() {
		wd, gd, md, vd := w.Float32s(), dw.Float32s(), m.Float32s(), v.Float32s()
		for i, g := range gd {
			md[i] = beta1*md[i] + (1-beta1)*g
			vd[i] = beta2*vd[i] + (1-beta2)*g*g
			wd[i] -= lr * md[i] / (float32(math.Sqrt(float64(vd[i]))) + epsilon)
		}
	})
}

func unaryFunc(desc string, x, y Array, fn func(x, y []float32)) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 {
		panic("UnaryFunc: dtype must by Float32")
	}
	if x.Size() != y.Size() {
		panic("UnaryFunc: arrays must be same size")
	}
	return newFunction(desc, func() { fn(x.Float32s(), y.Float32s()) })
}

func binaryFunc(desc string, x, y, z Array, fn func(x, y, z []float32)) Function {
	if x.Dtype() != Float32 || y.Dtype() != Float32 || z.Dtype() != Float32 {
		panic("BinaryFunc: dtype must by Float32")
	}
	if x.Size() != z.Size() || y.Size() != z.Size() {
		panic("BinaryFunc: arrays must be same size")
	}
	return newFunction(desc, func() { fn(x.Float32s(), y.Float32s(), z.Float32s()) })
}

func vector(a Array) blas32.Vector {
	return blas32.Vector{N: a.Size(), Inc: 1, Data: a.Float32s()}
}

func general(a Array) blas32.General {
	dims := a.Dims()
	return blas32.General{Rows: dims[0], Cols: dims[1], Stride: dims[1], Data: a.Float32s()}
}
