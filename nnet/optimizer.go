package nnet

import (
	"fmt"
	"math"

	"github.com/bondmcsteve/artificial-intelligence/num"
)

// Optimizer updates the network parameters from the gradients after each training batch.
type Optimizer interface {
	// Next is called once per batch before the parameters are updated
	Next()
	// Update the weights W given the gradient dW
	Update(q num.Queue, W, dW num.Array)
	String() string
}

// NewOptimizer returns the optimizer named in the config, either "sgd" or "adam".
func NewOptimizer(c Config) (Optimizer, error) {
	switch c.Optimizer {
	case "sgd":
		return &sgd{eta: float32(c.Eta), lambda: float32(c.Lambda)}, nil
	case "adam":
		return &adam{
			eta:     c.Eta,
			beta1:   c.Beta1,
			beta2:   c.Beta2,
			epsilon: float32(c.Epsilon),
			lambda:  float32(c.Lambda),
			moments: make(map[num.Array][2]num.Array),
		}, nil
	}
	return nil, fmt.Errorf("optimizer %q: %w", c.Optimizer, ErrUnsupported)
}

// gradient descent with optional L2 weight decay
type sgd struct {
	eta, lambda float32
}

func (o *sgd) String() string { return fmt.Sprintf("sgd(eta=%g)", o.eta) }

func (o *sgd) Next() {}

func (o *sgd) Update(q num.Queue, W, dW num.Array) {
	if o.lambda != 0 {
		q.Call(num.Axpy(o.lambda, W, dW))
	}
	q.Call(num.Axpy(-o.eta, dW, W))
}

// Adam with moment estimates held for each parameter array
type adam struct {
	eta, beta1, beta2 float64
	epsilon, lambda   float32
	step              int
	lr                float32
	moments           map[num.Array][2]num.Array
}

func (o *adam) String() string {
	return fmt.Sprintf("adam(eta=%g beta1=%g beta2=%g epsilon=%g)", o.eta, o.beta1, o.beta2, o.epsilon)
}

// Next increments the step count and calculates the bias corrected learning rate.
func (o *adam) Next() {
	o.step++
	t := float64(o.step)
	o.lr = float32(o.eta * math.Sqrt(1-math.Pow(o.beta2, t)) / (1 - math.Pow(o.beta1, t)))
}

func (o *adam) Update(q num.Queue, W, dW num.Array) {
	m, ok := o.moments[W]
	if !ok {
		m = [2]num.Array{q.NewArrayLike(W), q.NewArrayLike(W)}
		o.moments[W] = m
	}
	if o.lambda != 0 {
		q.Call(num.Axpy(o.lambda, W, dW))
	}
	q.Call(num.AdamStep(o.lr, float32(o.beta1), float32(o.beta2), o.epsilon, W, dW, m[0], m[1]))
}
