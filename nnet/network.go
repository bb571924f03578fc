// Package nnet contains routines for constructing, training and testing neural networks.
package nnet

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bondmcsteve/artificial-intelligence/num"
)

// Network type represents a multilayer neural network model.
type Network struct {
	Config
	Layers    []Layer
	queue     num.Queue
	inShape   []int
	work      map[int]*batchWork
	total     num.Array
	totalErr  num.Array
	batchErr  num.Array
	batchLoss num.Array
}

// work arrays for a given batch size
type batchWork struct {
	classes   num.Array
	diffs     num.Array
	inputGrad num.Array
}

// New function creates a new network with the given layers. inShape is the shape of a single
// input sample, e.g. [28, 28, 1].
func New(q num.Queue, conf Config, inShape []int) (*Network, error) {
	n := &Network{Config: conf, queue: q, inShape: append([]int{}, inShape...), work: make(map[int]*batchWork)}
	shape := n.inShape
	for i, l := range conf.Layers {
		layer, err := l.Unmarshal()
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if err = layer.Init(q, shape); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		n.Layers = append(n.Layers, layer)
		shape = layer.OutShape()
	}
	if len(n.Layers) == 0 {
		return nil, fmt.Errorf("network has no layers")
	}
	if out, ok := n.Layers[len(n.Layers)-1].(*activation); !ok || out.cfg.Atype != "softmax" {
		return nil, fmt.Errorf("final layer must be a softmax activation, got %s", n.Layers[len(n.Layers)-1].ToString())
	}
	n.total = q.NewArray(num.Float32)
	n.totalErr = q.NewArray(num.Float32)
	n.batchErr = q.NewArray(num.Float32)
	n.batchLoss = q.NewArray(num.Float32)
	return n, nil
}

// InShape is the shape of one input sample
func (n *Network) InShape() []int { return n.inShape }

// NumClasses is the number of network outputs
func (n *Network) NumClasses() int { return n.OutLayer().OutShape()[0] }

// Initialise network weights with the scheme given by the WeightInit config setting.
func (n *Network) InitWeights(rng *rand.Rand) {
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			l.InitParams(n.WeightInit, rng)
		}
	}
	if n.DebugLevel >= 2 {
		n.PrintWeights()
	}
}

// Copy weights and bias arrays to destination net
func (n *Network) CopyTo(net *Network) {
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			net.Layers[i].(ParamLayer).SetParams(W, B)
		}
	}
	net.queue.Finish()
}

// Accessor for output layer
func (n *Network) OutLayer() OutputLayer {
	return n.Layers[len(n.Layers)-1].(OutputLayer)
}

// Feed forward the input to get the predicted output
func (n *Network) Fprop(input num.Array) num.Array {
	pred := input
	for i, layer := range n.Layers {
		if n.DebugLevel >= 3 {
			fmt.Printf("layer %d input\n%s", i, pred.String(n.queue))
		}
		pred = layer.Fprop(pred)
	}
	return pred
}

// Predict output given input data, the predicted class indexes are written to the classes array.
func (n *Network) Predict(input, classes num.Array) num.Array {
	yPred := n.Fprop(input)
	if n.DebugLevel >= 2 {
		fmt.Printf("yPred\n%s", yPred.String(n.queue))
	}
	n.queue.Call(num.Unhot(yPred, classes))
	return yPred
}

func (n *Network) workArrays(size int) *batchWork {
	if w, ok := n.work[size]; ok {
		return w
	}
	w := &batchWork{
		classes:   n.queue.NewArray(num.Int32, size),
		diffs:     n.queue.NewArray(num.Int32, size),
		inputGrad: n.queue.NewArray(num.Float32, size, n.NumClasses()),
	}
	n.work[size] = w
	return w
}

// Evaluate calculates the mean loss and the classification accuracy over the dataset.
// If pred slice is not nil then the predicted output classes are also returned.
func (n *Network) Evaluate(dset *Dataset, pred []int32) (loss, accuracy float64) {
	q := n.queue
	q.Call(
		num.Fill(n.total, 0),
		num.Fill(n.totalErr, 0),
	)
	dset.NextEpoch()
	for batch := 0; batch < dset.Batches; batch++ {
		x, y, yOneHot := dset.NextBatch()
		size := batchSize(y)
		w := n.workArrays(size)
		yPred := n.Predict(x, w.classes)
		losses := n.OutLayer().Loss(yOneHot, yPred)
		q.Call(
			num.Sum(losses, n.batchLoss, 1),
			num.Axpy(1, n.batchLoss, n.total),
			num.Neq(w.classes, y, w.diffs),
			num.Sum(w.diffs, n.batchErr, 1),
			num.Axpy(1, n.batchErr, n.totalErr),
		)
		if pred != nil {
			start := batch * dset.BatchSize
			q.Call(num.Read(w.classes, pred[start:start+size]))
		}
		if n.DebugLevel >= 2 || (n.DebugLevel >= 1 && batch == 0) {
			fmt.Printf("batch %d error =%s", batch, n.batchErr.String(q))
		}
	}
	res := make([]float32, 2)
	q.Call(
		num.Read(n.total, res[:1]),
		num.Read(n.totalErr, res[1:]),
	).Finish()
	samples := float64(dset.Samples)
	return float64(res[0]) / samples, 1 - float64(res[1])/samples
}

// NumParams returns the total number of trainable weights and biases
func (n *Network) NumParams() int {
	total := 0
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			total += l.NumParams()
		}
	}
	return total
}

// Summary prints a table with the output shape and number of parameters for each layer.
func (n *Network) Summary() string {
	var s strings.Builder
	line := strings.Repeat("_", 65) + "\n"
	fmt.Fprintf(&s, "Model: %q\n%s", n.Topology, line)
	fmt.Fprintf(&s, "%-28s %-24s %s\n", "Layer (type)", "Output Shape", "Param #")
	s.WriteString(strings.Repeat("=", 65) + "\n")
	for i, layer := range n.Layers {
		params := 0
		if l, ok := layer.(ParamLayer); ok {
			params = l.NumParams()
		}
		name := strings.Fields(layer.ToString())[0]
		fmt.Fprintf(&s, "%-28s %-24s %s\n", fmt.Sprintf("%s_%d", name, i), shapeString(layer.OutShape()), commas(params))
	}
	s.WriteString(strings.Repeat("=", 65) + "\n")
	fmt.Fprintf(&s, "Total params: %s\n%s", commas(n.NumParams()), line)
	return s.String()
}

func shapeString(shape []int) string {
	s := []string{"None"}
	for _, v := range shape {
		s = append(s, strconv.Itoa(v))
	}
	return "(" + strings.Join(s, ", ") + ")"
}

func commas(v int) string {
	s := strconv.Itoa(v)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	shape := n.inShape
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-40s %v", i, layer.ToString(), shape)
		shape = layer.OutShape()
	}
	return fmt.Sprintf("%s\n== Network ==\n%s", n.Config.configString(), strings.Join(s, "\n"))
}

// Print network weights
func (n *Network) PrintWeights() {
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			fmt.Printf("== Layer %d weights ==\n%s %s\n", i, W.String(n.queue), B.String(n.queue))
		}
	}
}

// Set random number seed, or random seed if seed <= 0, and return a new generator.
func SetSeed(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	fmt.Println("random seed =", seed)
	return rand.New(rand.NewSource(seed))
}

// Exit in case of error
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
