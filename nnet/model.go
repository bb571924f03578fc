package nnet

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/bondmcsteve/artificial-intelligence/num"
)

var (
	ErrNotCompiled = errors.New("model must be compiled first")
	ErrCompiled    = errors.New("model is already compiled")
	ErrShape       = errors.New("input shape mismatch")
	ErrUnsupported = errors.New("unsupported setting")
)

// CompileOptions binds the loss function, optimizer and metrics to a model.
type CompileOptions struct {
	Loss      string
	Optimizer string
	Metrics   []string
}

// FitOptions sets the parameters for a training run. If ValidData is set it is used for
// validation, otherwise the last ValidSplit fraction of the training data is held out.
// Callback, if not nil, is called after each epoch and may return true to stop training.
type FitOptions struct {
	Epochs     int
	BatchSize  int
	ValidSplit float64
	ValidData  Data
	Shuffle    bool
	Callback   func(Stats) bool
}

// Score is the result of evaluating the model on a dataset.
type Score struct {
	Loss     float64
	Accuracy float64
}

// Prediction for a single input sample.
type Prediction struct {
	Class int
	Label string
	Probs []float32
}

// Model wraps a network with a compile, fit, evaluate and predict lifecycle.
type Model struct {
	Config
	Net      *Network
	queue    num.Queue
	rng      *rand.Rand
	classes  []string
	opt      Optimizer
	compiled bool
	input    num.Array
	class    num.Array
}

// NewModel builds the network from the config layers and initialises the weights.
// inShape is the shape of one sample and classes the label names for each output.
func NewModel(q num.Queue, conf Config, inShape []int, classes []string, rng *rand.Rand) (*Model, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	net, err := New(q, conf, inShape)
	if err != nil {
		return nil, err
	}
	if net.NumClasses() != len(classes) {
		return nil, fmt.Errorf("network has %d outputs for %d classes: %w", net.NumClasses(), len(classes), ErrShape)
	}
	if conf.Profile {
		q.Profiling(true)
	}
	net.InitWeights(rng)
	m := &Model{Config: conf, Net: net, queue: q, rng: rng, classes: classes}
	m.input = q.NewArray(num.Float32, append([]int{1}, inShape...)...)
	m.class = q.NewArray(num.Int32, 1)
	return m, nil
}

// CompileOptions returns the loss and optimizer from the config with the accuracy metric.
func (m *Model) CompileOptions() CompileOptions {
	return CompileOptions{Loss: m.Loss, Optimizer: m.Optimizer, Metrics: []string{"accuracy"}}
}

// Compile sets the loss, optimizer and metrics. It must be called exactly once before Fit or Evaluate.
func (m *Model) Compile(opts CompileOptions) error {
	if m.compiled {
		return ErrCompiled
	}
	if opts.Loss != "categorical_crossentropy" {
		return fmt.Errorf("loss %q: %w", opts.Loss, ErrUnsupported)
	}
	for _, metric := range opts.Metrics {
		if metric != "accuracy" {
			return fmt.Errorf("metric %q: %w", metric, ErrUnsupported)
		}
	}
	conf := m.Config
	conf.Loss, conf.Optimizer = opts.Loss, opts.Optimizer
	opt, err := NewOptimizer(conf)
	if err != nil {
		return err
	}
	m.Config, m.Net.Config = conf, conf
	m.opt = opt
	m.compiled = true
	return nil
}

// Compiled reports if Compile has been called
func (m *Model) Compiled() bool { return m.compiled }

// Classes returns the label names for each output
func (m *Model) Classes() []string { return m.classes }

// FitOptions returns the settings for Fit taken from the config.
func (m *Model) FitOptions() FitOptions {
	return FitOptions{
		Epochs:     m.MaxEpoch,
		BatchSize:  m.TrainBatch,
		ValidSplit: m.ValidSplit,
		Shuffle:    m.Shuffle,
	}
}

func (m *Model) checkShape(d Data) error {
	if d == nil || d.Len() == 0 {
		return fmt.Errorf("empty dataset: %w", ErrShape)
	}
	if !num.SameShape(d.Shape(), m.Net.InShape()) {
		return fmt.Errorf("data shape %v does not match network input %v: %w", d.Shape(), m.Net.InShape(), ErrShape)
	}
	if len(d.Classes()) != len(m.classes) {
		return fmt.Errorf("data has %d classes, model has %d: %w", len(d.Classes()), len(m.classes), ErrShape)
	}
	return nil
}

// Fit trains the model for the given number of epochs and returns the per epoch stats.
func (m *Model) Fit(train Data, opts FitOptions) ([]Stats, error) {
	if !m.compiled {
		return nil, ErrNotCompiled
	}
	if err := m.checkShape(train); err != nil {
		return nil, err
	}
	if opts.Epochs < 1 || opts.BatchSize < 1 {
		return nil, fmt.Errorf("invalid epochs %d or batch size %d", opts.Epochs, opts.BatchSize)
	}
	valid := opts.ValidData
	if valid != nil {
		if err := m.checkShape(valid); err != nil {
			return nil, err
		}
	} else if opts.ValidSplit > 0 {
		var err error
		if train, valid, err = Split(train, opts.ValidSplit); err != nil {
			return nil, err
		}
	}
	net := m.Net
	net.MaxEpoch, net.TrainBatch, net.Shuffle = opts.Epochs, opts.BatchSize, opts.Shuffle
	dset := NewDataset(m.queue, train, opts.BatchSize, m.rng)
	defer dset.Release()
	fmt.Printf("train on %d samples, validate on %d samples\n", train.Len(), dataLen(valid))
	logger := NewTestLogger(m.queue, net.Config, valid, m.rng).(testLogger)
	tester := callbackTester{testLogger: logger, callback: opts.Callback}
	Train(net, dset, m.opt, tester)
	return logger.Stats, nil
}

func dataLen(d Data) int {
	if d == nil {
		return 0
	}
	return d.Len()
}

type callbackTester struct {
	testLogger
	callback func(Stats) bool
}

func (t callbackTester) Test(net *Network, epoch int, loss, accuracy float64, start time.Time) bool {
	done := t.testLogger.Test(net, epoch, loss, accuracy, start)
	if t.callback != nil && t.callback(t.Stats[len(t.Stats)-1]) {
		done = true
	}
	return done
}

// Evaluate returns the mean loss and accuracy on the given data.
func (m *Model) Evaluate(d Data) (Score, error) {
	if !m.compiled {
		return Score{}, ErrNotCompiled
	}
	if err := m.checkShape(d); err != nil {
		return Score{}, err
	}
	dset := NewDataset(m.queue, d, m.TestBatch, m.rng)
	defer dset.Release()
	loss, acc := m.Net.Evaluate(dset, nil)
	return Score{Loss: loss, Accuracy: acc}, nil
}

// Classify is like Evaluate but also returns the predicted class for each sample.
func (m *Model) Classify(d Data) (Score, []int32, error) {
	if !m.compiled {
		return Score{}, nil, ErrNotCompiled
	}
	if err := m.checkShape(d); err != nil {
		return Score{}, nil, err
	}
	dset := NewDataset(m.queue, d, m.TestBatch, m.rng)
	defer dset.Release()
	pred := make([]int32, d.Len())
	loss, acc := m.Net.Evaluate(dset, pred)
	return Score{Loss: loss, Accuracy: acc}, pred, nil
}

// Predict returns the most probable class for a single sample. Length of x must match the input shape.
func (m *Model) Predict(x []float32) (Prediction, error) {
	if len(x) != m.input.Size() {
		return Prediction{}, fmt.Errorf("got %d values expecting %v: %w", len(x), m.Net.InShape(), ErrShape)
	}
	m.queue.Call(num.Write(m.input, x))
	yPred := m.Net.Predict(m.input, m.class)
	p := Prediction{Probs: make([]float32, m.Net.NumClasses())}
	class := []int32{0}
	m.queue.Call(
		num.Read(yPred, p.Probs),
		num.Read(m.class, class),
	).Finish()
	p.Class = int(class[0])
	p.Label = m.classes[p.Class]
	return p, nil
}
