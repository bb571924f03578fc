package nnet

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/bondmcsteve/artificial-intelligence/num"
	"github.com/bondmcsteve/artificial-intelligence/stats"
)

// number of epochs for the validation loss moving average
const emaN = 3

// Training statistics
type Stats struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	Valid       bool
	ValLoss     float64
	ValAccuracy float64
	ValAvg      float64
	BestSince   int
	Elapsed     time.Duration
}

// StatsHeaders returns the column names matching Stats.Format
func StatsHeaders(valid bool) []string {
	h := []string{"loss", "accuracy"}
	if valid {
		h = append(h, "val_loss", "val_accuracy")
	}
	return h
}

func (s Stats) Format() []string {
	str := []string{fmt.Sprintf("%7.4f", s.Loss), fmt.Sprintf("%6.2f%%", s.Accuracy*100)}
	if s.Valid {
		str = append(str, fmt.Sprintf("%7.4f", s.ValLoss), fmt.Sprintf("%6.2f%%", s.ValAccuracy*100))
	}
	return str
}

// Tester interface to evaluate the performance after each epoch, Test method returns true if training should stop.
type Tester interface {
	Test(net *Network, epoch int, loss, accuracy float64, start time.Time) bool
}

// Tester which evaluates the loss and accuracy on the validation set, if any, and updates the stats.
type TestBase struct {
	Data  *Dataset
	Pred  []int32
	Stats []Stats
}

// Create a new base class which implements the Tester interface.
func NewTestBase() *TestBase {
	return &TestBase{Stats: []Stats{}}
}

// Initialise the validation dataset. valid may be nil to skip validation.
func (t *TestBase) Init(q num.Queue, conf Config, valid Data, rng *rand.Rand) *TestBase {
	t.Data = nil
	t.Pred = nil
	if valid != nil && valid.Len() > 0 {
		if conf.DebugLevel >= 1 {
			fmt.Printf("init tester: samples=%d batch size=%d\n", valid.Len(), conf.TestBatch)
		}
		t.Data = NewDataset(q, valid, conf.TestBatch, rng)
	}
	return t
}

// Generate the predicted validation classes when test is next run.
func (t *TestBase) Predict() *TestBase {
	if t.Data != nil {
		t.Pred = make([]int32, t.Data.Samples)
	}
	return t
}

// Reset stats prior to new run
func (t *TestBase) Reset() {
	t.Stats = t.Stats[:0]
}

// Test performance of the network, called from the Train function on completion of each epoch.
// BestSince is the number of epochs since the moving average of the validation loss was lowest.
func (t *TestBase) Test(net *Network, epoch int, loss, accuracy float64, start time.Time) bool {
	if net.DebugLevel >= 1 {
		fmt.Printf("== TEST EPOCH %d ==\n", epoch)
	}
	s := Stats{Epoch: epoch, Loss: loss, Accuracy: accuracy, BestSince: -1}
	if t.Data != nil {
		s.Valid = true
		s.ValLoss, s.ValAccuracy = net.Evaluate(t.Data, t.Pred)
	}
	s.Elapsed = time.Since(start)
	return t.add(s, net.Config)
}

// add stats for the next epoch and check if training should stop
func (t *TestBase) add(s Stats, conf Config) bool {
	if s.Valid {
		var prev stats.EMA
		if n := len(t.Stats); n > 0 {
			prev = stats.EMA(t.Stats[n-1].ValAvg)
		}
		s.ValAvg = prev.Add(s.ValLoss, emaN)
		best, bestEpoch := math.Inf(1), 0
		for _, p := range t.Stats {
			if p.Valid && p.ValAvg < best {
				best, bestEpoch = p.ValAvg, p.Epoch
			}
		}
		if s.ValAvg < best {
			bestEpoch = s.Epoch
		}
		s.BestSince = s.Epoch - bestEpoch
	}
	t.Stats = append(t.Stats, s)
	return s.Epoch >= conf.MaxEpoch || (conf.StopAfter > 0 && s.BestSince >= conf.StopAfter)
}

type testLogger struct {
	*TestBase
}

// Create a new tester which logs stats to stdout.
func NewTestLogger(q num.Queue, conf Config, valid Data, rng *rand.Rand) Tester {
	return testLogger{TestBase: NewTestBase().Init(q, conf, valid, rng)}
}

func (t testLogger) Test(net *Network, epoch int, loss, accuracy float64, start time.Time) bool {
	done := t.TestBase.Test(net, epoch, loss, accuracy, start)
	s := t.Stats[len(t.Stats)-1]
	if done || net.LogEvery <= 1 || epoch%net.LogEvery == 0 {
		fmt.Println(s.String())
	}
	if done {
		fmt.Printf("run time: %s\n", s.Elapsed.Round(10*time.Millisecond))
	}
	return done
}

// String formats the stats as a single log line
func (s Stats) String() string {
	msg := fmt.Sprintf("epoch %3d:", s.Epoch)
	for i, val := range s.Format() {
		msg += fmt.Sprintf("  %s =%s", StatsHeaders(s.Valid)[i], val)
	}
	if s.BestSince > 0 {
		msg += fmt.Sprintf(" [%d]", s.BestSince)
	}
	return msg
}

// Train the network on the given training set by updating the weights
func Train(net *Network, dset *Dataset, opt Optimizer, test Tester) {
	done := false
	start := time.Now()
	for epoch := 1; epoch <= net.MaxEpoch && !done; epoch++ {
		loss, accuracy := TrainEpoch(net, dset, opt)
		done = test.Test(net, epoch, loss, accuracy, start)
	}
}

// Perform one training epoch on dataset, returns the mean loss and accuracy over the batches
// as the weights were being updated.
func TrainEpoch(net *Network, dset *Dataset, opt Optimizer) (loss, accuracy float64) {
	q := net.queue
	if net.Shuffle {
		dset.Shuffle()
	}
	q.Call(
		num.Fill(net.total, 0),
		num.Fill(net.totalErr, 0),
	)
	dset.NextEpoch()
	for batch := 0; batch < dset.Batches; batch++ {
		if net.DebugLevel >= 2 || (net.DebugLevel == 1 && batch == 0) {
			fmt.Printf("== train batch %d ==\n", batch)
		}
		x, y, yOneHot := dset.NextBatch()
		size := batchSize(y)
		w := net.workArrays(size)
		yPred := net.Predict(x, w.classes)
		if net.DebugLevel >= 2 {
			fmt.Printf("yOneHot:\n%s", yOneHot.String(q))
		}
		// sum loss and errors over batches
		losses := net.OutLayer().Loss(yOneHot, yPred)
		q.Call(
			num.Sum(losses, net.batchLoss, 1),
			num.Axpy(1, net.batchLoss, net.total),
			num.Neq(w.classes, y, w.diffs),
			num.Sum(w.diffs, net.batchErr, 1),
			num.Axpy(1, net.batchErr, net.totalErr),
		)
		// gradient of mean loss at output
		q.Call(
			num.Copy(w.inputGrad, yPred),
			num.Axpy(-1, yOneHot, w.inputGrad),
			num.Scale(1/float32(size), w.inputGrad),
		)
		if net.DebugLevel >= 2 || (net.DebugLevel == 1 && batch == 0) {
			fmt.Printf("input grad:\n%s", w.inputGrad.String(q))
		}
		grad := w.inputGrad
		// back propagate gradient
		for i := len(net.Layers) - 1; i >= 0; i-- {
			grad = net.Layers[i].Bprop(grad)
			if net.DebugLevel >= 3 {
				fmt.Printf("layer %d bprop output:\n%s", i, grad.String(q))
			}
		}
		// update weights
		opt.Next()
		for _, layer := range net.Layers {
			if l, ok := layer.(ParamLayer); ok {
				W, B := l.Params()
				dW, dB := l.ParamGrads()
				opt.Update(q, W, dW)
				opt.Update(q, B, dB)
			}
		}
		if net.DebugLevel >= 2 || (batch == dset.Batches-1 && net.DebugLevel >= 1) {
			net.PrintWeights()
		}
	}
	res := make([]float32, 2)
	q.Call(
		num.Read(net.total, res[:1]),
		num.Read(net.totalErr, res[1:]),
	).Finish()
	samples := float64(dset.Samples)
	return float64(res[0]) / samples, 1 - float64(res[1])/samples
}
