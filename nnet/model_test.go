package nnet

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/bondmcsteve/artificial-intelligence/num"
)

var stripeShape = []int{8, 8, 1}

// two classes of 8x8 images: bright left half or bright right half
func stripeData(samples int, seed int64) Data {
	rng := rand.New(rand.NewSource(seed))
	nfeat := num.Prod(stripeShape)
	labels := make([]int32, samples)
	inputs := make([]float32, samples*nfeat)
	for i := range labels {
		labels[i] = int32(rng.Intn(2))
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				v := rng.Float32() * 0.2
				if (x < 4) == (labels[i] == 0) {
					v += 0.6
				}
				inputs[i*nfeat+y*8+x] = v
			}
		}
	}
	return NewData(2, stripeShape, labels, inputs)
}

func stripeConfig(seed int64) Config {
	conf := Config{
		DataSet:    "stripes",
		Topology:   "test",
		Loss:       "categorical_crossentropy",
		Optimizer:  "adam",
		Eta:        0.01,
		Beta1:      0.9,
		Beta2:      0.999,
		Epsilon:    1e-7,
		WeightInit: "glorot_uniform",
		TrainBatch: 20,
		TestBatch:  50,
		MaxEpoch:   5,
		ValidSplit: 0.2,
		Shuffle:    true,
		RandSeed:   seed,
		LogEvery:   1,
	}
	return conf.AddLayers(
		Conv{Nfeats: 4, Size: 3, Pad: -1},
		Activation{Atype: "relu"},
		AvgPool{Size: 2},
		Conv{Nfeats: 4, Size: 3},
		Activation{Atype: "relu"},
		MaxPool{Size: 2},
		Flatten{},
		Linear{Nout: 8},
		Activation{Atype: "relu"},
		Linear{Nout: 2},
		Activation{Atype: "softmax"},
	)
}

func newModel(t *testing.T, conf Config) *Model {
	q := num.NewDevice().NewQueue()
	m, err := NewModel(q, conf, stripeShape, []string{"left", "right"}, SetSeed(conf.RandSeed))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCompileOnce(t *testing.T) {
	m := newModel(t, stripeConfig(1))
	train := stripeData(50, 2)
	if _, err := m.Fit(train, m.FitOptions()); !errors.Is(err, ErrNotCompiled) {
		t.Error("fit before compile: got", err)
	}
	if _, err := m.Evaluate(train); !errors.Is(err, ErrNotCompiled) {
		t.Error("evaluate before compile: got", err)
	}
	opts := m.CompileOptions()
	opts.Loss = "mse"
	if err := m.Compile(opts); !errors.Is(err, ErrUnsupported) {
		t.Error("invalid loss: got", err)
	}
	if err := m.Compile(CompileOptions{Loss: "categorical_crossentropy", Optimizer: "rmsprop"}); !errors.Is(err, ErrUnsupported) {
		t.Error("invalid optimizer: got", err)
	}
	if err := m.Compile(m.CompileOptions()); err != nil {
		t.Fatal(err)
	}
	if !m.Compiled() {
		t.Error("model should be compiled")
	}
	if err := m.Compile(m.CompileOptions()); !errors.Is(err, ErrCompiled) {
		t.Error("second compile: got", err)
	}
}

func TestShapeErrors(t *testing.T) {
	m := newModel(t, stripeConfig(1))
	if err := m.Compile(m.CompileOptions()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Predict(make([]float32, 10)); !errors.Is(err, ErrShape) {
		t.Error("predict: got", err)
	}
	other := NewData(2, []int{4, 4, 1}, []int32{0}, make([]float32, 16))
	if _, err := m.Evaluate(other); !errors.Is(err, ErrShape) {
		t.Error("evaluate: got", err)
	}
	if _, err := m.Fit(other, m.FitOptions()); !errors.Is(err, ErrShape) {
		t.Error("fit: got", err)
	}
	q := num.NewDevice().NewQueue()
	if _, err := NewModel(q, stripeConfig(1), stripeShape, []string{"a", "b", "c"}, SetSeed(1)); !errors.Is(err, ErrShape) {
		t.Error("classes: got", err)
	}
}

func TestFit(t *testing.T) {
	m := newModel(t, stripeConfig(1))
	if err := m.Compile(m.CompileOptions()); err != nil {
		t.Fatal(err)
	}
	train, test := stripeData(500, 2), stripeData(100, 3)
	stats, err := m.Fit(train, m.FitOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 5 {
		t.Fatalf("got %d epochs of stats expect 5", len(stats))
	}
	for _, s := range stats {
		if !s.Valid || s.Loss <= 0 || math.IsNaN(s.Loss) || s.ValAccuracy < 0 || s.ValAccuracy > 1 {
			t.Errorf("invalid stats %+v", s)
		}
	}
	if stats[4].Loss >= stats[0].Loss {
		t.Errorf("loss did not decrease: %.4f => %.4f", stats[0].Loss, stats[4].Loss)
	}
	score, err := m.Evaluate(test)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("test loss = %.4f accuracy = %.2f%%", score.Loss, score.Accuracy*100)
	if score.Accuracy < 0.9 {
		t.Errorf("test accuracy %.3f too low", score.Accuracy)
	}
	score2, classes, err := m.Classify(test)
	if err != nil {
		t.Fatal(err)
	}
	labels := make([]int32, test.Len())
	test.Label(seq(test.Len()), labels)
	correct := 0
	for i, c := range classes {
		if c == labels[i] {
			correct++
		}
	}
	if math.Abs(score2.Accuracy-score.Accuracy) > 1e-9 || math.Abs(float64(correct)/float64(len(classes))-score.Accuracy) > 1e-9 {
		t.Errorf("classify mismatch: %+v %+v correct=%d", score, score2, correct)
	}
	x := make([]float32, 64)
	test.Input([]int{0}, x)
	label := []int32{0}
	test.Label([]int{0}, label)
	pred, err := m.Predict(x)
	if err != nil {
		t.Fatal(err)
	}
	var sum float32
	for _, p := range pred.Probs {
		sum += p
	}
	if math.Abs(float64(sum-1)) > 1e-5 || pred.Label != m.Classes()[pred.Class] {
		t.Errorf("invalid prediction %+v", pred)
	}
	if pred.Class != int(label[0]) {
		t.Errorf("predicted %d expect %d", pred.Class, label[0])
	}
}

func TestFitCallback(t *testing.T) {
	m := newModel(t, stripeConfig(1))
	if err := m.Compile(m.CompileOptions()); err != nil {
		t.Fatal(err)
	}
	opts := m.FitOptions()
	opts.ValidSplit = 0
	opts.ValidData = stripeData(40, 4)
	opts.Callback = func(s Stats) bool { return s.Epoch == 2 }
	stats, err := m.Fit(stripeData(100, 2), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 || !stats[1].Valid {
		t.Errorf("expecting 2 epochs with validation: got %+v", stats)
	}
}

func TestSeedDeterminism(t *testing.T) {
	train, test := stripeData(200, 2), stripeData(100, 3)
	var scores []Score
	for i := 0; i < 2; i++ {
		conf := stripeConfig(42)
		conf.MaxEpoch = 2
		m := newModel(t, conf)
		if err := m.Compile(m.CompileOptions()); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Fit(train, m.FitOptions()); err != nil {
			t.Fatal(err)
		}
		score, err := m.Evaluate(test)
		if err != nil {
			t.Fatal(err)
		}
		scores = append(scores, score)
	}
	if math.Abs(scores[0].Accuracy-scores[1].Accuracy) > 1e-9 || math.Abs(scores[0].Loss-scores[1].Loss) > 1e-6 {
		t.Errorf("same seed gave different results: %+v %+v", scores[0], scores[1])
	}
}

func TestEarlyStopping(t *testing.T) {
	tb := NewTestBase()
	conf := Config{MaxEpoch: 10, StopAfter: 2}
	expect := []int{0, 0, 1, 2}
	for i, loss := range []float64{1.0, 0.8, 0.9, 1.0, 1.1, 1.2} {
		done := tb.add(Stats{Epoch: i + 1, Valid: true, ValLoss: loss}, conf)
		if got := tb.Stats[i].BestSince; got != expect[i] {
			t.Errorf("epoch %d: best since %d expect %d", i+1, got, expect[i])
		}
		if done {
			if i != 3 {
				t.Errorf("stopped at epoch %d expect 4", i+1)
			}
			return
		}
	}
	t.Error("training did not stop")
}

func TestNoValidation(t *testing.T) {
	tb := NewTestBase()
	conf := Config{MaxEpoch: 2, StopAfter: 1}
	if tb.add(Stats{Epoch: 1, Loss: 0.5, BestSince: -1}, conf) {
		t.Error("should not stop at epoch 1 without validation data")
	}
	if !tb.add(Stats{Epoch: 2, Loss: 0.4, BestSince: -1}, conf) {
		t.Error("should stop at max epoch")
	}
	if s := tb.Stats[1]; s.Valid || len(s.Format()) != 2 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}
