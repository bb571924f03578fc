package mnist_test

import (
	"context"
	"os"
	"testing"

	"github.com/bondmcsteve/artificial-intelligence/mnist"
	"github.com/bondmcsteve/artificial-intelligence/nnet"
	"github.com/bondmcsteve/artificial-intelligence/num"
)

// Trains LeNet5 on the full MNIST dataset. Set MNISTLAB_DATA to the data directory to run it.
func TestLeNet5Accuracy(t *testing.T) {
	dir := os.Getenv("MNISTLAB_DATA")
	if dir == "" || testing.Short() {
		t.Skip("MNISTLAB_DATA not set")
	}
	train, test, err := mnist.Load(context.Background(), "mnist", dir)
	if err != nil {
		t.Fatal(err)
	}
	conf, err := nnet.DefaultConfig("mnist", nnet.LeNet5, len(train.Classes()))
	if err != nil {
		t.Fatal(err)
	}
	conf.MaxEpoch = 2
	conf.RandSeed = 1
	q := num.NewDevice().NewQueue()
	m, err := nnet.NewModel(q, conf, train.Shape(), train.Classes(), nnet.SetSeed(conf.RandSeed))
	if err != nil {
		t.Fatal(err)
	}
	if err = m.Compile(m.CompileOptions()); err != nil {
		t.Fatal(err)
	}
	if _, err = m.Fit(train, m.FitOptions()); err != nil {
		t.Fatal(err)
	}
	score, err := m.Evaluate(test)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("test loss = %.4f accuracy = %.2f%%", score.Loss, score.Accuracy*100)
	if score.Accuracy < 0.9 {
		t.Errorf("accuracy %.4f below 90%%", score.Accuracy)
	}
}
