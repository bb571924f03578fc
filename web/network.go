package web

import (
	"errors"
	"fmt"
	"html/template"
	"image"
	"log"
	"sync"

	"github.com/bondmcsteve/artificial-intelligence/img"
	"github.com/bondmcsteve/artificial-intelligence/nnet"
	"github.com/bondmcsteve/artificial-intelligence/num"
	"github.com/gorilla/websocket"
)

var (
	ErrNotTrained = errors.New("network has not been trained")
	ErrRunning    = errors.New("training is in progress")
)

// Message sent to websocket clients at the end of each epoch and when a run completes
type Message struct {
	Epoch    int
	MaxEpoch int
	Stats    *nnet.Stats `json:",omitempty"`
	Score    *nnet.Score `json:",omitempty"`
	Done     bool
	Error    string `json:",omitempty"`
}

// Network and associated training / test data and configuration. The training run owns
// its own model in a background goroutine. After each epoch the weights are copied to
// the snapshot model which is used to classify user images.
type Network struct {
	Conf     nnet.Config
	Train    *img.Data
	Test     *img.Data
	Stats    []nnet.Stats
	Epoch    int
	Score    *nnet.Score
	Pred     []int32
	Invert   img.Invert
	snapshot *nnet.Model
	conns    map[*websocket.Conn]bool
	running  bool
	stop     bool
	done     chan struct{}
	sync.Mutex
}

// Create a new network for the given config and data sets
func NewNetwork(conf nnet.Config, train, test *img.Data) (*Network, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	n := &Network{Conf: conf, Train: train, Test: test, conns: map[*websocket.Conn]bool{}}
	return n, nil
}

// SetConfig updates the config for the next run. Caller should hold the lock.
func (n *Network) SetConfig(conf nnet.Config) error {
	if n.running {
		return ErrRunning
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	n.Conf = conf
	return nil
}

// Running reports if a training run is active. Caller should hold the lock.
func (n *Network) Running() bool { return n.running }

// Start a new training run in the background. Caller should hold the lock.
func (n *Network) Start() error {
	if n.running {
		return ErrRunning
	}
	conf := n.Conf
	if conf.RandSeed <= 0 {
		conf.RandSeed = nnet.SetSeed(0).Int63()
	}
	q := num.NewDevice().NewQueue()
	snap, err := nnet.NewModel(q, conf, n.Train.Shape(), n.Train.Classes(), nnet.SetSeed(conf.RandSeed))
	if err != nil {
		return err
	}
	log.Printf("train %s on %s: epochs=%d batch=%d", conf.Topology, conf.DataSet, conf.MaxEpoch, conf.TrainBatch)
	n.snapshot = nil
	n.Stats, n.Epoch, n.Score, n.Pred = nil, 0, nil, nil
	n.running, n.stop = true, false
	n.done = make(chan struct{})
	go n.run(conf, snap, n.done)
	return nil
}

// Stop requests the current run to end after the current epoch. Caller should hold the lock.
func (n *Network) Stop() {
	if n.running {
		n.stop = true
	}
}

// Wait blocks until the current training run, if any, has completed.
func (n *Network) Wait() {
	n.Lock()
	done := n.done
	n.Unlock()
	if done != nil {
		<-done
	}
}

func (n *Network) run(conf nnet.Config, snap *nnet.Model, done chan struct{}) {
	defer close(done)
	msg := Message{MaxEpoch: conf.MaxEpoch, Done: true}
	score, pred, err := n.fit(conf, snap)
	n.Lock()
	n.running, n.stop = false, false
	if err != nil {
		log.Println("train error:", err)
		msg.Error = err.Error()
	} else {
		n.Score, n.Pred = &score, pred
		msg.Score = &score
		log.Printf("test loss = %.4f accuracy = %.2f%%", score.Loss, 100*score.Accuracy)
	}
	msg.Epoch = n.Epoch
	n.notify(msg)
	n.Unlock()
}

func (n *Network) fit(conf nnet.Config, snap *nnet.Model) (score nnet.Score, pred []int32, err error) {
	q := num.NewDevice().NewQueue()
	m, err := nnet.NewModel(q, conf, n.Train.Shape(), n.Train.Classes(), nnet.SetSeed(conf.RandSeed))
	if err != nil {
		return score, nil, err
	}
	if err = m.Compile(m.CompileOptions()); err != nil {
		return score, nil, err
	}
	opts := m.FitOptions()
	if conf.ValidateOnTest {
		opts.ValidData, opts.ValidSplit = n.Test, 0
	}
	opts.Callback = func(s nnet.Stats) bool {
		n.Lock()
		defer n.Unlock()
		m.Net.CopyTo(snap.Net)
		n.snapshot = snap
		n.Stats = append(n.Stats, s)
		n.Epoch = s.Epoch
		n.notify(Message{Epoch: s.Epoch, MaxEpoch: conf.MaxEpoch, Stats: &s})
		return n.stop
	}
	if _, err = m.Fit(n.Train, opts); err != nil {
		return score, nil, err
	}
	return m.Classify(n.Test)
}

// Predict classifies a user supplied image using the weights from the latest epoch.
func (n *Network) Predict(src image.Image) (nnet.Prediction, error) {
	n.Lock()
	defer n.Unlock()
	if n.snapshot == nil {
		return nnet.Prediction{}, ErrNotTrained
	}
	x := img.NewPreprocessor(n.Invert).Input(src)
	return n.snapshot.Predict(x)
}

// AddConn registers a websocket client for progress messages
func (n *Network) AddConn(c *websocket.Conn) {
	n.Lock()
	n.conns[c] = true
	n.Unlock()
}

// Watch reads from the client until it disconnects and then removes it. Incoming
// messages are discarded; reading is needed to handle close and ping frames.
func (n *Network) Watch(c *websocket.Conn) {
	for {
		if _, _, err := c.NextReader(); err != nil {
			n.Lock()
			n.dropConn(c)
			n.Unlock()
			return
		}
	}
}

// caller should hold the lock
func (n *Network) dropConn(c *websocket.Conn) {
	if n.conns[c] {
		c.Close()
		delete(n.conns, c)
	}
}

// send message to all clients, caller should hold the lock
func (n *Network) notify(msg Message) {
	for c := range n.conns {
		if err := c.WriteJSON(msg); err != nil {
			log.Println("notify: error writing to websocket:", err)
			n.dropConn(c)
		}
	}
}

func (n *Network) heading() template.HTML {
	s := fmt.Sprintf(`%s on %s: epoch <span id="epoch">%d</span>/%d`, n.Conf.Topology, n.Conf.DataSet, n.Epoch, n.Conf.MaxEpoch)
	if n.running {
		s += " (running)"
	}
	return template.HTML(s)
}
