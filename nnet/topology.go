package nnet

import (
	"fmt"
	"strings"
)

// Topology selects one of the predefined network architectures.
type Topology int

const (
	MLP Topology = iota + 1
	CNN
	LeNet5
)

var topologyNames = map[Topology]string{
	MLP:    "mlp",
	CNN:    "cnn",
	LeNet5: "lenet5",
}

// Topologies lists the available architectures in menu order.
var Topologies = []Topology{MLP, CNN, LeNet5}

// ParseTopology converts a name such as "lenet5" or a menu number such as "3" to a Topology.
func ParseTopology(name string) (Topology, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, t := range Topologies {
		if name == t.String() || name == fmt.Sprint(i+1) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown topology %q: must be one of mlp, cnn or lenet5", name)
}

func (t Topology) String() string {
	if s, ok := topologyNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Topology(%d)", int(t))
}

// Description for display in menus
func (t Topology) Description() string {
	switch t {
	case MLP:
		return "multilayer perceptron: flatten, dense 100 relu, dense softmax"
	case CNN:
		return "convnet: 2 x (conv 32 3x3 relu, max pool 2x2), dense 64 relu, dense softmax"
	case LeNet5:
		return "LeNet-5: conv 10 5x5, avg pool, conv 16 5x5, avg pool, dense 120, 84, softmax"
	}
	return t.String()
}

// Layers returns the layer list for this topology with nclass softmax outputs.
func (t Topology) Layers(nclass int) ([]ConfigLayer, error) {
	relu := Activation{Atype: "relu"}
	softmax := Activation{Atype: "softmax"}
	switch t {
	case MLP:
		return []ConfigLayer{
			Flatten{},
			Linear{Nout: 100}, relu,
			Linear{Nout: nclass}, softmax,
		}, nil
	case CNN:
		return []ConfigLayer{
			Conv{Nfeats: 32, Size: 3}, relu,
			MaxPool{Size: 2},
			Conv{Nfeats: 32, Size: 3}, relu,
			MaxPool{Size: 2},
			Flatten{},
			Linear{Nout: 64}, relu,
			Linear{Nout: nclass}, softmax,
		}, nil
	case LeNet5:
		return []ConfigLayer{
			Conv{Nfeats: 10, Size: 5, Pad: -1}, relu,
			AvgPool{Size: 2},
			Conv{Nfeats: 16, Size: 5}, relu,
			AvgPool{Size: 2},
			Flatten{},
			Linear{Nout: 120}, relu,
			Linear{Nout: 84}, relu,
			Linear{Nout: nclass}, softmax,
		}, nil
	}
	return nil, fmt.Errorf("unknown topology %d", int(t))
}
