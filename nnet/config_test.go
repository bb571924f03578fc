package nnet

import (
	"path/filepath"
	"testing"

	"github.com/bondmcsteve/artificial-intelligence/num"
)

func TestDefaultConfig(t *testing.T) {
	conf, err := DefaultConfig("fashion_mnist", CNN, 10)
	if err != nil {
		t.Fatal(err)
	}
	if err = conf.Validate(); err != nil {
		t.Fatal(err)
	}
	if conf.TrainBatch != 128 || conf.MaxEpoch != 5 || conf.ValidSplit != 0.1 || conf.Eta != 0.01 || conf.Optimizer != "adam" {
		t.Errorf("unexpected defaults\n%s", conf)
	}
	if _, err = DefaultConfig("mnist", Topology(9), 10); err == nil {
		t.Error("expecting error for invalid topology")
	}
	t.Log(conf)
}

func TestConfigSaveLoad(t *testing.T) {
	conf, _ := DefaultConfig("mnist", LeNet5, 10)
	conf.MaxEpoch = 12
	path := filepath.Join(t.TempDir(), "lenet5.json")
	if err := conf.Save(path); err != nil {
		t.Fatal(err)
	}
	conf2, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if conf2.String() != conf.String() {
		t.Errorf("config mismatch:\n%s\n%s", conf, conf2)
	}
	q := num.NewDevice().NewQueue()
	net, err := New(q, conf2, mnistShape)
	if err != nil {
		t.Fatal(err)
	}
	if net.NumParams() != 63410 {
		t.Error("invalid params for loaded network:", net.NumParams())
	}
}

func TestConfigSet(t *testing.T) {
	conf, _ := DefaultConfig("mnist", MLP, 10)
	tests := []struct {
		key, val string
		expect   interface{}
	}{
		{"maxepoch", "3", 3},
		{"Eta", "0.001", 0.001},
		{"shuffle", "false", false},
		{"RandSeed", "99", int64(99)},
		{"optimizer", "sgd", "sgd"},
	}
	for _, test := range tests {
		var err error
		if conf, err = conf.Set(test.key, test.val); err != nil {
			t.Fatal(err)
		}
		if got := conf.Get(conf.fieldName(test.key)); got != test.expect {
			t.Errorf("%s: got %v expect %v", test.key, got, test.expect)
		}
	}
	for _, kv := range [][2]string{{"nosuch", "1"}, {"MaxEpoch", "x"}, {"Shuffle", "maybe"}, {"Layers", "[]"}} {
		if _, err := conf.Set(kv[0], kv[1]); err == nil {
			t.Errorf("expecting error setting %s=%s", kv[0], kv[1])
		}
	}
}

func TestValidate(t *testing.T) {
	conf, _ := DefaultConfig("mnist", MLP, 10)
	bad := []func(c *Config){
		func(c *Config) { c.TrainBatch = 0 },
		func(c *Config) { c.ValidSplit = 1 },
		func(c *Config) { c.Eta = 0 },
		func(c *Config) { c.WeightInit = "zeros" },
		func(c *Config) { c.Layers = nil },
		func(c *Config) { c.Layers = append(c.Layers, Activation{Atype: "tanh"}.Marshal()) },
	}
	for i, fn := range bad {
		c := conf
		c.Layers = append([]LayerConfig{}, conf.Layers...)
		fn(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%d: expecting validation error", i)
		}
	}
}
