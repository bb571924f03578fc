package nnet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
)

// Training configuration settings
type Config struct {
	DataSet        string
	Topology       string
	Loss           string
	Optimizer      string
	Eta            float64
	Beta1          float64
	Beta2          float64
	Epsilon        float64
	Lambda         float64
	WeightInit     string
	TrainBatch     int
	TestBatch      int
	MaxEpoch       int
	ValidSplit     float64
	ValidateOnTest bool
	Shuffle        bool
	StopAfter      int
	RandSeed       int64
	LogEvery       int
	DebugLevel     int
	Profile        bool
	Layers         []LayerConfig
}

// DefaultConfig returns the settings for training the given topology on the named dataset:
// Adam with learning rate 0.01, batch size 128, 5 epochs and 10% of the training set held out for validation.
func DefaultConfig(dataset string, topology Topology, nclass int) (Config, error) {
	c := Config{
		DataSet:    dataset,
		Topology:   topology.String(),
		Loss:       "categorical_crossentropy",
		Optimizer:  "adam",
		Eta:        0.01,
		Beta1:      0.9,
		Beta2:      0.999,
		Epsilon:    1e-7,
		WeightInit: "glorot_uniform",
		TrainBatch: 128,
		TestBatch:  1000,
		MaxEpoch:   5,
		ValidSplit: 0.1,
		Shuffle:    true,
		LogEvery:   1,
	}
	layers, err := topology.Layers(nclass)
	if err != nil {
		return c, err
	}
	return c.AddLayers(layers...), nil
}

// Load network from json file
func LoadConfig(path string) (c Config, err error) {
	var f *os.File
	if f, err = os.Open(path); err != nil {
		return
	}
	defer f.Close()
	fmt.Println("loading network config from", path)
	dec := json.NewDecoder(f)
	if err = dec.Decode(&c); err != nil {
		return c, fmt.Errorf("decode %s: %w", path, err)
	}
	return c, c.Validate()
}

// Append layers to the config struct
func (c Config) AddLayers(layers ...ConfigLayer) Config {
	for _, l := range layers {
		c.Layers = append(c.Layers, l.Marshal())
	}
	return c
}

// Save config to JSON file, written to a temporary file first and then renamed.
func (c Config) Save(path string) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path))
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	fmt.Println("saving network config to", path)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(c); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Validate checks the settings are in range and the layer list can be decoded.
func (c Config) Validate() error {
	switch {
	case c.TrainBatch < 1:
		return fmt.Errorf("invalid TrainBatch %d", c.TrainBatch)
	case c.MaxEpoch < 1:
		return fmt.Errorf("invalid MaxEpoch %d", c.MaxEpoch)
	case c.ValidSplit < 0 || c.ValidSplit >= 1:
		return fmt.Errorf("ValidSplit %g must be in range [0,1)", c.ValidSplit)
	case c.Eta <= 0:
		return fmt.Errorf("invalid learning rate %g", c.Eta)
	case c.WeightInit != "glorot_uniform" && c.WeightInit != "normal":
		return fmt.Errorf("invalid WeightInit %q", c.WeightInit)
	case len(c.Layers) == 0:
		return fmt.Errorf("no layers defined")
	}
	for i, l := range c.Layers {
		if _, err := l.Unmarshal(); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return nil
}

func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField()-1)
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func (c Config) Get(key string) interface{} {
	s := reflect.ValueOf(c)
	return s.FieldByName(key).Interface()
}

func (c Config) configString() string {
	fields := c.Fields()
	str := []string{"== Config =="}
	for _, key := range fields {
		str = append(str, fmt.Sprintf("%-14s: %v", key, c.Get(key)))
	}
	return strings.Join(str, "\n")
}

func (c Config) String() string {
	s := c.configString()
	if c.Layers != nil {
		str := []string{"\n== Network =="}
		for i, layer := range c.Layers {
			str = append(str, fmt.Sprintf("%2d: %s", i, layer))
		}
		s += strings.Join(str, "\n")
	}
	return s
}

// Set parses the value and updates the named field, matching the field name case insensitively.
func (c Config) Set(key, val string) (Config, error) {
	name := c.fieldName(key)
	if name == "" {
		return c, fmt.Errorf("unknown config field %q", key)
	}
	if reflect.ValueOf(c).FieldByName(name).Kind() == reflect.Bool {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return c, fmt.Errorf("%s: %w", name, err)
		}
		return c.SetBool(name, b)
	}
	return c.SetString(name, val)
}

func (c Config) fieldName(key string) string {
	for _, name := range c.Fields() {
		if strings.EqualFold(name, key) {
			return name
		}
	}
	return ""
}

func (c Config) SetString(key, val string) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if !f.IsValid() {
		return c, fmt.Errorf("unknown config field %q", key)
	}
	var err error
	switch f.Type().Kind() {
	case reflect.Int, reflect.Int64:
		var x int64
		if x, err = strconv.ParseInt(val, 10, 64); err == nil {
			f.SetInt(x)
		}
	case reflect.Float64:
		var x float64
		if x, err = strconv.ParseFloat(val, 64); err == nil {
			f.SetFloat(x)
		}
	case reflect.String:
		f.SetString(val)
	default:
		return c, fmt.Errorf("invalid type for SetString: %v", f.Type().Kind())
	}
	return c, err
}

func (c Config) SetBool(key string, val bool) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if f.IsValid() && f.Type().Kind() == reflect.Bool {
		f.SetBool(val)
		return c, nil
	}
	return c, fmt.Errorf("invalid type for SetBool: %s", key)
}
