// Package mnist downloads, verifies and decodes the MNIST and Fashion-MNIST datasets.
package mnist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrUnknownDataset = errors.New("unknown dataset")
	ErrChecksum       = errors.New("checksum mismatch")
	ErrFormat         = errors.New("invalid idx file")
)

// File is one gzip compressed IDX file. If SHA256 is blank the file is not verified.
type File struct {
	Name   string
	SHA256 string
}

// Source describes where a dataset is downloaded from and how its labels are named.
type Source struct {
	Name        string
	BaseURL     string
	Classes     []string
	TrainImages File
	TrainLabels File
	TestImages  File
	TestLabels  File
}

// Files returns the list of files which make up the dataset
func (s Source) Files() []File {
	return []File{s.TrainImages, s.TrainLabels, s.TestImages, s.TestLabels}
}

var digits = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

var garments = []string{"t_shirt", "trouser", "pullover", "dress", "coat", "sandal", "shirt", "sneaker", "bag", "ankle_boots"}

// Sources lists the datasets which can be loaded by name
var Sources = map[string]Source{
	"mnist": {
		Name:        "mnist",
		BaseURL:     "https://storage.googleapis.com/cvdf-datasets/mnist/",
		Classes:     digits,
		TrainImages: File{"train-images-idx3-ubyte.gz", "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609"},
		TrainLabels: File{"train-labels-idx1-ubyte.gz", "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c"},
		TestImages:  File{"t10k-images-idx3-ubyte.gz", "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6"},
		TestLabels:  File{"t10k-labels-idx1-ubyte.gz", "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6"},
	},
	"fashion_mnist": {
		Name:        "fashion_mnist",
		BaseURL:     "https://storage.googleapis.com/tensorflow/tf-keras-datasets/",
		Classes:     garments,
		TrainImages: File{Name: "train-images-idx3-ubyte.gz"},
		TrainLabels: File{Name: "train-labels-idx1-ubyte.gz"},
		TestImages:  File{Name: "t10k-images-idx3-ubyte.gz"},
		TestLabels:  File{Name: "t10k-labels-idx1-ubyte.gz"},
	},
}

// Names returns the dataset names in sorted order
func Names() []string {
	var names []string
	for name := range Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the source with the given name. Hyphens are accepted in place of underscores.
func Lookup(name string) (Source, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	if src, ok := Sources[key]; ok {
		return src, nil
	}
	return Source{}, fmt.Errorf("%w %q: must be one of %s", ErrUnknownDataset, name, strings.Join(Names(), ", "))
}

// DefaultDir is the cache directory for downloaded data. It is set from the MNISTLAB_DATA
// environment variable, else a directory under the user cache dir.
func DefaultDir() string {
	if dir := os.Getenv("MNISTLAB_DATA"); dir != "" {
		return dir
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "mnistlab")
	}
	return filepath.Join(os.TempDir(), "mnistlab")
}
