package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bondmcsteve/artificial-intelligence/img"
	"github.com/bondmcsteve/artificial-intelligence/mnist"
	"github.com/bondmcsteve/artificial-intelligence/nnet"
	"github.com/spf13/cobra"
)

var (
	dataDir    string
	dataset    string
	topology   string
	configFile string
	settings   []string
	seed       int64
	quiet      bool
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mnistlab",
		Short:        "Train and run handwritten digit and clothing classifiers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dataDir == "" {
				dataDir = mnist.DefaultDir()
			}
			_, err := mnist.Lookup(dataset)
			return err
		},
	}

	root.PersistentFlags().StringVar(&dataDir, "data", "", "dataset cache dir (default $MNISTLAB_DATA or user cache dir)")
	root.PersistentFlags().StringVarP(&dataset, "dataset", "d", "mnist", "dataset: "+strings.Join(mnist.Names(), " or "))
	root.PersistentFlags().StringVarP(&topology, "topology", "t", nnet.LeNet5.String(), "network topology: mlp, cnn or lenet5")
	root.PersistentFlags().StringVar(&configFile, "config", "", "load settings from JSON config file")
	root.PersistentFlags().StringArrayVar(&settings, "set", nil, "override config setting as key=value")
	root.PersistentFlags().Int64Var(&seed, "seed", 0, "random number seed (0 for random)")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress download progress")

	root.AddCommand(fetchCmd(), summaryCmd(), samplesCmd(), trainCmd(), serveCmd())
	return root
}

// source for the --dataset flag
func source() mnist.Source {
	src, _ := mnist.Lookup(dataset)
	return src
}

func loadData(ctx context.Context) (train, test *img.Data, err error) {
	l := &mnist.Loader{Dir: dataDir, Quiet: quiet}
	return l.Load(ctx, source())
}

// loadConfig returns the config from --config if set, else the defaults for --topology.
// An explicit --topology or --dataset flag overrides the file, then --seed and any --set
// overrides are applied. If the topology differs from the one the layers were built for
// then the layers are regenerated. The dataset flag is updated to match the config.
func loadConfig(cmd *cobra.Command) (conf nnet.Config, err error) {
	flags := cmd.Flags()
	if configFile != "" {
		if conf, err = nnet.LoadConfig(configFile); err != nil {
			return conf, err
		}
		if flags.Changed("topology") {
			conf.Topology = topology
		}
	} else {
		top, err := nnet.ParseTopology(topology)
		if err != nil {
			return conf, err
		}
		if conf, err = nnet.DefaultConfig(source().Name, top, len(source().Classes)); err != nil {
			return conf, err
		}
	}
	layersFor := conf.Topology
	if configFile != "" && flags.Changed("topology") {
		layersFor = ""
	}
	if conf.DataSet == "" || flags.Changed("dataset") {
		conf.DataSet = source().Name
	}
	if flags.Changed("seed") {
		conf.RandSeed = seed
	}
	for _, kv := range settings {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return conf, fmt.Errorf("invalid setting %q: expecting key=value", kv)
		}
		if conf, err = conf.Set(strings.TrimSpace(key), strings.TrimSpace(val)); err != nil {
			return conf, err
		}
	}

	src, err := mnist.Lookup(conf.DataSet)
	if err != nil {
		return conf, err
	}
	dataset, conf.DataSet = src.Name, src.Name
	if conf.Topology != layersFor {
		top, err := nnet.ParseTopology(conf.Topology)
		if err != nil {
			return conf, err
		}
		layers, err := top.Layers(len(src.Classes))
		if err != nil {
			return conf, err
		}
		conf.Topology, conf.Layers = top.String(), nil
		conf = conf.AddLayers(layers...)
	}
	return conf, conf.Validate()
}
