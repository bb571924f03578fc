package commands

import (
	"fmt"

	"github.com/bondmcsteve/artificial-intelligence/img"
	"github.com/bondmcsteve/artificial-intelligence/nnet"
	"github.com/bondmcsteve/artificial-intelligence/num"
	"github.com/spf13/cobra"
)

func summaryCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the network layers and parameter counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			q := num.NewDevice().NewQueue()
			defer q.Shutdown()
			inShape := img.NewPreprocessor(img.InvertNever).Shape()[1:]
			m, err := nnet.NewModel(q, conf, inShape, source().Classes, nnet.SetSeed(conf.RandSeed))
			if err != nil {
				return err
			}
			if verbose {
				fmt.Fprintln(cmd.OutOrStdout(), m.Net)
			}
			fmt.Fprint(cmd.OutOrStdout(), m.Net.Summary())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also print the config settings")
	return cmd
}
