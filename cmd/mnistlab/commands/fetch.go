package commands

import (
	"fmt"

	"github.com/bondmcsteve/artificial-intelligence/mnist"
	"github.com/bondmcsteve/artificial-intelligence/stats"
	"github.com/spf13/cobra"
)

func fetchCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download and cache the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := []string{source().Name}
			if all {
				names = mnist.Names()
			}
			for _, name := range names {
				src, err := mnist.Lookup(name)
				if err != nil {
					return err
				}
				l := &mnist.Loader{Dir: dataDir, Quiet: quiet}
				train, test, err := l.Load(cmd.Context(), src)
				if err != nil {
					return err
				}
				fmt.Printf("%s: train %v test %v\n", src.Name, append([]int{train.Len()}, train.Shape()...), append([]int{test.Len()}, test.Shape()...))
				dist := new(stats.Average)
				for _, n := range train.Distribution() {
					dist.Add(float64(n))
				}
				fmt.Printf("images per class: %s [%.0f - %.0f]\n", dist, dist.Min, dist.Max)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "fetch all datasets")
	return cmd
}
