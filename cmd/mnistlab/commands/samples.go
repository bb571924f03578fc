package commands

import (
	"fmt"
	"image/png"
	"os"

	"github.com/bondmcsteve/artificial-intelligence/img"
	"github.com/bondmcsteve/artificial-intelligence/nnet"
	"github.com/spf13/cobra"
)

func samplesCmd() *cobra.Command {
	var (
		out             string
		rows, cols, scl int
		useTest         bool
	)
	cmd := &cobra.Command{
		Use:   "samples",
		Short: "Write a grid of randomly chosen images to a PNG file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rows < 1 || cols < 1 || scl < 1 {
				return fmt.Errorf("rows, cols and scale must be positive")
			}
			train, test, err := loadData(cmd.Context())
			if err != nil {
				return err
			}
			data := train
			if useTest {
				data = test
			}
			rng := nnet.SetSeed(seed)
			n := rows * cols
			if n > data.Len() {
				n = data.Len()
			}
			index := rng.Perm(data.Len())[:n]
			m := img.Grid(data, index, img.GridOptions{Cols: cols, Scale: scl, Caption: true})
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err = png.Encode(f, m); err != nil {
				f.Close()
				return fmt.Errorf("encode %s: %w", out, err)
			}
			if err = f.Close(); err != nil {
				return err
			}
			fmt.Printf("wrote %d %s images to %s\n", n, data.Name, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "samples.png", "output PNG file")
	cmd.Flags().IntVar(&rows, "rows", 6, "number of rows")
	cmd.Flags().IntVar(&cols, "cols", 6, "number of columns")
	cmd.Flags().IntVar(&scl, "scale", 3, "image scale factor")
	cmd.Flags().BoolVar(&useTest, "test", false, "use the test set")
	return cmd
}
