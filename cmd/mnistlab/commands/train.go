package commands

import (
	"fmt"
	"image"
	"os"

	"github.com/bondmcsteve/artificial-intelligence/img"
	"github.com/bondmcsteve/artificial-intelligence/nnet"
	"github.com/bondmcsteve/artificial-intelligence/num"
	"github.com/bondmcsteve/artificial-intelligence/plots"
	"github.com/spf13/cobra"
)

func trainCmd() *cobra.Command {
	var (
		epochs, batch int
		validSplit    float64
		images        []string
		invert        string
		plotFile      string
		saveConfig    string
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Compile, fit and evaluate the model, then classify any image files given",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("epochs") {
				conf.MaxEpoch = epochs
			}
			if cmd.Flags().Changed("batch") {
				conf.TrainBatch = batch
			}
			if cmd.Flags().Changed("split") {
				conf.ValidSplit = validSplit
			}
			if err = conf.Validate(); err != nil {
				return err
			}
			inv, err := img.ParseInvert(invert)
			if err != nil {
				return err
			}
			// decode the images first so a bad file fails before training
			srcs := make([]image.Image, len(images))
			for i, name := range images {
				if srcs[i], err = readImage(name); err != nil {
					return err
				}
			}
			if saveConfig != "" {
				if err = conf.Save(saveConfig); err != nil {
					return err
				}
			}

			train, test, err := loadData(cmd.Context())
			if err != nil {
				return err
			}
			dev := num.NewDevice()
			q := dev.NewQueue()
			defer q.Shutdown()
			fmt.Println(dev)
			m, err := nnet.NewModel(q, conf, train.Shape(), train.Classes(), nnet.SetSeed(conf.RandSeed))
			if err != nil {
				return err
			}
			fmt.Print(m.Net.Summary())
			if err = m.Compile(m.CompileOptions()); err != nil {
				return err
			}
			opts := m.FitOptions()
			if conf.ValidateOnTest {
				opts.ValidData, opts.ValidSplit = test, 0
			}
			history, err := m.Fit(train, opts)
			if err != nil {
				return err
			}
			score, err := m.Evaluate(test)
			if err != nil {
				return err
			}
			fmt.Printf("Test loss: %.4f\nTest accuracy: %.4f\n", score.Loss, score.Accuracy)
			if plotFile != "" {
				if err = plots.Save(plotFile, history, 800, 400); err != nil {
					return err
				}
				fmt.Println("saved training curves to", plotFile)
			}

			pre := img.NewPreprocessor(inv)
			for i, src := range srcs {
				pred, err := m.Predict(pre.Input(src))
				if err != nil {
					return err
				}
				fmt.Printf("%s: predicted class %d (%s) probability %.3f\n", images[i], pred.Class, pred.Label, pred.Probs[pred.Class])
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&epochs, "epochs", "e", 5, "number of training epochs")
	cmd.Flags().IntVarP(&batch, "batch", "b", 128, "training batch size")
	cmd.Flags().Float64Var(&validSplit, "split", 0.1, "fraction of training data held out for validation")
	cmd.Flags().StringArrayVarP(&images, "image", "i", nil, "image file to classify after training (may be repeated)")
	cmd.Flags().StringVar(&invert, "invert", "auto", "invert image colours: auto, always or never")
	cmd.Flags().StringVar(&plotFile, "plot", "", "save loss and accuracy curves to .svg, .png or .pdf file")
	cmd.Flags().StringVar(&saveConfig, "save-config", "", "write the settings used to a JSON config file")
	return cmd
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := img.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
