package commands

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/bondmcsteve/artificial-intelligence/img"
	"github.com/bondmcsteve/artificial-intelligence/web"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		addr   string
		invert string
		opts   = web.DefaultOptions()
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web page to train the network and classify drawn or uploaded images",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetFlags(log.LstdFlags)
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			inv, err := img.ParseInvert(invert)
			if err != nil {
				return err
			}
			if opts.Password == "" {
				opts.Password = os.Getenv("MNISTLAB_PASSWORD")
			}
			train, test, err := loadData(cmd.Context())
			if err != nil {
				return err
			}
			net, err := web.NewNetwork(conf, train, test)
			if err != nil {
				return err
			}
			net.Invert = inv
			r, err := web.NewRouter(net, opts)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}
			log.Printf("serving web page at http://%s", displayAddr(addr))
			return srv.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&invert, "invert", "auto", "invert image colours: auto, always or never")
	cmd.Flags().StringVar(&opts.User, "user", "admin", "login user name")
	cmd.Flags().StringVar(&opts.Password, "password", "", "login password, no login if blank (default $MNISTLAB_PASSWORD)")
	cmd.Flags().IntVar(&opts.Scale, "scale", opts.Scale, "image scale factor")
	cmd.Flags().IntVar(&opts.Rows, "rows", opts.Rows, "image rows per page")
	cmd.Flags().IntVar(&opts.Cols, "cols", opts.Cols, "image columns per page")
	return cmd
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
