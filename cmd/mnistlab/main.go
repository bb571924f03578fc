package main

import (
	"os"

	"github.com/bondmcsteve/artificial-intelligence/cmd/mnistlab/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
