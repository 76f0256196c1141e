package main

import (
	"os"

	"github.com/hupe1980/flowmesh/cli"
)

var version = "dev"

func main() {
	cli.Version = version
	os.Exit(cli.Execute())
}
