package main

import (
	"os"

	"github.com/anvil-platform/modforge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
