package main

import (
	"os"

	"github.com/polyindex/polyindex/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
