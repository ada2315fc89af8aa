package main

import (
	"os"

	"github.com/leverlabs/lever-cli/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
