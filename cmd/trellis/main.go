package main

import (
	"os"

	"github.com/trellis-dev/trellis/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
