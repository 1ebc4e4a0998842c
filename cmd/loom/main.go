package main

import (
	"os"

	"github.com/go-loom/loom/cmd/loom/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
