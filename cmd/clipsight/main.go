// Package main is the entry point for the clipsight binary.
package main

import (
	"os"

	"github.com/clipsight/clipsight/cmd/clipsight/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
