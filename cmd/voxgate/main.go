// Package main is the entry point for the voxgate CLI.
package main

import (
	"os"

	"github.com/voxgate/voxgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
