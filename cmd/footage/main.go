// Package main provides the CLI entry point for the footage analysis server.
package main

import (
	"fmt"
	"os"

	"github.com/banshee-data/footage.report/cmd/footage/cmd"
)

func main() {
	if err := cmd.NewCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
