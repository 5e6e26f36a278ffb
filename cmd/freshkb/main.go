// Package main provides the entry point for the freshkb CLI.
package main

import (
	"os"

	"github.com/freshkb/freshkb/cmd/freshkb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
