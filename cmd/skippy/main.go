// Package main is the entry point for the skippy CLI.
package main

import (
	"os"

	"github.com/skippybot/skippy/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
