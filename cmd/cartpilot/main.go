// Package main is the entry point for the cartpilot CLI.
package main

import (
	"os"

	"github.com/jmylchreest/cartpilot/cmd/cartpilot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
