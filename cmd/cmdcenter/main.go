// Package main is the entry point for the cmdcenter plugin host.
package main

import (
	"os"

	"github.com/dshills/cmdcenter/internal/cli"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := cli.NewRootCommand(version, commit, date).Execute(); err != nil {
		os.Exit(1)
	}
}
