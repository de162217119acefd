// Package main is the entry point for the cdcbridge CLI.
package main

import (
	"os"

	"github.com/scalytics/cdcbridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
