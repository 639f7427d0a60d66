// Package main is the entry point for the inkling CLI.
package main

import (
	"os"

	"github.com/inklingd/inkling/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
