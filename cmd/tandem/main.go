// Package main provides the entry point for the Tandem CLI.
package main

import (
	"fmt"
	"os"

	"github.com/tandem-dev/tandem/cmd/tandem/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
