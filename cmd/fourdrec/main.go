// Package main is the entry point for the fourdrec master.
package main

import (
	"os"

	"github.com/fourdrec/fourdrec/cmd/fourdrec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
