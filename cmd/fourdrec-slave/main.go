// Package main is the entry point for the fourdrec-slave capture daemon.
//
// fourdrec-slave runs on each capture node: it opens the cameras the
// topology assigns to its hostname, connects to the master over the control
// bus, and streams camera status, live view and shot frames. An external
// wrapper respawns the process when it exits with the restart code.
package main

import (
	"errors"
	"os"

	"github.com/fourdrec/fourdrec/cmd/fourdrec-slave/cmd"
	"github.com/fourdrec/fourdrec/internal/slave"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, slave.ErrRestartRequested) {
			os.Exit(slave.RestartExitCode)
		}
		os.Exit(1)
	}
}
