// fourdrec-resolve is the farm-side stage runner. The render farm invokes it
// once per task with the stage, frame and job sheet on the command line; it
// runs the stage against the engine workspace and exits non-zero on failure.
package main

import (
	"fmt"
	"os"

	"github.com/fourdrec/fourdrec/cmd/fourdrec-resolve/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
