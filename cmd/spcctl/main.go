// Command spcctl evaluates control chart data from the command line and runs
// a monitoring server.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
