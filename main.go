package main

import (
	"os"

	"github.com/ovs-container-lab/ovs-router/cmd"
)

// Build-time variables set via ldflags.
var (
	version = "0.1.0"
	commit  = "none"
)

func main() {
	cmd.SetVersionInfo(version, commit)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
