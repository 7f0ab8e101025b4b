// Rationale - causal evidence extraction for dialogue transcripts
// Evidence-backed explanations over multi-turn conversations via CLI or MCP
package main

import (
	"fmt"
	"os"

	"github.com/CanopyHQ/rationale/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
