package cmd

import (
	"github.com/spf13/cobra"
)

// Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersion sets the version info from main
func SetVersion(v, c, d string) {
	Version = v
	Commit = c
	Date = d
}

var rootCmd = &cobra.Command{
	Use:   "rationale",
	Short: "Rationale - causal evidence extraction for dialogue transcripts",
	Long:  "Rationale extracts evidence-backed causal explanations from multi-turn dialogue transcripts via CLI or Model Context Protocol.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the rationale command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// serve, version, status (defined in serve.go)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)

	// ask (defined in ask.go)
	rootCmd.AddCommand(askCmd)

	// import (defined in importcmd.go)
	rootCmd.AddCommand(importCmd)
}
