package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/CanopyHQ/rationale/internal/mcp"
	"github.com/CanopyHQ/rationale/internal/system"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"mcp"},
	Short:   "Start MCP server (default)",
	Long: `Start the MCP server using stdio transport.

The server communicates via JSON-RPC over stdin/stdout and is designed
to be connected to by an MCP client such as Claude Code, Cursor, etc.

Examples:
  rationale serve
  rationale mcp`,
	RunE: func(cmd *cobra.Command, args []string) error { return runServe() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rationale %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus statistics",
	Long: `Show current corpus statistics including indexed transcripts,
spans, event-annotated spans, and database size.

Examples:
  rationale status`,
	RunE: func(cmd *cobra.Command, args []string) error { return runStatus() },
}

func runServe() error {
	fmt.Fprintln(os.Stderr, "🔍 Rationale - causal evidence extraction")
	fmt.Fprintln(os.Stderr, "Starting MCP server (stdio transport)...")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "This server communicates via JSON-RPC over stdin/stdout.")
	fmt.Fprintln(os.Stderr, "It is not an interactive CLI — connect an MCP client (Claude Code, Cursor, etc.).")
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop. Run 'rationale help' for available commands.")
	fmt.Fprintln(os.Stderr, "")

	mcp.Version = Version

	server, err := mcp.NewServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return server.Start()
}

func runStatus() error {
	sys, err := system.New()
	if err != nil {
		return fmt.Errorf("failed to open corpus: %w", err)
	}
	defer sys.Close()

	stats, err := sys.CorpusStats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	fmt.Printf("Rationale Corpus Status:\n")
	fmt.Printf("  Transcripts: %d\n", stats.Transcripts)
	fmt.Printf("  Spans: %d\n", stats.Spans)
	fmt.Printf("  Spans with events: %d\n", stats.SpansWithEvents)
	fmt.Printf("  Database Size: %s\n", stats.DBSize)
	return nil
}
