package cmd

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/CanopyHQ/rationale/internal/system"
	"github.com/spf13/cobra"
)

var askConversationID string
var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Ask a causal question about imported transcripts",
	Long: `Ask a causal question about the imported dialogue transcripts and
get an evidence-backed explanation with citations.

Pass --conversation to continue an earlier conversation; follow-up
questions ("what about that?") are resolved against its history.

Examples:
  rationale ask "Why did the customer escalate?"
  rationale ask --conversation support-review "what happened after that?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVarP(&askConversationID, "conversation", "c", "", "conversation id to continue")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response as JSON")
}

func runAsk(query string) error {
	sys, err := system.New()
	if err != nil {
		return fmt.Errorf("failed to open corpus: %w", err)
	}
	defer sys.Close()

	resp, err := sys.Ask(context.Background(), query, askConversationID)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if askJSON {
		return printJSON(resp)
	}

	fmt.Println(resp.Response)

	if len(resp.Evidence) > 0 {
		fmt.Printf("\nEvidence (%d span(s)):\n", resp.EvidenceCount)
		for _, ev := range resp.Evidence {
			fmt.Printf("  [%d] %s (score: %.2f)\n", ev.EvidenceID, ev.SpanID, ev.EvidenceScore)
			fmt.Printf("      %s\n", firstLine(ev.Text, 120))
		}
	}

	if convID, ok := resp.Metadata["conversation_id"].(string); ok && askConversationID == "" {
		fmt.Printf("\nConversation: %s (pass --conversation %s to follow up)\n", convID, convID)
	}
	return nil
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		cut := max - 3
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
