package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/CanopyHQ/rationale/internal/system"
	"github.com/spf13/cobra"
)

var importPattern string

var importCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import dialogue transcripts into the span corpus",
	Long: `Import dialogue transcripts and index them as overlapping spans.

The path can be a single transcript file (json, csv, or txt) or a
directory. JSON files may contain one transcript or an array.

Examples:
  rationale import transcripts/support_001.json
  rationale import transcripts/ --pattern "*.json"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return runImport(args[0]) },
}

func init() {
	importCmd.Flags().StringVarP(&importPattern, "pattern", "p", "", "glob pattern for directory imports (default *.json)")
}

func runImport(path string) error {
	sys, err := system.New()
	if err != nil {
		return fmt.Errorf("failed to open corpus: %w", err)
	}
	defer sys.Close()

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access path: %w", err)
	}

	ctx := context.Background()
	var result system.ImportResult
	if info.IsDir() {
		fmt.Printf("Importing transcripts from directory: %s\n", path)
		result, err = sys.ImportDir(ctx, path, importPattern)
	} else {
		fmt.Printf("Importing transcripts from file: %s\n", path)
		result, err = sys.ImportFile(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("\n✅ Import Complete!\n")
	fmt.Printf("   Transcripts indexed: %d\n", result.Transcripts)
	fmt.Printf("   Spans created: %d\n", result.Spans)
	fmt.Printf("   Duration: %s\n", result.Duration.Round(time.Millisecond))

	if len(result.Errors) > 0 {
		fmt.Printf("\n⚠️  Errors (%d):\n", len(result.Errors))
		for i, e := range result.Errors {
			if i >= 5 {
				fmt.Printf("   ... and %d more\n", len(result.Errors)-5)
				break
			}
			fmt.Printf("   - %s\n", e)
		}
	}

	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
