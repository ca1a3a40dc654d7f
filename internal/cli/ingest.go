package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/ingest"
)

var (
	ingestDir   string
	ingestForce bool
	ingestJSON  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Build the vector index and knowledge graph",
	Long: `Chunks and embeds every supported document of the corpus and extracts
entities and relations into the knowledge graph. A populated index is left
alone unless --force is given or the corpus fingerprint changed.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "corpus directory (defaults to CORPUS_DIR)")
	ingestCmd.Flags().BoolVarP(&ingestForce, "force", "f", false, "rebuild even if the index is populated")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output the summary as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	summary, err := core.Ingest(cmd.Context(), ingestDir, ingestForce)
	if err != nil {
		return err
	}

	if ingestJSON {
		return printJSON(cmd, summary)
	}
	printSummary(cmd, summary)
	return nil
}

func printSummary(cmd *cobra.Command, s ingest.Summary) {
	if s.Skipped {
		cmd.Printf("Skipped %s: %s\n", s.Corpus, s.Reason)
		return
	}
	cmd.Printf("Ingested %s in %s\n", s.Corpus, s.Duration.Round(time.Millisecond))
	cmd.Printf("  documents: %d\n", s.Documents)
	cmd.Printf("  chunks:    %d\n", s.ChunksAdded)
	cmd.Printf("  nodes:     %d\n", s.NodesAdded)
	cmd.Printf("  edges:     %d\n", s.EdgesAdded)
	if len(s.Failed) == 0 {
		return
	}
	cmd.Printf("  failed:    %d\n", len(s.Failed))
	for _, f := range s.Failed {
		cmd.Printf("    %s (%s, %s): %s\n", f.Document, f.Stage, f.Kind, f.Error)
	}
}
