package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/query"
)

var (
	queryTopK  int
	queryJSON  bool
	queryTrace bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask the knowledge base a question",
	Long: `Answers a question from the nearest corpus chunks and the knowledge graph
entities it mentions, with cited sources and a confidence score.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of chunks to retrieve (defaults to QUERY_TOP_K)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the result as JSON")
	queryCmd.Flags().BoolVar(&queryTrace, "trace", false, "include the retrieval trace")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	var trace *query.QueryTrace
	var tracer query.Tracer
	if queryTrace {
		trace = query.NewQueryTrace()
		tracer = trace
	}

	result := core.QueryWithTrace(cmd.Context(), args[0], queryTopK, tracer)

	if queryJSON {
		out := struct {
			query.Result
			Trace *query.QueryTraceSnapshot `json:"trace,omitempty"`
		}{Result: result}
		if trace != nil {
			snap := trace.Snapshot()
			out.Trace = &snap
		}
		return printJSON(cmd, out)
	}

	cmd.Println(result.Answer)
	cmd.Println()
	cmd.Printf("Confidence: %.2f\n", result.Confidence)
	if len(result.Sources) > 0 {
		cmd.Printf("Sources:    %s\n", strings.Join(result.Sources, ", "))
	}
	if len(result.GraphEntities) > 0 {
		cmd.Printf("Entities:   %s\n", strings.Join(result.GraphEntities, ", "))
	}
	if trace != nil {
		snap := trace.Snapshot()
		cmd.Printf("Chunks:     %s\n", strings.Join(snap.ConsideredChunkIDs, ", "))
	}
	return nil
}
