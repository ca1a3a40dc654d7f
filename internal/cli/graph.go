package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	graphJSON bool
	exportOut string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect the knowledge graph",
}

var graphStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show node and edge counts",
	Args:  cobra.NoArgs,
	RunE:  runGraphStats,
}

var graphExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the graph as JSON",
	Long:  `Writes every node and edge of the knowledge graph as a JSON snapshot, to stdout or --out.`,
	Args:  cobra.NoArgs,
	RunE:  runGraphExport,
}

func init() {
	graphStatsCmd.Flags().BoolVar(&graphJSON, "json", false, "output as JSON")
	graphExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (defaults to stdout)")
	graphCmd.AddCommand(graphStatsCmd, graphExportCmd)
	rootCmd.AddCommand(graphCmd)
}

func runGraphStats(cmd *cobra.Command, _ []string) error {
	stats := core.GraphStats()
	if graphJSON {
		return printJSON(cmd, stats)
	}
	cmd.Printf("Nodes: %d\n", stats.Nodes)
	cmd.Printf("Edges: %d\n", stats.Edges)
	if stats.Location != "" {
		cmd.Printf("Snapshot: %s\n", stats.Location)
	}
	return nil
}

func runGraphExport(cmd *cobra.Command, _ []string) error {
	snap := core.GraphExport()
	if exportOut == "" {
		return printJSON(cmd, snap)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	if err := os.WriteFile(exportOut, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	cmd.Printf("Saved %s (%d nodes, %d edges)\n", exportOut, len(snap.Nodes), len(snap.Edges))
	return nil
}
