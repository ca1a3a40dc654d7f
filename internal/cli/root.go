// Package cli implements the kiwi-support command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/app"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/config"
)

var (
	core *app.App

	// newApp builds the App for a command run. Tests replace it.
	newApp = func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg)
	}
)

var rootCmd = &cobra.Command{
	Use:   "kiwi-support",
	Short: "Graph-RAG knowledge base for customer support",
	Long: `Builds a vector index and a knowledge graph from a document corpus
and answers questions grounded in both.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func setup(cmd *cobra.Command, _ []string) error {
	if core != nil {
		return nil
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return fmt.Errorf("initialise: %w", err)
	}
	core = a
	return nil
}

func teardown(*cobra.Command, []string) error {
	if core == nil {
		return nil
	}
	err := core.Close()
	core = nil
	return err
}

// Execute runs the command line with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
