package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/materium/paperbase/internal/app"
	"github.com/materium/paperbase/internal/document"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	docs, err := a.Registry.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting documents: %w", err)
	}
	paper, err := a.Vectors.Stats(ctx, document.CollectionPaper)
	if err != nil {
		return fmt.Errorf("counting paper chunks: %w", err)
	}
	experiment, err := a.Vectors.Stats(ctx, document.CollectionExperiment)
	if err != nil {
		return fmt.Errorf("counting experiment chunks: %w", err)
	}

	fmt.Printf("documents:         %d\n", docs)
	fmt.Printf("paper chunks:      %d\n", paper)
	fmt.Printf("experiment chunks: %d\n", experiment)
	return nil
}
