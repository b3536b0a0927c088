// Package cmd implements the paperbase command line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/materium/paperbase/internal/config"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "paperbase",
	Short: "paperbase - research document ingestion and retrieval-augmented answering",
	Long: `paperbase ingests research documents (papers, supporting information,
spreadsheets of experimental data) into a deduplicated, citation-traceable
knowledge base, and answers questions or drafts proposals by retrieving
relevant passages and prompting a language model.

Run "paperbase serve" to start the HTTP API, or use the subcommands for
one-shot operations.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "",
		"directory holding config.yaml (default ~/.paperbase)")
}

// loadConfig loads and validates configuration from the settings manager.
func loadConfig() (*config.Config, error) {
	manager, err := config.NewManager(configDir)
	if err != nil {
		return nil, err
	}
	cfg, err := manager.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
