package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/materium/paperbase/internal/app"
	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/ingest"
)

var ingestCollection string

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest documents into the knowledge base",
	Long: `Reads the given text files and runs them through the ingestion
pipeline: classification, dedup checking, chunking and embedding.
Progress is printed until the batch finishes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCollection, "collection", "",
		"force all files into one collection (paper or experiment)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var collection document.Collection
	if ingestCollection != "" {
		collection = document.Collection(ingestCollection)
		if !collection.Valid() {
			return fmt.Errorf("unknown collection %q (expected paper or experiment)", ingestCollection)
		}
	}

	inputs := make([]ingest.Input, 0, len(args))
	for _, path := range args {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		inputs = append(inputs, ingest.Input{
			Filename:   filepath.Base(path),
			Text:       string(text),
			Collection: collection,
		})
	}

	ctx := cmd.Context()
	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	taskID, err := a.Pipeline.Start(ctx, inputs)
	if err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}

	// Poll until terminal, echoing progress like an HTTP client would.
	lastMessage := ""
	for {
		task, ok := a.Tracker.Get(taskID)
		if !ok {
			return fmt.Errorf("task %s disappeared", taskID)
		}
		if task.Message != lastMessage {
			fmt.Printf("[%3d%%] %s\n", task.Progress, task.Message)
			lastMessage = task.Message
		}
		if task.Status.Terminal() {
			return printOutcome(task)
		}
		select {
		case <-ctx.Done():
			a.Tracker.Cancel(taskID)
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func printOutcome(task ingest.Task) error {
	switch task.Status {
	case ingest.StatusCompleted:
		r := task.Result
		fmt.Printf("ingested %d documents (%d chunks)\n", len(r.Ingested), r.ChunkCount)
		for _, s := range r.Skipped {
			fmt.Printf("skipped %s: %s\n", s.Filename, s.Reason)
		}
		for _, f := range r.NeedsReview {
			fmt.Printf("needs review: %s\n", f)
		}
		return nil
	case ingest.StatusCancelled:
		return fmt.Errorf("batch cancelled")
	default:
		return fmt.Errorf("batch failed: %s", task.Message)
	}
}
