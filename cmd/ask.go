package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/materium/paperbase/internal/app"
	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/prompt"
	"github.com/materium/paperbase/internal/retrieval"
)

var askMode string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askMode, "mode", string(prompt.ModeRigorous),
		"prompt mode: rigorous, inference or dual_inference")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	mode := prompt.Mode(askMode)
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", askMode)
	}
	question := strings.Join(args, " ")

	ctx := cmd.Context()
	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() { _ = a.Close() }()

	collections := []document.Collection{document.CollectionPaper}
	if mode == prompt.ModeDualInference {
		collections = append(collections, document.CollectionExperiment)
	}

	chunks, err := a.Retrieval.Retrieve(ctx, []string{question}, retrieval.Options{
		K:              cfg.RetrievalK,
		FetchK:         cfg.RetrievalFetchK,
		ScoreThreshold: cfg.ScoreThreshold,
		Collections:    collections,
	})
	if err != nil {
		return fmt.Errorf("retrieving passages: %w", err)
	}

	var paper, experiment []document.Scored
	for _, c := range chunks {
		if c.Collection == document.CollectionExperiment {
			experiment = append(experiment, c)
		} else {
			paper = append(paper, c)
		}
	}
	if len(paper) == 0 {
		return fmt.Errorf("no indexed passages matched the question")
	}

	instructions, citations, err := prompt.Build(mode, paper, question, experiment)
	if err != nil {
		return err
	}

	result, err := a.Generator.Generate(ctx, instructions)
	if err != nil {
		return fmt.Errorf("generating answer: %w", err)
	}

	fmt.Println(result.Text)
	fmt.Println()
	for _, c := range citations {
		fmt.Printf("%s %s, page %d\n", c.Label, c.SourceFilename, c.PageNumber)
	}
	return nil
}
