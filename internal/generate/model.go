package generate

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Request is one model call after capability filtering: only parameters the
// target model accepts are populated.
type Request struct {
	Instructions    string
	Temperature     *float64
	MaxTokens       int
	ReasoningEffort string // "", "low", "medium", "high"
	Verbosity       string // "", "low", "medium", "high"
	JSON            bool   // request JSON-formatted output
}

// Response is the model's reply plus its completion status.
type Response struct {
	Text string
	// Incomplete is set when the model stopped because it exhausted its
	// token budget, not because it finished.
	Incomplete bool
}

// Model is the narrow language-model surface the adapter calls. The
// production implementation is GenkitModel; tests substitute fakes.
type Model interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// GenkitModel calls a model registered with a Genkit instance. The provider
// plugin (googlegenai or openai-compatible) is chosen at init time; the
// model name carries the provider prefix, e.g. "googleai/gemini-2.5-flash".
type GenkitModel struct {
	g     *genkit.Genkit
	model string
}

// NewGenkitModel wires a Genkit instance and a fully qualified model name.
func NewGenkitModel(g *genkit.Genkit, model string) *GenkitModel {
	return &GenkitModel{g: g, model: model}
}

// Complete issues one generation call. Parameters land in the provider
// config map; providers ignore keys they do not understand.
func (m *GenkitModel) Complete(ctx context.Context, req Request) (Response, error) {
	config := map[string]any{}
	if req.Temperature != nil {
		config["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		config["maxOutputTokens"] = req.MaxTokens
	}
	if req.ReasoningEffort != "" {
		config["reasoningEffort"] = req.ReasoningEffort
	}
	if req.Verbosity != "" {
		config["verbosity"] = req.Verbosity
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(m.model),
		ai.WithPrompt(req.Instructions),
		ai.WithConfig(config),
	}
	if req.JSON {
		opts = append(opts, ai.WithOutputFormat(ai.OutputFormatJSON))
	}

	resp, err := genkit.Generate(ctx, m.g, opts...)
	if err != nil {
		return Response{}, fmt.Errorf("model call: %w", err)
	}

	return Response{
		Text:       resp.Text(),
		Incomplete: resp.FinishReason == ai.FinishReasonLength,
	}, nil
}
