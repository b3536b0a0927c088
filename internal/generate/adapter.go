// Package generate adapts the language-model service to the rest of the
// pipeline: it filters request parameters through a per-model capability
// table, bounds every call with a timeout, retries incomplete reasoning
// output with a growing token allowance, and validates schema-constrained
// structured output.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/materium/paperbase/internal/log"
	"github.com/materium/paperbase/internal/retryx"
)

const (
	// tokenGrowthFactor enlarges the output budget on each incomplete retry.
	tokenGrowthFactor = 2

	correctiveInstruction = "\n\nYour previous reply was not valid JSON matching the required schema. Reply again with ONLY a JSON object that conforms to the schema, no prose, no code fences."
)

// Config parameterizes an Adapter.
type Config struct {
	Model             string        // fully qualified model name
	Temperature       float64       // dropped for models without temperature support
	MaxTokens         int           // initial output token allowance
	Timeout           time.Duration // per-call wall clock bound
	IncompleteRetries int           // extra attempts after an incomplete finish
}

// Result is a finished generation.
type Result struct {
	Text       string
	Structured json.RawMessage // nil unless a schema was supplied
}

// Adapter is the resilient front to the language model. Safe for concurrent
// use; each call is independent.
type Adapter struct {
	model  Model
	caps   Capabilities
	cfg    Config
	retry  retryx.Policy
	logger log.Logger
}

// New builds an Adapter. The capability set is derived from cfg.Model.
func New(model Model, cfg Config, logger log.Logger) *Adapter {
	if logger == nil {
		logger = log.NewNop()
	}
	retry := retryx.DefaultPolicy()
	retry.MaxAttempts = cfg.IncompleteRetries + 1
	return &Adapter{
		model:  model,
		caps:   Lookup(cfg.Model),
		cfg:    cfg,
		retry:  retry,
		logger: logger,
	}
}

// Capabilities exposes the resolved capability set, mostly for logging.
func (a *Adapter) Capabilities() Capabilities { return a.caps }

// Generate runs one plain-text generation call.
func (a *Adapter) Generate(ctx context.Context, instructions string) (*Result, error) {
	text, err := a.complete(ctx, instructions, false)
	if err != nil {
		return nil, err
	}
	return &Result{Text: text}, nil
}

// GenerateStructured runs a schema-constrained call. The model output is
// parsed and validated against schema; one corrective retry is attempted
// before failing with ErrSchemaValidation.
func (a *Adapter) GenerateStructured(ctx context.Context, instructions string, schema *jsonschema.Schema) (*Result, error) {
	if schema == nil {
		return nil, fmt.Errorf("schema must not be nil")
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving schema: %w", err)
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}
	prompt := fmt.Sprintf("%s\n\nReply with a single JSON object conforming to this JSON schema:\n%s", instructions, schemaJSON)

	// First attempt plus one corrective retry, then surface the failure.
	var lastValidationErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt == 1 {
			prompt += correctiveInstruction
		}

		text, err := a.complete(ctx, prompt, true)
		if err != nil {
			return nil, err
		}

		raw, err := validateStructured(text, resolved)
		if err == nil {
			return &Result{Text: text, Structured: raw}, nil
		}
		lastValidationErr = err
		a.logger.Warn("structured output invalid",
			"model", a.cfg.Model,
			"attempt", attempt+1,
			"error", err)
	}

	return nil, fmt.Errorf("%w: %v", ErrSchemaValidation, lastValidationErr)
}

// complete performs the capability-filtered call with timeout handling and
// the incomplete-output retry loop.
func (a *Adapter) complete(ctx context.Context, instructions string, wantJSON bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	maxTokens := a.cfg.MaxTokens
	var resp Response

	err := a.retry.Do(ctx, func(attempt int) error {
		req := a.buildRequest(instructions, maxTokens, wantJSON)

		var callErr error
		resp, callErr = a.model.Complete(ctx, req)
		if callErr != nil {
			if errors.Is(callErr, context.DeadlineExceeded) {
				return retryx.Permanent(fmt.Errorf("%w after %s", ErrGenerationTimeout, a.cfg.Timeout))
			}
			return retryx.Permanent(callErr)
		}

		if resp.Incomplete {
			a.logger.Warn("incomplete model output, enlarging token allowance",
				"model", a.cfg.Model,
				"attempt", attempt+1,
				"max_tokens", maxTokens)
			maxTokens *= tokenGrowthFactor
			return ErrGenerationIncomplete
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrGenerationTimeout, a.cfg.Timeout)
		}
		return "", err
	}
	return resp.Text, nil
}

// buildRequest applies the capability table: unsupported parameters are
// simply left unset.
func (a *Adapter) buildRequest(instructions string, maxTokens int, wantJSON bool) Request {
	req := Request{Instructions: instructions, JSON: wantJSON}
	if a.caps.Temperature {
		t := a.cfg.Temperature
		req.Temperature = &t
	}
	if a.caps.MaxTokens {
		req.MaxTokens = maxTokens
	}
	if a.caps.ReasoningEffort {
		req.ReasoningEffort = "medium"
	}
	if a.caps.Verbosity {
		req.Verbosity = "medium"
	}
	return req
}

// validateStructured parses text as JSON and validates it against the
// resolved schema, returning the raw message on success.
func validateStructured(text string, resolved *jsonschema.Resolved) (json.RawMessage, error) {
	trimmed := stripFences(text)

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return nil, fmt.Errorf("parsing model output: %w", err)
	}
	if err := resolved.Validate(value); err != nil {
		return nil, fmt.Errorf("validating model output: %w", err)
	}
	return json.RawMessage(trimmed), nil
}

// stripFences removes a surrounding markdown code fence, which some models
// emit around JSON even when told not to.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}
