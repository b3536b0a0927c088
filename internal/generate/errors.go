package generate

import "errors"

var (
	// ErrGenerationIncomplete is returned when the model keeps exhausting
	// its token budget after the configured number of enlarged retries.
	// Partial output is never presented as a final answer.
	ErrGenerationIncomplete = errors.New("generation incomplete after retries")

	// ErrSchemaValidation is returned when structured output still fails
	// schema validation after the corrective retry.
	ErrSchemaValidation = errors.New("structured output failed schema validation")

	// ErrGenerationTimeout is returned when a generation call exceeds the
	// configured timeout. Surfaced immediately, never retried: a timeout
	// usually indicates a systemic issue.
	ErrGenerationTimeout = errors.New("generation timed out")
)
