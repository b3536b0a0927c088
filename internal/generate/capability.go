package generate

import "strings"

// Capabilities declares which request parameters a model family accepts.
// Unsupported parameters are dropped from the request rather than sent and
// rejected.
type Capabilities struct {
	Temperature     bool // sampling temperature
	MaxTokens       bool // output token cap
	ReasoningEffort bool // effort control on reasoning models
	Verbosity       bool // verbosity control on reasoning models
	Incomplete      bool // may report an incomplete finish on budget exhaustion
}

// Reasoning reports whether the model uses the reasoning calling convention.
func (c Capabilities) Reasoning() bool {
	return c.ReasoningEffort || c.Incomplete
}

var conventional = Capabilities{Temperature: true, MaxTokens: true}

var reasoning = Capabilities{
	MaxTokens:       true,
	ReasoningEffort: true,
	Verbosity:       true,
	Incomplete:      true,
}

// capabilityTable maps model-name prefixes to capability sets. Longest
// matching prefix wins; unknown models get the conventional set so requests
// degrade gracefully instead of erroring on an unrecognized parameter.
var capabilityTable = []struct {
	prefix string
	caps   Capabilities
}{
	{"gemini-", conventional},
	{"gpt-4", conventional},
	{"gpt-5", reasoning},
	{"o1", reasoning},
	{"o3", reasoning},
	{"o4", reasoning},
}

// Lookup returns the capability set for a model name. The name may carry a
// provider prefix such as "openai/gpt-5"; only the final segment is matched.
func Lookup(model string) Capabilities {
	if i := strings.LastIndexByte(model, '/'); i >= 0 {
		model = model[i+1:]
	}

	best := conventional
	bestLen := 0
	for _, entry := range capabilityTable {
		if strings.HasPrefix(model, entry.prefix) && len(entry.prefix) > bestLen {
			best = entry.caps
			bestLen = len(entry.prefix)
		}
	}
	return best
}
