package registry

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/log"
)

// Classifier decides the document type from its opening text. The production
// implementation prompts the language model (see generate.TypeClassifier);
// tests plug in fakes.
type Classifier interface {
	Classify(ctx context.Context, opening string) (document.Type, error)
}

// DOIRule maps a DOI pattern to a deterministic document type. The pattern
// set is deliberately pluggable: publishers encode supplementary material in
// DOI suffixes in inconsistent ways, so deployments tune their own table.
type DOIRule struct {
	Pattern *regexp.Regexp
	Type    document.Type
}

// DefaultDOIRules covers the common supplementary-material suffixes;
// anything else with a DOI is treated as a paper.
func DefaultDOIRules() []DOIRule {
	return []DOIRule{
		// ACS-style numbered suffixes: .s001, -s2
		{regexp.MustCompile(`(?i)[./-]s\d+$`), document.TypeSupportingInfo},
		// Spelled-out markers: .si, -supp, .suppl3, /supplementary
		{regexp.MustCompile(`(?i)[./-]s(i|upp(l|lementary)?)\d*$`), document.TypeSupportingInfo},
		{regexp.MustCompile(`(?i)\.esi$`), document.TypeSupportingInfo},
	}
}

// openingLen is how much of the document the LLM classifier sees.
const openingLen = 2000

// TypeResolver assigns a document type: DOI pattern table first, then the
// language-model classifier over the opening text, defaulting to paper (with
// a review flag) when neither can decide.
type TypeResolver struct {
	rules      []DOIRule
	classifier Classifier
	logger     log.Logger
}

// NewTypeResolver creates a resolver. classifier may be nil, in which case
// documents without a DOI rule match default to paper and are flagged.
func NewTypeResolver(rules []DOIRule, classifier Classifier, logger log.Logger) *TypeResolver {
	if logger == nil {
		logger = log.NewNop()
	}
	return &TypeResolver{rules: rules, classifier: classifier, logger: logger}
}

// Resolve returns the document type for the given DOI and text, plus whether
// the result needs manual review. The returned error is always nil or wraps
// ErrClassificationAmbiguous; ambiguity never blocks ingestion.
func (r *TypeResolver) Resolve(ctx context.Context, doi *string, text string) (document.Type, bool, error) {
	if doi != nil {
		for _, rule := range r.rules {
			if rule.Pattern.MatchString(*doi) {
				return rule.Type, false, nil
			}
		}
		// A DOI without a supplementary marker is a primary article.
		return document.TypePaper, false, nil
	}

	if r.classifier == nil {
		return document.TypePaper, true,
			fmt.Errorf("%w: no classifier configured", ErrClassificationAmbiguous)
	}

	opening := text
	if len(opening) > openingLen {
		cut := openingLen
		for cut > 0 && !utf8.RuneStart(opening[cut]) {
			cut--
		}
		opening = opening[:cut]
	}

	typ, err := r.classifier.Classify(ctx, opening)
	if err != nil || !typ.Valid() {
		r.logger.Warn("type classification failed, defaulting to paper", "error", err)
		return document.TypePaper, true,
			fmt.Errorf("%w: %v", ErrClassificationAmbiguous, err)
	}
	return typ, false, nil
}

// KeywordClassifier is a heuristic fallback classifier that looks for
// supporting-information markers in the opening text. Used when no language
// model is configured and in tests.
type KeywordClassifier struct{}

var supportingMarkers = []string{
	"supporting information",
	"supplementary information",
	"supplementary material",
	"electronic supplementary",
}

// Classify implements Classifier.
func (KeywordClassifier) Classify(_ context.Context, opening string) (document.Type, error) {
	lower := strings.ToLower(opening)
	for _, marker := range supportingMarkers {
		if strings.Contains(lower, marker) {
			return document.TypeSupportingInfo, nil
		}
	}
	if strings.TrimSpace(lower) == "" {
		return "", fmt.Errorf("empty document opening")
	}
	return document.TypePaper, nil
}
