package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/materium/paperbase/internal/document"
)

const classifyPrompt = `Classify the following document opening as one of exactly two categories:
- "paper": a primary research article (abstract, introduction, original results)
- "supporting_info": supplementary material (extra figures, spectra, synthesis details, data tables attached to a paper)

Reply with only the category name, nothing else.

Document opening:
---
%s
---`

// TypeClassifier asks the language model to decide between paper and
// supporting-info when no DOI pattern settles the question. It satisfies the
// registry's classifier contract; callers fall back to a safe default when
// it errors.
type TypeClassifier struct {
	adapter *Adapter
}

// NewTypeClassifier wraps an Adapter for document-type classification.
func NewTypeClassifier(adapter *Adapter) *TypeClassifier {
	return &TypeClassifier{adapter: adapter}
}

// Classify inspects the document's opening text and returns its type.
func (c *TypeClassifier) Classify(ctx context.Context, opening string) (document.Type, error) {
	res, err := c.adapter.Generate(ctx, fmt.Sprintf(classifyPrompt, opening))
	if err != nil {
		return "", fmt.Errorf("classifying document: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(res.Text))
	switch {
	case strings.Contains(answer, string(document.TypeSupportingInfo)):
		return document.TypeSupportingInfo, nil
	case strings.Contains(answer, string(document.TypePaper)):
		return document.TypePaper, nil
	}
	return "", fmt.Errorf("unrecognized classification %q", res.Text)
}
