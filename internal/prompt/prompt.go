// Package prompt renders mode-specific instruction blocks for the language
// model and assigns numbered citations to the retrieved excerpts. Citation
// labels in the rendered text and the returned citation list are built from
// the same enumeration, so a "[3]" in a model answer always maps back to the
// third excerpt.
package prompt

import (
	"fmt"
	"strings"

	"github.com/materium/paperbase/internal/document"
)

// Mode selects which instruction template is rendered.
type Mode string

const (
	// ModeRigorous restricts the model to the supplied excerpts.
	ModeRigorous Mode = "rigorous"
	// ModeInference allows reasoning beyond the excerpts with grounding.
	ModeInference Mode = "inference"
	// ModeDualInference grounds recommendations in both literature and
	// experimental excerpts.
	ModeDualInference Mode = "dual_inference"
)

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeRigorous, ModeInference, ModeDualInference:
		return true
	}
	return false
}

// Build renders the instruction text for the given mode and returns the
// citation list matching the [n] labels embedded in the text.
//
// experimentChunks is only consumed in dual-inference mode, where the
// numbering continues across both sets ([1..len(chunks)] for literature,
// the rest for experimental data). Other modes ignore it.
func Build(mode Mode, chunks []document.Scored, question string, experimentChunks []document.Scored) (string, []document.Citation, error) {
	if !mode.Valid() {
		return "", nil, fmt.Errorf("unknown prompt mode %q", mode)
	}
	if strings.TrimSpace(question) == "" {
		return "", nil, fmt.Errorf("question must not be empty")
	}
	if len(chunks) == 0 {
		return "", nil, fmt.Errorf("at least one excerpt required")
	}
	if mode == ModeDualInference && len(experimentChunks) == 0 {
		return "", nil, fmt.Errorf("dual-inference mode requires experimental excerpts")
	}

	var b strings.Builder
	var citations []document.Citation

	switch mode {
	case ModeRigorous:
		citations = renderSingle(&b, chunks, question, rigorousRules)
	case ModeInference:
		citations = renderSingle(&b, chunks, question, inferenceRules)
	case ModeDualInference:
		citations = renderDual(&b, chunks, experimentChunks, question)
	}

	return b.String(), citations, nil
}

const rigorousRules = `Answer strictly from the excerpts above. Rules:
- Every claim must cite its supporting excerpt with its [n] label.
- Only cite labels between [1] and [%d]; never invent labels.
- If the excerpts do not contain the answer, say so instead of guessing.`

const inferenceRules = `Answer using the excerpts above as grounding. Rules:
- Every claim must cite its supporting excerpt with its [n] label.
- Only cite labels between [1] and [%d]; never invent labels.
- You may propose untested combinations or conditions, but state which
  cited excerpt motivated each inference.`

func renderSingle(b *strings.Builder, chunks []document.Scored, question, rules string) []document.Citation {
	b.WriteString("You are a research assistant answering from literature excerpts.\n\n")
	b.WriteString("## Excerpts\n\n")
	citations := writeExcerpts(b, chunks, 1)

	b.WriteString("\n## Task\n\n")
	fmt.Fprintf(b, rules, len(citations))
	b.WriteString("\n\n## Question\n\n")
	b.WriteString(question)
	b.WriteString("\n")
	return citations
}

func renderDual(b *strings.Builder, paper, experiment []document.Scored, question string) []document.Citation {
	b.WriteString("You are a research assistant combining published literature with in-house experimental data.\n\n")
	b.WriteString("## Literature excerpts\n\n")
	citations := writeExcerpts(b, paper, 1)

	b.WriteString("\n## Experimental data excerpts\n\n")
	citations = append(citations, writeExcerpts(b, experiment, len(citations)+1)...)

	b.WriteString("\n## Task\n\n")
	fmt.Fprintf(b, `Recommend next steps grounded in both the literature and the
experimental data above. Rules:
- Every claim must cite its supporting excerpt with its [n] label.
- Only cite labels between [1] and [%d]; never invent labels.
- Prefer recommendations supported by both sources; note contradictions
  between literature and experimental data explicitly.`, len(citations))
	b.WriteString("\n\n## Question\n\n")
	b.WriteString(question)
	b.WriteString("\n")
	return citations
}

// writeExcerpts renders chunks starting at label firstN and returns their
// citations in rendering order.
func writeExcerpts(b *strings.Builder, chunks []document.Scored, firstN int) []document.Citation {
	citations := make([]document.Citation, 0, len(chunks))
	for i, c := range chunks {
		n := firstN + i
		fmt.Fprintf(b, "[%d] %s (page %d)\n%s\n\n", n, c.SourceFilename, c.PageNumber, c.Text)
		citations = append(citations, document.Citation{
			Label:          fmt.Sprintf("[%d]", n),
			SourceFilename: c.SourceFilename,
			PageNumber:     c.PageNumber,
			Snippet:        c.Snippet,
			Title:          titleFromFilename(c.SourceFilename),
		})
	}
	return citations
}

// titleFromFilename derives a display title when document metadata is not
// carried on the chunk: strip the extension, keep the rest as-is.
func titleFromFilename(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}
