package prompt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materium/paperbase/internal/document"
)

func chunk(filename string, page, tracing int) document.Scored {
	return document.Scored{
		Chunk: document.Chunk{
			Text:           fmt.Sprintf("excerpt %s-%d", filename, tracing),
			SourceFilename: filename,
			PageNumber:     page,
			TracingID:      tracing,
			Snippet:        fmt.Sprintf("snippet %d", tracing),
		},
		Score: 0.8,
	}
}

var labelRe = regexp.MustCompile(`\[(\d+)\]`)

// citedIndexes extracts every distinct [n] from text.
func citedIndexes(text string) []int {
	seen := map[int]bool{}
	var out []int
	for _, m := range labelRe.FindAllStringSubmatch(text, -1) {
		n, _ := strconv.Atoi(m[1])
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func TestBuildRigorous(t *testing.T) {
	chunks := []document.Scored{chunk("a.pdf", 1, 0), chunk("a.pdf", 2, 1), chunk("b.pdf", 5, 0)}

	text, citations, err := Build(ModeRigorous, chunks, "What solvent was used?", nil)
	require.NoError(t, err)

	require.Len(t, citations, 3)
	assert.Contains(t, text, "strictly from the excerpts")
	assert.Contains(t, text, "What solvent was used?")
	assert.Contains(t, text, "[1] a.pdf (page 1)")
	assert.Contains(t, text, "[3] b.pdf (page 5)")
	assert.NotContains(t, text, "untested combinations")

	assert.Equal(t, "[2]", citations[1].Label)
	assert.Equal(t, 2, citations[1].PageNumber)
	assert.Equal(t, "b", citations[2].Title)
}

func TestBuildInferencePermitsReasoning(t *testing.T) {
	text, _, err := Build(ModeInference, []document.Scored{chunk("a.pdf", 1, 0)}, "q", nil)
	require.NoError(t, err)
	assert.Contains(t, text, "untested combinations")
	assert.Contains(t, text, "motivated each inference")
}

func TestBuildDualInferenceContinuousNumbering(t *testing.T) {
	paper := []document.Scored{chunk("lit.pdf", 1, 0), chunk("lit.pdf", 2, 1)}
	experiment := []document.Scored{chunk("runs.xlsx", 1, 0), chunk("runs.xlsx", 1, 1), chunk("runs.xlsx", 2, 2)}

	text, citations, err := Build(ModeDualInference, paper, "next batch conditions?", experiment)
	require.NoError(t, err)

	require.Len(t, citations, 5)
	for i, c := range citations {
		assert.Equal(t, fmt.Sprintf("[%d]", i+1), c.Label)
	}
	// Experimental block continues the literature numbering.
	assert.Contains(t, text, "[3] runs.xlsx")
	assert.Contains(t, text, "[5] runs.xlsx")
	litIdx := strings.Index(text, "## Literature excerpts")
	expIdx := strings.Index(text, "## Experimental data excerpts")
	assert.Greater(t, expIdx, litIdx)
}

// Every [n] written into the instruction text must be a valid index into the
// citation list, and the list length equals the chunk count.
func TestBuildCitationConsistency(t *testing.T) {
	for _, n := range []int{1, 3, 7} {
		chunks := make([]document.Scored, n)
		for i := range chunks {
			chunks[i] = chunk("doc.pdf", i+1, i)
		}
		for _, mode := range []Mode{ModeRigorous, ModeInference} {
			text, citations, err := Build(mode, chunks, "q", nil)
			require.NoError(t, err)
			require.Len(t, citations, n)
			for _, idx := range citedIndexes(text) {
				assert.GreaterOrEqual(t, idx, 1)
				assert.LessOrEqual(t, idx, n)
			}
		}
	}
}

func TestBuildValidation(t *testing.T) {
	one := []document.Scored{chunk("a.pdf", 1, 0)}

	_, _, err := Build(Mode("bogus"), one, "q", nil)
	assert.Error(t, err)

	_, _, err = Build(ModeRigorous, nil, "q", nil)
	assert.Error(t, err)

	_, _, err = Build(ModeRigorous, one, "   ", nil)
	assert.Error(t, err)

	_, _, err = Build(ModeDualInference, one, "q", nil)
	assert.Error(t, err, "dual mode without experimental excerpts")
}
