// Package chunker splits extracted document text into overlapping chunks
// carrying filename, page and tracing-id provenance.
//
// Chunking is a pure function of the document text: re-chunking the same text
// yields an identical sequence (same count, same text, same tracing ids).
// That property is what makes vector-store adds idempotent and lets the store
// be rebuilt from chunk text alone.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/materium/paperbase/internal/document"
)

// DefaultChunkSize is the target number of characters per chunk.
const DefaultChunkSize = 500

// DefaultOverlap is the number of characters carried over between
// consecutive windows when a paragraph has to be split mid-way.
const DefaultOverlap = 50

// SnippetLen bounds the paragraph snippet stored for citations.
const SnippetLen = 120

// Chunker produces provenance-tagged chunks from document text.
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the target chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap between windows in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultChunkSize,
		overlap: DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// paragraph is a paragraph of the source text with its page number.
type paragraph struct {
	text string
	page int
}

// Chunk splits text into chunks of roughly the configured size, aligned to
// paragraph boundaries where possible. Paragraphs longer than the chunk size
// are split with a sliding window of the configured overlap. Page numbers are
// derived from form-feed page breaks in the extracted text (1-based).
func (c *Chunker) Chunk(text, filename string) []document.Chunk {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var chunks []document.Chunk
	tracing := 0

	emit := func(text, snippet string, page int) {
		chunks = append(chunks, document.Chunk{
			Text:           text,
			SourceFilename: filename,
			PageNumber:     page,
			TracingID:      tracing,
			Snippet:        snippet,
		})
		tracing++
	}

	// Greedily pack whole paragraphs into a chunk; a paragraph that does not
	// fit the current chunk starts the next one so chunk boundaries stay on
	// paragraph boundaries whenever the text allows it.
	var (
		buf     strings.Builder
		bufPage int
		bufSnip string
	)
	flush := func() {
		if buf.Len() > 0 {
			emit(buf.String(), bufSnip, bufPage)
			buf.Reset()
		}
	}

	for _, p := range paras {
		if len(p.text) > c.size {
			// Oversized paragraph — flush what we have and window it.
			flush()
			snip := snippet(p.text)
			start := 0
			for {
				end := len(p.text)
				if start+c.size < end {
					end = runeStart(p.text, start+c.size)
				}
				emit(p.text[start:end], snip, p.page)
				if end == len(p.text) {
					break
				}
				next := runeStart(p.text, end-c.overlap)
				if next <= start {
					next = end
				}
				start = next
			}
			continue
		}

		if buf.Len() > 0 && buf.Len()+len(p.text)+2 > c.size {
			flush()
		}
		if buf.Len() == 0 {
			bufPage = p.page
			bufSnip = snippet(p.text)
		} else {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p.text)
	}
	flush()

	return chunks
}

// splitParagraphs breaks text into non-empty paragraphs, tracking the page
// each paragraph starts on. Form feeds mark page breaks and also terminate
// the current paragraph.
func splitParagraphs(text string) []paragraph {
	var paras []paragraph
	page := 1

	for _, pageText := range strings.Split(text, "\f") {
		for _, block := range strings.Split(pageText, "\n\n") {
			block = strings.TrimSpace(block)
			if block == "" {
				continue
			}
			paras = append(paras, paragraph{text: block, page: page})
		}
		page++
	}
	return paras
}

// snippet returns the opening of a paragraph for citation display.
func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= SnippetLen {
		return text
	}
	cut := text[:runeStart(text, SnippetLen)]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}

// runeStart moves i back to the nearest rune boundary in s, so byte-offset
// windows never slice through a multi-byte character.
func runeStart(s string, i int) int {
	if i < 0 {
		return 0
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
