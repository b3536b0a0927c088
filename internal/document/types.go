// Package document defines the core records shared across the ingestion and
// retrieval pipeline: documents, chunks, dedup records and citations.
//
// Fields that the dedup registry compares on (DOI, title) are modeled as true
// optionals. An absent DOI must never compare equal to another absent DOI;
// pointer fields make that explicit instead of relying on "" sentinels.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Type classifies a document on the dedup axes.
type Type string

const (
	// TypePaper is a primary research article.
	TypePaper Type = "paper"

	// TypeSupportingInfo is supplementary material attached to a paper.
	TypeSupportingInfo Type = "supporting_info"
)

// Valid reports whether t is a known document type.
func (t Type) Valid() bool {
	return t == TypePaper || t == TypeSupportingInfo
}

// Collection identifies one of the two logical vector collections.
type Collection string

const (
	// CollectionPaper holds literature chunks.
	CollectionPaper Collection = "paper"

	// CollectionExperiment holds experimental-data chunks.
	CollectionExperiment Collection = "experiment"
)

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	return c == CollectionPaper || c == CollectionExperiment
}

// Document is the registered record of one ingested file.
// Immutable once written to the registry.
type Document struct {
	ContentHash    string    // SHA-256 over the extracted text
	DOI            *string   // nil when the source carries no DOI
	Title          *string   // nil when no title could be extracted
	Type           Type      // paper or supporting_info
	SourceFilename string    // original upload filename
	UploadBatchID  uuid.UUID // batch this document arrived in
	NeedsReview    bool      // set when classification was ambiguous
	CreatedAt      time.Time
}

// DedupRecord is the comparable projection of a Document used by the
// dedup registry. TitleNormalized is empty when Title is nil.
type DedupRecord struct {
	ContentHash     string
	DOI             *string
	TitleNormalized string
	Type            Type
}

// Record derives the dedup projection of d.
func (d Document) Record() DedupRecord {
	rec := DedupRecord{
		ContentHash: d.ContentHash,
		DOI:         d.DOI,
		Type:        d.Type,
	}
	if d.Title != nil {
		rec.TitleNormalized = NormalizeTitle(*d.Title)
	}
	return rec
}

// Chunk is the unit of retrieval: a bounded span of document text with
// provenance metadata. Chunks are never mutated after embedding, only
// superseded by re-ingestion of the same filename.
type Chunk struct {
	Text           string
	SourceFilename string
	PageNumber     int        // page of the chunk's first character, 1-based
	TracingID      int        // monotonically increasing, unique per document
	Snippet        string     // opening of the source paragraph, for citations
	Collection     Collection // owning collection once embedded
}

// Scored pairs a chunk with its relevance score for one query.
// The stored embedding rides along so the retrieval engine can run
// marginal-relevance selection without re-embedding candidates.
type Scored struct {
	Chunk
	Score     float32
	Embedding []float32
}

// Citation maps a [n] marker in a generated answer back to its source chunk.
type Citation struct {
	Label          string `json:"label"` // "[1]", "[2]", ...
	SourceFilename string `json:"source_filename"`
	PageNumber     int    `json:"page_number"`
	Snippet        string `json:"snippet"`
	Title          string `json:"title,omitempty"`
}

// HashContent returns the hex SHA-256 of the document text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NormalizeTitle lowercases a title and collapses all runs of
// non-alphanumeric characters so that formatting differences
// ("Foo-Bar synthesis" vs "foo bar Synthesis.") do not defeat dedup.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	lastSpace := true
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// StringPtr is a small helper for building optional fields in one expression.
func StringPtr(s string) *string { return &s }
