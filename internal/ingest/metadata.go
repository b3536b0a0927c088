package ingest

import (
	"regexp"
	"strings"
)

// doiRe matches a DOI anywhere in document text. Trailing punctuation is
// trimmed separately since DOIs may legally contain most characters.
var doiRe = regexp.MustCompile(`\b10\.\d{4,9}/[^\s"<>]+`)

const titleScanLimit = 4096

// extractMetadata returns the document's DOI and title, honoring
// caller-supplied overrides. Absent values stay nil so the dedup registry
// never compares empty strings as equal.
func extractMetadata(in Input) (doi, title *string) {
	doi = in.DOI
	if doi == nil {
		if found := findDOI(in.Text); found != "" {
			doi = &found
		}
	}
	title = in.Title
	if title == nil {
		if found := findTitle(in.Text); found != "" {
			title = &found
		}
	}
	return doi, title
}

func findDOI(text string) string {
	match := doiRe.FindString(text)
	return strings.TrimRight(match, ".,;)]}")
}

// findTitle takes the first non-empty line of the document as its title.
// Crude but sufficient as a dedup axis; the content hash and DOI axes catch
// what this misses.
func findTitle(text string) string {
	if len(text) > titleScanLimit {
		text = text[:titleScanLimit]
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
