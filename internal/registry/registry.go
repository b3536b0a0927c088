// Package registry implements the metadata and dedup registry: the
// authoritative record of every ingested document, consulted before any new
// ingestion.
//
// Matching runs in a fixed order and the first match wins:
//
//  1. exact content-hash match
//  2. (DOI, type) match, when the candidate carries a DOI
//  3. (normalized title, type) match
//
// A record from the candidate's own upload batch matching on (title, type) is
// reported as an internal duplicate. Missing DOI or title never matches on
// that axis; it is "not equal", never an error.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/log"
)

// ErrDuplicateDocument is returned by Register when the document collides
// with an already registered one. Recoverable: the caller skips the document
// and continues the batch.
var ErrDuplicateDocument = errors.New("duplicate document")

// ErrClassificationAmbiguous indicates the type classifier could not decide.
// The pipeline defaults to paper and flags the document for review; this
// error never blocks ingestion.
var ErrClassificationAmbiguous = errors.New("document classification ambiguous")

// Reason describes which dedup axis matched.
type Reason string

const (
	ReasonContentHash Reason = "content_hash"
	ReasonDOI         Reason = "doi"
	ReasonTitle       Reason = "title"
	// ReasonInternalDuplicate marks a (title, type) collision inside the
	// candidate's own upload batch; only the first occurrence is kept.
	ReasonInternalDuplicate Reason = "internal_duplicate"
)

// Match is the result of a dedup check.
type Match struct {
	Duplicate bool
	Reason    Reason
	Matched   *document.Document // the registered document that matched, nil otherwise
}

// Store is the persistence interface the registry needs. Implemented by
// Postgres in postgres.go; tests supply an in-memory fake.
// Find methods return (nil, nil) when no row matches.
type Store interface {
	FindByContentHash(ctx context.Context, hash string) (*document.Document, error)
	FindByDOI(ctx context.Context, doi string, typ document.Type) (*document.Document, error)
	FindByTitle(ctx context.Context, titleNormalized string, typ document.Type) (*document.Document, error)
	Insert(ctx context.Context, doc document.Document) error
	Count(ctx context.Context) (int64, error)
}

// Registry answers duplicate checks and registers documents.
// Safe for concurrent use; writes are serialized per dedup key so two
// concurrent batches cannot both believe they are first to register the same
// document.
type Registry struct {
	store  Store
	locks  *keyMutex
	logger log.Logger
}

// New creates a Registry over the given store.
func New(store Store, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		store:  store,
		locks:  newKeyMutex(),
		logger: logger,
	}
}

// CheckDuplicate runs the ordered dedup match for candidate.
func (r *Registry) CheckDuplicate(ctx context.Context, candidate document.Document) (Match, error) {
	rec := candidate.Record()

	// 1. Exact content hash.
	if found, err := r.store.FindByContentHash(ctx, rec.ContentHash); err != nil {
		return Match{}, fmt.Errorf("dedup check by content hash: %w", err)
	} else if found != nil {
		return r.match(candidate, found, ReasonContentHash), nil
	}

	// 2. (DOI, type) — only when the candidate has a DOI.
	if rec.DOI != nil {
		if found, err := r.store.FindByDOI(ctx, *rec.DOI, rec.Type); err != nil {
			return Match{}, fmt.Errorf("dedup check by doi: %w", err)
		} else if found != nil {
			return r.match(candidate, found, ReasonDOI), nil
		}
	}

	// 3. (normalized title, type) — only when the candidate has a title.
	if rec.TitleNormalized != "" {
		if found, err := r.store.FindByTitle(ctx, rec.TitleNormalized, rec.Type); err != nil {
			return Match{}, fmt.Errorf("dedup check by title: %w", err)
		} else if found != nil {
			return r.match(candidate, found, ReasonTitle), nil
		}
	}

	return Match{}, nil
}

// match classifies a hit as cross-batch or internal duplicate.
func (r *Registry) match(candidate document.Document, found *document.Document, reason Reason) Match {
	if found.UploadBatchID == candidate.UploadBatchID && reason == ReasonTitle {
		reason = ReasonInternalDuplicate
	}
	return Match{Duplicate: true, Reason: reason, Matched: found}
}

// Register checks and inserts a document atomically with respect to other
// Register calls for the same dedup keys. On conflict it returns
// ErrDuplicateDocument; the registered record is never silently overwritten.
func (r *Registry) Register(ctx context.Context, doc document.Document) error {
	rec := doc.Record()

	// Serialize writers competing on the same (doi,type)/(title,type) key.
	// The unique indexes in Postgres back-stop other processes.
	unlock := r.locks.lockKeys(dedupKeys(rec))
	defer unlock()

	match, err := r.CheckDuplicate(ctx, doc)
	if err != nil {
		return err
	}
	if match.Duplicate {
		return fmt.Errorf("%w: matched on %s (%s)", ErrDuplicateDocument, match.Reason, match.Matched.SourceFilename)
	}

	if err := r.store.Insert(ctx, doc); err != nil {
		if errors.Is(err, ErrDuplicateDocument) {
			// Another process won the race between check and insert.
			return fmt.Errorf("%w: concurrent registration", ErrDuplicateDocument)
		}
		return fmt.Errorf("registering document %q: %w", doc.SourceFilename, err)
	}

	r.logger.Debug("registered document",
		"filename", doc.SourceFilename,
		"type", doc.Type,
		"needs_review", doc.NeedsReview)
	return nil
}

// Count returns the number of registered documents.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	return r.store.Count(ctx)
}

// dedupKeys lists the serialization keys of a record. The content hash key is
// always present; DOI and title keys only when those fields exist.
func dedupKeys(rec document.DedupRecord) []string {
	keys := []string{"hash|" + rec.ContentHash}
	if rec.DOI != nil {
		keys = append(keys, "doi|"+*rec.DOI+"|"+string(rec.Type))
	}
	if rec.TitleNormalized != "" {
		keys = append(keys, "title|"+rec.TitleNormalized+"|"+string(rec.Type))
	}
	return keys
}
