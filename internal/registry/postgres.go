package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/materium/paperbase/internal/document"
)

// Postgres implements Store over the documents table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed registry store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const documentColumns = `content_hash, doi, title, doc_type, source_filename, upload_batch_id, needs_review, created_at`

func scanDocument(row pgx.Row) (*document.Document, error) {
	var doc document.Document
	err := row.Scan(
		&doc.ContentHash,
		&doc.DOI,
		&doc.Title,
		&doc.Type,
		&doc.SourceFilename,
		&doc.UploadBatchID,
		&doc.NeedsReview,
		&doc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document row: %w", err)
	}
	return &doc, nil
}

// FindByContentHash returns the document with the given hash, or nil.
func (p *Postgres) FindByContentHash(ctx context.Context, hash string) (*document.Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_hash = $1`, hash)
	return scanDocument(row)
}

// FindByDOI returns the document with the given (doi, type), or nil.
func (p *Postgres) FindByDOI(ctx context.Context, doi string, typ document.Type) (*document.Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE doi = $1 AND doc_type = $2`, doi, typ)
	return scanDocument(row)
}

// FindByTitle returns the document with the given (normalized title, type),
// or nil.
func (p *Postgres) FindByTitle(ctx context.Context, titleNormalized string, typ document.Type) (*document.Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE title_normalized = $1 AND doc_type = $2`,
		titleNormalized, typ)
	return scanDocument(row)
}

// Insert writes a new document row. Unique-index violations (another process
// registered the same document between check and insert) map to
// ErrDuplicateDocument.
func (p *Postgres) Insert(ctx context.Context, doc document.Document) error {
	rec := doc.Record()
	var titleNorm *string
	if rec.TitleNormalized != "" {
		titleNorm = &rec.TitleNormalized
	}

	// created_at is left to the schema's DEFAULT now(); the pipeline never
	// sets it on the in-memory document.
	_, err := p.pool.Exec(ctx, `
		INSERT INTO documents
			(content_hash, doi, title, title_normalized, doc_type, source_filename, upload_batch_id, needs_review)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ContentHash,
		doc.DOI,
		doc.Title,
		titleNorm,
		doc.Type,
		doc.SourceFilename,
		doc.UploadBatchID,
		doc.NeedsReview,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateDocument, pgErr.ConstraintName)
		}
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// Count returns the total number of registered documents.
func (p *Postgres) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}
