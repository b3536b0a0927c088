package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/materium/paperbase/internal/document"
)

// Postgres implements Querier over the chunks table (pgvector).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed chunk store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// UpsertChunk implements Querier. The (collection, source_filename,
// tracing_id) unique index makes re-ingestion overwrite instead of
// duplicating.
func (p *Postgres) UpsertChunk(ctx context.Context, chunk document.Chunk, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO chunks
			(collection, source_filename, tracing_id, page_number, snippet, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (collection, source_filename, tracing_id)
		DO UPDATE SET
			page_number = EXCLUDED.page_number,
			snippet     = EXCLUDED.snippet,
			content     = EXCLUDED.content,
			embedding   = EXCLUDED.embedding`,
		chunk.Collection,
		chunk.SourceFilename,
		chunk.TracingID,
		chunk.PageNumber,
		chunk.Snippet,
		chunk.Text,
		vec,
	)
	if err != nil {
		return fmt.Errorf("upserting chunk: %w", err)
	}
	return nil
}

// SimilaritySearch implements Querier using cosine distance. Similarity is
// 1 - distance, so scores fall in [0, 1] for normalized embeddings.
func (p *Postgres) SimilaritySearch(ctx context.Context, collection document.Collection, query []float32, limit int) ([]document.Scored, error) {
	vec := pgvector.NewVector(query)
	rows, err := p.pool.Query(ctx, `
		SELECT content, source_filename, page_number, tracing_id, snippet, embedding,
		       1 - (embedding <=> $1) AS similarity
		FROM chunks
		WHERE collection = $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		vec, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []document.Scored
	for rows.Next() {
		var (
			sc  document.Scored
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&sc.Text,
			&sc.SourceFilename,
			&sc.PageNumber,
			&sc.TracingID,
			&sc.Snippet,
			&emb,
			&sc.Score,
		); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		sc.Collection = collection
		sc.Embedding = emb.Slice()
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk rows: %w", err)
	}
	return results, nil
}

// CountChunks implements Querier.
func (p *Postgres) CountChunks(ctx context.Context, collection document.Collection) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE collection = $1`, collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}
