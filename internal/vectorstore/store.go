// Package vectorstore wraps the two logical pgvector collections (paper,
// experiment) behind add/query/stats operations. It owns embedding generation
// for both chunks and queries; callers never see vectors except as opaque
// rows riding along with query results.
//
// The gateway is oblivious to cross-collection composition — the retrieval
// engine queries each collection itself and merges.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/log"
)

// ErrEmbeddingUnavailable indicates the embedding backend could not be
// reached. Batch-fatal: callers must surface it, never fall back to an empty
// result.
var ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

// embedBatchSize is how many chunk texts go into one embed request.
const embedBatchSize = 16

// embedParallelism bounds concurrent embed requests per Add call.
const embedParallelism = 4

// embedDimensions is the embedding width stored in pgvector.
const embedDimensions = 768

// Querier is the persistence interface the store needs; implemented by
// Postgres in postgres.go, faked in tests.
type Querier interface {
	// UpsertChunk inserts or replaces the chunk identified by
	// (collection, source_filename, tracing_id).
	UpsertChunk(ctx context.Context, chunk document.Chunk, embedding []float32) error

	// SimilaritySearch returns up to limit chunks of a collection ordered by
	// cosine similarity to the query embedding, scores and stored embeddings
	// included.
	SimilaritySearch(ctx context.Context, collection document.Collection, query []float32, limit int) ([]document.Scored, error)

	// CountChunks counts the chunks of one collection.
	CountChunks(ctx context.Context, collection document.Collection) (int64, error)
}

// Store is the dual-collection vector store gateway.
// Safe for concurrent use.
type Store struct {
	querier  Querier
	embedder ai.Embedder
	limiter  *rate.Limiter
	logger   log.Logger
}

// New creates a Store. ratePerSec bounds embedding calls per second
// (0 disables the limit).
func New(querier Querier, embedder ai.Embedder, ratePerSec int, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &Store{
		querier:  querier,
		embedder: embedder,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// Add embeds and stores chunks in the given collection. Idempotent per
// tracing id: re-adding the same (filename, tracing id) overwrites.
//
// Embedding runs in parallel batches but results are written in tracing-id
// order, so chunk ordering is deterministic regardless of parallelism.
func (s *Store) Add(ctx context.Context, collection document.Collection, chunks []document.Chunk) error {
	if !collection.Valid() {
		return fmt.Errorf("unknown collection %q", collection)
	}
	if len(chunks) == 0 {
		return nil
	}

	embeddings := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		g.Go(func() error {
			batch, err := s.embedTexts(gctx, chunkTexts(chunks[start:end]))
			if err != nil {
				return err
			}
			copy(embeddings[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, chunk := range chunks {
		chunk.Collection = collection
		if err := s.querier.UpsertChunk(ctx, chunk, embeddings[i]); err != nil {
			return fmt.Errorf("storing chunk %s#%d: %w", chunk.SourceFilename, chunk.TracingID, err)
		}
	}

	s.logger.Debug("added chunks",
		"collection", collection,
		"count", len(chunks))
	return nil
}

// Query embeds text and returns up to fetchK similar chunks from the
// collection, most similar first.
func (s *Store) Query(ctx context.Context, collection document.Collection, text string, fetchK int) ([]document.Scored, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	if fetchK < 1 {
		return nil, fmt.Errorf("fetchK must be positive, got %d", fetchK)
	}

	vecs, err := s.embedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	results, err := s.querier.SimilaritySearch(ctx, collection, vecs[0], fetchK)
	if err != nil {
		return nil, fmt.Errorf("similarity search in %q: %w", collection, err)
	}
	return results, nil
}

// Stats returns the chunk count of one collection.
func (s *Store) Stats(ctx context.Context, collection document.Collection) (int64, error) {
	if !collection.Valid() {
		return 0, fmt.Errorf("unknown collection %q", collection)
	}
	return s.querier.CountChunks(ctx, collection)
}

// embedTexts embeds texts in one request, honoring the rate limit. Transport
// failures surface as ErrEmbeddingUnavailable.
func (s *Store) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for embed rate limit: %w", err)
	}

	input := make([]*ai.Document, len(texts))
	for i, t := range texts {
		input[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: input,
		// Matches the vector(768) column in the chunks schema.
		Options: map[string]any{"outputDimensionality": embedDimensions},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrEmbeddingUnavailable, len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrEmbeddingUnavailable, i)
		}
		out[i] = e.Embedding
	}
	return out, nil
}

func chunkTexts(chunks []document.Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}
