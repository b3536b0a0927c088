// Package retrieval implements the multi-query retrieval engine. Given one
// or more query strings (callers may pre-expand a question into paraphrases)
// it fetches diverse candidates per collection with maximal-marginal-
// relevance selection, filters by score threshold, and merges across queries.
//
// In dual-retriever mode each collection is queried independently and the
// per-collection results are concatenated with provenance preserved, never
// re-ranked against each other: experimental chunks are never dropped in
// favor of literature chunks.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/log"
)

// DefaultLambda is the MMR relevance/diversity tradeoff (1 = pure relevance).
const DefaultLambda = 0.7

// Searcher is the slice of the vector store gateway the engine needs.
type Searcher interface {
	Query(ctx context.Context, collection document.Collection, text string, fetchK int) ([]document.Scored, error)
}

// Options parameterize one Retrieve call.
type Options struct {
	K              int                   // result size cap per collection
	FetchK         int                   // candidates fetched per query per collection
	ScoreThreshold float32               // candidates below are discarded
	Collections    []document.Collection // one = single mode, two = dual mode
	Lambda         float64               // MMR tradeoff, 0 means DefaultLambda
}

func (o *Options) validate() error {
	if o.K < 1 {
		return fmt.Errorf("k must be positive, got %d", o.K)
	}
	if o.FetchK < o.K {
		return fmt.Errorf("fetch_k (%d) must be >= k (%d)", o.FetchK, o.K)
	}
	if len(o.Collections) == 0 {
		return fmt.Errorf("at least one collection required")
	}
	for _, c := range o.Collections {
		if !c.Valid() {
			return fmt.Errorf("unknown collection %q", c)
		}
	}
	if o.Lambda == 0 {
		o.Lambda = DefaultLambda
	}
	return nil
}

// Engine runs retrieval against the vector store gateway. Read-only and safe
// for concurrent use.
type Engine struct {
	store  Searcher
	logger log.Logger
}

// New creates an Engine.
func New(store Searcher, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{store: store, logger: logger}
}

// Retrieve runs every query against every requested collection and returns
// the merged result, per-collection blocks in the order of opts.Collections.
// No returned chunk scores below opts.ScoreThreshold.
func (e *Engine) Retrieve(ctx context.Context, queries []string, opts Options) ([]document.Scored, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("at least one query required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	var merged []document.Scored
	for _, collection := range opts.Collections {
		block, err := e.retrieveCollection(ctx, collection, queries, opts)
		if err != nil {
			return nil, err
		}
		merged = append(merged, block...)
	}

	e.logger.Debug("retrieval complete",
		"queries", len(queries),
		"collections", len(opts.Collections),
		"chunks", len(merged))
	return merged, nil
}

// retrieveCollection merges per-query MMR selections for one collection,
// deduplicates by tracing id and truncates to k.
func (e *Engine) retrieveCollection(ctx context.Context, collection document.Collection, queries []string, opts Options) ([]document.Scored, error) {
	type key struct {
		filename string
		tracing  int
	}
	best := make(map[key]document.Scored)

	for _, query := range queries {
		candidates, err := e.store.Query(ctx, collection, query, opts.FetchK)
		if err != nil {
			return nil, fmt.Errorf("retrieving %q from %s: %w", query, collection, err)
		}

		// Threshold first so MMR never spends budget on weak matches.
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if c.Score >= opts.ScoreThreshold {
				filtered = append(filtered, c)
			}
		}

		relevance := make([]float64, len(filtered))
		embeddings := make([][]float32, len(filtered))
		for i, c := range filtered {
			relevance[i] = float64(c.Score)
			embeddings[i] = c.Embedding
		}

		for _, idx := range selectMMR(relevance, embeddings, opts.K, opts.Lambda) {
			c := filtered[idx]
			k := key{c.SourceFilename, c.TracingID}
			if prev, ok := best[k]; !ok || c.Score > prev.Score {
				best[k] = c
			}
		}
	}

	block := make([]document.Scored, 0, len(best))
	for _, c := range best {
		block = append(block, c)
	}
	sort.Slice(block, func(i, j int) bool {
		if block[i].Score != block[j].Score {
			return block[i].Score > block[j].Score
		}
		// Stable tie-break for deterministic ordering.
		if block[i].SourceFilename != block[j].SourceFilename {
			return block[i].SourceFilename < block[j].SourceFilename
		}
		return block[i].TracingID < block[j].TracingID
	})
	if len(block) > opts.K {
		block = block[:opts.K]
	}
	return block, nil
}
