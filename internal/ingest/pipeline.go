// Package ingest orchestrates a batch of uploaded documents through
// classification, metadata extraction, dedup checking, chunking and
// embedding, reporting progress through the task tracker.
//
// Ingestion is additive, not transactional: a duplicate document is skipped
// without failing its batch, and an embedding outage fails the batch while
// leaving already-embedded documents registered. Partial knowledge is still
// useful.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/log"
	"github.com/materium/paperbase/internal/registry"
	"github.com/materium/paperbase/internal/vectorstore"
)

// Progress spans per pipeline stage. Fixed so progress stays monotonic even
// though stage durations vary wildly between batches.
const (
	progressClassify = 10
	progressMetadata = 25
	progressDedup    = 30
	progressChunk    = 50
	progressEmbed    = 95
)

// Input is one uploaded document with its extracted text.
type Input struct {
	Filename string
	Text     string
	// DOI and Title override extraction when the uploader supplied them.
	DOI   *string
	Title *string
	// Collection routes the chunks; empty means infer from the filename.
	Collection document.Collection
}

// Skipped records a document dropped from its batch, with a plain reason.
type Skipped struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// BatchResult summarizes a completed batch.
type BatchResult struct {
	BatchID     uuid.UUID `json:"batch_id"`
	Ingested    []string  `json:"ingested"`
	Skipped     []Skipped `json:"skipped,omitempty"`
	NeedsReview []string  `json:"needs_review,omitempty"`
	ChunkCount  int       `json:"chunk_count"`
}

// Deduper is the slice of the registry the pipeline needs.
type Deduper interface {
	CheckDuplicate(ctx context.Context, candidate document.Document) (registry.Match, error)
	Register(ctx context.Context, doc document.Document) error
}

// Resolver decides a document's type from its DOI or opening text.
type Resolver interface {
	Resolve(ctx context.Context, doi *string, text string) (document.Type, bool, error)
}

// Chunker splits document text into provenance-carrying chunks.
type Chunker interface {
	Chunk(text, filename string) []document.Chunk
}

// ChunkStore embeds and persists chunks.
type ChunkStore interface {
	Add(ctx context.Context, collection document.Collection, chunks []document.Chunk) error
}

// Pipeline runs ingestion batches. Stateless between batches; all per-batch
// state lives in the task tracker.
type Pipeline struct {
	registry Deduper
	resolver Resolver
	chunker  Chunker
	store    ChunkStore
	tracker  *Tracker
	logger   log.Logger
}

// New wires a pipeline.
func New(reg Deduper, resolver Resolver, chunker Chunker, store ChunkStore, tracker *Tracker, logger log.Logger) *Pipeline {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{
		registry: reg,
		resolver: resolver,
		chunker:  chunker,
		store:    store,
		tracker:  tracker,
		logger:   logger,
	}
}

// Start creates a task for the batch and runs it in the background. The
// returned task id is immediately pollable.
func (p *Pipeline) Start(ctx context.Context, inputs []Input) (uuid.UUID, error) {
	if len(inputs) == 0 {
		return uuid.Nil, fmt.Errorf("batch must contain at least one document")
	}
	taskID := p.tracker.Create()
	go p.run(context.WithoutCancel(ctx), taskID, inputs)
	return taskID, nil
}

// Run executes the batch synchronously against an existing task. Exposed for
// the CLI path; the HTTP path goes through Start.
func (p *Pipeline) Run(ctx context.Context, taskID uuid.UUID, inputs []Input) {
	p.run(ctx, taskID, inputs)
}

type workItem struct {
	input      Input
	doc        document.Document
	chunks     []document.Chunk
	collection document.Collection
}

func (p *Pipeline) run(ctx context.Context, taskID uuid.UUID, inputs []Input) {
	batchID := uuid.New()
	result := &BatchResult{BatchID: batchID}
	total := len(inputs)

	p.logger.Info("batch started", "task_id", taskID, "batch_id", batchID, "documents", total)

	// Stage progress interpolates across documents so large batches still
	// report forward motion inside a stage.
	stageProgress := func(stageStart, stageEnd, done int) int {
		return stageStart + (stageEnd-stageStart)*done/total
	}

	items := make([]*workItem, 0, total)

	// Dedup keys of documents already accepted in this batch. CheckDuplicate
	// only sees the store, and nothing is registered until the embedding
	// stage, so same-batch duplicates must be caught here before any chunks
	// are stored.
	seen := make(map[string]bool)

	// classifying + extracting_metadata + checking_duplicates run per
	// document; a failure here drops the document, never the batch.
	for i, in := range inputs {
		if p.checkpoint(ctx, taskID) {
			return
		}
		p.tracker.setRunning(taskID, stageProgress(0, progressClassify, i),
			fmt.Sprintf("classifying %s", in.Filename))

		doi, title := extractMetadata(in)
		docType, needsReview, err := p.resolver.Resolve(ctx, doi, in.Text)
		if err != nil && !errors.Is(err, registry.ErrClassificationAmbiguous) {
			result.Skipped = append(result.Skipped, Skipped{
				Filename: in.Filename,
				Reason:   "could not determine document type",
			})
			p.logger.Warn("classification failed", "file", in.Filename, "error", err)
			continue
		}

		p.tracker.setRunning(taskID, stageProgress(progressClassify, progressMetadata, i),
			fmt.Sprintf("extracting metadata from %s", in.Filename))

		doc := document.Document{
			ContentHash:    document.HashContent(in.Text),
			DOI:            doi,
			Title:          title,
			Type:           docType,
			SourceFilename: in.Filename,
			UploadBatchID:  batchID,
			NeedsReview:    needsReview,
		}

		p.tracker.setRunning(taskID, stageProgress(progressMetadata, progressDedup, i),
			fmt.Sprintf("checking duplicates for %s", in.Filename))

		match, err := p.registry.CheckDuplicate(ctx, doc)
		if err != nil {
			p.fail(taskID, result, fmt.Sprintf("duplicate check failed for %s", in.Filename), err)
			return
		}
		if match.Duplicate {
			result.Skipped = append(result.Skipped, Skipped{
				Filename: in.Filename,
				Reason:   skipReason(match),
			})
			p.logger.Info("duplicate skipped", "file", in.Filename, "reason", match.Reason)
			continue
		}

		keys := dedupKeys(doc.Record())
		if anySeen(seen, keys) {
			result.Skipped = append(result.Skipped, Skipped{
				Filename: in.Filename,
				Reason:   "duplicate of another document in this batch",
			})
			p.logger.Info("duplicate skipped", "file", in.Filename, "reason", registry.ReasonInternalDuplicate)
			continue
		}
		for _, k := range keys {
			seen[k] = true
		}

		if needsReview {
			result.NeedsReview = append(result.NeedsReview, in.Filename)
		}
		items = append(items, &workItem{input: in, doc: doc, collection: resolveCollection(in)})
	}

	if p.checkpoint(ctx, taskID) {
		return
	}

	// chunking
	for i, item := range items {
		p.tracker.setRunning(taskID, stageProgress(progressDedup, progressChunk, i),
			fmt.Sprintf("chunking %s", item.input.Filename))
		item.chunks = p.chunker.Chunk(item.input.Text, item.input.Filename)
	}

	if p.checkpoint(ctx, taskID) {
		return
	}

	// embedding: an unreachable embedding backend is batch-fatal. Documents
	// embedded before the failure stay registered.
	for i, item := range items {
		p.tracker.setRunning(taskID, stageProgress(progressChunk, progressEmbed, i),
			fmt.Sprintf("embedding %s", item.input.Filename))

		if err := p.store.Add(ctx, item.collection, item.chunks); err != nil {
			if errors.Is(err, vectorstore.ErrEmbeddingUnavailable) {
				p.fail(taskID, result, "embedding service unavailable", err)
			} else {
				p.fail(taskID, result, fmt.Sprintf("embedding failed for %s", item.input.Filename), err)
			}
			return
		}

		if err := p.registry.Register(ctx, item.doc); err != nil {
			if errors.Is(err, registry.ErrDuplicateDocument) {
				// Lost a race with a concurrent batch.
				result.Skipped = append(result.Skipped, Skipped{
					Filename: item.input.Filename,
					Reason:   "already ingested by a concurrent batch",
				})
				continue
			}
			p.fail(taskID, result, fmt.Sprintf("registering %s failed", item.input.Filename), err)
			return
		}

		result.Ingested = append(result.Ingested, item.input.Filename)
		result.ChunkCount += len(item.chunks)
	}

	p.tracker.setRunning(taskID, progressEmbed, "finalizing")
	p.tracker.complete(taskID, result)
	p.logger.Info("batch completed",
		"task_id", taskID,
		"batch_id", batchID,
		"ingested", len(result.Ingested),
		"skipped", len(result.Skipped),
		"chunks", result.ChunkCount)
}

// checkpoint honors cancellation between stages. Returns true when the task
// was moved to a terminal state.
func (p *Pipeline) checkpoint(ctx context.Context, taskID uuid.UUID) bool {
	if p.tracker.cancelRequested(taskID) {
		p.tracker.cancelled(taskID)
		p.logger.Info("batch cancelled", "task_id", taskID)
		return true
	}
	if ctx.Err() != nil {
		p.tracker.cancelled(taskID)
		return true
	}
	return false
}

func (p *Pipeline) fail(taskID uuid.UUID, result *BatchResult, message string, err error) {
	p.logger.Error("batch failed", "task_id", taskID, "message", message, "error", err)
	p.tracker.fail(taskID, message)
}

// dedupKeys lists the axes a record can collide on inside its own batch:
// content hash always, (doi, type) and (normalized title, type) when those
// fields exist.
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

func anySeen(seen map[string]bool, keys []string) bool {
	for _, k := range keys {
		if seen[k] {
			return true
		}
	}
	return false
}

func skipReason(m registry.Match) string {
	switch m.Reason {
	case registry.ReasonContentHash:
		return "identical content already ingested"
	case registry.ReasonDOI:
		return "a document with this DOI and type is already registered"
	case registry.ReasonTitle:
		return "a document with this title and type is already registered"
	case registry.ReasonInternalDuplicate:
		return "duplicate of another document in this batch"
	}
	return "duplicate"
}

// resolveCollection routes tabular uploads to the experiment collection and
// everything else to the literature collection.
func resolveCollection(in Input) document.Collection {
	if in.Collection.Valid() {
		return in.Collection
	}
	switch strings.ToLower(filepath.Ext(in.Filename)) {
	case ".xlsx", ".xls", ".csv", ".tsv":
		return document.CollectionExperiment
	}
	return document.CollectionPaper
}
