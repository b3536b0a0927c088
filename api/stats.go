package api

import (
	"context"
	"net/http"

	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/log"
)

// StatsSource exposes the counters behind the stats endpoint.
type StatsSource interface {
	ChunkCount(ctx context.Context, collection document.Collection) (int64, error)
	DocumentCount(ctx context.Context) (int64, error)
}

// StatsResponse reports per-collection chunk counts and the registry size.
type StatsResponse struct {
	Documents        int64 `json:"documents"`
	PaperChunks      int64 `json:"paper_chunks"`
	ExperimentChunks int64 `json:"experiment_chunks"`
}

// StatsHandler serves collection statistics.
type StatsHandler struct {
	source StatsSource
	logger log.Logger
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(source StatsSource, logger log.Logger) *StatsHandler {
	return &StatsHandler{source: source, logger: logger}
}

// RegisterRoutes registers the stats route on the given mux.
func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/collections/stats", h.stats)
}

func (h *StatsHandler) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docs, err := h.source.DocumentCount(ctx)
	if err != nil {
		h.logger.Error("counting documents", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "could not read registry counts")
		return
	}
	paper, err := h.source.ChunkCount(ctx, document.CollectionPaper)
	if err != nil {
		h.logger.Error("counting paper chunks", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "could not read chunk counts")
		return
	}
	experiment, err := h.source.ChunkCount(ctx, document.CollectionExperiment)
	if err != nil {
		h.logger.Error("counting experiment chunks", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_failed", "could not read chunk counts")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Documents:        docs,
		PaperChunks:      paper,
		ExperimentChunks: experiment,
	})
}
