package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/materium/paperbase/internal/config"
	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/generate"
	"github.com/materium/paperbase/internal/log"
	"github.com/materium/paperbase/internal/prompt"
	"github.com/materium/paperbase/internal/retrieval"
	"github.com/materium/paperbase/internal/vectorstore"
)

// MaxQuestionLength bounds the question field.
const MaxQuestionLength = 4000

// Retriever is the retrieval surface the API needs.
type Retriever interface {
	Retrieve(ctx context.Context, queries []string, opts retrieval.Options) ([]document.Scored, error)
}

// Generator is the generation surface the API needs.
type Generator interface {
	Generate(ctx context.Context, instructions string) (*generate.Result, error)
	GenerateStructured(ctx context.Context, instructions string, schema *jsonschema.Schema) (*generate.Result, error)
}

// AskRequest is the question-answering request body.
type AskRequest struct {
	Question string   `json:"question"`
	Mode     string   `json:"mode,omitempty"`    // rigorous (default), inference, dual_inference
	Queries  []string `json:"queries,omitempty"` // optional paraphrases; defaults to the question itself
	K        int      `json:"k,omitempty"`
}

// AskResponse carries the answer and its numbered citations.
type AskResponse struct {
	Answer    string              `json:"answer"`
	Citations []document.Citation `json:"citations"`
	Mode      string              `json:"mode"`
}

// AskHandler serves retrieval-augmented question answering.
type AskHandler struct {
	cfg       *config.Config
	retriever Retriever
	generator Generator
	logger    log.Logger
}

// NewAskHandler creates an ask handler.
func NewAskHandler(cfg *config.Config, retriever Retriever, generator Generator, logger log.Logger) *AskHandler {
	return &AskHandler{cfg: cfg, retriever: retriever, generator: generator, logger: logger}
}

// RegisterRoutes registers the ask route on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ask", h.ask)
}

func (h *AskHandler) ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be JSON")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" || len(req.Question) > MaxQuestionLength {
		writeError(w, http.StatusBadRequest, "invalid_question", "question must be non-empty and under 4000 characters")
		return
	}

	mode := prompt.Mode(req.Mode)
	if req.Mode == "" {
		mode = prompt.ModeRigorous
	}
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_mode", "mode must be rigorous, inference or dual_inference")
		return
	}

	paperChunks, experimentChunks, err := h.retrieve(r.Context(), req, mode)
	if err != nil {
		h.writeRetrievalError(w, err)
		return
	}
	if len(paperChunks) == 0 {
		writeError(w, http.StatusNotFound, "no_relevant_chunks", "no indexed passages matched the question")
		return
	}

	instructions, citations, err := prompt.Build(mode, paperChunks, req.Question, experimentChunks)
	if err != nil {
		writeError(w, http.StatusBadRequest, "prompt_failed", err.Error())
		return
	}

	result, err := h.generator.Generate(r.Context(), instructions)
	if err != nil {
		writeGenerationError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, AskResponse{
		Answer:    result.Text,
		Citations: citations,
		Mode:      string(mode),
	})
}

// retrieve runs single- or dual-collection retrieval depending on mode.
func (h *AskHandler) retrieve(ctx context.Context, req AskRequest, mode prompt.Mode) (paper, experiment []document.Scored, err error) {
	queries := req.Queries
	if len(queries) == 0 {
		queries = []string{req.Question}
	}

	opts := retrieval.Options{
		K:              h.cfg.RetrievalK,
		FetchK:         h.cfg.RetrievalFetchK,
		ScoreThreshold: h.cfg.ScoreThreshold,
		Collections:    []document.Collection{document.CollectionPaper},
	}
	if req.K > 0 {
		opts.K = req.K
		if opts.FetchK < opts.K {
			opts.FetchK = opts.K * 3
		}
	}
	if mode == prompt.ModeDualInference {
		opts.Collections = append(opts.Collections, document.CollectionExperiment)
	}

	merged, err := h.retriever.Retrieve(ctx, queries, opts)
	if err != nil {
		return nil, nil, err
	}

	// The engine returns per-collection blocks; split them back out so the
	// prompt builder can label the two sets.
	for _, c := range merged {
		if c.Collection == document.CollectionExperiment {
			experiment = append(experiment, c)
		} else {
			paper = append(paper, c)
		}
	}
	return paper, experiment, nil
}

func (h *AskHandler) writeRetrievalError(w http.ResponseWriter, err error) {
	if errors.Is(err, vectorstore.ErrEmbeddingUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "embedding_unavailable", "embedding service is unreachable")
		return
	}
	h.logger.Error("retrieval failed", "error", err)
	writeError(w, http.StatusInternalServerError, "retrieval_failed", "could not retrieve passages")
}

// writeGenerationError maps adapter errors to HTTP statuses.
func writeGenerationError(w http.ResponseWriter, logger log.Logger, err error) {
	switch {
	case errors.Is(err, generate.ErrGenerationTimeout):
		writeError(w, http.StatusGatewayTimeout, "generation_timeout", "the model did not answer in time")
	case errors.Is(err, generate.ErrGenerationIncomplete):
		writeError(w, http.StatusBadGateway, "generation_incomplete", "the model could not finish its answer")
	case errors.Is(err, generate.ErrSchemaValidation):
		writeError(w, http.StatusBadGateway, "schema_validation_failed", "the model did not produce valid structured output")
	default:
		logger.Error("generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "generation_failed", "could not generate an answer")
	}
}
