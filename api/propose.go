package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/materium/paperbase/internal/config"
	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/log"
	"github.com/materium/paperbase/internal/prompt"
)

// Proposal is the structured shape of a drafted research proposal.
type Proposal struct {
	Title            string   `json:"title"`
	Background       string   `json:"background"`
	Hypothesis       string   `json:"hypothesis"`
	Methods          string   `json:"methods"`
	ExpectedOutcomes string   `json:"expected_outcomes"`
	Risks            []string `json:"risks,omitempty"`
}

// proposalFieldBounds caps each text field so the model's output stays
// displayable without truncation. Applied to the inferred schema because the
// struct-tag grammar has no slot for length constraints.
var proposalFieldBounds = map[string]int{
	"title":             200,
	"background":        3000,
	"hypothesis":        1500,
	"methods":           4000,
	"expected_outcomes": 2000,
}

var proposalSchemaOnce = sync.OnceValues(func() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[Proposal](nil)
	if err != nil {
		return nil, err
	}
	for field, bound := range proposalFieldBounds {
		prop, ok := schema.Properties[field]
		if !ok {
			return nil, fmt.Errorf("proposal schema has no property %q", field)
		}
		max := bound
		prop.MaxLength = &max
	}
	return schema, nil
})

// ProposeRequest asks for a proposal drafted from both collections.
type ProposeRequest struct {
	Topic   string   `json:"topic"`
	Queries []string `json:"queries,omitempty"`
}

// ProposeResponse carries the drafted proposal and the citations behind it.
type ProposeResponse struct {
	Proposal  Proposal            `json:"proposal"`
	Citations []document.Citation `json:"citations"`
}

// ProposeHandler drafts schema-constrained research proposals grounded in
// dual-collection retrieval.
type ProposeHandler struct {
	cfg       *config.Config
	retriever Retriever
	generator Generator
	logger    log.Logger
}

// NewProposeHandler creates a propose handler.
func NewProposeHandler(cfg *config.Config, retriever Retriever, generator Generator, logger log.Logger) *ProposeHandler {
	return &ProposeHandler{cfg: cfg, retriever: retriever, generator: generator, logger: logger}
}

// RegisterRoutes registers the propose route on the given mux.
func (h *ProposeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/propose", h.propose)
}

func (h *ProposeHandler) propose(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be JSON")
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" || len(req.Topic) > MaxQuestionLength {
		writeError(w, http.StatusBadRequest, "invalid_topic", "topic must be non-empty and under 4000 characters")
		return
	}

	ask := AskHandler{cfg: h.cfg, retriever: h.retriever, generator: h.generator, logger: h.logger}
	question := fmt.Sprintf("Draft a research proposal on: %s", req.Topic)
	paperChunks, experimentChunks, err := ask.retrieve(r.Context(),
		AskRequest{Question: question, Queries: req.Queries}, prompt.ModeDualInference)
	if err != nil {
		ask.writeRetrievalError(w, err)
		return
	}
	if len(paperChunks) == 0 {
		writeError(w, http.StatusNotFound, "no_relevant_chunks", "no indexed passages matched the topic")
		return
	}

	// Proposals need the dual template only when experimental data exists;
	// fall back to inference mode on a literature-only knowledge base.
	mode := prompt.ModeDualInference
	if len(experimentChunks) == 0 {
		mode = prompt.ModeInference
	}
	instructions, citations, err := prompt.Build(mode, paperChunks, question, experimentChunks)
	if err != nil {
		writeError(w, http.StatusBadRequest, "prompt_failed", err.Error())
		return
	}

	schema, err := proposalSchemaOnce()
	if err != nil {
		h.logger.Error("building proposal schema", "error", err)
		writeError(w, http.StatusInternalServerError, "schema_failed", "could not build proposal schema")
		return
	}

	result, err := h.generator.GenerateStructured(r.Context(), instructions, schema)
	if err != nil {
		writeGenerationError(w, h.logger, err)
		return
	}

	var proposal Proposal
	if err := json.Unmarshal(result.Structured, &proposal); err != nil {
		h.logger.Error("decoding validated proposal", "error", err)
		writeError(w, http.StatusInternalServerError, "proposal_failed", "could not decode proposal")
		return
	}

	writeJSON(w, http.StatusOK, ProposeResponse{Proposal: proposal, Citations: citations})
}
