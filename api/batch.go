package api

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/ingest"
	"github.com/materium/paperbase/internal/log"
)

// Upload limits.
const (
	// MaxBatchBytes bounds one multipart upload.
	MaxBatchBytes = 64 << 20
	// MaxBatchFiles bounds the number of documents per batch.
	MaxBatchFiles = 50
)

// BatchStarter launches an ingestion batch; implemented by ingest.Pipeline.
type BatchStarter interface {
	Start(ctx context.Context, inputs []ingest.Input) (uuid.UUID, error)
}

// TaskReader is the polling surface of the task tracker.
type TaskReader interface {
	Get(id uuid.UUID) (ingest.Task, bool)
	Cancel(id uuid.UUID) bool
}

// BatchHandler serves batch upload and task polling endpoints.
type BatchHandler struct {
	pipeline BatchStarter
	tracker  TaskReader
	logger   log.Logger
}

// NewBatchHandler creates a batch handler.
func NewBatchHandler(pipeline BatchStarter, tracker TaskReader, logger log.Logger) *BatchHandler {
	return &BatchHandler{pipeline: pipeline, tracker: tracker, logger: logger}
}

// RegisterRoutes registers batch and task routes on the given mux.
func (h *BatchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/batches", h.create)
	mux.HandleFunc("GET /api/tasks/{id}", h.get)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", h.cancel)
}

// create accepts a multipart upload under the "files" field, starts the
// batch in the background, and immediately returns the task id.
//
// Optional per-request fields:
//   - collection: route every file to "paper" or "experiment" instead of
//     inferring from filenames.
func (h *BatchHandler) create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBatchBytes)
	if err := r.ParseMultipartForm(MaxBatchBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "expected a multipart upload under the files field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "empty_batch", "at least one file is required")
		return
	}
	if len(files) > MaxBatchFiles {
		writeError(w, http.StatusBadRequest, "batch_too_large", "too many files in one batch")
		return
	}

	var collection document.Collection
	if c := r.FormValue("collection"); c != "" {
		collection = document.Collection(c)
		if !collection.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_collection", "collection must be paper or experiment")
			return
		}
	}

	inputs := make([]ingest.Input, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable_file", fh.Filename)
			return
		}
		text, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable_file", fh.Filename)
			return
		}
		inputs = append(inputs, ingest.Input{
			Filename:   fh.Filename,
			Text:       string(text),
			Collection: collection,
		})
	}

	taskID, err := h.pipeline.Start(r.Context(), inputs)
	if err != nil {
		h.logger.Error("failed to start batch", "error", err)
		writeError(w, http.StatusInternalServerError, "batch_failed", "could not start ingestion")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}

// get returns the current task snapshot. Polling is side-effect-free.
func (h *BatchHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_task_id", "task id must be a UUID")
		return
	}
	task, ok := h.tracker.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task_not_found", "unknown or already collected task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// cancel requests cancellation; the pipeline honors it at the next
// checkpoint between stages.
func (h *BatchHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_task_id", "task id must be a UUID")
		return
	}
	if !h.tracker.Cancel(id) {
		writeError(w, http.StatusConflict, "not_cancellable", "task is unknown or already finished")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": id, "cancelling": true})
}
