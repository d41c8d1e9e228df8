package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/enhance"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/pipeline"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "vr-panorama",
	})
}

// --- Prediction ---

// POST /api/prediction
// Body: {"prompt": "...", "preferences": {"style": "...", "avoid": [...]}, "improvePrompt": true}
func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := decodeJSON(w, r, &req); err != nil {
		pipelineError(w, err)
		return
	}

	res, err := s.runner.Run(r.Context(), req)
	if err != nil {
		pipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// --- Batch ---

type batchRequest struct {
	Prompts       []string            `json:"prompts"`
	Preferences   enhance.Preferences `json:"preferences"`
	ImprovePrompt bool                `json:"improvePrompt"`
}

// batchEntry is one element of the batch response. Exactly one of Result
// and Error is set.
type batchEntry struct {
	Prompt string           `json:"prompt"`
	Result *pipeline.Result `json:"result,omitempty"`
	Error  *errorBody       `json:"error,omitempty"`
	Status int              `json:"status"`
}

// POST /api/batch
// Body: {"prompts": ["...", "..."], "preferences": {...}, "improvePrompt": false}
// Results are returned in input order. Individual failures do not fail the batch.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := decodeJSON(w, r, &body); err != nil {
		pipelineError(w, err)
		return
	}
	if len(body.Prompts) == 0 {
		pipelineError(w, pipeerr.Validation("prompts is empty"))
		return
	}
	if len(body.Prompts) > maxBatchPrompts {
		pipelineError(w, pipeerr.Validation("at most %d prompts per batch", maxBatchPrompts))
		return
	}

	reqs := make([]pipeline.Request, len(body.Prompts))
	for i, p := range body.Prompts {
		reqs[i] = pipeline.Request{RawPrompt: p, Preferences: body.Preferences, Enhance: body.ImprovePrompt}
	}

	start := time.Now()
	items := s.runner.RunBatch(r.Context(), reqs, s.batchLimit)
	out := make([]batchEntry, len(items))
	for i, item := range items {
		out[i] = batchEntry{Prompt: body.Prompts[i], Status: http.StatusOK, Result: item.Result}
		if item.Err != nil {
			status, eb := newErrorBody(item.Err)
			out[i] = batchEntry{Prompt: body.Prompts[i], Status: status, Error: &eb}
		}
	}
	log.Info().Int("prompts", len(reqs)).Dur("elapsed", time.Since(start)).Msg("Batch request served")
	respondJSON(w, http.StatusOK, map[string]any{"results": out})
}

// --- Chapters ---

// POST /api/chapters
// Body: {"text": "<book text>"}
func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request) {
	if s.describer == nil {
		httpError(w, http.StatusNotImplemented, "chapter descriptions are not configured")
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		pipelineError(w, err)
		return
	}
	descriptions, err := s.describer.Describe(r.Context(), body.Text)
	if err != nil {
		pipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"descriptions": descriptions})
}

// --- Runs ---

// GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		httpError(w, http.StatusNotImplemented, "run records are not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := uuid.Validate(id); err != nil {
		httpError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	rec, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load run", err.Error())
		return
	}
	if rec == nil {
		httpError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
