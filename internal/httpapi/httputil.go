package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/pipeline"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to write JSON response")
	}
}

// httpError sends a JSON error response. The clientMsg is returned to the caller.
// Optional internalDetails are logged server-side but never sent to the client.
func httpError(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	respondJSON(w, status, map[string]string{"error": clientMsg})
}

// errorBody is the failure response of the pipeline endpoints. ID carries the
// matched audio clip when the audio track finished before the image track failed.
type errorBody struct {
	Error string  `json:"error"`
	Kind  string  `json:"kind"`
	Stage string  `json:"stage,omitempty"`
	ID    *string `json:"id"`
}

func newErrorBody(err error) (int, errorBody) {
	kind := pipeerr.KindOf(err)
	body := errorBody{
		Error: clientMessage(kind),
		Kind:  kind.String(),
		Stage: string(pipeerr.StageOf(err)),
	}
	var fail *pipeline.Failure
	if errors.As(err, &fail) {
		body.Stage = string(fail.Stage)
		body.ID = fail.AudioID
	}
	return pipeerr.HTTPStatus(kind), body
}

// pipelineError writes err as an errorBody with the status for its kind.
func pipelineError(w http.ResponseWriter, err error) {
	status, body := newErrorBody(err)
	if status >= http.StatusInternalServerError || status == 499 {
		log.Error().Err(err).Int("status", status).Str("stage", body.Stage).Msg("Pipeline request failed")
	} else {
		log.Warn().Err(err).Int("status", status).Str("stage", body.Stage).Msg("Pipeline request rejected")
	}
	var pe *pipeerr.Error
	if status == http.StatusBadRequest && errors.As(err, &pe) && pe.Message != "" {
		body.Error = pe.Message
	}
	respondJSON(w, status, body)
}

// clientMessage keeps provider details out of responses. Validation errors
// are the one kind whose message is safe and useful to return as-is.
func clientMessage(k pipeerr.Kind) string {
	switch k {
	case pipeerr.KindValidation:
		return "invalid request"
	case pipeerr.KindContentRejected:
		return "the prompt or image was rejected by a content filter"
	case pipeerr.KindSchema:
		return "an upstream model returned an unexpected response"
	case pipeerr.KindCanceled:
		return "request canceled"
	default:
		return "an upstream service is unavailable, try again later"
	}
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return pipeerr.Validation("request body is empty")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return pipeerr.Validation("request body exceeds %d bytes", tooLarge.Limit)
		}
		return pipeerr.Validation("invalid JSON body: %v", err)
	}
	return nil
}
