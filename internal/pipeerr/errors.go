// Package pipeerr defines the error taxonomy shared by every pipeline stage.
//
// Each error carries a Kind that drives retry policy and the HTTP status the
// caller sees, plus the Stage that produced it so failures stay diagnosable.
package pipeerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"unicode/utf8"
)

// Kind categorizes pipeline failures.
type Kind int

const (
	// KindValidation indicates malformed input or a 4xx-equivalent rejection. Never retried.
	KindValidation Kind = iota
	// KindTransientRemote indicates a timeout or 5xx-equivalent failure. Retried per policy.
	KindTransientRemote
	// KindContentRejected indicates a provider content-policy rejection. Never retried.
	KindContentRejected
	// KindSchema indicates a remote response with an unexpected shape. Never retried.
	KindSchema
	// KindCanceled indicates the caller abandoned the request or the provider
	// canceled the call. Never retried.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransientRemote:
		return "transient_remote"
	case KindContentRejected:
		return "content_rejected"
	case KindSchema:
		return "schema"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Stage names a pipeline state. Remote-call failures are attributed to one.
type Stage string

const (
	StagePending        Stage = "Pending"
	StageEnhancing      Stage = "Enhancing"
	StageGenerating     Stage = "Generating"
	StageSeamCorrecting Stage = "SeamCorrecting"
	StageInpainting     Stage = "Inpainting"
	StageUpscaling      Stage = "Upscaling"
	StagePublishing     Stage = "Publishing"
	StageMatching       Stage = "Matching"
	StageDone           Stage = "Done"
	StageFailed         Stage = "Failed"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind       Kind
	Stage      Stage
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Stage != "" {
		msg = string(e.Stage) + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a KindValidation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Transient wraps err as a KindTransientRemote error.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransientRemote, Message: msg, Err: err}
}

// ContentRejected returns a KindContentRejected error.
func ContentRejected(format string, args ...any) *Error {
	return &Error{Kind: KindContentRejected, Message: fmt.Sprintf(format, args...)}
}

// Schema returns a KindSchema error.
func Schema(format string, args ...any) *Error {
	return &Error{Kind: KindSchema, Message: fmt.Sprintf(format, args...)}
}

// Canceled wraps err as a KindCanceled error.
func Canceled(err error) *Error {
	return &Error{Kind: KindCanceled, Message: "request canceled", Err: err}
}

// FromStatus classifies a non-2xx HTTP response. body is truncated by the
// caller before it gets here.
func FromStatus(code int, body string) *Error {
	e := &Error{StatusCode: code, Message: fmt.Sprintf("API error (status %d): %s", code, body)}
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		e.Kind = KindTransientRemote
	default:
		e.Kind = KindValidation
	}
	return e
}

// Truncate shortens s to at most maxLen bytes for log and error text, backing
// up to a rune boundary, and marks the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// KindOf reports the Kind of err. Unclassified errors report KindTransientRemote.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindTransientRemote
}

// StageOf returns the stage attributed to err, or "" when none.
func StageOf(err error) Stage {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// Retryable reports whether an adapter may retry after err.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindTransientRemote
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// WithStage attributes err to stage. An existing attribution is kept.
// Unclassified errors become KindTransientRemote, and deadline errors are
// reported as a stage timeout.
func WithStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Stage != "" {
			return err
		}
		cp := *pe
		cp.Stage = stage
		return &cp
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTransientRemote, Stage: stage, Message: "timeout", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Stage: stage, Message: "request canceled", Err: err}
	default:
		return &Error{Kind: KindTransientRemote, Stage: stage, Message: "remote call failed", Err: err}
	}
}

// HTTPStatus maps a Kind to the status returned by the HTTP API.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindContentRejected:
		return http.StatusUnprocessableEntity
	case KindSchema:
		return http.StatusBadGateway
	case KindCanceled:
		return 499
	default:
		return http.StatusServiceUnavailable
	}
}
