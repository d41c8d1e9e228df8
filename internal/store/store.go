// Package store persists one record per pipeline run so callers can poll a
// run's state after the request that started it has returned.
//
// The DynamoDB layout is a single table keyed by PK=RUN#{runId}, SK=META.
// A TTL attribute (expiresAt) removes records after 24 hours.
package store

import (
	"context"
	"time"
)

// RunTTL is the lifetime of a run record.
const RunTTL = 24 * time.Hour

// RunStore persists run records. Implementations are safe for concurrent use.
// GetRun returns (nil, nil) when the run does not exist.
type RunStore interface {
	PutRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	// UpdateRunState applies the non-empty fields of u without replacing the record.
	UpdateRunState(ctx context.Context, runID string, u RunUpdate) error
}

// RunRecord is the stored view of one pipeline run.
type RunRecord struct {
	RunID          string `json:"runId" dynamodbav:"-"`
	State          string `json:"state" dynamodbav:"state"`
	FailedStage    string `json:"failedStage,omitempty" dynamodbav:"failedStage,omitempty"`
	Prompt         string `json:"prompt" dynamodbav:"prompt"`
	Enhance        bool   `json:"enhance" dynamodbav:"enhance"`
	EnhancedPrompt string `json:"enhancedPrompt,omitempty" dynamodbav:"enhancedPrompt,omitempty"`
	FinalImage     string `json:"finalImage,omitempty" dynamodbav:"finalImage,omitempty"`
	AudioID        string `json:"audioId,omitempty" dynamodbav:"audioId,omitempty"`
	Error          string `json:"error,omitempty" dynamodbav:"error,omitempty"`
	ErrorKind      string `json:"errorKind,omitempty" dynamodbav:"errorKind,omitempty"`
	CreatedAt      int64  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt" dynamodbav:"updatedAt"`
}

// RunUpdate is a partial update. Empty fields are left unchanged.
type RunUpdate struct {
	State          string
	FailedStage    string
	EnhancedPrompt string
	FinalImage     string
	AudioID        string
	Error          string
	ErrorKind      string
}

// fields returns the attribute name/value pairs that u sets.
func (u RunUpdate) fields() [][2]string {
	var out [][2]string
	add := func(name, v string) {
		if v != "" {
			out = append(out, [2]string{name, v})
		}
	}
	add("state", u.State)
	add("failedStage", u.FailedStage)
	add("enhancedPrompt", u.EnhancedPrompt)
	add("finalImage", u.FinalImage)
	add("audioId", u.AudioID)
	add("error", u.Error)
	add("errorKind", u.ErrorKind)
	return out
}

func (u RunUpdate) apply(rec *RunRecord) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&rec.State, u.State)
	set(&rec.FailedStage, u.FailedStage)
	set(&rec.EnhancedPrompt, u.EnhancedPrompt)
	set(&rec.FinalImage, u.FinalImage)
	set(&rec.AudioID, u.AudioID)
	set(&rec.Error, u.Error)
	set(&rec.ErrorKind, u.ErrorKind)
}
