package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/events"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/store"
)

// Observer is notified of image-track state transitions. Implementations
// must not block for long and must not fail the run.
type Observer interface {
	RunStarted(ctx context.Context, runID string, req Request)
	StateChanged(ctx context.Context, runID string, state pipeerr.Stage)
	// RunFinished receives exactly one of res or fail.
	RunFinished(ctx context.Context, res *Result, fail *Failure)
}

type nopObserver struct{}

func (nopObserver) RunStarted(context.Context, string, Request)         {}
func (nopObserver) StateChanged(context.Context, string, pipeerr.Stage) {}
func (nopObserver) RunFinished(context.Context, *Result, *Failure)      {}

// EventEmitter publishes terminal run events.
type EventEmitter interface {
	Emit(ctx context.Context, ev events.RunEvent) error
}

// Recorder is an Observer that persists run state and emits terminal events.
// Either dependency may be nil.
type Recorder struct {
	runs    store.RunStore
	emitter EventEmitter
	timeout time.Duration
}

// NewRecorder creates a Recorder.
func NewRecorder(runs store.RunStore, emitter EventEmitter) *Recorder {
	return &Recorder{runs: runs, emitter: emitter, timeout: 5 * time.Second}
}

// detach keeps bookkeeping writes alive after the caller goes away.
func (r *Recorder) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

func (r *Recorder) RunStarted(ctx context.Context, runID string, req Request) {
	if r.runs == nil {
		return
	}
	ctx, cancel := r.detach(ctx)
	defer cancel()
	err := r.runs.PutRun(ctx, &store.RunRecord{
		RunID:   runID,
		State:   string(pipeerr.StagePending),
		Prompt:  req.RawPrompt,
		Enhance: req.Enhance,
	})
	if err != nil {
		log.Warn().Err(err).Str("runId", runID).Msg("Failed to record run start")
	}
}

func (r *Recorder) StateChanged(ctx context.Context, runID string, state pipeerr.Stage) {
	if r.runs == nil {
		return
	}
	ctx, cancel := r.detach(ctx)
	defer cancel()
	if err := r.runs.UpdateRunState(ctx, runID, store.RunUpdate{State: string(state)}); err != nil {
		log.Warn().Err(err).Str("runId", runID).Str("state", string(state)).Msg("Failed to record state change")
	}
}

func (r *Recorder) RunFinished(ctx context.Context, res *Result, fail *Failure) {
	ctx, cancel := r.detach(ctx)
	defer cancel()

	var (
		u  store.RunUpdate
		ev events.RunEvent
	)
	switch {
	case res != nil:
		u = store.RunUpdate{State: string(pipeerr.StageDone), EnhancedPrompt: res.EnhancedPrompt, FinalImage: res.FinalImage}
		ev = events.RunEvent{RunID: res.RunID, State: u.State, FinalImage: res.FinalImage, ElapsedMs: res.Elapsed.Milliseconds()}
		if res.AudioID != nil {
			u.AudioID, ev.AudioID = *res.AudioID, *res.AudioID
		}
	case fail != nil:
		u = store.RunUpdate{
			State:       string(pipeerr.StageFailed),
			FailedStage: string(fail.Stage),
			Error:       fail.Err.Error(),
			ErrorKind:   fail.Kind().String(),
		}
		ev = events.RunEvent{RunID: fail.RunID, State: u.State, Stage: u.FailedStage, Error: u.Error, ErrorKind: u.ErrorKind}
		if fail.AudioID != nil {
			u.AudioID, ev.AudioID = *fail.AudioID, *fail.AudioID
		}
	default:
		return
	}

	if r.runs != nil {
		if err := r.runs.UpdateRunState(ctx, ev.RunID, u); err != nil {
			log.Warn().Err(err).Str("runId", ev.RunID).Msg("Failed to record run outcome")
		}
	}
	if r.emitter != nil {
		if err := r.emitter.Emit(ctx, ev); err != nil {
			log.Warn().Err(err).Str("runId", ev.RunID).Msg("Failed to emit run event")
		}
	}
}
