package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/audiomatch"
	"github.com/fpang/vr-panorama/internal/config"
	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/metrics"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/seam"
)

// Deps are the stage implementations. Enhancer may be nil when no request
// asks for enhancement; Observer may be nil.
type Deps struct {
	Enhancer  Enhancer
	Generator Generator
	Inpainter Inpainter
	Upscaler  Upscaler
	Matcher   Matcher
	Publisher Publisher
	Observer  Observer
}

// Orchestrator runs requests. It holds no per-request state and is safe for
// concurrent use.
type Orchestrator struct {
	deps     Deps
	timeouts config.StageTimeouts
	correct  func(*imagebuf.Buffer) (*imagebuf.Buffer, error)
	newID    func() string
}

// New creates an Orchestrator.
func New(deps Deps, timeouts config.StageTimeouts) (*Orchestrator, error) {
	switch {
	case deps.Generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case deps.Inpainter == nil:
		return nil, errors.New("pipeline: inpainter is required")
	case deps.Upscaler == nil:
		return nil, errors.New("pipeline: upscaler is required")
	case deps.Matcher == nil:
		return nil, errors.New("pipeline: matcher is required")
	case deps.Publisher == nil:
		return nil, errors.New("pipeline: publisher is required")
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Orchestrator{
		deps:     deps,
		timeouts: timeouts,
		correct:  seam.Correct,
		newID:    uuid.NewString,
	}, nil
}

type audioOutcome struct {
	match   *audiomatch.Match
	elapsed time.Duration
}

// Run executes req. On image-track failure it returns a *Failure naming the
// failing stage. Run always waits for the audio track before returning,
// unless ctx ends first, in which case it returns a Canceled failure at once
// and any in-flight remote call finishes in the background.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	runID := o.newID()
	start := time.Now()
	logger := log.With().Str("runId", runID).Logger()

	if err := req.validate(); err != nil {
		return nil, &Failure{RunID: runID, Stage: pipeerr.StagePending, Err: pipeerr.WithStage(pipeerr.StagePending, err)}
	}
	o.deps.Observer.RunStarted(ctx, runID, req)
	logger.Info().Bool("enhance", req.Enhance).Int("promptLength", len(req.RawPrompt)).Msg("Run started")

	audioCh := make(chan audioOutcome, 1)
	go func() {
		audioCh <- o.audioTrack(ctx, runID, req.RawPrompt)
	}()

	res, fail := o.imageTrack(ctx, runID, req)

	var audio audioOutcome
	select {
	case audio = <-audioCh:
	case <-ctx.Done():
		if fail == nil {
			fail = &Failure{RunID: runID, Stage: pipeerr.StageMatching, Err: pipeerr.WithStage(pipeerr.StageMatching, pipeerr.Canceled(ctx.Err()))}
		}
		return nil, o.finishFailed(ctx, start, fail, logger)
	}

	if fail != nil {
		fail.Audio = audio.match
		fail.AudioID = audioID(audio.match)
		return nil, o.finishFailed(ctx, start, fail, logger)
	}

	res.Audio = audio.match
	res.AudioID = audioID(audio.match)
	res.Stages = append(res.Stages, StageTiming{Stage: pipeerr.StageMatching, Elapsed: audio.elapsed})
	res.Elapsed = time.Since(start)

	o.deps.Observer.RunFinished(ctx, res, nil)
	metrics.RunCompleted(string(pipeerr.StageDone), res.Elapsed, res.AudioID != nil, runID)
	logger.Info().
		Bool("audioMatched", res.AudioID != nil).
		Dur("elapsed", res.Elapsed).
		Msg("Run complete")
	return res, nil
}

func (o *Orchestrator) finishFailed(ctx context.Context, start time.Time, fail *Failure, logger zerolog.Logger) error {
	elapsed := time.Since(start)
	o.deps.Observer.RunFinished(ctx, nil, fail)
	metrics.RunCompleted(string(pipeerr.StageFailed), elapsed, fail.AudioID != nil, fail.RunID)
	logger.Error().
		Err(fail.Err).
		Str("stage", string(fail.Stage)).
		Str("kind", fail.Kind().String()).
		Dur("elapsed", elapsed).
		Msg("Run failed")
	return fail
}

func (o *Orchestrator) imageTrack(ctx context.Context, runID string, req Request) (*Result, *Failure) {
	res := &Result{RunID: runID}
	fail := func(stage pipeerr.Stage, err error) (*Result, *Failure) {
		return nil, &Failure{RunID: runID, Stage: stage, Err: pipeerr.WithStage(stage, err)}
	}

	prompt := req.RawPrompt
	if req.Enhance {
		if o.deps.Enhancer == nil {
			return fail(pipeerr.StageEnhancing, pipeerr.Validation("prompt enhancement is not configured"))
		}
		enhanced, timing, err := runStage(ctx, o, runID, pipeerr.StageEnhancing, o.timeouts.Enhance, func(ctx context.Context) (string, error) {
			return o.deps.Enhancer.Enhance(ctx, req.RawPrompt, req.Preferences)
		})
		if err != nil {
			return fail(pipeerr.StageEnhancing, err)
		}
		res.Stages = append(res.Stages, timing)
		prompt = enhanced
	}
	res.EnhancedPrompt = prompt

	generated, timing, err := runStage(ctx, o, runID, pipeerr.StageGenerating, o.timeouts.Generate, func(ctx context.Context) (*imagebuf.Buffer, error) {
		return o.deps.Generator.Generate(ctx, prompt)
	})
	if err != nil {
		return fail(pipeerr.StageGenerating, err)
	}
	res.Stages = append(res.Stages, timing)

	corrected, timing, err := o.seamStage(ctx, runID, generated)
	if err != nil {
		return fail(pipeerr.StageSeamCorrecting, err)
	}
	res.Stages = append(res.Stages, timing)

	inpainted, timing, err := runStage(ctx, o, runID, pipeerr.StageInpainting, o.timeouts.Inpaint, func(ctx context.Context) (*imagebuf.Buffer, error) {
		return o.deps.Inpainter.Inpaint(ctx, corrected, req.RawPrompt)
	})
	if err != nil {
		return fail(pipeerr.StageInpainting, err)
	}
	res.Stages = append(res.Stages, timing)

	upscaled, timing, err := runStage(ctx, o, runID, pipeerr.StageUpscaling, o.timeouts.Upscale, func(ctx context.Context) (*imagebuf.Buffer, error) {
		return o.deps.Upscaler.Upscale(ctx, inpainted)
	})
	if err != nil {
		return fail(pipeerr.StageUpscaling, err)
	}
	res.Stages = append(res.Stages, timing)

	final, timing, err := runStage(ctx, o, runID, pipeerr.StagePublishing, o.timeouts.Publish, func(ctx context.Context) (string, error) {
		return o.deps.Publisher.Publish(ctx, runID, upscaled)
	})
	if err != nil {
		return fail(pipeerr.StagePublishing, err)
	}
	res.Stages = append(res.Stages, timing)
	res.FinalImage = final
	return res, nil
}

// seamStage runs the CPU-bound seam swap inline.
func (o *Orchestrator) seamStage(ctx context.Context, runID string, img *imagebuf.Buffer) (*imagebuf.Buffer, StageTiming, error) {
	stage := pipeerr.StageSeamCorrecting
	if err := ctx.Err(); err != nil {
		return nil, StageTiming{}, pipeerr.Canceled(err)
	}
	o.deps.Observer.StateChanged(ctx, runID, stage)
	start := time.Now()
	out, err := o.correct(img)
	elapsed := time.Since(start)
	metrics.StageLatency(string(stage), outcome(err), elapsed, runID)
	log.Debug().Str("runId", runID).Str("stage", string(stage)).Dur("elapsed", elapsed).Msg("Stage finished")
	return out, StageTiming{Stage: stage, Elapsed: elapsed}, err
}

// audioTrack never fails the run; errors degrade to a nil match.
func (o *Orchestrator) audioTrack(ctx context.Context, runID, prompt string) audioOutcome {
	start := time.Now()
	match, _, err := runStage(ctx, o, runID, pipeerr.StageMatching, o.timeouts.Match, func(ctx context.Context) (*audiomatch.Match, error) {
		return o.deps.Matcher.Match(ctx, prompt)
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("runId", runID).
			Str("kind", pipeerr.KindOf(err).String()).
			Msg("Audio match failed, continuing without audio")
		match = nil
	}
	return audioOutcome{match: match, elapsed: time.Since(start)}
}

// runStage runs fn on a context detached from the caller's cancellation and
// bounded by timeout. If ctx ends first runStage returns a Canceled error at
// once; fn keeps running until it returns and its result is dropped.
func runStage[T any](ctx context.Context, o *Orchestrator, runID string, stage pipeerr.Stage, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, StageTiming, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, StageTiming{}, pipeerr.Canceled(err)
	}
	if stage != pipeerr.StageMatching {
		o.deps.Observer.StateChanged(ctx, runID, stage)
	}
	log.Debug().Str("runId", runID).Str("stage", string(stage)).Dur("timeout", timeout).Msg("Stage started")

	var (
		stageCtx context.Context
		cancel   context.CancelFunc
	)
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), timeout)
	} else {
		stageCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		defer cancel()
		v, err := fn(stageCtx)
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		elapsed := time.Since(start)
		metrics.StageLatency(string(stage), "canceled", elapsed, runID)
		log.Warn().Str("runId", runID).Str("stage", string(stage)).Msg("Caller went away, discarding in-flight stage")
		return zero, StageTiming{Stage: stage, Elapsed: elapsed}, pipeerr.Canceled(ctx.Err())
	case r := <-done:
		elapsed := time.Since(start)
		metrics.StageLatency(string(stage), outcome(r.err), elapsed, runID)
		timing := StageTiming{Stage: stage, Elapsed: elapsed}
		if r.err != nil {
			return zero, timing, pipeerr.WithStage(stage, r.err)
		}
		log.Debug().Str("runId", runID).Str("stage", string(stage)).Dur("elapsed", elapsed).Msg("Stage finished")
		return r.v, timing, nil
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return pipeerr.KindOf(err).String()
}
