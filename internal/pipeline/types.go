// Package pipeline runs one panorama request end to end. The image track
// (enhance, generate, seam-correct, inpaint, upscale, publish) runs
// sequentially; the audio track (embedding match) runs beside it and the two
// join before the result is assembled.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fpang/vr-panorama/internal/audiomatch"
	"github.com/fpang/vr-panorama/internal/enhance"
	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// Enhancer rewrites a raw prompt under the caller's preferences.
type Enhancer interface {
	Enhance(ctx context.Context, prompt string, prefs enhance.Preferences) (string, error)
}

// Generator renders a panorama from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*imagebuf.Buffer, error)
}

// Inpainter blends the seam of a seam-corrected panorama.
type Inpainter interface {
	Inpaint(ctx context.Context, img *imagebuf.Buffer, prompt string) (*imagebuf.Buffer, error)
}

// Upscaler increases the panorama's resolution.
type Upscaler interface {
	Upscale(ctx context.Context, img *imagebuf.Buffer) (*imagebuf.Buffer, error)
}

// Matcher finds the nearest catalogued audio clip. A nil match is not an error.
type Matcher interface {
	Match(ctx context.Context, prompt string) (*audiomatch.Match, error)
}

// Publisher converts the final buffer into the deployment's finalImage form.
type Publisher interface {
	Publish(ctx context.Context, runID string, buf *imagebuf.Buffer) (string, error)
}

// Request is an accepted generation request.
type Request struct {
	RawPrompt   string              `json:"prompt"`
	Preferences enhance.Preferences `json:"preferences"`
	Enhance     bool                `json:"improvePrompt"`
}

func (r Request) validate() error {
	if strings.TrimSpace(r.RawPrompt) == "" {
		return pipeerr.Validation("prompt is empty")
	}
	return nil
}

// StageTiming is the wall time one stage took.
type StageTiming struct {
	Stage   pipeerr.Stage `json:"stage"`
	Elapsed time.Duration `json:"elapsedNs"`
}

// Result is a successful run. AudioID is nil when no clip matched or the
// audio track failed.
type Result struct {
	RunID          string            `json:"runId"`
	FinalImage     string            `json:"image"`
	AudioID        *string           `json:"id"`
	Audio          *audiomatch.Match `json:"audio,omitempty"`
	EnhancedPrompt string            `json:"enhancedPrompt"`
	Stages         []StageTiming     `json:"stages,omitempty"`
	Elapsed        time.Duration     `json:"elapsedNs"`
}

// Failure is returned when the image track fails. The audio result is
// attached when the audio track produced one.
type Failure struct {
	RunID   string
	Stage   pipeerr.Stage
	Err     error
	AudioID *string
	Audio   *audiomatch.Match
}

func (f *Failure) Error() string {
	return fmt.Sprintf("run %s failed at %s: %v", f.RunID, f.Stage, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Kind reports the error kind of the underlying failure.
func (f *Failure) Kind() pipeerr.Kind {
	return pipeerr.KindOf(f.Err)
}

func audioID(m *audiomatch.Match) *string {
	if m == nil {
		return nil
	}
	id := m.AudioID
	return &id
}
