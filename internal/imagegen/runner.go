// Package imagegen adapts the remote image models the pipeline chains
// together: panorama generation, seam inpainting, and upscaling.
//
// Each adapter marshals its fixed parameters, runs the model through a
// Runner, retries transient failures under its own policy, and validates
// that a usable image came back.
package imagegen

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

// Runner runs a hosted model and returns its first output image together
// with the reference it was downloaded from. *replicate.Client satisfies it.
type Runner interface {
	RunImage(ctx context.Context, model string, input map[string]any) (*imagebuf.Buffer, string, error)
}

// run executes one model call under policy and rejects empty images.
func run(ctx context.Context, r Runner, policy retry.Policy, call, model string, input map[string]any) (*imagebuf.Buffer, error) {
	start := time.Now()
	var out *imagebuf.Buffer
	var ref string
	err := retry.Do(ctx, policy, call, func(ctx context.Context) error {
		buf, u, err := r.RunImage(ctx, model, input)
		if err != nil {
			return err
		}
		out, ref = buf, u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Width <= 0 || out.Height <= 0 {
		return nil, pipeerr.Schema("%s returned an empty image", call)
	}
	log.Debug().
		Str("call", call).
		Str("output", pipeerr.Truncate(ref, 120)).
		Int("width", out.Width).
		Int("height", out.Height).
		Int("bytes", out.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("Model call completed")
	return out, nil
}

