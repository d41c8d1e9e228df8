package imagegen

import (
	"context"

	"github.com/fpang/vr-panorama/internal/config"
	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

// Upscaler increases panorama resolution with a super-resolution model.
type Upscaler struct {
	runner Runner
	model  string
	params config.UpscaleParams
	policy retry.Policy
}

// NewUpscaler creates an upscaler with a fixed scale factor and face-enhance flag.
func NewUpscaler(r Runner, model string, params config.UpscaleParams, policy retry.Policy) *Upscaler {
	return &Upscaler{runner: r, model: model, params: params, policy: policy}
}

// Upscale returns a higher-resolution copy of img.
func (u *Upscaler) Upscale(ctx context.Context, img *imagebuf.Buffer) (*imagebuf.Buffer, error) {
	if img == nil {
		return nil, pipeerr.Validation("no image to upscale")
	}
	input := map[string]any{
		"image":        img.DataURI(),
		"scale_factor": u.params.ScaleFactor,
		"face_enhance": u.params.FaceEnhance,
	}
	return run(ctx, u.runner, u.policy, "upscale", u.model, input)
}
