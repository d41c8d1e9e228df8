package imagegen

import (
	"context"
	"strings"

	"github.com/fpang/vr-panorama/internal/config"
	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/mask"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

// Inpainter blends the centred seam of a seam-corrected panorama by
// repainting the region the shared mask marks white.
type Inpainter struct {
	runner Runner
	model  string
	mask   *imagebuf.Buffer
	params config.InpaintParams
	policy retry.Policy
}

// NewInpainter creates an inpainter. m is the process-wide mask and is
// never modified.
func NewInpainter(r Runner, model string, m *imagebuf.Buffer, params config.InpaintParams, policy retry.Policy) *Inpainter {
	return &Inpainter{runner: r, model: model, mask: m, params: params, policy: policy}
}

// Inpaint repaints the seam of img. prompt is the user's original prompt,
// not the enhanced one.
func (p *Inpainter) Inpaint(ctx context.Context, img *imagebuf.Buffer, prompt string) (*imagebuf.Buffer, error) {
	if img == nil {
		return nil, pipeerr.Validation("no image to inpaint")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, pipeerr.Validation("prompt is empty")
	}
	if p.mask == nil {
		return nil, pipeerr.Validation("inpainting mask not loaded")
	}
	m, err := mask.Fit(p.mask, img.Width, img.Height)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"prompt":              prompt,
		"image":               img.DataURI(),
		"mask":                m.DataURI(),
		"num_outputs":         1,
		"num_inference_steps": p.params.InferenceSteps,
		"guidance_scale":      p.params.GuidanceScale,
	}
	return run(ctx, p.runner, p.policy, "inpaint", p.model, input)
}
