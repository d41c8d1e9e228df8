package imagegen

import (
	"context"
	"strings"

	"github.com/fpang/vr-panorama/internal/config"
	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

// PanoramaGenerator turns a prompt into an equirectangular panorama. The
// seam is not guaranteed to wrap; SeamCorrector and Inpainter fix that.
type PanoramaGenerator struct {
	runner Runner
	model  string
	params config.GenerationParams
	policy retry.Policy
}

// NewPanoramaGenerator creates a generator for model with fixed params.
func NewPanoramaGenerator(r Runner, model string, params config.GenerationParams, policy retry.Policy) *PanoramaGenerator {
	return &PanoramaGenerator{runner: r, model: model, params: params, policy: policy}
}

// Generate produces one panorama for prompt.
func (g *PanoramaGenerator) Generate(ctx context.Context, prompt string) (*imagebuf.Buffer, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, pipeerr.Validation("prompt is empty")
	}
	return run(ctx, g.runner, g.policy, "generate", g.model, g.input(prompt))
}

func (g *PanoramaGenerator) input(prompt string) map[string]any {
	in := map[string]any{
		"prompt":              prompt,
		"width":               g.params.Width,
		"height":              g.params.Height,
		"guidance_scale":      g.params.GuidanceScale,
		"num_inference_steps": g.params.InferenceSteps,
	}
	if g.params.Seed != 0 {
		in["seed"] = g.params.Seed
	}
	if g.params.NegativePrompt != "" {
		in["negative_prompt"] = g.params.NegativePrompt
	}
	return in
}
