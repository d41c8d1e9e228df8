package enhance

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/vr-panorama/internal/llm"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

// ContentGenerator is the subset of genai.Models the enhancer uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiEnhancer enhances prompts with a Gemini model.
type GeminiEnhancer struct {
	models ContentGenerator
	model  string
	policy retry.Policy
}

// NewGeminiEnhancer creates an enhancer. Pass client.Models from a genai.Client.
func NewGeminiEnhancer(models ContentGenerator, model string, policy retry.Policy) *GeminiEnhancer {
	return &GeminiEnhancer{models: models, model: model, policy: policy}
}

// Enhance returns the rewritten prompt.
func (e *GeminiEnhancer) Enhance(ctx context.Context, prompt string, prefs Preferences) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", pipeerr.Validation("prompt is empty")
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: BuildInstructions(prefs)}}},
	}

	start := time.Now()
	var out string
	err := retry.Do(ctx, e.policy, "gemini.enhance", func(ctx context.Context) error {
		resp, err := e.models.GenerateContent(ctx, e.model, genai.Text(prompt), cfg)
		if err != nil {
			return llm.ClassifyGemini(err)
		}
		out, err = llm.GeminiText(resp)
		return err
	})
	if err != nil {
		return "", err
	}
	log.Debug().
		Str("model", e.model).
		Int("enhancedLength", len(out)).
		Dur("elapsed", time.Since(start)).
		Msg("Prompt enhanced")
	return out, nil
}
