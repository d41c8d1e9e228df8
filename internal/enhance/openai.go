package enhance

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/fpang/vr-panorama/internal/llm"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

// ChatCompleter is the subset of *openai.Client the enhancer uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIEnhancer enhances prompts with an OpenAI chat model.
type OpenAIEnhancer struct {
	client ChatCompleter
	model  string
	policy retry.Policy
}

// NewOpenAIEnhancer creates an enhancer backed by client.
func NewOpenAIEnhancer(client ChatCompleter, model string, policy retry.Policy) *OpenAIEnhancer {
	return &OpenAIEnhancer{client: client, model: model, policy: policy}
}

// Enhance returns the rewritten prompt. Any failure is returned to the
// caller; the raw prompt is never substituted.
func (e *OpenAIEnhancer) Enhance(ctx context.Context, prompt string, prefs Preferences) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", pipeerr.Validation("prompt is empty")
	}
	req := openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: BuildInstructions(prefs)},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.7,
	}

	start := time.Now()
	var out string
	err := retry.Do(ctx, e.policy, "openai.enhance", func(ctx context.Context) error {
		resp, err := e.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return llm.ClassifyOpenAI(err)
		}
		out, err = llm.FirstChoice(resp)
		return err
	})
	if err != nil {
		return "", err
	}
	log.Debug().
		Str("model", e.model).
		Int("rawLength", len(prompt)).
		Int("enhancedLength", len(out)).
		Dur("elapsed", time.Since(start)).
		Msg("Prompt enhanced")
	return out, nil
}
