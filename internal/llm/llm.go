// Package llm builds the text-model clients the pipeline uses and maps their
// errors onto the pipeerr taxonomy.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// NewOpenAIClient creates a go-openai client. An empty baseURL uses the public API.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	// Deadlines come from the stage context.
	cfg.HTTPClient = &http.Client{}
	return openai.NewClientWithConfig(cfg)
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	start := time.Now()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("Gemini client created")
	return client, nil
}

// contentPolicyCodes are OpenAI error codes for safety-system rejections.
var contentPolicyCodes = map[string]bool{
	"content_policy_violation": true,
	"content_filter":           true,
	"moderation_blocked":       true,
}

// ClassifyOpenAI maps a go-openai error to the pipeline taxonomy.
func ClassifyOpenAI(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && contentPolicyCodes[code] {
			return &pipeerr.Error{Kind: pipeerr.KindContentRejected, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
		}
		e := pipeerr.FromStatus(apiErr.HTTPStatusCode, apiErr.Message)
		e.Err = err
		return e
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		e := pipeerr.FromStatus(reqErr.HTTPStatusCode, "OpenAI request failed")
		e.Err = err
		return e
	}
	return pipeerr.Transient("OpenAI request failed", err)
}

// ClassifyGemini maps a Gemini SDK error to the pipeline taxonomy.
func ClassifyGemini(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code, msg, ok := geminiAPIError(err)
	if !ok {
		return pipeerr.Transient("Gemini request failed", err)
	}
	e := pipeerr.FromStatus(code, msg)
	e.Err = err
	return e
}

func geminiAPIError(err error) (int, string, bool) {
	var ptr *genai.APIError
	if errors.As(err, &ptr) {
		return ptr.Code, ptr.Message, true
	}
	var val genai.APIError
	if errors.As(err, &val) {
		return val.Code, val.Message, true
	}
	return 0, "", false
}

// FirstChoice validates a chat completion and returns the first message body.
func FirstChoice(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", pipeerr.Schema("chat completion returned no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", pipeerr.ContentRejected("chat completion stopped by content filter")
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", pipeerr.Schema("chat completion returned empty content")
	}
	return text, nil
}

// GeminiText validates a Gemini response and returns its text.
func GeminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", pipeerr.Schema("Gemini returned no response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", pipeerr.ContentRejected("Gemini blocked the prompt: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", pipeerr.Schema("Gemini returned no candidates")
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", pipeerr.ContentRejected("Gemini stopped for safety")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", pipeerr.Schema("Gemini returned empty text")
	}
	return text, nil
}
