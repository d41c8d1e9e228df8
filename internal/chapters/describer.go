// Package chapters asks a chat model for one environment description per
// chapter of a book. Each description is a ready-made panorama prompt.
package chapters

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/fpang/vr-panorama/internal/assets"
	"github.com/fpang/vr-panorama/internal/jsonutil"
	"github.com/fpang/vr-panorama/internal/llm"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

// maxBookChars bounds the text sent to the model.
const maxBookChars = 400_000

// ChatCompleter is the subset of *openai.Client the describer uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Describer produces chapter environment descriptions.
type Describer struct {
	client ChatCompleter
	model  string
	policy retry.Policy
}

// NewDescriber creates a describer using model.
func NewDescriber(client ChatCompleter, model string, policy retry.Policy) *Describer {
	return &Describer{client: client, model: model, policy: policy}
}

// Describe returns the descriptions in chapter order.
func (d *Describer) Describe(ctx context.Context, bookText string) ([]string, error) {
	bookText = strings.TrimSpace(bookText)
	if bookText == "" {
		return nil, pipeerr.Validation("book text is empty")
	}
	if len(bookText) > maxBookChars {
		log.Warn().Int("length", len(bookText)).Int("limit", maxBookChars).Msg("Book text truncated")
		bookText = bookText[:maxBookChars]
	}

	req := openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: assets.ChaptersSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: "This is the book: " + bookText},
		},
	}

	start := time.Now()
	var raw string
	err := retry.Do(ctx, d.policy, "openai.chapters", func(ctx context.Context) error {
		resp, err := d.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return llm.ClassifyOpenAI(err)
		}
		raw, err = llm.FirstChoice(resp)
		return err
	})
	if err != nil {
		return nil, err
	}

	parsed, err := jsonutil.ParseJSON[[]string](raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(parsed))
	for _, s := range parsed {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, pipeerr.Schema("model returned no chapter descriptions")
	}
	log.Info().
		Int("chapters", len(out)).
		Dur("elapsed", time.Since(start)).
		Msg("Chapter descriptions generated")
	return out, nil
}
