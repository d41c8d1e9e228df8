package chapters

import (
	"context"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

type stubChat struct {
	reply string
	req   openai.ChatCompletionRequest
}

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.req = req
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Content: s.reply},
	}}}, nil
}

func TestDescribe(t *testing.T) {
	stub := &stubChat{reply: "```json\n[\"A dark forest with fog.\", \" \", \"A sunny beach.\"]\n```"}
	got, err := NewDescriber(stub, "gpt-4o-mini", retry.Policy{}).Describe(context.Background(), "Chapter 1 ... Chapter 2 ...")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	want := []string{"A dark forest with fog.", "A sunny beach."}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Describe() = %v, want %v", got, want)
	}
	if !strings.HasPrefix(stub.req.Messages[1].Content, "This is the book: ") {
		t.Errorf("user message = %q", stub.req.Messages[1].Content)
	}
	if stub.req.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", stub.req.Model)
	}
}

func TestDescribe_Errors(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		reply string
		want  pipeerr.Kind
	}{
		{"empty book", "  ", "", pipeerr.KindValidation},
		{"not json", "book", "I could not find chapters.", pipeerr.KindSchema},
		{"empty array", "book", "[]", pipeerr.KindSchema},
		{"object", "book", `{"chapters":["a"]}`, pipeerr.KindSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDescriber(&stubChat{reply: tt.reply}, "m", retry.Policy{}).Describe(context.Background(), tt.text)
			if got := pipeerr.KindOf(err); err == nil || got != tt.want {
				t.Errorf("Describe() err = %v, kind %v, want %v", err, got, tt.want)
			}
		})
	}
}
