package pipeerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"unicode/utf8"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{400, KindValidation},
		{401, KindValidation},
		{404, KindValidation},
		{408, KindTransientRemote},
		{422, KindValidation},
		{429, KindTransientRemote},
		{500, KindTransientRemote},
		{503, KindTransientRemote},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			got := FromStatus(tt.code, "body")
			if got.Kind != tt.want {
				t.Errorf("FromStatus(%d).Kind = %v, want %v", tt.code, got.Kind, tt.want)
			}
			if got.StatusCode != tt.code {
				t.Errorf("FromStatus(%d).StatusCode = %d", tt.code, got.StatusCode)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", Transient("boom", nil), true},
		{"wrapped transient", fmt.Errorf("call: %w", FromStatus(502, "")), true},
		{"validation", Validation("bad"), false},
		{"content", ContentRejected("nsfw"), false},
		{"schema", Schema("missing output"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("whatever"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithStage(t *testing.T) {
	err := WithStage(StageInpainting, Schema("no output"))
	if StageOf(err) != StageInpainting {
		t.Errorf("StageOf() = %q, want %q", StageOf(err), StageInpainting)
	}
	if KindOf(err) != KindSchema {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindSchema)
	}

	// Existing attribution wins.
	again := WithStage(StageUpscaling, err)
	if StageOf(again) != StageInpainting {
		t.Errorf("re-attributed stage = %q, want %q", StageOf(again), StageInpainting)
	}

	timeout := WithStage(StageGenerating, fmt.Errorf("post: %w", context.DeadlineExceeded))
	if KindOf(timeout) != KindTransientRemote {
		t.Errorf("timeout kind = %v, want %v", KindOf(timeout), KindTransientRemote)
	}
	if !errors.Is(timeout, context.DeadlineExceeded) {
		t.Error("timeout error should still wrap context.DeadlineExceeded")
	}

	if WithStage(StageMatching, nil) != nil {
		t.Error("WithStage(nil) should be nil")
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Kind: KindSchema, Stage: StageInpainting, Message: "missing output"}
	if got, want := e.Error(), "Inpainting: missing output"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"abcdefghijk", 5, "abcde..."},
		{"año nuevo", 2, "a..."},
		{"año nuevo", 3, "añ..."},
		{"日本語", 4, "日..."},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.maxLen)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) = %q is not valid UTF-8", tt.in, tt.maxLen, got)
		}
	}
}
