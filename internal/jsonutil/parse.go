// Package jsonutil extracts JSON payloads from chat-model replies, which are
// often wrapped in ```json fences or surrounded by prose.
package jsonutil

import (
	"encoding/json"
	"strings"

	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// StripMarkdownFences returns the body of a fenced code block, or text
// unchanged when it is not fenced. The language tag line is dropped.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	_, body, ok := strings.Cut(text, "\n")
	if !ok {
		return strings.Trim(text, "`")
	}
	if i := strings.LastIndex(body, "```"); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}

// ExtractJSON returns the span from the first '{' or '[' to the last matching
// closing delimiter.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", pipeerr.Schema("no JSON content found")
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end < start {
		return "", pipeerr.Schema("no closing %s found", closer)
	}
	return text[start : end+1], nil
}

// ParseJSON strips fences, extracts the JSON span and unmarshals it into T.
// Failures are reported as schema errors.
func ParseJSON[T any](raw string) (T, error) {
	var zero T
	span, err := ExtractJSON(StripMarkdownFences(raw))
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal([]byte(span), &out); err != nil {
		preview := span
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return zero, &pipeerr.Error{Kind: pipeerr.KindSchema, Message: "invalid JSON: " + preview, Err: err}
	}
	return out, nil
}
