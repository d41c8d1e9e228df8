package jsonutil

import (
	"testing"

	"github.com/fpang/vr-panorama/internal/pipeerr"
)

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `["a"]`, `["a"]`},
		{"json fence", "```json\n[\"a\", \"b\"]\n```", `["a", "b"]`},
		{"bare fence", "```\n{\"k\":1}\n```", `{"k":1}`},
		{"unterminated", "```json\n[1]", `[1]`},
		{"surrounding space", "  \n```json\n[]\n```\n ", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("StripMarkdownFences() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"array in prose", `Here you go: ["a","b"] enjoy`, `["a","b"]`, false},
		{"object first", `{"a":[1]}`, `{"a":[1]}`, false},
		{"none", "no json here", "", true},
		{"unclosed", `["a"`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	got, err := ParseJSON[[]string]("```json\n[\"a dark forest\", \"a bright beach\"]\n```")
	if err != nil {
		t.Fatalf("ParseJSON() error = %v", err)
	}
	if len(got) != 2 || got[1] != "a bright beach" {
		t.Errorf("ParseJSON() = %v", got)
	}

	_, err = ParseJSON[[]string](`{"not":"an array"}`)
	if pipeerr.KindOf(err) != pipeerr.KindSchema {
		t.Errorf("ParseJSON() kind = %v, want schema", pipeerr.KindOf(err))
	}
}
