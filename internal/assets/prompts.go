// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at
// compile time so they can be edited without touching Go code.
package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

// chaptersSystemPrompt instructs the chapter model to return one environment
// description per chapter as a JSON array of strings.
//
//go:embed prompts/chapters-system.txt
var chaptersSystemPrompt string

// ChaptersSystemPrompt returns the chapter description system prompt.
func ChaptersSystemPrompt() string {
	return strings.TrimSpace(chaptersSystemPrompt)
}

//go:embed prompts/enhance-system.txt
var enhanceSystemTemplate string

// template.Must panics on malformed templates, catching errors at program
// startup rather than at call time.
var enhanceSystemTmpl = template.Must(template.New("enhance").Parse(enhanceSystemTemplate))

// EnhanceData holds the preference values injected into the enhancement prompt.
// Empty fields omit their line.
type EnhanceData struct {
	Style string
	Avoid string
}

// RenderEnhanceSystemPrompt renders the prompt-enhancement system instruction.
// avoid is joined with ", " in the order given.
func RenderEnhanceSystemPrompt(style string, avoid []string) string {
	var buf bytes.Buffer
	// The template only interpolates strings; execution cannot fail.
	_ = enhanceSystemTmpl.Execute(&buf, EnhanceData{Style: style, Avoid: strings.Join(avoid, ", ")})
	return strings.TrimRight(buf.String(), "\n")
}
