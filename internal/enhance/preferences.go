// Package enhance rewrites a raw scene prompt into a richer panorama prompt
// that honours the caller's style and avoid-term preferences.
package enhance

import (
	"sort"
	"strings"

	"github.com/fpang/vr-panorama/internal/assets"
)

// Styles and avoid options offered by the viewer's settings screen. Any
// other value is accepted as-is.
var (
	KnownStyles = []string{"Animated", "Cartoon", "Realistic", "Abstract"}
	KnownAvoid  = []string{"Scary Things", "Monsters", "Persons", "Violence"}
)

// Preferences are the request-scoped style constraints. Both fields are optional.
type Preferences struct {
	Style      string   `json:"style,omitempty"`
	AvoidTerms []string `json:"avoid,omitempty"`
}

// Normalize trims the style and returns the avoid terms de-duplicated
// case-insensitively and sorted, so the instruction text is deterministic.
func (p Preferences) Normalize() Preferences {
	out := Preferences{Style: strings.TrimSpace(p.Style)}
	seen := make(map[string]bool, len(p.AvoidTerms))
	for _, term := range p.AvoidTerms {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" || seen[key] {
			continue
		}
		seen[key] = true
		out.AvoidTerms = append(out.AvoidTerms, term)
	}
	sort.Slice(out.AvoidTerms, func(i, j int) bool {
		return strings.ToLower(out.AvoidTerms[i]) < strings.ToLower(out.AvoidTerms[j])
	})
	return out
}

// BuildInstructions returns the system instruction for p. An absent style
// injects no style line and an empty avoid set injects no exclusion line.
func BuildInstructions(p Preferences) string {
	p = p.Normalize()
	return assets.RenderEnhanceSystemPrompt(p.Style, p.AvoidTerms)
}
