// Package audiomatch finds the catalogued ambient audio clip whose caption
// embedding is nearest to a scene prompt.
package audiomatch

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// Neighbor is one index match.
type Neighbor struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Match is the selected catalog entry. AudioID is the clip's YouTube video ID.
type Match struct {
	AudioID      string  `json:"id"`
	Title        string  `json:"title,omitempty"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
	Caption      string  `json:"caption,omitempty"`
	Score        float64 `json:"score"`
}

// Index is a read-only nearest-neighbour catalog.
type Index interface {
	Query(ctx context.Context, vector []float32, topK int) ([]Neighbor, error)
}

// TextEmbedder turns text into a vector in the index's space.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Matcher combines an embedder with an index.
type Matcher struct {
	embedder TextEmbedder
	index    Index
}

// NewMatcher creates a matcher.
func NewMatcher(embedder TextEmbedder, index Index) *Matcher {
	return &Matcher{embedder: embedder, index: index}
}

// Match returns the single nearest catalog entry for prompt, or nil when the
// index has no match.
func (m *Matcher) Match(ctx context.Context, prompt string) (*Match, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, pipeerr.Validation("prompt is empty")
	}
	start := time.Now()
	vec, err := m.embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, err
	}
	neighbors, err := m.index.Query(ctx, vec, 1)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		log.Debug().Dur("elapsed", time.Since(start)).Msg("No catalog match")
		return nil, nil
	}

	match, err := toMatch(neighbors[0])
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("audioId", match.AudioID).
		Float64("score", match.Score).
		Dur("elapsed", time.Since(start)).
		Msg("Catalog match found")
	return match, nil
}

func toMatch(n Neighbor) (*Match, error) {
	id := metaString(n.Metadata, "id")
	if id == "" {
		return nil, pipeerr.Schema("catalog entry %q has no audio id in metadata", n.ID)
	}
	return &Match{
		AudioID:      id,
		Title:        metaString(n.Metadata, "title"),
		ThumbnailURL: metaString(n.Metadata, "thumbnailUrl"),
		Caption:      metaString(n.Metadata, "caption"),
		Score:        n.Score,
	}, nil
}

func metaString(md map[string]any, key string) string {
	s, _ := md[key].(string)
	return strings.TrimSpace(s)
}
