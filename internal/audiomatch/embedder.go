package audiomatch

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/fpang/vr-panorama/internal/llm"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

// Dimensions is the vector length of the catalog index.
const Dimensions = 1536

// EmbeddingsCreator is the subset of *openai.Client the embedder uses.
type EmbeddingsCreator interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Embedder turns prompt text into catalog-compatible vectors. Repeated
// prompts are served from an in-process cache.
type Embedder struct {
	client EmbeddingsCreator
	model  openai.EmbeddingModel
	policy retry.Policy
	cache  *cache.Cache
}

// NewEmbedder creates an embedder. A non-positive ttl disables caching.
func NewEmbedder(client EmbeddingsCreator, model string, ttl time.Duration, policy retry.Policy) *Embedder {
	e := &Embedder{client: client, model: openai.EmbeddingModel(model), policy: policy}
	if ttl > 0 {
		e.cache = cache.New(ttl, 2*ttl)
	}
	return e
}

// Embed returns the embedding for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := string(e.model) + "\x00" + text
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			log.Debug().Int("textLength", len(text)).Msg("Embedding cache hit")
			return v.([]float32), nil
		}
	}

	start := time.Now()
	var vec []float32
	err := retry.Do(ctx, e.policy, "openai.embed", func(ctx context.Context) error {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: e.model,
		})
		if err != nil {
			return llm.ClassifyOpenAI(err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return pipeerr.Schema("embedding response has no data")
		}
		vec = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(vec) != Dimensions {
		return nil, pipeerr.Schema("embedding has %d dimensions, index expects %d", len(vec), Dimensions)
	}
	log.Debug().
		Str("model", string(e.model)).
		Int("dimensions", len(vec)).
		Dur("elapsed", time.Since(start)).
		Msg("Embedding generated")

	if e.cache != nil {
		e.cache.SetDefault(key, vec)
	}
	return vec, nil
}
