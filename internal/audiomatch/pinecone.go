package audiomatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/retry"
)

// pineconeAPIVersion pins the data-plane API revision.
const pineconeAPIVersion = "2025-01"

// Pinecone queries a serverless Pinecone index over its data-plane REST API.
type Pinecone struct {
	host       string
	apiKey     string
	namespace  string
	httpClient *http.Client
	policy     retry.Policy
}

// NewPinecone creates an index client. host is the index host shown in the
// Pinecone console, with or without a scheme.
func NewPinecone(host, apiKey, namespace string, policy retry.Policy) *Pinecone {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return &Pinecone{
		host:       strings.TrimRight(host, "/"),
		apiKey:     apiKey,
		namespace:  namespace,
		httpClient: &http.Client{},
		policy:     policy,
	}
}

type pineconeQuery struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
	Namespace       string    `json:"namespace,omitempty"`
}

type pineconeResponse struct {
	Matches *[]struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

// Query returns up to topK nearest neighbours by the index's metric.
func (p *Pinecone) Query(ctx context.Context, vector []float32, topK int) ([]Neighbor, error) {
	body, err := json.Marshal(pineconeQuery{Vector: vector, TopK: topK, IncludeMetadata: true, Namespace: p.namespace})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	var out []Neighbor
	err = retry.Do(ctx, p.policy, "pinecone.query", func(ctx context.Context) error {
		var err error
		out, err = p.query(ctx, body)
		return err
	})
	return out, err
}

func (p *Pinecone) query(ctx context.Context, body []byte) ([]Neighbor, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", p.apiKey)
	req.Header.Set("X-Pinecone-API-Version", pineconeAPIVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, pipeerr.Transient("Pinecone request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipeerr.Transient("failed to read Pinecone response", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", pipeerr.Truncate(string(respBody), 300)).
			Msg("Pinecone query returned error")
		return nil, pipeerr.FromStatus(resp.StatusCode, pipeerr.Truncate(string(respBody), 200))
	}

	var parsed pineconeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &pipeerr.Error{Kind: pipeerr.KindSchema, Message: "failed to parse Pinecone response", Err: err}
	}
	if parsed.Matches == nil {
		return nil, pipeerr.Schema("Pinecone response has no matches field")
	}

	neighbors := make([]Neighbor, 0, len(*parsed.Matches))
	for _, m := range *parsed.Matches {
		neighbors = append(neighbors, Neighbor{ID: m.ID, Score: m.Score, Metadata: m.Metadata})
	}
	log.Debug().
		Int("matches", len(neighbors)).
		Dur("elapsed", time.Since(start)).
		Msg("Pinecone query complete")
	return neighbors, nil
}

