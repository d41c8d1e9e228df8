// Package replicate is a REST client for the Replicate predictions API. The
// panorama generator, inpainter, and upscaler all run as Replicate models.
package replicate

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
	"golang.org/x/time/rate"

	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// DefaultBaseURL is the public Replicate API root.
const DefaultBaseURL = "https://api.replicate.com/v1"

// maxDownloadBytes caps result image downloads.
const maxDownloadBytes = 64 << 20

// Prediction status values.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Prediction is the subset of Replicate's prediction object the pipeline reads.
type Prediction struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Version string          `json:"version"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output"`
	Error   any             `json:"error"`
	URLs    struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
	Metrics struct {
		PredictTime float64 `json:"predict_time"`
	} `json:"metrics"`
}

func (p *Prediction) terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

func (p *Prediction) errorText() string {
	switch e := p.Error.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		b, _ := json.Marshal(e)
		return string(b)
	}
}

type createRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// Client calls the Replicate API. It is safe for concurrent use.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	waitSeconds  int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRateLimit allows rps API calls per second with a burst of one.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithPollInterval sets the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithSyncWait sets the Prefer: wait header in seconds (1-60). Zero disables it.
func WithSyncWait(seconds int) Option {
	return func(c *Client) { c.waitSeconds = seconds }
}

// NewClient creates a client authenticated with token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		// Per-call deadlines come from the stage context.
		httpClient:   &http.Client{},
		limiter:      rate.NewLimiter(rate.Limit(5), 1),
		pollInterval: 2 * time.Second,
		waitSeconds:  60,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConfigured reports whether a token is present.
func (c *Client) IsConfigured() bool {
	return c.token != ""
}

// Run creates a prediction for model and waits for it to reach a terminal
// state. model is either "owner/name:version" or an official "owner/name".
// Only a succeeded prediction is returned without error.
func (c *Client) Run(ctx context.Context, model string, input map[string]any) (*Prediction, error) {
	start := time.Now()
	pred, err := c.create(ctx, model, input)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("model", model).
		Str("predictionId", pred.ID).
		Str("status", pred.Status).
		Dur("elapsed", time.Since(start)).
		Msg("Replicate prediction created")

	for !pred.terminal() {
		if pred.URLs.Get == "" {
			return nil, pipeerr.Schema("prediction %s has no status URL", pred.ID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		pred, err = c.get(ctx, pred.URLs.Get)
		if err != nil {
			return nil, err
		}
	}

	log.Debug().
		Str("model", model).
		Str("predictionId", pred.ID).
		Str("status", pred.Status).
		Float64("predictTime", pred.Metrics.PredictTime).
		Dur("elapsed", time.Since(start)).
		Msg("Replicate prediction finished")

	switch pred.Status {
	case StatusSucceeded:
		return pred, nil
	case StatusCanceled:
		return nil, &pipeerr.Error{Kind: pipeerr.KindCanceled, Message: fmt.Sprintf("prediction %s was canceled", pred.ID)}
	default:
		return nil, classifyFailure(pred)
	}
}

// classifyFailure maps a failed prediction to the taxonomy. Replicate reports
// safety-checker hits as ordinary failures with a descriptive message. Only
// failures worded as infrastructure trouble are transient; the rest are
// treated as the model rejecting its input.
func classifyFailure(p *Prediction) error {
	msg := p.errorText()
	lower := strings.ToLower(msg)
	for _, marker := range contentMarkers {
		if strings.Contains(lower, marker) {
			return pipeerr.ContentRejected("prediction %s rejected: %s", p.ID, pipeerr.Truncate(msg, 200))
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return pipeerr.Transient(fmt.Sprintf("prediction %s failed: %s", p.ID, pipeerr.Truncate(msg, 200)), nil)
		}
	}
	return pipeerr.Validation("prediction %s failed: %s", p.ID, pipeerr.Truncate(msg, 200))
}

var (
	contentMarkers   = []string{"nsfw", "safety", "content policy", "flagged"}
	transientMarkers = []string{
		"interrupted", "out of memory", "timed out", "timeout",
		"temporarily unavailable", "connection reset", "internal server error",
		"director",
	}
)

func (c *Client) create(ctx context.Context, model string, input map[string]any) (*Prediction, error) {
	req := createRequest{Input: input}
	url := c.baseURL + "/predictions"
	if _, version, ok := strings.Cut(model, ":"); ok {
		req.Version = version
	} else {
		owner, modelName, ok := strings.Cut(model, "/")
		if !ok || owner == "" || modelName == "" {
			return nil, pipeerr.Validation("invalid model reference %q", model)
		}
		url = fmt.Sprintf("%s/models/%s/%s/predictions", c.baseURL, owner, modelName)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.waitSeconds > 0 {
		httpReq.Header.Set("Prefer", fmt.Sprintf("wait=%d", c.waitSeconds))
	}
	return c.doPrediction(httpReq)
}

func (c *Client) get(ctx context.Context, url string) (*Prediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.doPrediction(httpReq)
}

func (c *Client) doPrediction(httpReq *http.Request) (*Prediction, error) {
	respBody, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	var pred Prediction
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return nil, &pipeerr.Error{Kind: pipeerr.KindSchema, Message: "failed to parse prediction", Err: err}
	}
	if pred.ID == "" || pred.Status == "" {
		return nil, pipeerr.Schema("prediction response missing id or status: %s", pipeerr.Truncate(string(respBody), 200))
	}
	return &pred, nil
}

// do sends an authenticated request after waiting on the rate limiter and
// returns the body of a 2xx response.
func (c *Client) do(httpReq *http.Request) ([]byte, error) {
	ctx := httpReq.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pipeerr.Transient("HTTP request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipeerr.Transient("failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("url", httpReq.URL.Path).
			Str("body", pipeerr.Truncate(string(respBody), 500)).
			Msg("Replicate API returned error")
		return nil, pipeerr.FromStatus(resp.StatusCode, pipeerr.Truncate(string(respBody), 200))
	}
	return respBody, nil
}

// OutputURL extracts the first output file reference. Replicate models return
// either a single URL string or an array of them.
func OutputURL(p *Prediction) (string, error) {
	if p == nil || len(p.Output) == 0 || string(p.Output) == "null" {
		return "", pipeerr.Schema("prediction has no output")
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		if single == "" {
			return "", pipeerr.Schema("prediction output is empty")
		}
		return single, nil
	}
	var many []string
	if err := json.Unmarshal(p.Output, &many); err == nil {
		for _, u := range many {
			if u != "" {
				return u, nil
			}
		}
		return "", pipeerr.Schema("prediction output array is empty")
	}
	return "", pipeerr.Schema("unexpected prediction output shape: %s", pipeerr.Truncate(string(p.Output), 100))
}

// Fetch downloads an output file. data: URIs are decoded in place.
func (c *Client) Fetch(ctx context.Context, ref string) (*imagebuf.Buffer, error) {
	if strings.HasPrefix(ref, "data:") {
		return imagebuf.FromDataURI(ref)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, pipeerr.Schema("invalid output URL %q", pipeerr.Truncate(ref, 100))
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pipeerr.Transient("download output", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, pipeerr.FromStatus(resp.StatusCode, "download output")
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, pipeerr.Transient("read output", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, pipeerr.Schema("output exceeds %d bytes", maxDownloadBytes)
	}
	return imagebuf.Decode(data)
}

// RunImage runs model and downloads its first output image.
func (c *Client) RunImage(ctx context.Context, model string, input map[string]any) (*imagebuf.Buffer, string, error) {
	pred, err := c.Run(ctx, model, input)
	if err != nil {
		return nil, "", err
	}
	ref, err := OutputURL(pred)
	if err != nil {
		return nil, "", err
	}
	buf, err := c.Fetch(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	return buf, ref, nil
}

