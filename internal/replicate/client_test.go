package replicate

import (
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient("r8_test",
		WithBaseURL(srv.URL),
		WithRateLimit(0),
		WithPollInterval(time.Millisecond),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRun_PollsUntilSucceeded(t *testing.T) {
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/predictions":
			var body createRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "abc123", body.Version)
			assert.Equal(t, "a lighthouse", body.Input["prompt"])
			assert.Equal(t, "wait=60", r.Header.Get("Prefer"))
			writeJSON(w, http.StatusCreated, map[string]any{
				"id": "p1", "status": "starting",
				"urls": map[string]string{"get": srv.URL + "/predictions/p1"},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/predictions/p1":
			if polls.Add(1) < 2 {
				writeJSON(w, http.StatusOK, map[string]any{
					"id": "p1", "status": "processing",
					"urls": map[string]string{"get": srv.URL + "/predictions/p1"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"id": "p1", "status": "succeeded", "output": "https://replicate.delivery/out.png",
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	pred, err := newTestClient(srv).Run(t.Context(), "acme/pano:abc123", map[string]any{"prompt": "a lighthouse"})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, pred.Status)
	assert.EqualValues(t, 2, polls.Load())

	url, err := OutputURL(pred)
	require.NoError(t, err)
	assert.Equal(t, "https://replicate.delivery/out.png", url)
}

func TestRun_OfficialModelPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/stability-ai/stable-diffusion-inpainting/predictions", r.URL.Path)
		writeJSON(w, http.StatusCreated, map[string]any{
			"id": "p2", "status": "succeeded", "output": []string{"https://x/1.png"},
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Run(t.Context(), "stability-ai/stable-diffusion-inpainting", map[string]any{})
	require.NoError(t, err)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
		want   pipeerr.Kind
	}{
		{"server error", http.StatusInternalServerError, map[string]any{"detail": "boom"}, pipeerr.KindTransientRemote},
		{"rate limited", http.StatusTooManyRequests, map[string]any{"detail": "slow down"}, pipeerr.KindTransientRemote},
		{"bad input", http.StatusUnprocessableEntity, map[string]any{"detail": "prompt required"}, pipeerr.KindValidation},
		{"nsfw", http.StatusCreated, map[string]any{"id": "p3", "status": "failed", "error": "NSFW content detected. Try running it again, or try a different prompt."}, pipeerr.KindContentRejected},
		{"model crash", http.StatusCreated, map[string]any{"id": "p4", "status": "failed", "error": "CUDA out of memory"}, pipeerr.KindTransientRemote},
		{"interrupted", http.StatusCreated, map[string]any{"id": "p5", "status": "failed", "error": "Prediction interrupted; please retry (code: PA)"}, pipeerr.KindTransientRemote},
		{"model input error", http.StatusCreated, map[string]any{"id": "p6", "status": "failed", "error": "ValueError: width must be divisible by 8"}, pipeerr.KindValidation},
		{"canceled", http.StatusCreated, map[string]any{"id": "p7", "status": "canceled"}, pipeerr.KindCanceled},
		{"malformed", http.StatusCreated, map[string]any{"unexpected": true}, pipeerr.KindSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv).Run(t.Context(), "acme/pano:v1", map[string]any{"prompt": "x"})
			require.Error(t, err)
			assert.Equal(t, tt.want, pipeerr.KindOf(err), "err = %v", err)
		})
	}
}

func TestRun_InvalidModel(t *testing.T) {
	c := NewClient("t", WithBaseURL("http://unused"))
	_, err := c.Run(t.Context(), "no-slash", nil)
	assert.Equal(t, pipeerr.KindValidation, pipeerr.KindOf(err))
}

func TestOutputURL(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{"string", `"https://a/b.png"`, "https://a/b.png", false},
		{"array", `["", "https://a/c.png"]`, "https://a/c.png", false},
		{"null", `null`, "", true},
		{"empty array", `[]`, "", true},
		{"object", `{"image":"x"}`, "", true},
		{"missing", ``, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OutputURL(&Prediction{Output: json.RawMessage(tt.output)})
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, pipeerr.KindSchema, pipeerr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetch(t *testing.T) {
	buf, err := imagebuf.FromImage(image.NewNRGBA(image.Rect(0, 0, 6, 3)))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()
	c := newTestClient(srv)

	got, err := c.Fetch(t.Context(), srv.URL+"/out.png")
	require.NoError(t, err)
	assert.Equal(t, 6, got.Width)
	assert.Equal(t, 3, got.Height)

	inline, err := c.Fetch(t.Context(), buf.DataURI())
	require.NoError(t, err)
	assert.True(t, inline.Equal(buf))

	_, err = c.Fetch(t.Context(), srv.URL+"/missing.png")
	assert.Equal(t, pipeerr.KindValidation, pipeerr.KindOf(err), fmt.Sprint(err))
}
