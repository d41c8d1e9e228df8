// Package mask provides the fixed seam mask used by every inpainting call.
// The mask is loaded once per process and then shared read-only.
package mask

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// ObjectGetter reads an object from blob storage. s3util.Getter implements it.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// Source describes where the mask comes from. An empty Location synthesizes
// a Width×Height seam mask with a white vertical band of Band pixels.
type Source struct {
	Location string
	Width    int
	Height   int
	Band     int
}

// Provider loads the mask exactly once.
type Provider struct {
	src     Source
	objects ObjectGetter
	client  *http.Client

	once sync.Once
	buf  *imagebuf.Buffer
	err  error
}

// NewProvider creates a Provider. objects may be nil when the source is not s3://.
func NewProvider(src Source, objects ObjectGetter) *Provider {
	return &Provider{
		src:     src,
		objects: objects,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// loadTimeout bounds the one-time load, which ignores the first caller's cancellation.
const loadTimeout = time.Minute

// Mask returns the loaded mask. The first call loads it; later calls, from
// any goroutine, return the same buffer or the same error. The load runs on a
// context detached from ctx, so a canceled first caller does not leave a
// cached cancellation error behind for everyone else.
func (p *Provider) Mask(ctx context.Context) (*imagebuf.Buffer, error) {
	p.once.Do(func() {
		start := time.Now()
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		p.buf, p.err = p.load(loadCtx)
		if p.err != nil {
			log.Error().Err(p.err).Str("location", p.src.Location).Msg("Failed to load inpainting mask")
			return
		}
		log.Info().
			Str("location", p.src.Location).
			Int("width", p.buf.Width).
			Int("height", p.buf.Height).
			Dur("elapsed", time.Since(start)).
			Msg("Inpainting mask loaded")
	})
	return p.buf, p.err
}

func (p *Provider) load(ctx context.Context) (*imagebuf.Buffer, error) {
	loc := strings.TrimSpace(p.src.Location)
	switch {
	case loc == "":
		return Seam(p.src.Width, p.src.Height, p.src.Band)
	case strings.HasPrefix(loc, "s3://"):
		if p.objects == nil {
			return nil, pipeerr.Validation("mask %s needs S3 access but none is configured", loc)
		}
		bucket, key, ok := strings.Cut(strings.TrimPrefix(loc, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return nil, pipeerr.Validation("invalid mask location %q", loc)
		}
		data, err := p.objects.GetObject(ctx, bucket, key)
		if err != nil {
			return nil, fmt.Errorf("fetch mask %s: %w", loc, err)
		}
		return imagebuf.Decode(data)
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		return p.fetchHTTP(ctx, loc)
	default:
		data, err := os.ReadFile(strings.TrimPrefix(loc, "file://"))
		if err != nil {
			return nil, fmt.Errorf("read mask: %w", err)
		}
		return imagebuf.Decode(data)
	}
}

func (p *Provider) fetchHTTP(ctx context.Context, url string) (*imagebuf.Buffer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch mask: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch mask: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read mask: %w", err)
	}
	return imagebuf.Decode(data)
}

// Seam synthesizes the default mask: black everywhere (keep) except a white
// vertical band (repaint) centred on the frame, where a seam-corrected
// panorama has its join.
func Seam(width, height, band int) (*imagebuf.Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, pipeerr.Validation("mask size %dx%d has zero area", width, height)
	}
	if band <= 0 || band > width {
		return nil, pipeerr.Validation("mask band %d outside 1..%d", band, width)
	}
	m := image.NewNRGBA(image.Rect(0, 0, width, height))
	imagebuf.Fill(m, m.Bounds(), color.Black)

	x1 := width/2 - band/2
	imagebuf.Fill(m, image.Rect(x1, 0, x1+band, height), color.White)
	return imagebuf.FromImage(m)
}

// Fit returns m at width×height. The same buffer is returned when the size
// already matches; otherwise a resampled copy is built and m is untouched.
func Fit(m *imagebuf.Buffer, width, height int) (*imagebuf.Buffer, error) {
	if m.Width == width && m.Height == height {
		return m, nil
	}
	img, err := m.Image()
	if err != nil {
		return nil, err
	}
	scaled, err := imagebuf.Resize(img, width, height)
	if err != nil {
		return nil, err
	}
	return imagebuf.FromImage(scaled)
}
