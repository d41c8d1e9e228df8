// Package publish turns the final panorama buffer into the single finalImage
// representation a deployment hands to the viewer: a URL or an inline data URI.
package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
	"github.com/fpang/vr-panorama/internal/s3util"
)

// S3Publisher uploads the image and returns a presigned GET URL.
type S3Publisher struct {
	client    s3util.PutObjectAPI
	presigner s3util.PresignGetAPI
	bucket    string
	prefix    string
	expiry    time.Duration
}

// NewS3Publisher creates a publisher writing under bucket/prefix.
func NewS3Publisher(client s3util.PutObjectAPI, presigner s3util.PresignGetAPI, bucket, prefix string, expiry time.Duration) *S3Publisher {
	return &S3Publisher{client: client, presigner: presigner, bucket: bucket, prefix: prefix, expiry: expiry}
}

func objectName(runID string, buf *imagebuf.Buffer) string {
	ext := string(buf.Format)
	if ext == "" {
		ext = string(imagebuf.FormatPNG)
	}
	return runID + "." + ext
}

// Publish uploads buf as {prefix}{runID}.png.
func (p *S3Publisher) Publish(ctx context.Context, runID string, buf *imagebuf.Buffer) (string, error) {
	if buf == nil {
		return "", pipeerr.Validation("no image to publish")
	}
	key := path.Join(p.prefix, objectName(runID, buf))
	if err := s3util.PutBytes(ctx, p.client, p.bucket, key, buf.Bytes(), buf.Format.MIMEType()); err != nil {
		return "", pipeerr.Transient("upload final image", err)
	}
	url, err := s3util.GeneratePresignedURL(ctx, p.presigner, p.bucket, key, p.expiry)
	if err != nil {
		return "", pipeerr.Transient("presign final image", err)
	}
	log.Info().Str("runId", runID).Str("key", key).Msg("Final image published to S3")
	return url, nil
}

// LocalPublisher writes the image into a directory and returns a file:// URL.
type LocalPublisher struct {
	dir string
}

// NewLocalPublisher creates a publisher writing into dir.
func NewLocalPublisher(dir string) *LocalPublisher {
	return &LocalPublisher{dir: dir}
}

// Publish writes buf to dir/{runID}.png.
func (p *LocalPublisher) Publish(_ context.Context, runID string, buf *imagebuf.Buffer) (string, error) {
	if buf == nil {
		return "", pipeerr.Validation("no image to publish")
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	name := filepath.Join(p.dir, objectName(runID, buf))
	if err := os.WriteFile(name, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		abs = name
	}
	log.Info().Str("runId", runID).Str("path", abs).Msg("Final image written")
	return "file://" + filepath.ToSlash(abs), nil
}

// InlinePublisher returns the image as a data URI.
type InlinePublisher struct{}

// Publish returns buf encoded as a base64 data URI.
func (InlinePublisher) Publish(_ context.Context, _ string, buf *imagebuf.Buffer) (string, error) {
	if buf == nil {
		return "", pipeerr.Validation("no image to publish")
	}
	return buf.DataURI(), nil
}
