// Package imagebuf holds the byte-level image operations the pipeline needs:
// decode, measure, extract a region, composite regions onto a canvas,
// re-encode losslessly, and wrap as a base64 data URI.
//
// A Buffer is immutable once built. Every operation that changes pixels
// returns a new Buffer, so buffers can be handed between stages and
// goroutines without copying or locking.
package imagebuf

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	"image/png"
	"strings"

	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// Format is the encoded container of a Buffer, as reported by image.DecodeConfig.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
	FormatGIF  Format = "gif"
)

// MIMEType returns the IANA media type for f.
func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatGIF:
		return "image/gif"
	default:
		return "image/png"
	}
}

// Buffer is an encoded image together with its decoded dimensions.
type Buffer struct {
	data   []byte
	Width  int
	Height int
	Format Format
}

// Decode inspects data without decoding pixels and returns a Buffer over a
// private copy of it.
func Decode(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, pipeerr.Validation("empty image payload")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &pipeerr.Error{Kind: pipeerr.KindSchema, Message: "undecodable image payload", Err: err}
	}
	return &Buffer{
		data:   bytes.Clone(data),
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: Format(format),
	}, nil
}

// FromImage encodes img as PNG.
func FromImage(img image.Image) (*Buffer, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &Buffer{data: data, Width: b.Dx(), Height: b.Dy(), Format: FormatPNG}, nil
}

// Bytes returns a copy of the encoded payload.
func (b *Buffer) Bytes() []byte {
	return bytes.Clone(b.data)
}

// Len returns the encoded payload size in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Equal reports whether two buffers hold byte-identical payloads.
func (b *Buffer) Equal(other *Buffer) bool {
	if b == nil || other == nil {
		return b == other
	}
	return bytes.Equal(b.data, other.data)
}

// Image decodes the full pixel data.
func (b *Buffer) Image() (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(b.data))
	if err != nil {
		return nil, fmt.Errorf("decode %s image: %w", b.Format, err)
	}
	return img, nil
}

// EncodePNG encodes img losslessly. Output is deterministic for a given image.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI wraps the payload as data:<mime>;base64,<payload>.
func (b *Buffer) DataURI() string {
	return "data:" + b.Format.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(b.data)
}

// FromDataURI parses a base64 data URI produced by DataURI or a remote provider.
func FromDataURI(uri string) (*Buffer, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, pipeerr.Schema("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, pipeerr.Schema("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &pipeerr.Error{Kind: pipeerr.KindSchema, Message: "invalid base64 in data URI", Err: err}
	}
	return Decode(data)
}
