package publish

import (
	"context"
	"errors"
	"image"
	"os"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
)

func testBuffer(t *testing.T) *imagebuf.Buffer {
	t.Helper()
	buf, err := imagebuf.FromImage(image.NewNRGBA(image.Rect(0, 0, 4, 2)))
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

type fakeS3 struct {
	key    string
	putErr error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.key = *in.Key
	return &s3.PutObjectOutput{}, f.putErr
}

func (f *fakeS3) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://signed/" + *in.Key}, nil
}

func TestS3Publisher(t *testing.T) {
	f := &fakeS3{}
	p := NewS3Publisher(f, f, "bucket", "panoramas/", time.Hour)
	url, err := p.Publish(context.Background(), "run-1", testBuffer(t))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if f.key != "panoramas/run-1.png" {
		t.Errorf("key = %q", f.key)
	}
	if url != "https://signed/panoramas/run-1.png" {
		t.Errorf("url = %q", url)
	}
}

func TestS3Publisher_UploadFailureIsTransient(t *testing.T) {
	f := &fakeS3{putErr: errors.New("throttled")}
	_, err := NewS3Publisher(f, f, "b", "", time.Hour).Publish(context.Background(), "r", testBuffer(t))
	if pipeerr.KindOf(err) != pipeerr.KindTransientRemote {
		t.Errorf("KindOf() = %v, want transient", pipeerr.KindOf(err))
	}
}

func TestLocalPublisher(t *testing.T) {
	dir := t.TempDir()
	buf := testBuffer(t)
	url, err := NewLocalPublisher(dir).Publish(context.Background(), "run-2", buf)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "run-2.png") {
		t.Errorf("url = %q", url)
	}
	data, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(data) != buf.Len() {
		t.Errorf("wrote %d bytes, want %d", len(data), buf.Len())
	}
}

func TestInlinePublisher(t *testing.T) {
	buf := testBuffer(t)
	uri, err := InlinePublisher{}.Publish(context.Background(), "r", buf)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	back, err := imagebuf.FromDataURI(uri)
	if err != nil || !back.Equal(buf) {
		t.Errorf("inline output does not round-trip: %v", err)
	}
	if _, err := (InlinePublisher{}).Publish(context.Background(), "r", nil); pipeerr.KindOf(err) != pipeerr.KindValidation {
		t.Error("nil buffer should be a validation error")
	}
}
