package s3util

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	objects map[string][]byte
	put     *s3.PutObjectInput
	expires time.Duration
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.objects[*in.Bucket+"/"+*in.Key]))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://" + *in.Bucket + ".s3.amazonaws.com/" + *in.Key + "?X-Amz-Signature=abc"}, nil
}

func TestGetter(t *testing.T) {
	f := &fakeS3{objects: map[string][]byte{"assets/mask.png": []byte("png-bytes")}}
	got, err := Getter{Client: f}.GetObject(context.Background(), "assets", "mask.png")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(got) != "png-bytes" {
		t.Errorf("GetObject() = %q", got)
	}
}

func TestPutBytes_Tags(t *testing.T) {
	f := &fakeS3{}
	if err := PutBytes(context.Background(), f, "out", "panoramas/a.png", []byte{1, 2}, "image/png"); err != nil {
		t.Fatalf("PutBytes() error = %v", err)
	}
	if *f.put.Tagging != "Project=vr-panorama" {
		t.Errorf("Tagging = %q", *f.put.Tagging)
	}
	if *f.put.ContentType != "image/png" {
		t.Errorf("ContentType = %q", *f.put.ContentType)
	}
}

func TestGeneratePresignedURL(t *testing.T) {
	f := &fakeS3{}
	url, err := GeneratePresignedURL(context.Background(), f, "out", "k.png", time.Hour)
	if err != nil {
		t.Fatalf("GeneratePresignedURL() error = %v", err)
	}
	if f.expires != time.Hour {
		t.Errorf("expiry = %v, want 1h", f.expires)
	}
	if url == "" {
		t.Error("empty URL")
	}
}
