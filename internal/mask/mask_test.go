package mask

import (
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
)

type fakeObjects struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (f *fakeObjects) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bucket != "masks" || key != "seam.png" {
		return nil, errors.New("unexpected object " + bucket + "/" + key)
	}
	return f.data, f.err
}

func TestSeam(t *testing.T) {
	buf, err := Seam(100, 10, 20)
	if err != nil {
		t.Fatalf("Seam() error = %v", err)
	}
	img, _ := buf.Image()
	tests := []struct {
		x     int
		white bool
	}{
		{0, false}, {39, false}, {40, true}, {50, true}, {59, true}, {60, false}, {99, false},
	}
	for _, tt := range tests {
		r, _, _, _ := img.At(tt.x, 5).RGBA()
		if (r == 0xffff) != tt.white {
			t.Errorf("column %d white = %v, want %v", tt.x, r == 0xffff, tt.white)
		}
	}
}

func TestSeam_Invalid(t *testing.T) {
	for _, args := range [][3]int{{0, 10, 5}, {10, 0, 5}, {10, 10, 0}, {10, 10, 11}} {
		if _, err := Seam(args[0], args[1], args[2]); pipeerr.KindOf(err) != pipeerr.KindValidation {
			t.Errorf("Seam%v kind = %v, want validation", args, pipeerr.KindOf(err))
		}
	}
}

func TestProvider_LoadsOnce(t *testing.T) {
	want, _ := Seam(16, 8, 4)
	objects := &fakeObjects{data: want.Bytes()}
	p := NewProvider(Source{Location: "s3://masks/seam.png"}, objects)

	var wg sync.WaitGroup
	results := make([]*imagebuf.Buffer, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = p.Mask(context.Background())
		}(i)
	}
	wg.Wait()

	if objects.calls.Load() != 1 {
		t.Errorf("GetObject called %d times, want 1", objects.calls.Load())
	}
	for i, r := range results {
		if r != results[0] {
			t.Fatalf("result %d is a different buffer", i)
		}
	}
	if !results[0].Equal(want) {
		t.Error("loaded mask differs from stored object")
	}
}

func TestProvider_CanceledFirstCallerStillLoads(t *testing.T) {
	want, _ := Seam(16, 8, 4)
	objects := &fakeObjects{data: want.Bytes()}
	p := NewProvider(Source{Location: "s3://masks/seam.png"}, objects)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first, err := p.Mask(ctx)
	if err != nil {
		t.Fatalf("Mask() with canceled ctx error = %v, want nil", err)
	}
	second, err := p.Mask(context.Background())
	if err != nil {
		t.Fatalf("second Mask() error = %v", err)
	}
	if first != second || !first.Equal(want) {
		t.Error("second Mask() did not return the loaded mask")
	}
	if objects.calls.Load() != 1 {
		t.Errorf("GetObject called %d times, want 1", objects.calls.Load())
	}
}

func TestProvider_Sources(t *testing.T) {
	stored, _ := Seam(20, 10, 4)

	dir := t.TempDir()
	path := filepath.Join(dir, "mask.png")
	if err := os.WriteFile(path, stored.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(stored.Bytes())
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		src     Source
		objects ObjectGetter
		wantW   int
		wantErr bool
	}{
		{"synthesized", Source{Width: 64, Height: 32, Band: 8}, nil, 64, false},
		{"file", Source{Location: path}, nil, 20, false},
		{"http", Source{Location: srv.URL + "/mask.png"}, nil, 20, false},
		{"s3 without client", Source{Location: "s3://masks/seam.png"}, nil, 0, true},
		{"missing file", Source{Location: filepath.Join(dir, "nope.png")}, nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := NewProvider(tt.src, tt.objects).Mask(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Mask() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && buf.Width != tt.wantW {
				t.Errorf("Mask() width = %d, want %d", buf.Width, tt.wantW)
			}
		})
	}
}

func TestFit(t *testing.T) {
	m, _ := Seam(100, 50, 10)
	same, err := Fit(m, 100, 50)
	if err != nil || same != m {
		t.Errorf("Fit() with matching size should return the same buffer")
	}

	before := m.Bytes()
	scaled, err := Fit(m, 200, 100)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if scaled.Width != 200 || scaled.Height != 100 {
		t.Errorf("Fit() dims = %dx%d, want 200x100", scaled.Width, scaled.Height)
	}
	if string(m.Bytes()) != string(before) {
		t.Error("Fit() mutated the shared mask")
	}
	img, _ := scaled.Image()
	if c := color.GrayModel.Convert(img.At(100, 50)).(color.Gray); c.Y != 255 {
		t.Errorf("scaled centre = %d, want white", c.Y)
	}
}
