package seam

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// columns builds an opaque w×h image whose columns are individually identifiable.
func columns(t *testing.T, w, h int) (*image.NRGBA, *imagebuf.Buffer) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(x >> 8), B: uint8(y % 251), A: 255})
		}
	}
	buf, err := imagebuf.FromImage(img)
	if err != nil {
		t.Fatalf("FromImage() error = %v", err)
	}
	return img, buf
}

func decode(t *testing.T, buf *imagebuf.Buffer) image.Image {
	t.Helper()
	img, err := buf.Image()
	if err != nil {
		t.Fatalf("Image() error = %v", err)
	}
	return img
}

func sameColor(a, b color.Color) bool {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	return ar == br && ag == bg && ab == bb && aa == ba
}

func TestSplit(t *testing.T) {
	tests := []struct {
		width, left, right int
	}{
		{1000, 500, 500},
		{999, 499, 500},
		{2, 1, 1},
		{3, 1, 2},
	}
	for _, tt := range tests {
		l, r := Split(tt.width)
		if l != tt.left || r != tt.right {
			t.Errorf("Split(%d) = (%d, %d), want (%d, %d)", tt.width, l, r, tt.left, tt.right)
		}
		if l+r != tt.width {
			t.Errorf("Split(%d) halves sum to %d", tt.width, l+r)
		}
	}
}

func TestCorrect_LeftHalfIsOriginalRightHalf(t *testing.T) {
	src, buf := columns(t, 1000, 600)

	out, err := Correct(buf)
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if out.Width != 1000 || out.Height != 600 {
		t.Fatalf("Correct() dims = %dx%d, want 1000x600", out.Width, out.Height)
	}

	got := decode(t, out)
	for _, y := range []int{0, 299, 599} {
		for x := 0; x < 500; x++ {
			if !sameColor(got.At(x, y), src.At(x+500, y)) {
				t.Fatalf("output (%d,%d) should equal input (%d,%d)", x, y, x+500, y)
			}
			if !sameColor(got.At(x+500, y), src.At(x, y)) {
				t.Fatalf("output (%d,%d) should equal input (%d,%d)", x+500, y, x, y)
			}
		}
	}
}

func TestCorrect_TwiceIsIdentity(t *testing.T) {
	for _, size := range []image.Point{{1000, 600}, {64, 32}, {2, 1}} {
		_, buf := columns(t, size.X, size.Y)
		once, err := Correct(buf)
		if err != nil {
			t.Fatalf("Correct() error = %v", err)
		}
		twice, err := Correct(once)
		if err != nil {
			t.Fatalf("Correct(Correct()) error = %v", err)
		}
		if !twice.Equal(buf) {
			t.Errorf("%v: Correct(Correct(img)) is not byte-identical to img", size)
		}
	}
}

func TestCorrect_Deterministic(t *testing.T) {
	_, buf := columns(t, 120, 60)
	a, _ := Correct(buf)
	b, _ := Correct(buf)
	if !a.Equal(b) {
		t.Error("Correct() should produce byte-identical output for the same input")
	}
}

func TestCorrect_OddWidth(t *testing.T) {
	src, buf := columns(t, 999, 10)
	out, err := Correct(buf)
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if out.Width != 999 || out.Height != 10 {
		t.Fatalf("Correct() dims = %dx%d, want 999x10", out.Width, out.Height)
	}
	got := decode(t, out)
	// The 500-wide right half comes first, then the 499-wide left half.
	for x := 0; x < 999; x++ {
		want := src.At((x+499)%999, 5)
		if !sameColor(got.At(x, 5), want) {
			t.Fatalf("output column %d should be input column %d", x, (x+499)%999)
		}
	}
}

func TestCorrect_RejectsDegenerateImages(t *testing.T) {
	_, narrow := columns(t, 1, 10)
	tests := []struct {
		name string
		buf  *imagebuf.Buffer
	}{
		{"nil", nil},
		{"width 1", narrow},
		{"height 0", &imagebuf.Buffer{Width: 10, Height: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Correct(tt.buf)
			if pipeerr.KindOf(err) != pipeerr.KindValidation {
				t.Errorf("Correct() kind = %v, want validation (err=%v)", pipeerr.KindOf(err), err)
			}
		})
	}
}

func TestCorrect_DoesNotMutateInput(t *testing.T) {
	_, buf := columns(t, 50, 20)
	before := buf.Bytes()
	if _, err := Correct(buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, buf.Bytes()) {
		t.Error("Correct() mutated its input")
	}
}
