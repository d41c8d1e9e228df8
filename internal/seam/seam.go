// Package seam moves a panorama's wrap-around seam to the centre of the frame
// so an inpainting pass can blend it.
package seam

import (
	"image"

	"github.com/fpang/vr-panorama/internal/imagebuf"
	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// Split returns the widths of the left and right halves. The right half
// takes the extra column when width is odd.
func Split(width int) (left, right int) {
	left = width / 2
	return left, width - left
}

// Correct swaps the left and right halves of buf. The right half is drawn at
// x=0 and the left half immediately after it, so the output has the input's
// exact dimensions and the original edges meet in the middle.
//
// The result is PNG encoded and deterministic. For even widths Correct is its
// own inverse; for odd widths it rotates columns by width/2.
func Correct(buf *imagebuf.Buffer) (*imagebuf.Buffer, error) {
	if buf == nil {
		return nil, pipeerr.Validation("no image to seam-correct")
	}
	if buf.Width <= 1 || buf.Height <= 0 {
		return nil, pipeerr.Validation("image %dx%d too small to split", buf.Width, buf.Height)
	}

	img, err := buf.Image()
	if err != nil {
		return nil, &pipeerr.Error{Kind: pipeerr.KindSchema, Message: "decode panorama", Err: err}
	}
	b := img.Bounds()
	if b.Dx() != buf.Width || b.Dy() != buf.Height {
		return nil, pipeerr.Schema("decoded size %v disagrees with header %dx%d", b.Size(), buf.Width, buf.Height)
	}

	w, h := buf.Width, buf.Height
	half, rightWidth := Split(w)

	left, err := imagebuf.ExtractRegion(img, image.Rect(0, 0, half, h))
	if err != nil {
		return nil, err
	}
	right, err := imagebuf.ExtractRegion(img, image.Rect(half, 0, w, h))
	if err != nil {
		return nil, err
	}

	canvas, err := imagebuf.Composite(w, h,
		imagebuf.Placement{Src: right, At: image.Pt(0, 0)},
		imagebuf.Placement{Src: left, At: image.Pt(rightWidth, 0)},
	)
	if err != nil {
		return nil, err
	}
	return imagebuf.FromImage(canvas)
}
