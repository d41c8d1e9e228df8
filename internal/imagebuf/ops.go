package imagebuf

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/fpang/vr-panorama/internal/pipeerr"
)

// Placement positions a source image on a composite canvas.
type Placement struct {
	Src image.Image
	At  image.Point
}

// ExtractRegion copies r out of img into an independent image whose bounds
// start at the origin. r is relative to img's bounds.
func ExtractRegion(img image.Image, r image.Rectangle) (*image.NRGBA, error) {
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return nil, pipeerr.Validation("region %v has zero area", r)
	}
	b := img.Bounds()
	abs := r.Add(b.Min)
	if !abs.In(b) {
		return nil, pipeerr.Validation("region %v outside image bounds %v", r, b)
	}
	out := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	drawSrc(out, out.Bounds(), img, abs.Min)
	return out, nil
}

// Composite draws each placement onto a new width×height canvas, in order.
// Uncovered pixels stay transparent black.
func Composite(width, height int, parts ...Placement) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, pipeerr.Validation("canvas %dx%d has zero area", width, height)
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	for _, p := range parts {
		sb := p.Src.Bounds()
		dst := image.Rectangle{Min: p.At, Max: p.At.Add(sb.Size())}
		drawSrc(canvas, dst, p.Src, sb.Min)
	}
	return canvas, nil
}

// drawSrc copies src onto dst. NRGBA sources are copied row by row so
// translucent pixels survive without a premultiply round trip.
func drawSrc(dst *image.NRGBA, r image.Rectangle, src image.Image, sp image.Point) {
	clipped := r.Intersect(dst.Bounds())
	if clipped.Empty() {
		return
	}
	sp = sp.Add(clipped.Min.Sub(r.Min))
	s, ok := src.(*image.NRGBA)
	if !ok {
		draw.Draw(dst, clipped, src, sp, draw.Src)
		return
	}
	sr := image.Rectangle{Min: sp, Max: sp.Add(clipped.Size())}.Intersect(s.Bounds())
	rowBytes := sr.Dx() * 4
	for y := 0; y < sr.Dy(); y++ {
		di := dst.PixOffset(clipped.Min.X, clipped.Min.Y+y)
		si := s.PixOffset(sr.Min.X, sr.Min.Y+y)
		copy(dst.Pix[di:di+rowBytes], s.Pix[si:si+rowBytes])
	}
}

// Resize scales img to width×height with nearest-neighbour sampling, which
// keeps binary masks binary.
func Resize(img image.Image, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, pipeerr.Validation("resize target %dx%d has zero area", width, height)
	}
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out, nil
}

// Fill paints r on img with c.
func Fill(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}
