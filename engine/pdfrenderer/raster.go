package pdfrenderer

import (
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

// targetRect is where a page of size (w, h) points lands in the raster under m
func targetRect(w, h float64, m Matrix) image.Rectangle {
	x0 := int(math.Round(m.TX))
	y0 := int(math.Round(m.TY))
	tw := int(math.Round(w * m.SX))
	th := int(math.Round(h * m.SY))
	return image.Rect(x0, y0, x0+tw, y0+th)
}

// drawRect is the part of the target that may be written: target, dst and clip intersected
func drawRect(dst *image.RGBA, clip *image.Rectangle, target image.Rectangle) image.Rectangle {
	r := target.Intersect(dst.Bounds())
	if clip != nil {
		r = r.Intersect(*clip)
	}
	return r
}

// compose resamples a backend image onto the exact target box and copies the
// visible part into dst. Scaling is non-uniform when the target aspect ratio
// differs from the page.
func compose(dst *image.RGBA, clip *image.Rectangle, target image.Rectangle, src image.Image) {
	r := drawRect(dst, clip, target)
	if r.Empty() {
		return
	}
	var scaled image.Image = src
	if src.Bounds().Dx() != target.Dx() || src.Bounds().Dy() != target.Dy() {
		scaled = imaging.Resize(src, target.Dx(), target.Dy(), imaging.Lanczos)
	}
	sp := scaled.Bounds().Min.Add(r.Min.Sub(target.Min))
	draw.Draw(dst, r, scaled, sp, draw.Src)
}

// nativeDPI is the resolution a backend should rasterize at so that
// downsampling onto the target never loses detail
func nativeDPI(m Matrix) float64 {
	return 72 * math.Max(math.Abs(m.SX), math.Abs(m.SY))
}
