package pipeline

import (
	"image"
	"image/draw"
	"math"

	"github.com/banshee-data/wigglebot/internal/markers"
)

// roiAround returns a size×size window centred on c, shifted inward so it
// lies entirely within bounds. It shrinks only when bounds is smaller than
// size. ok is false when c is not a finite point.
func roiAround(c markers.Point, size int, bounds image.Rectangle) (image.Rectangle, bool) {
	if size <= 0 || bounds.Empty() {
		return image.Rectangle{}, false
	}
	if math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsInf(c.X, 0) || math.IsInf(c.Y, 0) {
		return image.Rectangle{}, false
	}
	w := min(size, bounds.Dx())
	h := min(size, bounds.Dy())

	x0 := clampInt(int(math.Round(c.X))-w/2, bounds.Min.X, bounds.Max.X-w)
	y0 := clampInt(int(math.Round(c.Y))-h/2, bounds.Min.Y, bounds.Max.Y-h)
	return image.Rect(x0, y0, x0+w, y0+h), true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// crop returns r of img as a separate image whose bounds start at (0,0).
// It shares pixels with img.
func crop(img *image.Gray, r image.Rectangle) *image.Gray {
	sub := img.SubImage(r).(*image.Gray)
	return &image.Gray{
		Pix:    sub.Pix,
		Stride: sub.Stride,
		Rect:   image.Rect(0, 0, r.Dx(), r.Dy()),
	}
}

// toGray returns the frame as an origin-anchored grayscale image.
func toGray(f Frame) *image.Gray {
	if f.Gray != nil {
		if f.Gray.Rect.Min == (image.Point{}) {
			return f.Gray
		}
		return crop(f.Gray, f.Gray.Rect)
	}
	if f.Image == nil {
		return nil
	}
	b := f.Image.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Rect, f.Image, b.Min, draw.Src)
	return g
}
