// Package stream renders annotated debug frames and ships them to a
// viewer: a subprocess reading raw I420 on stdin, or an in-memory snapshot
// served over the debug HTTP server.
package stream

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"git.sr.ht/~sbinet/gg"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"

	"github.com/banshee-data/wigglebot/internal/markers"
	"github.com/banshee-data/wigglebot/internal/pipeline"
)

var (
	colourDetection = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	colourROI       = color.RGBA{R: 255, G: 200, B: 0, A: 255}
	colourPose      = color.RGBA{R: 60, G: 140, B: 255, A: 255}
	colourHUD       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colourDot       = color.RGBA{R: 255, G: 40, B: 40, A: 255}
	colourArrow     = color.RGBA{R: 0, G: 220, B: 220, A: 255}
)

// Renderer draws the pipeline's view of a frame on top of the frame.
type Renderer struct {
	// Layout, when set, is projected through the pose so a good fit shows
	// as outlines landing on the detected markers.
	Layout *markers.Layout
	// Scale resizes the output; values <= 0 mean 1.
	Scale float64
}

// Render returns a new RGBA image; the frame itself is not modified.
func (r Renderer) Render(df pipeline.DebugFrame) *image.RGBA {
	canvas := baseImage(df.Frame)
	dc := gg.NewContextForRGBA(canvas)
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetLineWidth(1)

	for _, d := range df.Detections {
		setColour(dc, colourDetection)
		drawQuad(dc, d.Corners)
		c := d.Corners.Centroid()
		dc.DrawStringAnchored(fmt.Sprint(d.ID), c.X, c.Y, 0.5, 0.5)
	}

	if !df.ROI.Empty() {
		setColour(dc, colourROI)
		dc.DrawRectangle(float64(df.ROI.Min.X), float64(df.ROI.Min.Y), float64(df.ROI.Dx()), float64(df.ROI.Dy()))
		dc.Stroke()
	}

	if df.HasPose {
		setColour(dc, colourPose)
		if r.Layout != nil {
			for _, id := range r.Layout.IDs() {
				ref, _ := r.Layout.Corners(id)
				var q markers.Quad
				for i, p := range ref {
					q[i] = df.Pose.Apply(p)
				}
				drawQuad(dc, q)
			}
		}
		origin := df.Pose.Position()
		heading := df.Pose.Apply(markers.Point{X: 20, Y: 0})
		drawArrow(dc, origin, heading)
	}

	for _, item := range df.Overlay {
		switch it := item.(type) {
		case pipeline.Text:
			setColour(dc, colourHUD)
			dc.DrawStringAnchored(it.Text, it.At.X, it.At.Y, 0, 1)
		case pipeline.Dot:
			setColour(dc, colourDot)
			dc.DrawCircle(it.At.X, it.At.Y, 3)
			dc.Fill()
		case pipeline.Arrow:
			setColour(dc, colourArrow)
			drawArrow(dc, it.From, it.To)
		}
	}

	setColour(dc, colourHUD)
	for i, line := range HUDLines(df) {
		dc.DrawStringAnchored(line, 4, 4+float64(i)*14, 0, 1)
	}

	return scale(canvas, r.Scale)
}

// HUDLines is the status text drawn in the top-left corner.
func HUDLines(df pipeline.DebugFrame) []string {
	lines := []string{fmt.Sprintf("%.1f ms", float64(df.Elapsed.Microseconds())/1000)}
	if df.HasPose {
		p := df.Pose.Position()
		lines = append(lines,
			fmt.Sprintf("x=%d,y=%d", int(math.Round(p.X)), int(math.Round(p.Y))),
			fmt.Sprintf("%s %d markers", df.Quality, df.Pose.Markers),
		)
	}
	return lines
}

func baseImage(f pipeline.Frame) *image.RGBA {
	var src image.Image = f.Image
	if src == nil {
		src = f.Gray
	}
	if src == nil {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	return dst
}

func scale(img *image.RGBA, factor float64) *image.RGBA {
	if factor <= 0 || factor == 1 {
		return img
	}
	w := max(1, int(math.Round(float64(img.Rect.Dx())*factor)))
	h := max(1, int(math.Round(float64(img.Rect.Dy())*factor)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, img, img.Rect, draw.Src, nil)
	return dst
}

func setColour(dc *gg.Context, c color.RGBA) {
	dc.SetRGBA255(int(c.R), int(c.G), int(c.B), int(c.A))
}

func drawQuad(dc *gg.Context, q markers.Quad) {
	dc.MoveTo(q[0].X, q[0].Y)
	for _, p := range q[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.ClosePath()
	dc.Stroke()
}

func drawArrow(dc *gg.Context, from, to markers.Point) {
	dc.DrawLine(from.X, from.Y, to.X, to.Y)
	dc.Stroke()

	angle := math.Atan2(to.Y-from.Y, to.X-from.X)
	const head = 6.0
	for _, side := range []float64{-1, 1} {
		a := angle + math.Pi - side*math.Pi/6
		dc.DrawLine(to.X, to.Y, to.X+head*math.Cos(a), to.Y+head*math.Sin(a))
	}
	dc.Stroke()
}
