// Package sim stands in for the camera and marker detector during bench
// work and tests. A Scene moves the robot's marker layout along a
// trajectory; Camera renders it into grayscale frames and Detector reports
// the markers a perfect (optionally noisy) detector would see.
package sim

import (
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"git.sr.ht/~sbinet/gg"
	"golang.org/x/image/draw"

	"github.com/banshee-data/wigglebot/internal/markers"
	"github.com/banshee-data/wigglebot/internal/pose"
)

// Trajectory gives the true pose at time t since capture started.
type Trajectory func(t time.Duration) pose.Estimate

// Circle moves the layout origin round a circle, turning to face along it.
func Circle(centre markers.Point, radius float64, period time.Duration, scale float64) Trajectory {
	return func(t time.Duration) pose.Estimate {
		phase := 2 * math.Pi * t.Seconds() / period.Seconds()
		return pose.FromAngleScale(
			centre.X+radius*math.Cos(phase),
			centre.Y+radius*math.Sin(phase),
			phase+math.Pi/2,
			scale,
		)
	}
}

// Still holds one pose forever.
func Still(e pose.Estimate) Trajectory {
	return func(time.Duration) pose.Estimate { return e }
}

// Scene is the shared world state between Camera and Detector.
type Scene struct {
	Layout     *markers.Layout
	Trajectory Trajectory
	Width      int
	Height     int

	mu    sync.Mutex
	frame *image.Gray
	truth pose.Estimate
	shot  bool
}

// NewScene builds a scene of w×h pixels.
func NewScene(layout *markers.Layout, w, h int, traj Trajectory) *Scene {
	return &Scene{Layout: layout, Trajectory: traj, Width: w, Height: h}
}

// Project returns the detections a perfect detector would report for e,
// in full-frame coordinates, in layout ID order.
func (s *Scene) Project(e pose.Estimate) []markers.Detection {
	ids := s.Layout.IDs()
	out := make([]markers.Detection, 0, len(ids))
	for _, id := range ids {
		ref, _ := s.Layout.Corners(id)
		var q markers.Quad
		for i, p := range ref {
			q[i] = e.Apply(p)
		}
		out = append(out, markers.Detection{ID: id, Corners: q})
	}
	return out
}

// Capture renders the scene at t and makes it the current frame.
func (s *Scene) Capture(t time.Duration) (*image.Gray, pose.Estimate) {
	truth := s.Trajectory(t)
	frame := s.render(truth)

	s.mu.Lock()
	s.frame, s.truth, s.shot = frame, truth, true
	s.mu.Unlock()
	return frame, truth
}

// Truth returns the pose behind the current frame.
func (s *Scene) Truth() (pose.Estimate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truth, s.shot
}

func (s *Scene) current() (*image.Gray, pose.Estimate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.truth, s.shot
}

// render draws each marker as a filled white quad on a dark background
// with a dark notch at its first corner, so orientation is visible.
func (s *Scene) render(truth pose.Estimate) *image.Gray {
	dc := gg.NewContext(s.Width, s.Height)
	dc.SetColor(color.Gray{Y: 30})
	dc.Clear()

	for _, d := range s.Project(truth) {
		q := d.Corners
		dc.SetColor(color.White)
		dc.MoveTo(q[0].X, q[0].Y)
		for _, p := range q[1:] {
			dc.LineTo(p.X, p.Y)
		}
		dc.ClosePath()
		dc.Fill()

		c := q.Centroid()
		notch := markers.Point{X: q[0].X + (c.X-q[0].X)*0.3, Y: q[0].Y + (c.Y-q[0].Y)*0.3}
		dc.SetColor(color.Black)
		dc.DrawCircle(notch.X, notch.Y, math.Max(1, truth.Scale()))
		dc.Fill()
	}

	src := dc.Image()
	g := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	draw.Draw(g, g.Rect, src, src.Bounds().Min, draw.Src)
	return g
}
