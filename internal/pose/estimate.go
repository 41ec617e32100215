package pose

import (
	"fmt"
	"math"

	"github.com/banshee-data/wigglebot/internal/markers"
)

// Estimate is the fitted similarity transform from layout (world) space to
// image pixels. A = s·cosθ and B = s·sinθ jointly carry rotation and
// scale. Residual is the sum of squared reprojection errors in pixels².
type Estimate struct {
	X, Y     float64
	A, B     float64
	Residual float64

	// Markers is the number of known markers that contributed to the fit.
	Markers int
}

// Position returns the translation component, i.e. where the layout
// origin lands in the image.
func (e Estimate) Position() markers.Point {
	return markers.Point{X: e.X, Y: e.Y}
}

// Angle returns the rotation θ in radians, in (-π, π].
func (e Estimate) Angle() float64 {
	return math.Atan2(e.B, e.A)
}

// Scale returns the uniform scale s (pixels per world unit).
func (e Estimate) Scale() float64 {
	return math.Hypot(e.A, e.B)
}

// Apply maps a layout point into image space.
func (e Estimate) Apply(p markers.Point) markers.Point {
	return markers.Point{
		X: e.A*p.X - e.B*p.Y + e.X,
		Y: e.B*p.X + e.A*p.Y + e.Y,
	}
}

// RMS is the root-mean-square per-corner reprojection error in pixels.
func (e Estimate) RMS() float64 {
	n := e.Markers * 4
	if n == 0 {
		return 0
	}
	return math.Sqrt(e.Residual / float64(n))
}

func (e Estimate) String() string {
	return fmt.Sprintf("pose(x=%.1f y=%.1f θ=%.1f° s=%.3f res=%.2f n=%d)",
		e.X, e.Y, e.Angle()*180/math.Pi, e.Scale(), e.Residual, e.Markers)
}

// FromAngleScale builds an estimate from an explicit angle and scale.
func FromAngleScale(x, y, angleRad, scale float64) Estimate {
	sin, cos := math.Sincos(angleRad)
	return Estimate{X: x, Y: y, A: scale * cos, B: scale * sin}
}
