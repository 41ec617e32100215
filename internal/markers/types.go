package markers

import "fmt"

// Point is a 2D coordinate. Depending on context it is in world units
// (layout corners) or image pixels (detections).
type Point struct {
	X, Y float64
}

// Add returns p translated by q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns p - q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Quad is the four corners of one marker, in detector order.
type Quad [4]Point

// Offset returns the quad translated by d. The pipeline uses it to move
// region-local detector output back into full-frame coordinates.
func (q Quad) Offset(d Point) Quad {
	var out Quad
	for i, c := range q {
		out[i] = c.Add(d)
	}
	return out
}

// Centroid returns the mean of the four corners.
func (q Quad) Centroid() Point {
	var sx, sy float64
	for _, c := range q {
		sx += c.X
		sy += c.Y
	}
	return Point{X: sx / 4, Y: sy / 4}
}

// Detection is one marker seen in one frame: its decoded ID and the four
// observed corners in image pixels. Detections are never persisted.
type Detection struct {
	ID      int
	Corners Quad
}

func (d Detection) String() string {
	c := d.Corners.Centroid()
	return fmt.Sprintf("marker %d @ (%.1f,%.1f)", d.ID, c.X, c.Y)
}

// OffsetDetections translates every detection by d and returns a new slice.
func OffsetDetections(dets []Detection, d Point) []Detection {
	out := make([]Detection, len(dets))
	for i, det := range dets {
		out[i] = Detection{ID: det.ID, Corners: det.Corners.Offset(d)}
	}
	return out
}
