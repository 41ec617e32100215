package markers

import (
	"fmt"
	"math"
	"sort"
)

// Geometry of the marker ring fitted to the robot.
const (
	DefaultMarkerSize     = 15.0
	DefaultMarkerDistance = 30.0
)

// DefaultMarkerIDs are the markers on the robot, in ring order starting at
// angle zero. Each subsequent marker is rotated by 360°/len.
var DefaultMarkerIDs = []int{42, 11, 34}

// ConfigError reports an invalid marker layout. It is fatal at startup.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid marker layout: " + e.Reason
}

// Placement positions one square marker relative to the common centre:
// the marker centre sits Distance along the x axis after rotating by
// AngleRad, and the marker itself is rotated by the same angle.
type Placement struct {
	ID       int
	Distance float64
	AngleRad float64
}

// Layout maps marker IDs to their reference corners in a shared world
// frame. A Layout is immutable once built; pass it by pointer.
type Layout struct {
	size    float64
	corners map[int]Quad
	ids     []int
}

// canonicalCorners returns the corners of an axis-aligned square of side
// size centred on the origin, in the detector's corner order.
func canonicalCorners(size float64) Quad {
	h := size / 2
	return Quad{
		{X: h, Y: h},
		{X: h, Y: -h},
		{X: -h, Y: -h},
		{X: -h, Y: h},
	}
}

// NewLayout builds the reference corner set for each placement. An empty
// placement list, a duplicate ID or a non-positive size is a ConfigError.
func NewLayout(size float64, placements []Placement) (*Layout, error) {
	if len(placements) == 0 {
		return nil, &ConfigError{Reason: "no markers"}
	}
	if !(size > 0) || math.IsInf(size, 0) {
		return nil, &ConfigError{Reason: fmt.Sprintf("marker size must be positive, got %v", size)}
	}

	base := canonicalCorners(size)
	l := &Layout{
		size:    size,
		corners: make(map[int]Quad, len(placements)),
		ids:     make([]int, 0, len(placements)),
	}
	for _, p := range placements {
		if _, dup := l.corners[p.ID]; dup {
			return nil, &ConfigError{Reason: fmt.Sprintf("duplicate marker id %d", p.ID)}
		}
		sin, cos := math.Sincos(p.AngleRad)
		var q Quad
		for i, c := range base {
			// rotate(translate(c, distance, 0), angle)
			x := c.X + p.Distance
			y := c.Y
			q[i] = Point{X: cos*x - sin*y, Y: sin*x + cos*y}
		}
		l.corners[p.ID] = q
		l.ids = append(l.ids, p.ID)
	}
	sort.Ints(l.ids)
	return l, nil
}

// RingPlacements spaces ids evenly around a circle of the given radius,
// the first one at angle zero.
func RingPlacements(distance float64, ids []int) []Placement {
	out := make([]Placement, len(ids))
	if len(ids) == 0 {
		return out
	}
	step := 2 * math.Pi / float64(len(ids))
	for i, id := range ids {
		out[i] = Placement{ID: id, Distance: distance, AngleRad: step * float64(i)}
	}
	return out
}

// DefaultLayout returns the layout of the three-marker ring on the robot.
func DefaultLayout() *Layout {
	l, err := NewLayout(DefaultMarkerSize, RingPlacements(DefaultMarkerDistance, DefaultMarkerIDs))
	if err != nil {
		panic(err) // constants above are valid
	}
	return l
}

// Corners returns the reference corners of id and whether id is known.
func (l *Layout) Corners(id int) (Quad, bool) {
	q, ok := l.corners[id]
	return q, ok
}

// Has reports whether id is part of the layout.
func (l *Layout) Has(id int) bool {
	_, ok := l.corners[id]
	return ok
}

// IDs returns the known marker IDs in ascending order.
func (l *Layout) IDs() []int {
	out := make([]int, len(l.ids))
	copy(out, l.ids)
	return out
}

// Size is the marker side length in world units.
func (l *Layout) Size() float64 { return l.size }

// Len is the number of markers in the layout.
func (l *Layout) Len() int { return len(l.ids) }
