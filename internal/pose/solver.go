package pose

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/wigglebot/internal/markers"
)

var (
	// ErrInsufficientData is returned when no detection matches a layout
	// marker. It is expected on most frames without the robot in view.
	ErrInsufficientData = errors.New("pose: no known markers in detections")

	// ErrSingular is returned when the least-squares system is too
	// ill-conditioned to solve. The system matrix is built from the layout's
	// reference corners only, so this points at a degenerate layout (markers
	// vanishingly small in world units), never at the observations.
	ErrSingular = errors.New("pose: degenerate correspondences")

	// ErrNonFinite is returned when an observed corner of a known marker is
	// NaN or infinite.
	ErrNonFinite = errors.New("pose: non-finite corner in detections")
)

// Solve fits the similarity transform that best maps the layout corners of
// every known detected marker onto the observed corners. Detections of
// unknown IDs are dropped silently. Solve has no side effects.
func Solve(detections []markers.Detection, layout *markers.Layout) (Estimate, error) {
	if layout == nil {
		return Estimate{}, ErrInsufficientData
	}

	known := make([]markers.Detection, 0, len(detections))
	for _, d := range detections {
		if !layout.Has(d.ID) {
			continue
		}
		for _, c := range d.Corners {
			if !finite(c.X) || !finite(c.Y) {
				return Estimate{}, fmt.Errorf("%w: marker %d", ErrNonFinite, d.ID)
			}
		}
		known = append(known, d)
	}
	if len(known) == 0 {
		return Estimate{}, ErrInsufficientData
	}

	// Two rows per corner:
	//   [1 0 px -py]·θ = u
	//   [0 1 py  px]·θ = v
	rows := 8 * len(known)
	a := mat.NewDense(rows, 4, nil)
	b := mat.NewVecDense(rows, nil)
	r := 0
	for _, d := range known {
		ref, _ := layout.Corners(d.ID)
		for i := range ref {
			p, q := ref[i], d.Corners[i]
			a.SetRow(r, []float64{1, 0, p.X, -p.Y})
			b.SetVec(r, q.X)
			a.SetRow(r+1, []float64{0, 1, p.Y, p.X})
			b.SetVec(r+1, q.Y)
			r += 2
		}
	}

	var theta mat.VecDense
	if err := theta.SolveVec(a, b); err != nil {
		// mat.Condition: the QR factorisation is too ill-conditioned.
		return Estimate{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	var resid mat.VecDense
	resid.MulVec(a, &theta)
	resid.SubVec(&resid, b)

	return Estimate{
		X:        theta.AtVec(0),
		Y:        theta.AtVec(1),
		A:        theta.AtVec(2),
		B:        theta.AtVec(3),
		Residual: mat.Dot(&resid, &resid),
		Markers:  len(known),
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
