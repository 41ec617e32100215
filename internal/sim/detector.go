package sim

import (
	"context"
	"image"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/banshee-data/wigglebot/internal/markers"
)

// Detector reports the scene's markers that lie wholly inside the image it
// is given. Images cropped from the scene's current frame are located by
// their offset into the frame's pixel buffer, so region-local coordinates
// come out exactly as a real detector's would.
type Detector struct {
	Scene *Scene

	// NoisePx is the standard deviation of Gaussian corner noise.
	NoisePx float64
	// DropRate is the probability that a marker is missed.
	DropRate float64
	// Hidden markers are never reported.
	Hidden []int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDetector returns a detector with a fixed random seed.
func NewDetector(scene *Scene, seed uint64) *Detector {
	return &Detector{Scene: scene, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Detect implements pipeline.Detector.
func (d *Detector) Detect(ctx context.Context, img *image.Gray) ([]markers.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame, truth, ok := d.Scene.current()
	if !ok {
		return nil, nil
	}

	origin, ok := regionOrigin(frame, img)
	if !ok {
		// Not a view of the current frame; treat it as the whole frame.
		origin = image.Point{}
	}
	region := image.Rectangle{Min: origin, Max: origin.Add(img.Rect.Size())}
	shift := markers.Point{X: -float64(origin.X), Y: -float64(origin.Y)}

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []markers.Detection
	for _, det := range d.Scene.Project(truth) {
		if slices.Contains(d.Hidden, det.ID) || !inside(det.Corners, region) {
			continue
		}
		if d.DropRate > 0 && d.float() < d.DropRate {
			continue
		}
		if d.NoisePx > 0 {
			for i := range det.Corners {
				det.Corners[i].X += d.norm() * d.NoisePx
				det.Corners[i].Y += d.norm() * d.NoisePx
			}
		}
		out = append(out, markers.Detection{ID: det.ID, Corners: det.Corners.Offset(shift)})
	}
	return out, nil
}

func (d *Detector) float() float64 {
	if d.rng == nil {
		d.rng = rand.New(rand.NewPCG(1, 2))
	}
	return d.rng.Float64()
}

func (d *Detector) norm() float64 {
	if d.rng == nil {
		d.rng = rand.New(rand.NewPCG(1, 2))
	}
	return d.rng.NormFloat64()
}

// regionOrigin finds where img sits inside frame when img is a crop that
// shares frame's pixels. A crop's Pix starts some offset into the frame's
// buffer, and the difference in capacities is that offset.
func regionOrigin(frame, img *image.Gray) (image.Point, bool) {
	if frame == nil || img == nil || len(frame.Pix) == 0 || len(img.Pix) == 0 {
		return image.Point{}, false
	}
	if img.Stride != frame.Stride {
		return image.Point{}, false
	}
	off := cap(frame.Pix) - cap(img.Pix)
	if off < 0 || off >= len(frame.Pix) || &frame.Pix[off] != &img.Pix[0] {
		return image.Point{}, false
	}
	return image.Pt(off%frame.Stride, off/frame.Stride), true
}

func inside(q markers.Quad, r image.Rectangle) bool {
	for _, p := range q {
		if p.X < float64(r.Min.X) || p.Y < float64(r.Min.Y) || p.X >= float64(r.Max.X) || p.Y >= float64(r.Max.Y) {
			return false
		}
	}
	return true
}
