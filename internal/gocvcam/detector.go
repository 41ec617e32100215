//go:build gocv

package gocvcam

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/wigglebot/internal/markers"
)

// Detector finds 4×4 ArUco markers (dictionary of 100) in grayscale images.
type Detector struct {
	mu  sync.Mutex
	det gocv.ArucoDetector
}

// NewDetector builds a detector with OpenCV's default parameters.
func NewDetector() (*Detector, error) {
	dict := gocv.GetPredefinedDictionary(gocv.ArucoDict4x4_100)
	params := gocv.NewArucoDetectorParameters()
	return &Detector{det: gocv.NewArucoDetectorWithParams(dict, params)}, nil
}

// Detect implements pipeline.Detector.
func (d *Detector) Detect(ctx context.Context, img *image.Gray) ([]markers.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return nil, fmt.Errorf("aruco: %w", err)
	}
	defer mat.Close()

	d.mu.Lock()
	corners, ids, _ := d.det.DetectMarkers(mat)
	d.mu.Unlock()

	out := make([]markers.Detection, 0, len(ids))
	for i, id := range ids {
		if len(corners[i]) != 4 {
			continue
		}
		var q markers.Quad
		for j, p := range corners[i] {
			q[j] = markers.Point{X: float64(p.X), Y: float64(p.Y)}
		}
		out = append(out, markers.Detection{ID: id, Corners: q})
	}
	tracef("aruco: %d markers in %v", len(out), img.Rect.Size())
	return out, nil
}

// Close releases the OpenCV detector.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.det.Close()
}
