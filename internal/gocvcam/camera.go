//go:build gocv

package gocvcam

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/wigglebot/internal/pipeline"
)

// Available reports whether OpenCV support was compiled in.
func Available() bool { return true }

// Open returns a camera source and an ArUco detector for it.
func Open(opts Options) (pipeline.Source, pipeline.Detector, error) {
	det, err := NewDetector()
	if err != nil {
		return nil, nil, err
	}
	return &Camera{Options: opts}, det, nil
}

// Camera reads BGR frames from a capture device.
type Camera struct {
	Options
}

// Run implements pipeline.Source. The device is opened on entry and closed
// when Run returns; a failed read while ctx is live is a capture failure.
func (c *Camera) Run(ctx context.Context, handle func(pipeline.Frame)) error {
	vc, err := gocv.OpenVideoCapture(c.Device)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.Device, err)
	}
	defer vc.Close()

	if c.Width > 0 && c.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	if c.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(c.FPS))
	}
	opsf("camera %d open at %.0fx%.0f %.0f fps", c.Device,
		vc.Get(gocv.VideoCaptureFrameWidth), vc.Get(gocv.VideoCaptureFrameHeight), vc.Get(gocv.VideoCaptureFPS))

	bgr := gocv.NewMat()
	defer bgr.Close()
	gray := gocv.NewMat()
	defer gray.Close()

	for seq := uint64(1); ; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok := vc.Read(&bgr); !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("camera %d: read failed after %d frames", c.Device, seq-1)
		}
		if bgr.Empty() {
			seq--
			continue
		}
		now := time.Now()

		gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
		g, err := gray.ToImage()
		if err != nil {
			return fmt.Errorf("convert frame %d: %w", seq, err)
		}
		gi, ok := g.(*image.Gray)
		if !ok {
			return errors.New("camera: grayscale conversion produced unexpected image type")
		}
		colour, err := bgr.ToImage()
		if err != nil {
			return fmt.Errorf("convert frame %d: %w", seq, err)
		}
		handle(pipeline.Frame{Seq: seq, Time: now, Image: colour, Gray: gi})
	}
}
