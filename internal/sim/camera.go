package sim

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/wigglebot/internal/pipeline"
	"github.com/banshee-data/wigglebot/internal/timeutil"
)

// ErrCameraLost is returned by Camera.Run when FailAfter frames have been
// delivered.
var ErrCameraLost = errors.New("sim: camera lost")

// Camera is a pipeline.Source that captures the scene at a fixed rate.
type Camera struct {
	Scene *Scene
	FPS   int
	Clock timeutil.Clock

	// MaxFrames ends the stream cleanly after that many frames; 0 means
	// run until cancelled.
	MaxFrames int
	// FailAfter fails capture with ErrCameraLost after that many frames.
	FailAfter int
}

// Run implements pipeline.Source.
func (c *Camera) Run(ctx context.Context, handle func(pipeline.Frame)) error {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	fps := c.FPS
	if fps <= 0 {
		fps = 25
	}

	ticker := clock.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	start := clock.Now()

	for seq := uint64(1); ; seq++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			if c.FailAfter > 0 && seq > uint64(c.FailAfter) {
				return ErrCameraLost
			}
			if c.MaxFrames > 0 && seq > uint64(c.MaxFrames) {
				return nil
			}
			gray, _ := c.Scene.Capture(now.Sub(start))
			handle(pipeline.Frame{Seq: seq, Time: now, Gray: gray})
		}
	}
}
