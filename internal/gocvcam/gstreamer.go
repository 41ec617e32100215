//go:build gocv

package gocvcam

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// rawFourCC is fourcc 0: frames go to the appsrc element unencoded.
const rawFourCC = "\x00\x00\x00\x00"

// GStreamerSink writes rendered debug frames into a GStreamer pipeline
// through OpenCV's VideoWriter.
type GStreamerSink struct {
	mu     sync.Mutex
	writer *gocv.VideoWriter
}

// NewGStreamerSink opens the pipeline formed by joining elements with
// " ! ", e.g. ["appsrc", "videoconvert", "x264enc", "rtph264pay", ...].
// w and h are the rendered (scaled) frame size.
func NewGStreamerSink(elements []string, w, h, fps int) (*GStreamerSink, error) {
	desc := strings.Join(elements, " ! ")
	vw, err := gocv.VideoWriterFileWithAPI(desc, gocv.VideoCaptureGstreamer, rawFourCC, float64(fps), w, h, true)
	if err != nil {
		return nil, fmt.Errorf("open gstreamer pipeline %q: %w", desc, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("open gstreamer pipeline %q: writer not opened", desc)
	}
	diagf("gstreamer pipeline open: %s", desc)
	return &GStreamerSink{writer: vw}, nil
}

// WriteImage implements stream.ImageWriter.
func (s *GStreamerSink) WriteImage(_ context.Context, img *image.RGBA, _ uint64) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return err
	}
	defer mat.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return fmt.Errorf("gstreamer: sink closed")
	}
	return s.writer.Write(mat)
}

// Close flushes and closes the pipeline.
func (s *GStreamerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}
