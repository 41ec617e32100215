package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/banshee-data/wigglebot/internal/markers"
	"github.com/banshee-data/wigglebot/internal/pose"
)

var (
	// ErrEndOfStream is returned by Next once the pipeline has stopped. If
	// capture failed the error also wraps ErrCaptureFailure.
	ErrEndOfStream = errors.New("pipeline: end of stream")

	// ErrCaptureFailure marks a source that stopped on its own because the
	// camera failed, rather than because the pipeline was terminated.
	ErrCaptureFailure = errors.New("pipeline: capture failure")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("pipeline: already started")
)

// Frame is one captured image. Image is the colour frame as delivered by
// the camera; Gray, when the source can supply it directly, saves a
// conversion. At least one must be set.
type Frame struct {
	Seq   uint64
	Time  time.Time
	Image image.Image
	Gray  *image.Gray
}

// Source delivers frames. Run calls handle once per frame, in order, from a
// single goroutine, until ctx is cancelled (return ctx.Err() or nil) or the
// camera fails (return the failure). A nil return with ctx still live means
// the source ran out of frames.
type Source interface {
	Run(ctx context.Context, handle func(Frame)) error
}

// Detector finds markers in a grayscale image. Corners are reported in the
// coordinates of the image it was given, whose bounds start at (0,0).
type Detector interface {
	Detect(ctx context.Context, img *image.Gray) ([]markers.Detection, error)
}

// DebugFrame is everything the pipeline knows about one frame, handed to a
// DebugSink when the debug level asks for rendering.
type DebugFrame struct {
	Frame      Frame
	Detections []markers.Detection

	// ROI is the region searched first, empty when there was no prior pose.
	ROI image.Rectangle
	// FastPath is true when the ROI search produced the detections.
	FastPath bool

	Pose    pose.Estimate
	HasPose bool
	Quality pose.Quality

	// Overlay is a snapshot of the items set by UpdateOverlay. Sinks must
	// not modify it.
	Overlay []OverlayItem

	Elapsed time.Duration
}

// DebugSink receives annotated frames. A sink may draw on Frame.Image in
// place; the frame is not used again after WriteFrame returns.
type DebugSink interface {
	WriteFrame(ctx context.Context, f DebugFrame) error
}

// StatusIndicator reflects whether capture is running, e.g. on an LED.
type StatusIndicator interface {
	SetCapturing(on bool) error
}

// SinkWriteError wraps a failure reported by the debug sink. It is logged
// and counted; it never stops capture.
type SinkWriteError struct {
	Seq uint64
	Err error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("debug sink: frame %d: %v", e.Seq, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// OverlayItem is something the consumer wants drawn on debug frames, in
// image pixel coordinates. The set of item kinds is closed.
type OverlayItem interface {
	overlayItem()
}

// Text is a label anchored at its top-left corner.
type Text struct {
	At   markers.Point
	Text string
}

// Dot marks a single point.
type Dot struct {
	At markers.Point
}

// Arrow is a line from From with a head at To.
type Arrow struct {
	From, To markers.Point
}

func (Text) overlayItem()  {}
func (Dot) overlayItem()   {}
func (Arrow) overlayItem() {}
