package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/wigglebot/internal/markers"
	"github.com/banshee-data/wigglebot/internal/pose"
	"github.com/banshee-data/wigglebot/internal/timeutil"
)

// DefaultQueueCapacity bounds the pose queue. Two slots keep latency low
// while letting the consumer skip a beat without losing the stream.
const DefaultQueueCapacity = 2

// Debug levels.
const (
	DebugOff    = 0
	DebugLog    = 1 // per-frame trace logging
	DebugRender = 2 // also hand annotated frames to the DebugSink
)

// Config wires a Pipeline. Layout, Detector and Source are required.
type Config struct {
	Layout   *markers.Layout
	Detector Detector
	Source   Source

	// ROISize is the side of the square searched around the last pose.
	// Zero disables the ROI fast path.
	ROISize int

	// QueueCapacity defaults to DefaultQueueCapacity.
	QueueCapacity int

	DebugLevel int
	DebugSink  DebugSink
	Status     StatusIndicator

	// Clock times per-frame work; nil means the real clock.
	Clock timeutil.Clock
}

// result is one queue entry: either a pose or the end-of-stream marker.
type result struct {
	pose pose.Estimate
	end  bool
	err  error
}

// Pipeline runs frame analysis on a background goroutine and hands poses
// to one consumer.
type Pipeline struct {
	cfg   Config
	clock timeutil.Clock
	queue chan result

	overlayMu sync.Mutex
	overlay   []OverlayItem

	lifecycleMu sync.Mutex
	started     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	captureErr  error

	endOnce sync.Once
	endCh   chan struct{}
	endErr  atomic.Pointer[error]

	stats counters
	ins   *instruments

	// Owned by the capture goroutine.
	last    pose.Estimate
	hasPose bool
}

// New validates cfg and returns a stopped pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Layout == nil || cfg.Layout.Len() == 0 {
		return nil, errors.New("pipeline: layout is required")
	}
	if cfg.Detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if cfg.ROISize < 0 {
		return nil, fmt.Errorf("pipeline: roi size must be non-negative, got %d", cfg.ROISize)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	ins, err := newInstruments()
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:   cfg,
		clock: clock,
		queue: make(chan result, cfg.QueueCapacity),
		endCh: make(chan struct{}),
		ins:   ins,
	}, nil
}

// Start launches the capture goroutine. It returns immediately; capture
// stops when ctx is cancelled, Terminate is called or the source fails.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.capture(ctx)
	diagf("capture started (roi=%d, debug=%d)", p.cfg.ROISize, p.cfg.DebugLevel)
	return nil
}

// Terminate stops capture, waits for the capture goroutine to exit and
// wakes any consumer blocked in Next. It is safe to call more than once and
// from any goroutine. The returned error is the capture failure, if any.
func (p *Pipeline) Terminate() error {
	p.lifecycleMu.Lock()
	if !p.started {
		// Never started: there is no goroutine to push the end marker.
		p.started = true
		p.lifecycleMu.Unlock()
		p.pushEnd(nil)
		return nil
	}
	cancel := p.cancel
	p.lifecycleMu.Unlock()

	cancel()
	p.wg.Wait()

	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	return p.captureErr
}

// Next blocks until a pose is available, the stream ends or ctx is done.
// After the end of stream every call returns the same error immediately.
func (p *Pipeline) Next(ctx context.Context) (pose.Estimate, error) {
	select {
	case <-p.endCh:
		return pose.Estimate{}, *p.endErr.Load()
	default:
	}

	select {
	case r := <-p.queue:
		if r.end {
			return pose.Estimate{}, p.finish(r.err)
		}
		return r.pose, nil
	case <-p.endCh:
		return pose.Estimate{}, *p.endErr.Load()
	case <-ctx.Done():
		return pose.Estimate{}, ctx.Err()
	}
}

// finish records the end of stream once and releases other waiters.
func (p *Pipeline) finish(cause error) error {
	p.endOnce.Do(func() {
		err := ErrEndOfStream
		if cause != nil {
			err = fmt.Errorf("%w: %w", ErrEndOfStream, cause)
		}
		p.endErr.Store(&err)
		close(p.endCh)
	})
	return *p.endErr.Load()
}

// Poses iterates over published poses until the stream ends or ctx is done.
// Use Err afterwards to tell a capture failure from a clean stop.
func (p *Pipeline) Poses(ctx context.Context) iter.Seq[pose.Estimate] {
	return func(yield func(pose.Estimate) bool) {
		for {
			e, err := p.Next(ctx)
			if err != nil || !yield(e) {
				return
			}
		}
	}
}

// Err returns the capture failure once the stream has ended, or nil.
func (p *Pipeline) Err() error {
	select {
	case <-p.endCh:
	default:
		return nil
	}
	err := *p.endErr.Load()
	if errors.Is(err, ErrCaptureFailure) {
		return err
	}
	return nil
}

// UpdateOverlay replaces the overlay set with a copy of items. Frames
// rendered afterwards see the new set in full, never a mix.
func (p *Pipeline) UpdateOverlay(items []OverlayItem) {
	cp := slices.Clone(items)
	p.overlayMu.Lock()
	p.overlay = cp
	p.overlayMu.Unlock()
}

func (p *Pipeline) overlaySnapshot() []OverlayItem {
	p.overlayMu.Lock()
	defer p.overlayMu.Unlock()
	return p.overlay
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

func (p *Pipeline) capture(ctx context.Context) {
	defer p.wg.Done()

	p.setStatus(true)
	defer p.setStatus(false)

	err := p.cfg.Source.Run(ctx, func(f Frame) {
		p.analyse(ctx, f)
	})

	var endErr error
	if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
		endErr = fmt.Errorf("%w: %w", ErrCaptureFailure, err)
		opsf("capture stopped: %v", err)
	} else {
		diagf("capture stopped after %d frames", p.stats.frames.Load())
	}

	p.lifecycleMu.Lock()
	p.captureErr = endErr
	p.lifecycleMu.Unlock()

	p.pushEnd(endErr)
}

func (p *Pipeline) setStatus(on bool) {
	if p.cfg.Status == nil {
		return
	}
	if err := p.cfg.Status.SetCapturing(on); err != nil {
		opsf("status indicator: %v", err)
	}
}

// pushEnd enqueues the end marker, evicting queued poses if needed so a
// blocked consumer is always woken.
func (p *Pipeline) pushEnd(err error) {
	r := result{end: true, err: err}
	for {
		select {
		case p.queue <- r:
			return
		default:
		}
		select {
		case <-p.queue:
			p.stats.dropped.Add(1)
		default:
		}
	}
}

// publish enqueues e without blocking. It reports false when the queue
// was full and e was dropped.
func (p *Pipeline) publish(e pose.Estimate) bool {
	select {
	case p.queue <- result{pose: e}:
		p.stats.published.Add(1)
		inc(p.ins.published)
		return true
	default:
		p.stats.dropped.Add(1)
		inc(p.ins.dropped)
		return false
	}
}

// analyse runs the per-frame steps: grayscale, ROI search, full-frame
// fallback, solve, publish and optional debug render.
func (p *Pipeline) analyse(ctx context.Context, f Frame) {
	start := p.clock.Now()
	p.stats.frames.Add(1)
	inc(p.ins.frames)

	gray := toGray(f)
	if gray == nil {
		p.stats.skipped.Add(1)
		opsf("frame %d has no image", f.Seq)
		if p.hasPose {
			p.publish(p.last)
		}
		return
	}

	dets, roi, fast := p.detect(ctx, gray)

	if len(dets) > 0 {
		e, err := pose.Solve(dets, p.cfg.Layout)
		if err != nil {
			p.stats.solverFailures.Add(1)
			inc(p.ins.failures)
			tracef("frame %d: solve: %v", f.Seq, err)
		} else {
			p.last = e
			p.hasPose = true
		}
	}

	if p.hasPose {
		p.publish(p.last)
	}

	elapsed := p.clock.Since(start)
	p.stats.lastElapsed.Store(int64(elapsed))
	p.ins.frameTime.Record(context.Background(), float64(elapsed)/float64(time.Millisecond))

	if p.cfg.DebugLevel >= DebugLog {
		tracef("frame %d: %d markers fast=%t %v in %v", f.Seq, len(dets), fast, p.last, elapsed)
	}
	if p.cfg.DebugLevel >= DebugRender && p.cfg.DebugSink != nil {
		df := DebugFrame{
			Frame:      f,
			Detections: dets,
			ROI:        roi,
			FastPath:   fast,
			Pose:       p.last,
			HasPose:    p.hasPose,
			Quality:    pose.Grade(p.last),
			Overlay:    p.overlaySnapshot(),
			Elapsed:    elapsed,
		}
		if err := p.cfg.DebugSink.WriteFrame(ctx, df); err != nil {
			p.stats.sinkFailures.Add(1)
			opsf("%v", &SinkWriteError{Seq: f.Seq, Err: err})
		}
	}
}

// detect searches the ROI around the last pose first and the whole frame
// if that finds nothing. Detections are in full-frame coordinates.
func (p *Pipeline) detect(ctx context.Context, gray *image.Gray) ([]markers.Detection, image.Rectangle, bool) {
	var roi image.Rectangle
	if p.hasPose && p.cfg.ROISize > 0 {
		if r, ok := roiAround(p.last.Position(), p.cfg.ROISize, gray.Rect); ok && r != gray.Rect {
			roi = r
		}
	}

	if !roi.Empty() {
		dets := p.runDetector(ctx, crop(gray, roi))
		if len(dets) > 0 {
			p.stats.fastPathHits.Add(1)
			return markers.OffsetDetections(dets, markers.Point{X: float64(roi.Min.X), Y: float64(roi.Min.Y)}), roi, true
		}
		p.stats.fallbacks.Add(1)
		inc(p.ins.fallbacks)
	}

	return p.runDetector(ctx, gray), roi, false
}

func (p *Pipeline) runDetector(ctx context.Context, img *image.Gray) []markers.Detection {
	dets, err := p.cfg.Detector.Detect(ctx, img)
	if err != nil {
		p.stats.detectorErrors.Add(1)
		tracef("detector: %v", err)
		return nil
	}
	return dets
}
