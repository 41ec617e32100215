package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/banshee-data/wigglebot/internal/pipeline"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Stats is a snapshot of the pipeline's counters.
type Stats struct {
	Frames          uint64
	SkippedFrames   uint64
	FastPathHits    uint64
	Fallbacks       uint64
	DetectorErrors  uint64
	SolverFailures  uint64
	PosesPublished  uint64
	PosesDropped    uint64
	SinkFailures    uint64
	LastFrameTimeMS float64
}

type counters struct {
	frames         atomic.Uint64
	skipped        atomic.Uint64
	fastPathHits   atomic.Uint64
	fallbacks      atomic.Uint64
	detectorErrors atomic.Uint64
	solverFailures atomic.Uint64
	published      atomic.Uint64
	dropped        atomic.Uint64
	sinkFailures   atomic.Uint64
	lastElapsed    atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Frames:          c.frames.Load(),
		SkippedFrames:   c.skipped.Load(),
		FastPathHits:    c.fastPathHits.Load(),
		Fallbacks:       c.fallbacks.Load(),
		DetectorErrors:  c.detectorErrors.Load(),
		SolverFailures:  c.solverFailures.Load(),
		PosesPublished:  c.published.Load(),
		PosesDropped:    c.dropped.Load(),
		SinkFailures:    c.sinkFailures.Load(),
		LastFrameTimeMS: float64(c.lastElapsed.Load()) / float64(time.Millisecond),
	}
}

// instruments mirrors the counters into the global OTel meter provider. It
// is a no-op unless the process installs one.
type instruments struct {
	frames    metric.Int64Counter
	fallbacks metric.Int64Counter
	failures  metric.Int64Counter
	published metric.Int64Counter
	dropped   metric.Int64Counter
	frameTime metric.Float64Histogram
}

func newInstruments() (*instruments, error) {
	m := meter()
	ins := &instruments{}

	var err error
	ins.frames, err = m.Int64Counter(
		"pipeline.frames",
		metric.WithDescription("Frames analysed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}

	ins.fallbacks, err = m.Int64Counter(
		"pipeline.roi.fallbacks",
		metric.WithDescription("Frames where the ROI search found nothing and the full frame was searched"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fallback counter: %w", err)
	}

	ins.failures, err = m.Int64Counter(
		"pipeline.solver.failures",
		metric.WithDescription("Frames with detections that did not yield a pose"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating solver failure counter: %w", err)
	}

	ins.published, err = m.Int64Counter(
		"pipeline.poses.published",
		metric.WithDescription("Poses enqueued for the consumer"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}

	ins.dropped, err = m.Int64Counter(
		"pipeline.poses.dropped",
		metric.WithDescription("Poses dropped because the queue was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	ins.frameTime, err = m.Float64Histogram(
		"pipeline.frame.duration",
		metric.WithDescription("Per-frame analysis time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frame time histogram: %w", err)
	}

	return ins, nil
}

func inc(c metric.Int64Counter) {
	c.Add(context.Background(), 1)
}
