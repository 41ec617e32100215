package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wigglebot/internal/markers"
	"github.com/banshee-data/wigglebot/internal/pose"
)

const (
	frameW = 320
	frameH = 240
)

// scriptSource hands frames from a channel to the pipeline and reports each
// one on done once it has been analysed.
type scriptSource struct {
	frames chan Frame
	done   chan uint64
	fail   error
}

func newScriptSource() *scriptSource {
	return &scriptSource{
		frames: make(chan Frame),
		done:   make(chan uint64, 16),
	}
}

func (s *scriptSource) Run(ctx context.Context, handle func(Frame)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-s.frames:
			if !ok {
				return s.fail
			}
			handle(f)
			s.done <- f.Seq
		}
	}
}

// feed pushes one blank frame through the pipeline and waits for it.
func (s *scriptSource) feed(t *testing.T, seq uint64) {
	t.Helper()
	s.frames <- Frame{Seq: seq, Gray: image.NewGray(image.Rect(0, 0, frameW, frameH))}
	select {
	case got := <-s.done:
		require.Equal(t, seq, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("frame %d not processed", seq)
	}
}

// scriptDetector answers from a queue of responses, one per call, and
// records the size of every image it is shown.
type scriptDetector struct {
	mu        sync.Mutex
	responses [][]markers.Detection
	err       error
	sizes     []image.Point
}

func (d *scriptDetector) push(dets ...[]markers.Detection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses = append(d.responses, dets...)
}

func (d *scriptDetector) Detect(_ context.Context, img *image.Gray) ([]markers.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sizes = append(d.sizes, img.Rect.Size())
	if d.err != nil {
		return nil, d.err
	}
	if len(d.responses) == 0 {
		return nil, nil
	}
	r := d.responses[0]
	d.responses = d.responses[1:]
	return r, nil
}

func (d *scriptDetector) seen() []image.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]image.Point(nil), d.sizes...)
}

func project(layout *markers.Layout, truth pose.Estimate) []markers.Detection {
	var out []markers.Detection
	for _, id := range layout.IDs() {
		ref, _ := layout.Corners(id)
		var q markers.Quad
		for i, p := range ref {
			q[i] = truth.Apply(p)
		}
		out = append(out, markers.Detection{ID: id, Corners: q})
	}
	return out
}

type fixture struct {
	p      *Pipeline
	src    *scriptSource
	det    *scriptDetector
	layout *markers.Layout
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		src:    newScriptSource(),
		det:    &scriptDetector{},
		layout: markers.DefaultLayout(),
	}
	cfg := Config{
		Layout:   f.layout,
		Detector: f.det,
		Source:   f.src,
		ROISize:  100,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Terminate() })
	f.p = p
	return f
}

func nextWithin(t *testing.T, p *Pipeline, d time.Duration) (pose.Estimate, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return p.Next(ctx)
}

func assertPose(t *testing.T, want, got pose.Estimate) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-6)
	assert.InDelta(t, want.Y, got.Y, 1e-6)
	assert.InDelta(t, want.A, got.A, 1e-9)
	assert.InDelta(t, want.B, got.B, 1e-9)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	layout := markers.DefaultLayout()
	det := &scriptDetector{}
	src := newScriptSource()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no layout", Config{Detector: det, Source: src}},
		{"no detector", Config{Layout: layout, Source: src}},
		{"no source", Config{Layout: layout, Detector: det}},
		{"negative roi", Config{Layout: layout, Detector: det, Source: src, ROISize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestPipeline_StartTwice(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.p.Start(context.Background()), ErrAlreadyStarted)
}

func TestPipeline_NothingBeforeFirstPoseThenSticky(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	truth := pose.FromAngleScale(160, 120, 0.3, 1.2)

	// No markers yet: nothing may be published.
	f.src.feed(t, 1)
	_, err := nextWithin(t, f.p, 50*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	f.det.push(project(f.layout, truth))
	f.src.feed(t, 2)
	got, err := nextWithin(t, f.p, time.Second)
	require.NoError(t, err)
	assertPose(t, truth, got)

	// Markers lost: the previous pose is published again.
	f.src.feed(t, 3)
	got, err = nextWithin(t, f.p, time.Second)
	require.NoError(t, err)
	assertPose(t, truth, got)

	st := f.p.Stats()
	assert.Equal(t, uint64(3), st.Frames)
	assert.Equal(t, uint64(2), st.PosesPublished)
}

func TestPipeline_SolverFailureKeepsPreviousPose(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *Config) { c.ROISize = 0 })
	truth := pose.FromAngleScale(100, 80, 0, 1)

	f.det.push(project(f.layout, truth))
	f.src.feed(t, 1)
	_, err := nextWithin(t, f.p, time.Second)
	require.NoError(t, err)

	// Only unknown IDs: the solver has nothing to fit.
	f.det.push([]markers.Detection{{ID: 999}})
	f.src.feed(t, 2)
	got, err := nextWithin(t, f.p, time.Second)
	require.NoError(t, err)
	assertPose(t, truth, got)
	assert.Equal(t, uint64(1), f.p.Stats().SolverFailures)
}

func TestPipeline_DropsNewestWhenQueueFull(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *Config) { c.ROISize = 0 })
	poses := []pose.Estimate{
		pose.FromAngleScale(100, 100, 0, 1),
		pose.FromAngleScale(110, 100, 0, 1),
		pose.FromAngleScale(120, 100, 0, 1),
	}
	for i, truth := range poses {
		f.det.push(project(f.layout, truth))
		f.src.feed(t, uint64(i+1))
	}

	st := f.p.Stats()
	assert.Equal(t, uint64(2), st.PosesPublished)
	assert.Equal(t, uint64(1), st.PosesDropped)

	for _, want := range poses[:2] {
		got, err := nextWithin(t, f.p, time.Second)
		require.NoError(t, err)
		assertPose(t, want, got)
	}
	_, err := nextWithin(t, f.p, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipeline_TerminateWakesBlockedConsumer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := f.p.Next(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.p.Terminate())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrEndOfStream)
		assert.NotErrorIs(t, err, ErrCaptureFailure)
	case <-time.After(2 * time.Second):
		t.Fatal("Next still blocked after Terminate")
	}

	// End of stream is remembered.
	_, err := nextWithin(t, f.p, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.NoError(t, f.p.Err())
	assert.NoError(t, f.p.Terminate())
}

func TestPipeline_TerminateWithFullQueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *Config) { c.ROISize = 0 })
	truth := pose.FromAngleScale(100, 100, 0, 1)
	for i := 1; i <= 2; i++ {
		f.det.push(project(f.layout, truth))
		f.src.feed(t, uint64(i))
	}
	require.NoError(t, f.p.Terminate())

	var err error
	for i := 0; i < 3 && err == nil; i++ {
		_, err = nextWithin(t, f.p, time.Second)
	}
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestPipeline_TerminateBeforeStart(t *testing.T) {
	t.Parallel()
	p, err := New(Config{Layout: markers.DefaultLayout(), Detector: &scriptDetector{}, Source: newScriptSource()})
	require.NoError(t, err)

	require.NoError(t, p.Terminate())
	_, err = nextWithin(t, p, time.Second)
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
}

func TestPipeline_CaptureFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	unplugged := errors.New("camera unplugged")
	f.src.fail = unplugged
	close(f.src.frames)

	_, err := nextWithin(t, f.p, 2*time.Second)
	require.ErrorIs(t, err, ErrEndOfStream)
	assert.ErrorIs(t, err, ErrCaptureFailure)
	assert.ErrorIs(t, err, unplugged)

	assert.ErrorIs(t, f.p.Terminate(), ErrCaptureFailure)
	assert.ErrorIs(t, f.p.Err(), unplugged)
}

func TestPipeline_PosesIterator(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *Config) { c.ROISize = 0 })
	truth := pose.FromAngleScale(100, 100, 0, 1)

	go func() {
		f.det.push(project(f.layout, truth))
		f.src.frames <- Frame{Seq: 1, Gray: image.NewGray(image.Rect(0, 0, frameW, frameH))}
		<-f.src.done
		close(f.src.frames)
	}()

	var got []pose.Estimate
	for e := range f.p.Poses(context.Background()) {
		got = append(got, e)
	}
	require.Len(t, got, 1)
	assertPose(t, truth, got[0])
	assert.NoError(t, f.p.Err())
}

func TestPipeline_ROIFastPath(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	truth := pose.FromAngleScale(160, 120, 0, 1)
	full := project(f.layout, truth)

	f.det.push(full)
	f.src.feed(t, 1)
	_, err := nextWithin(t, f.p, time.Second)
	require.NoError(t, err)

	// A 100px window centred on (160,120) starts at (110,70); the detector
	// reports corners relative to the window.
	moved := pose.FromAngleScale(165, 118, 0, 1)
	local := markers.OffsetDetections(project(f.layout, moved), markers.Point{X: -110, Y: -70})
	f.det.push(local)
	f.src.feed(t, 2)

	got, err := nextWithin(t, f.p, time.Second)
	require.NoError(t, err)
	assertPose(t, moved, got)

	want := []image.Point{{frameW, frameH}, {100, 100}}
	if diff := cmp.Diff(want, f.det.seen()); diff != "" {
		t.Errorf("detector inputs mismatch (-want +got):\n%s", diff)
	}
	st := f.p.Stats()
	assert.Equal(t, uint64(1), st.FastPathHits)
	assert.Equal(t, uint64(0), st.Fallbacks)
}

func TestPipeline_ROIFallsBackToFullFrame(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	first := pose.FromAngleScale(160, 120, 0, 1)
	f.det.push(project(f.layout, first))
	f.src.feed(t, 1)
	_, err := nextWithin(t, f.p, time.Second)
	require.NoError(t, err)

	// The robot jumped out of the window: the ROI search comes back empty.
	jumped := pose.FromAngleScale(60, 60, 0, 1)
	f.det.push(nil, project(f.layout, jumped))
	f.src.feed(t, 2)

	got, err := nextWithin(t, f.p, time.Second)
	require.NoError(t, err)
	assertPose(t, jumped, got)

	want := []image.Point{{frameW, frameH}, {100, 100}, {frameW, frameH}}
	if diff := cmp.Diff(want, f.det.seen()); diff != "" {
		t.Errorf("detector inputs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(1), f.p.Stats().Fallbacks)
}

func TestPipeline_DetectorErrorIsNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.det.err = errors.New("bad frame")
	f.src.feed(t, 1)
	f.src.feed(t, 2)
	assert.Equal(t, uint64(2), f.p.Stats().DetectorErrors)
	assert.NoError(t, f.p.Err())
}

func TestPipeline_FrameWithoutImageRepublishes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *Config) { c.ROISize = 0 })
	truth := pose.FromAngleScale(100, 100, 0, 1)
	f.det.push(project(f.layout, truth))
	f.src.feed(t, 1)
	_, err := nextWithin(t, f.p, time.Second)
	require.NoError(t, err)

	f.src.frames <- Frame{Seq: 2}
	require.Equal(t, uint64(2), <-f.src.done)

	got, err := nextWithin(t, f.p, time.Second)
	require.NoError(t, err)
	assertPose(t, truth, got)

	st := f.p.Stats()
	assert.Equal(t, uint64(1), st.SkippedFrames)
	assert.Equal(t, uint64(2), st.PosesPublished)
	assert.Len(t, f.det.seen(), 1)
}

func TestSetLoggerWhileRunning(t *testing.T) {
	f := newFixture(t, nil)
	defer SetLogger(zerolog.Nop())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				SetLogger(zerolog.New(io.Discard).Level(zerolog.TraceLevel))
			}
		}
	}()

	f.det.err = errors.New("bad frame")
	for seq := range uint64(20) {
		f.src.feed(t, seq+1)
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, uint64(20), f.p.Stats().DetectorErrors)
}

type recordingSink struct {
	mu     sync.Mutex
	frames []DebugFrame
	err    error
}

func (s *recordingSink) WriteFrame(_ context.Context, f DebugFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return s.err
}

func (s *recordingSink) last() DebugFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

func TestPipeline_SinkFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{err: errors.New("pipe closed")}
	f := newFixture(t, func(c *Config) {
		c.DebugLevel = DebugRender
		c.DebugSink = sink
	})
	truth := pose.FromAngleScale(160, 120, 0, 1)
	f.det.push(project(f.layout, truth))
	f.src.feed(t, 1)

	got, err := nextWithin(t, f.p, time.Second)
	require.NoError(t, err)
	assertPose(t, truth, got)
	assert.Equal(t, uint64(1), f.p.Stats().SinkFailures)

	df := sink.last()
	assert.True(t, df.HasPose)
	assert.Len(t, df.Detections, 3)
	assert.Equal(t, pose.QualityExcellent, df.Quality)
}

func TestPipeline_SinkOnlyAtRenderLevel(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	f := newFixture(t, func(c *Config) {
		c.DebugLevel = DebugLog
		c.DebugSink = sink
	})
	f.src.feed(t, 1)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.frames)
}

func TestPipeline_UpdateOverlayCopies(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	f := newFixture(t, func(c *Config) {
		c.DebugLevel = DebugRender
		c.DebugSink = sink
	})

	items := []OverlayItem{
		Text{At: markers.Point{X: 550, Y: 10}, Text: "r=255"},
		Dot{At: markers.Point{X: 5, Y: 5}},
	}
	f.p.UpdateOverlay(items)
	items[0] = Arrow{From: markers.Point{}, To: markers.Point{X: 1, Y: 1}}

	f.src.feed(t, 1)
	want := []OverlayItem{
		Text{At: markers.Point{X: 550, Y: 10}, Text: "r=255"},
		Dot{At: markers.Point{X: 5, Y: 5}},
	}
	if diff := cmp.Diff(want, sink.last().Overlay); diff != "" {
		t.Errorf("overlay mismatch (-want +got):\n%s", diff)
	}

	f.p.UpdateOverlay(nil)
	f.src.feed(t, 2)
	assert.Empty(t, sink.last().Overlay)
}

type ledRecorder struct {
	mu    sync.Mutex
	state []bool
}

func (l *ledRecorder) SetCapturing(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = append(l.state, on)
	return nil
}

func TestPipeline_StatusIndicator(t *testing.T) {
	t.Parallel()
	led := &ledRecorder{}
	f := newFixture(t, func(c *Config) { c.Status = led })
	f.src.feed(t, 1)
	require.NoError(t, f.p.Terminate())

	led.mu.Lock()
	defer led.mu.Unlock()
	assert.Equal(t, []bool{true, false}, led.state)
}

func TestRoiAround(t *testing.T) {
	t.Parallel()
	bounds := image.Rect(0, 0, frameW, frameH)

	tests := []struct {
		name   string
		centre markers.Point
		size   int
		want   image.Rectangle
		ok     bool
	}{
		{"centred", markers.Point{X: 160, Y: 120}, 100, image.Rect(110, 70, 210, 170), true},
		{"clamped top left", markers.Point{X: 10, Y: 5}, 100, image.Rect(0, 0, 100, 100), true},
		{"clamped bottom right", markers.Point{X: 319, Y: 239}, 100, image.Rect(220, 140, 320, 240), true},
		{"larger than frame", markers.Point{X: 160, Y: 120}, 500, bounds, true},
		{"outside frame", markers.Point{X: -400, Y: 900}, 50, image.Rect(0, 190, 50, 240), true},
		{"zero size", markers.Point{X: 160, Y: 120}, 0, image.Rectangle{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := roiAround(tt.centre, tt.size, bounds)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCropSharesPixels(t *testing.T) {
	t.Parallel()
	g := image.NewGray(image.Rect(0, 0, 10, 10))
	g.SetGray(4, 3, color.Gray{Y: 200})

	c := crop(g, image.Rect(2, 2, 6, 6))
	assert.Equal(t, image.Rect(0, 0, 4, 4), c.Rect)
	assert.Equal(t, uint8(200), c.GrayAt(2, 1).Y)
}

func TestToGray(t *testing.T) {
	t.Parallel()
	rgba := image.NewRGBA(image.Rect(0, 0, 4, 2))
	rgba.Set(1, 1, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	g := toGray(Frame{Image: rgba})
	require.NotNil(t, g)
	assert.Equal(t, image.Rect(0, 0, 4, 2), g.Rect)
	assert.Equal(t, uint8(255), g.GrayAt(1, 1).Y)
	assert.Equal(t, uint8(0), g.GrayAt(0, 0).Y)

	assert.Nil(t, toGray(Frame{}))
}
