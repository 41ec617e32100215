package sim

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wigglebot/internal/markers"
	"github.com/banshee-data/wigglebot/internal/pipeline"
	"github.com/banshee-data/wigglebot/internal/pose"
	"github.com/banshee-data/wigglebot/internal/timeutil"
)

func stillScene(truth pose.Estimate) *Scene {
	return NewScene(markers.DefaultLayout(), 320, 240, Still(truth))
}

func TestCircle(t *testing.T) {
	t.Parallel()
	traj := Circle(markers.Point{X: 100, Y: 100}, 50, 4*time.Second, 2)

	start := traj(0)
	assert.InDelta(t, 150, start.X, 1e-9)
	assert.InDelta(t, 100, start.Y, 1e-9)
	assert.InDelta(t, 2, start.Scale(), 1e-9)

	quarter := traj(time.Second)
	assert.InDelta(t, 100, quarter.X, 1e-9)
	assert.InDelta(t, 150, quarter.Y, 1e-9)
}

func TestScene_CaptureRendersMarkers(t *testing.T) {
	t.Parallel()
	truth := pose.FromAngleScale(160, 120, 0, 2)
	s := stillScene(truth)

	_, ok := s.Truth()
	require.False(t, ok)

	frame, got := s.Capture(0)
	assert.Equal(t, truth, got)
	assert.Equal(t, image.Rect(0, 0, 320, 240), frame.Rect)

	// Centre of marker 42 is bright, the layout origin is background.
	ref, _ := s.Layout.Corners(42)
	c := truth.Apply(ref.Centroid())
	assert.Greater(t, frame.GrayAt(int(c.X), int(c.Y)).Y, uint8(200))
	assert.Less(t, frame.GrayAt(160, 120).Y, uint8(100))
}

func TestDetector_FullFrameRecoversPose(t *testing.T) {
	t.Parallel()
	truth := pose.FromAngleScale(160, 120, 0.4, 1.5)
	s := stillScene(truth)
	frame, _ := s.Capture(0)

	dets, err := NewDetector(s, 1).Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, dets, 3)

	got, err := pose.Solve(dets, s.Layout)
	require.NoError(t, err)
	assert.InDelta(t, truth.X, got.X, 1e-6)
	assert.InDelta(t, truth.Y, got.Y, 1e-6)
	assert.InDelta(t, truth.Angle(), got.Angle(), 1e-9)
}

func TestDetector_CropUsesRegionCoordinates(t *testing.T) {
	t.Parallel()
	truth := pose.FromAngleScale(160, 120, 0, 1)
	s := stillScene(truth)
	frame, _ := s.Capture(0)

	// Marker 42 sits 30 px right of the origin and is 15 px wide.
	r := image.Rect(170, 100, 220, 140)
	sub := frame.SubImage(r).(*image.Gray)
	view := &image.Gray{Pix: sub.Pix, Stride: sub.Stride, Rect: image.Rect(0, 0, r.Dx(), r.Dy())}

	dets, err := NewDetector(s, 1).Detect(context.Background(), view)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 42, dets[0].ID)

	c := dets[0].Corners.Centroid()
	assert.InDelta(t, 190-170, c.X, 1e-9)
	assert.InDelta(t, 120-100, c.Y, 1e-9)
}

func TestDetector_HiddenAndDropped(t *testing.T) {
	t.Parallel()
	s := stillScene(pose.FromAngleScale(160, 120, 0, 1.5))
	frame, _ := s.Capture(0)

	d := NewDetector(s, 1)
	d.Hidden = []int{11}
	dets, err := d.Detect(context.Background(), frame)
	require.NoError(t, err)
	ids := []int{}
	for _, det := range dets {
		ids = append(ids, det.ID)
	}
	assert.ElementsMatch(t, []int{42, 34}, ids)

	d.DropRate = 1
	dets, err = d.Detect(context.Background(), frame)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestDetector_NothingBeforeCapture(t *testing.T) {
	t.Parallel()
	s := stillScene(pose.FromAngleScale(160, 120, 0, 1))
	dets, err := NewDetector(s, 1).Detect(context.Background(), image.NewGray(image.Rect(0, 0, 320, 240)))
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestRegionOrigin(t *testing.T) {
	t.Parallel()
	frame := image.NewGray(image.Rect(0, 0, 64, 48))

	sub := frame.SubImage(image.Rect(10, 7, 30, 20)).(*image.Gray)
	got, ok := regionOrigin(frame, sub)
	require.True(t, ok)
	assert.Equal(t, image.Pt(10, 7), got)

	got, ok = regionOrigin(frame, frame)
	require.True(t, ok)
	assert.Equal(t, image.Point{}, got)

	_, ok = regionOrigin(frame, image.NewGray(image.Rect(0, 0, 64, 48)))
	assert.False(t, ok)
}

type frameLog struct {
	mu     sync.Mutex
	frames []pipeline.Frame
}

func (l *frameLog) handle(f pipeline.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f)
}

func (l *frameLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

func TestCamera_PacedByClock(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cam := &Camera{Scene: stillScene(pose.FromAngleScale(160, 120, 0, 1)), FPS: 10, Clock: clock, MaxFrames: 3}

	var log frameLog
	done := make(chan error, 1)
	go func() { done <- cam.Run(context.Background(), log.handle) }()

	// The ticker is created inside Run; keep advancing until it has fired
	// enough times to end the stream.
	require.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)

	require.Equal(t, 3, log.len())
	for i, f := range log.frames {
		assert.Equal(t, uint64(i+1), f.Seq)
		assert.NotNil(t, f.Gray)
	}
}

func TestCamera_FailAfter(t *testing.T) {
	t.Parallel()
	cam := &Camera{Scene: stillScene(pose.FromAngleScale(160, 120, 0, 1)), FPS: 200, FailAfter: 2}

	var log frameLog
	err := cam.Run(context.Background(), log.handle)
	assert.ErrorIs(t, err, ErrCameraLost)
	assert.Equal(t, 2, log.len())
}

func TestCamera_Cancelled(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(time.Now())
	cam := &Camera{Scene: stillScene(pose.FromAngleScale(160, 120, 0, 1)), Clock: clock}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cam.Run(ctx, func(pipeline.Frame) {})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()
	truth := pose.FromAngleScale(160, 120, 0.7, 1.5)
	scene := stillScene(truth)

	p, err := pipeline.New(pipeline.Config{
		Layout:   scene.Layout,
		Detector: NewDetector(scene, 7),
		Source:   &Camera{Scene: scene, FPS: 200, MaxFrames: 4},
		ROISize:  200,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Terminate() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []pose.Estimate
	for e := range p.Poses(ctx) {
		got = append(got, e)
	}
	require.NotEmpty(t, got)
	for _, e := range got {
		assert.InDelta(t, truth.X, e.X, 1e-6)
		assert.InDelta(t, truth.Y, e.Y, 1e-6)
		assert.InDelta(t, truth.Angle(), e.Angle(), 1e-9)
	}
	assert.NoError(t, p.Err())

	stats := p.Stats()
	assert.EqualValues(t, 4, stats.Frames)
	assert.Positive(t, stats.FastPathHits)
}
