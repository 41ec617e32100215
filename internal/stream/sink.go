package stream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/wigglebot/internal/pipeline"
)

// ErrFrameSize is returned when a rendered frame does not match the size
// the stream was started with.
var ErrFrameSize = errors.New("stream: frame size changed")

// ImageWriter consumes rendered debug frames.
type ImageWriter interface {
	WriteImage(ctx context.Context, img *image.RGBA, seq uint64) error
}

// RenderSink renders each debug frame once and hands the image to every
// writer. Writer errors are joined; later writers still run.
type RenderSink struct {
	Renderer Renderer
	Writers  []ImageWriter
}

// WriteFrame implements pipeline.DebugSink.
func (s *RenderSink) WriteFrame(ctx context.Context, df pipeline.DebugFrame) error {
	if len(s.Writers) == 0 {
		return nil
	}
	img := s.Renderer.Render(df)
	var errs []error
	for _, w := range s.Writers {
		if err := w.WriteImage(ctx, img, df.Frame.Seq); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// I420Sink writes rendered frames as raw I420 to w.
type I420Sink struct {
	size image.Point

	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewI420Sink writes w×h frames to out.
func NewI420Sink(out io.Writer, w, h int) *I420Sink {
	return &I420Sink{size: image.Pt(w, h), w: out}
}

// WriteImage implements ImageWriter.
func (s *I420Sink) WriteImage(_ context.Context, img *image.RGBA, _ uint64) error {
	if img.Rect.Size() != s.size {
		return fmt.Errorf("%w: got %v, want %v", ErrFrameSize, img.Rect.Size(), s.size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = AppendI420(s.buf[:0], img)
	_, err := s.w.Write(s.buf)
	return err
}

// CommandSink feeds rendered frames to the stdin of a command, e.g. an
// ffmpeg or gst-launch pipeline that encodes and streams them.
type CommandSink struct {
	*I420Sink
	cmd   *exec.Cmd
	stdin io.WriteCloser
	once  sync.Once
	err   error
}

// ExpandCommand substitutes {width}, {height} and {fps} in every argument.
func ExpandCommand(argv []string, w, h, fps int) []string {
	r := strings.NewReplacer(
		"{width}", strconv.Itoa(w),
		"{height}", strconv.Itoa(h),
		"{fps}", strconv.Itoa(fps),
	)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

// StartCommand runs argv after placeholder expansion. The process is
// killed if ctx is cancelled.
func StartCommand(ctx context.Context, argv []string, w, h, fps int) (*CommandSink, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("stream: empty command")
	}
	args := ExpandCommand(argv, w, h, fps)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("stream: starting %s: %w", args[0], err)
	}
	diagf("stream command %s started (pid %d, %dx%d@%d)", args[0], cmd.Process.Pid, w, h, fps)
	return &CommandSink{
		I420Sink: NewI420Sink(stdin, w, h),
		cmd:      cmd,
		stdin:    stdin,
	}, nil
}

// Close ends the stream and waits for the command to exit.
func (c *CommandSink) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		err := c.stdin.Close()
		c.mu.Unlock()
		c.err = errors.Join(err, c.cmd.Wait())
	})
	return c.err
}
