package stream

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

// SnapshotSink keeps the most recent rendered frame for the debug server.
type SnapshotSink struct {
	mu   sync.Mutex
	last *image.RGBA
	seq  uint64
}

func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{}
}

// WriteImage implements ImageWriter. img is kept, not copied.
func (s *SnapshotSink) WriteImage(_ context.Context, img *image.RGBA, seq uint64) error {
	s.mu.Lock()
	s.last = img
	s.seq = seq
	s.mu.Unlock()
	return nil
}

// Last returns the latest frame and its sequence number, or nil.
func (s *SnapshotSink) Last() (*image.RGBA, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.seq
}

// AttachAdminRoutes serves the latest frame as /debug/frame.png.
func (s *SnapshotSink) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("frame.png", "Latest annotated camera frame", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		img, _ := s.Last()
		if img == nil {
			http.Error(w, "no frame rendered yet", http.StatusNotFound)
			return
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = buf.WriteTo(w)
	}))
}
