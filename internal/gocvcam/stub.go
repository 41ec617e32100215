//go:build !gocv

package gocvcam

import (
	"context"
	"image"

	"github.com/banshee-data/wigglebot/internal/pipeline"
)

// Available reports whether OpenCV support was compiled in.
func Available() bool { return false }

// Open is unavailable without OpenCV.
func Open(Options) (pipeline.Source, pipeline.Detector, error) {
	return nil, nil, ErrUnavailable
}

// NewGStreamerSink is unavailable without OpenCV.
func NewGStreamerSink([]string, int, int, int) (*GStreamerSink, error) {
	return nil, ErrUnavailable
}

// GStreamerSink is a placeholder in builds without OpenCV.
type GStreamerSink struct{}

// WriteImage reports ErrUnavailable.
func (*GStreamerSink) WriteImage(context.Context, *image.RGBA, uint64) error { return ErrUnavailable }

// Close is a no-op.
func (*GStreamerSink) Close() error { return nil }
