//go:build gocv

package gocvcam

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGStreamerSink_RawFrames(t *testing.T) {
	assert.Equal(t, 4, len(rawFourCC))
	for i := range len(rawFourCC) {
		assert.Zero(t, rawFourCC[i])
	}

	sink, err := NewGStreamerSink([]string{"appsrc", "videoconvert", "fakesink"}, 64, 48, 25)
	if err != nil {
		t.Skipf("OpenCV built without GStreamer: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, sink.WriteImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 48)), 1))
	require.NoError(t, sink.Close())
	assert.Error(t, sink.WriteImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 48)), 2))
}
