// Package gocvcam connects the pipeline to real hardware through OpenCV:
// a V4L2 camera source, an ArUco marker detector and a GStreamer debug
// stream. It is only built with the gocv build tag, since it needs the
// OpenCV shared libraries:
//
//	go build -tags gocv ./cmd/wigglebot
//
// Without the tag, Available reports false and cmd/wigglebot falls back to
// the simulator.
package gocvcam
