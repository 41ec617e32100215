// Package pipeline turns a stream of camera frames into a stream of pose
// estimates.
//
// A single capture goroutine owns the camera and all per-frame state. For
// each frame it converts to grayscale, looks for markers inside a region
// of interest centred on the last known pose, falls back to the full frame
// when that finds nothing, solves for a pose and publishes it to a small
// bounded queue. When the queue is full the newest pose is dropped so the
// capture loop never waits on a slow consumer.
//
// Published poses are sticky: a frame with no usable detections republishes
// the previous pose. Nothing is published before the first successful fit.
package pipeline
