package gocvcam

import "errors"

// ErrUnavailable is returned by every constructor in builds without OpenCV.
var ErrUnavailable = errors.New("gocvcam: built without the gocv tag")

// Options describe the camera to open. Zero values leave the device's own
// setting in place.
type Options struct {
	Device int
	Width  int
	Height int
	FPS    int
}
