package actuator

import (
	"context"
	"time"

	"github.com/banshee-data/wigglebot/internal/engine"
)

// StatusLED lights a pin on the pulse engine while the camera is capturing.
type StatusLED struct {
	Engine  engine.Engine
	Pin     int
	Timeout time.Duration
}

// SetCapturing drives the LED pin high while capture runs.
func (s StatusLED) SetCapturing(on bool) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Engine.SetLevel(ctx, s.Pin, on)
}
