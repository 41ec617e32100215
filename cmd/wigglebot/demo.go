package main

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/wigglebot/internal/markers"
	"github.com/banshee-data/wigglebot/internal/pipeline"
)

// hueRate is how far round the colour wheel the demo turns per second.
const hueRate = 0.03

// hsvToRGB converts a colour with h, s and v in [0, 1].
func hsvToRGB(h, s, v float64) (r, g, b float64) {
	if s == 0 {
		return v, v, v
	}
	h = math.Mod(h, 1)
	if h < 0 {
		h++
	}
	i := math.Floor(h * 6)
	f := h*6 - i
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))
	switch int(i) % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

// demoStep returns the motor phases and HUD items for time t into a run
// whose brightness ramps from 0 to 1 over ramp. The three colour
// components drive the three motors.
func demoStep(t, ramp time.Duration) ([]float64, []pipeline.OverlayItem) {
	v := 1.0
	if ramp > 0 {
		v = min(1, t.Seconds()/ramp.Seconds())
	}
	h := math.Mod(t.Seconds()*hueRate, 1)
	r, g, b := hsvToRGB(h, 1, v)

	rows := []struct {
		name string
		val  float64
	}{{"r", r}, {"g", g}, {"b", b}, {"h", h}, {"v", v}}
	overlay := make([]pipeline.OverlayItem, 0, len(rows))
	for i, row := range rows {
		overlay = append(overlay, pipeline.Text{
			At:   markers.Point{X: 550, Y: float64(20 * (i + 1))},
			Text: fmt.Sprintf("%s %.2f", row.name, row.val),
		})
	}
	return []float64{r, g, b}, overlay
}
