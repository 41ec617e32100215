package waveform

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// MaxChannels is the number of channels a 32-bit mask can address,
// reference channel included.
const MaxChannels = 32

var (
	ErrPeriodTooShort  = errors.New("waveform: period must be at least 2µs")
	ErrTooManyChannels = fmt.Errorf("waveform: at most %d driven channels", MaxChannels-1)
	ErrInvalidPhase    = errors.New("waveform: phase must be a finite, non-negative fraction")
)

// Edge is the direction of a transition.
type Edge uint8

const (
	Falling Edge = iota
	Rising
)

func (e Edge) String() string {
	if e == Rising {
		return "rising"
	}
	return "falling"
}

// Transition is one edge of one channel within a period.
type Transition struct {
	TimeUS  uint32
	Channel int
	Edge    Edge
}

// Pulse is one entry of a cyclic program: set the RisingMask bits, clear
// the FallingMask bits, then hold for DelayUS before the next entry.
type Pulse struct {
	RisingMask  uint32
	FallingMask uint32
	DelayUS     uint32
}

func (p Pulse) String() string {
	return fmt.Sprintf("Pulse(rising=%032b, falling=%032b, delay_us=%d)", p.RisingMask, p.FallingMask, p.DelayUS)
}

// PeriodForFrequency returns the period in whole microseconds for hz,
// truncated. Zero or negative frequencies give zero.
func PeriodForFrequency(hz float64) uint32 {
	if !(hz > 0) {
		return 0
	}
	return uint32(math.Floor(1e6 / hz))
}

// normalisePhase wraps phi into [0, 1). A phase of exactly 1 is the same
// wave as 0.
func normalisePhase(phi float64) (float64, error) {
	if math.IsNaN(phi) || math.IsInf(phi, 0) || phi < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPhase, phi)
	}
	return phi - math.Floor(phi), nil
}

// fallingTime is floor((rise + period/2) mod period) in integer arithmetic,
// so odd periods truncate the same way for every channel.
func fallingTime(rise, period uint32) uint32 {
	r, p := uint64(rise), uint64(period)
	return uint32(((2*r + p) % (2 * p)) / 2)
}

// Transitions returns the 2+2·len(phases) edges of one period, unsorted:
// reference first, then each driven channel in order.
func Transitions(periodUS uint32, phases []float64) ([]Transition, error) {
	if periodUS < 2 {
		return nil, ErrPeriodTooShort
	}
	if len(phases) > MaxChannels-1 {
		return nil, ErrTooManyChannels
	}

	out := make([]Transition, 0, 2+2*len(phases))
	out = append(out,
		Transition{TimeUS: 0, Channel: 0, Edge: Rising},
		Transition{TimeUS: fallingTime(0, periodUS), Channel: 0, Edge: Falling},
	)
	for i, raw := range phases {
		phi, err := normalisePhase(raw)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i+1, err)
		}
		rise := uint32(phi * float64(periodUS))
		if rise >= periodUS {
			rise = periodUS - 1 // float rounding just below 1.0
		}
		out = append(out,
			Transition{TimeUS: rise, Channel: i + 1, Edge: Rising},
			Transition{TimeUS: fallingTime(rise, periodUS), Channel: i + 1, Edge: Falling},
		)
	}
	return out, nil
}

// Synthesize builds the cyclic pulse program for one period. The sum of
// the returned delays is exactly periodUS.
func Synthesize(periodUS uint32, phases []float64) ([]Pulse, error) {
	transitions, err := Transitions(periodUS, phases)
	if err != nil {
		return nil, err
	}
	return Merge(periodUS, transitions), nil
}

// Merge sorts transitions by time and collapses equal timestamps into one
// pulse. Each delay runs to the next distinct timestamp; the last one
// closes the cycle at periodUS. Transitions at or beyond periodUS are a
// caller bug and are clamped to the final time point.
func Merge(periodUS uint32, transitions []Transition) []Pulse {
	if len(transitions) == 0 {
		return nil
	}
	sorted := slices.Clone(transitions)
	slices.SortFunc(sorted, func(a, b Transition) int {
		switch {
		case a.TimeUS != b.TimeUS:
			return cmpU32(a.TimeUS, b.TimeUS)
		case a.Channel != b.Channel:
			return a.Channel - b.Channel
		default:
			return int(a.Edge) - int(b.Edge)
		}
	})

	var (
		pulses []Pulse
		times  []uint32
	)
	for _, tr := range sorted {
		t := min(tr.TimeUS, periodUS-1)
		if len(times) == 0 || times[len(times)-1] != t {
			pulses = append(pulses, Pulse{})
			times = append(times, t)
		}
		p := &pulses[len(pulses)-1]
		bit := uint32(1) << uint(tr.Channel)
		if tr.Edge == Rising {
			p.RisingMask |= bit
		} else {
			p.FallingMask |= bit
		}
	}
	for i := range pulses {
		next := periodUS
		if i+1 < len(times) {
			next = times[i+1]
		}
		pulses[i].DelayUS = next - times[i]
	}
	return pulses
}

func cmpU32(a, b uint32) int {
	if a < b {
		return -1
	}
	return 1
}

// TotalDelay sums the delays of a program.
func TotalDelay(pulses []Pulse) uint64 {
	var sum uint64
	for _, p := range pulses {
		sum += uint64(p.DelayUS)
	}
	return sum
}

// RemapChannels rewrites channel bits as output-pin bits: bit i of each
// mask becomes bit pins[i]. Channels beyond len(pins) are an error.
func RemapChannels(pulses []Pulse, pins []int) ([]Pulse, error) {
	for _, pin := range pins {
		if pin < 0 || pin >= 32 {
			return nil, fmt.Errorf("waveform: pin %d outside mask range", pin)
		}
	}
	remap := func(mask uint32) (uint32, error) {
		var out uint32
		for ch := 0; mask != 0; ch++ {
			if mask&1 != 0 {
				if ch >= len(pins) {
					return 0, fmt.Errorf("waveform: channel %d has no pin", ch)
				}
				out |= 1 << uint(pins[ch])
			}
			mask >>= 1
		}
		return out, nil
	}

	out := make([]Pulse, len(pulses))
	for i, p := range pulses {
		rise, err := remap(p.RisingMask)
		if err != nil {
			return nil, err
		}
		fall, err := remap(p.FallingMask)
		if err != nil {
			return nil, err
		}
		out[i] = Pulse{RisingMask: rise, FallingMask: fall, DelayUS: p.DelayUS}
	}
	return out, nil
}

// Format renders a program one pulse per line, for logs and debug pages.
func Format(pulses []Pulse) string {
	var b strings.Builder
	for _, p := range pulses {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	return b.String()
}
