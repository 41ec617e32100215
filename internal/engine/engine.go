package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/wigglebot/internal/waveform"
)

var (
	// ErrWriteFailed is returned when the port accepted fewer bytes than
	// the command needed.
	ErrWriteFailed = errors.New("engine: short write to serial port")

	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("engine: closed")
)

// Engine replays waveform programs. Implementations must make Replace
// atomic: the device switches from the old program to the new one without
// ever running a partial program.
type Engine interface {
	// Replace swaps the running program for pulses. An empty program is
	// equivalent to Stop.
	Replace(ctx context.Context, pulses []waveform.Pulse) error
	// Stop halts the program and drives every output low.
	Stop(ctx context.Context) error
	// SetLevel drives a pin outside the program, e.g. a status LED.
	SetLevel(ctx context.Context, pin int, high bool) error
	Close() error
}

// Program is the last program handed to an engine.
type Program struct {
	Pulses  []waveform.Pulse
	Running bool
}

// PeriodUS is the length of one cycle of the program.
func (p Program) PeriodUS() uint64 {
	return waveform.TotalDelay(p.Pulses)
}

// Command verbs.
const (
	cmdClear  = "CLEAR"
	cmdPulse  = "P"
	cmdRepeat = "REPEAT"
	cmdStop   = "STOP"
	cmdLevel  = "LEVEL"
)

// EncodeProgram renders pulses as the command lines that load and start
// them. An empty program encodes as a single STOP.
func EncodeProgram(pulses []waveform.Pulse) []string {
	if len(pulses) == 0 {
		return []string{cmdStop}
	}
	lines := make([]string, 0, len(pulses)+2)
	lines = append(lines, cmdClear)
	for _, p := range pulses {
		lines = append(lines, encodePulse(p))
	}
	return append(lines, cmdRepeat)
}

func encodePulse(p waveform.Pulse) string {
	return fmt.Sprintf("%s %08x %08x %d", cmdPulse, p.RisingMask, p.FallingMask, p.DelayUS)
}

// DecodePulse parses one "P" line back into a pulse.
func DecodePulse(line string) (waveform.Pulse, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != cmdPulse {
		return waveform.Pulse{}, fmt.Errorf("engine: malformed pulse line %q", line)
	}
	rise, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return waveform.Pulse{}, fmt.Errorf("engine: rising mask in %q: %w", line, err)
	}
	fall, err := strconv.ParseUint(fields[2], 16, 32)
	if err != nil {
		return waveform.Pulse{}, fmt.Errorf("engine: falling mask in %q: %w", line, err)
	}
	delay, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return waveform.Pulse{}, fmt.Errorf("engine: delay in %q: %w", line, err)
	}
	return waveform.Pulse{RisingMask: uint32(rise), FallingMask: uint32(fall), DelayUS: uint32(delay)}, nil
}

func encodeLevel(pin int, high bool) string {
	v := 0
	if high {
		v = 1
	}
	return fmt.Sprintf("%s %d %d", cmdLevel, pin, v)
}

// Reply classes for lines read back from the device.
const (
	ReplyOK      = "ok"
	ReplyError   = "error"
	ReplyUnknown = "unknown"
)

// ClassifyReply sorts a device line into one of the Reply* classes.
func ClassifyReply(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "OK":
		return ReplyOK
	case strings.HasPrefix(line, "ERR"):
		return ReplyError
	default:
		return ReplyUnknown
	}
}

func validPin(pin int) error {
	if pin < 0 || pin >= waveform.MaxChannels {
		return fmt.Errorf("engine: pin %d outside 0..%d", pin, waveform.MaxChannels-1)
	}
	return nil
}
