// Package actuator drives the robot's vibration motors and status LED
// through the pulse engine.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/banshee-data/wigglebot/internal/engine"
	"github.com/banshee-data/wigglebot/internal/waveform"
)

// Defaults for the motor bank on the robot's driver board.
var DefaultMotorPins = []int{19, 20, 21, 22}

const (
	DefaultMotorFreqHz = 3000
	DefaultStatusPin   = 26
)

// ErrPhaseCount is returned by Set when the number of phases does not match
// the number of driven motors.
var ErrPhaseCount = errors.New("actuator: phase count does not match motors")

// ProgramRecorder is told about every program the motors load. It is
// optional; storage and telemetry implement it.
type ProgramRecorder interface {
	RecordProgram(ctx context.Context, phases []float64, pulses []waveform.Pulse) error
}

// Motors is a bank of square-wave outputs sharing one frequency. The first
// pin carries the reference wave; each further pin is a motor whose phase
// offset against the reference sets its effect.
type Motors struct {
	engine   engine.Engine
	pins     []int
	periodUS uint32
	recorder ProgramRecorder

	mu     sync.Mutex
	phases []float64
	on     bool
}

// NewMotors builds a controller for pins (reference first) at freqHz.
func NewMotors(e engine.Engine, pins []int, freqHz float64) (*Motors, error) {
	if e == nil {
		return nil, errors.New("actuator: engine is required")
	}
	if len(pins) < 2 {
		return nil, fmt.Errorf("actuator: need a reference pin and at least one motor, got %d pins", len(pins))
	}
	if len(pins) > waveform.MaxChannels {
		return nil, waveform.ErrTooManyChannels
	}
	period := waveform.PeriodForFrequency(freqHz)
	if period < 2 {
		return nil, fmt.Errorf("actuator: frequency %v Hz gives a period of %dus: %w", freqHz, period, waveform.ErrPeriodTooShort)
	}
	return &Motors{
		engine:   e,
		pins:     slices.Clone(pins),
		periodUS: period,
	}, nil
}

// SetRecorder installs r to be told about every loaded program.
func (m *Motors) SetRecorder(r ProgramRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

// Count is the number of driven motors, excluding the reference.
func (m *Motors) Count() int { return len(m.pins) - 1 }

// PeriodUS is the wave period in microseconds.
func (m *Motors) PeriodUS() uint32 { return m.periodUS }

// Set loads a program with one phase in [0,1) per motor. The engine swaps
// programs atomically, so motors never see a partial program.
func (m *Motors) Set(ctx context.Context, phases []float64) error {
	if len(phases) != m.Count() {
		return fmt.Errorf("%w: got %d, want %d", ErrPhaseCount, len(phases), m.Count())
	}
	channels, err := waveform.Synthesize(m.periodUS, phases)
	if err != nil {
		return err
	}
	pulses, err := waveform.RemapChannels(channels, m.pins)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.engine.Replace(ctx, pulses); err != nil {
		return fmt.Errorf("actuator: loading program: %w", err)
	}
	m.phases = slices.Clone(phases)
	m.on = true

	if m.recorder != nil {
		if err := m.recorder.RecordProgram(ctx, m.phases, pulses); err != nil {
			opsf("recording program: %v", err)
		}
	}
	return nil
}

// Off stops the program and drives all motor pins low.
func (m *Motors) Off(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.engine.Stop(ctx); err != nil {
		return fmt.Errorf("actuator: stopping motors: %w", err)
	}
	m.on = false
	return nil
}

// Phases returns the phases last loaded and whether the motors are running.
func (m *Motors) Phases() ([]float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.phases), m.on
}
