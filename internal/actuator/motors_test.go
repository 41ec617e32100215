package actuator

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wigglebot/internal/engine"
	"github.com/banshee-data/wigglebot/internal/waveform"
)

type programLog struct {
	phases [][]float64
	err    error
}

func (p *programLog) RecordProgram(_ context.Context, phases []float64, _ []waveform.Pulse) error {
	p.phases = append(p.phases, phases)
	return p.err
}

func TestNewMotors_Validation(t *testing.T) {
	e := engine.NewMemoryEngine()

	_, err := NewMotors(nil, DefaultMotorPins, DefaultMotorFreqHz)
	assert.Error(t, err)
	_, err = NewMotors(e, []int{19}, DefaultMotorFreqHz)
	assert.Error(t, err)
	_, err = NewMotors(e, DefaultMotorPins, 0)
	assert.ErrorIs(t, err, waveform.ErrPeriodTooShort)
	_, err = NewMotors(e, DefaultMotorPins, 1e6)
	assert.ErrorIs(t, err, waveform.ErrPeriodTooShort)

	m, err := NewMotors(e, DefaultMotorPins, DefaultMotorFreqHz)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Count())
	assert.Equal(t, uint32(333), m.PeriodUS())
}

func TestMotors_SetLoadsRemappedProgram(t *testing.T) {
	e := engine.NewMemoryEngine()
	m, err := NewMotors(e, DefaultMotorPins, DefaultMotorFreqHz)
	require.NoError(t, err)
	rec := &programLog{}
	m.SetRecorder(rec)

	ctx := context.Background()
	require.NoError(t, m.Set(ctx, []float64{0, 0.25, 0.5}))

	channels, err := waveform.Synthesize(333, []float64{0, 0.25, 0.5})
	require.NoError(t, err)
	want, err := waveform.RemapChannels(channels, DefaultMotorPins)
	require.NoError(t, err)

	got := e.Program()
	assert.True(t, got.Running)
	if diff := cmp.Diff(want, got.Pulses); diff != "" {
		t.Errorf("program mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(333), got.PeriodUS())

	// The reference and first motor share phase 0, so pins 19 and 20 rise
	// together in the first pulse.
	assert.Equal(t, uint32(1<<19|1<<20), got.Pulses[0].RisingMask)

	phases, on := m.Phases()
	assert.True(t, on)
	assert.Equal(t, []float64{0, 0.25, 0.5}, phases)
	assert.Equal(t, [][]float64{{0, 0.25, 0.5}}, rec.phases)
}

func TestMotors_SetErrors(t *testing.T) {
	e := engine.NewMemoryEngine()
	m, err := NewMotors(e, DefaultMotorPins, DefaultMotorFreqHz)
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, m.Set(ctx, []float64{0.1}), ErrPhaseCount)
	assert.ErrorIs(t, m.Set(ctx, []float64{0.1, -0.2, 0.3}), waveform.ErrInvalidPhase)

	e.ReplaceErr = errors.New("engine busy")
	assert.Error(t, m.Set(ctx, []float64{0.1, 0.2, 0.3}))
	_, on := m.Phases()
	assert.False(t, on)
	assert.Empty(t, e.History())
}

func TestMotors_RecorderFailureIsNotFatal(t *testing.T) {
	e := engine.NewMemoryEngine()
	m, err := NewMotors(e, DefaultMotorPins, DefaultMotorFreqHz)
	require.NoError(t, err)
	m.SetRecorder(&programLog{err: errors.New("disk full")})

	assert.NoError(t, m.Set(context.Background(), []float64{0.1, 0.2, 0.3}))
}

func TestMotors_Off(t *testing.T) {
	e := engine.NewMemoryEngine()
	m, err := NewMotors(e, DefaultMotorPins, DefaultMotorFreqHz)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, []float64{0.1, 0.2, 0.3}))
	require.NoError(t, m.Off(ctx))
	assert.False(t, e.Program().Running)
	_, on := m.Phases()
	assert.False(t, on)

	require.NoError(t, e.Close())
	assert.ErrorIs(t, m.Off(ctx), engine.ErrClosed)
}

func TestStatusLED(t *testing.T) {
	e := engine.NewMemoryEngine()
	led := StatusLED{Engine: e, Pin: DefaultStatusPin}

	require.NoError(t, led.SetCapturing(true))
	high, set := e.Level(DefaultStatusPin)
	assert.True(t, set)
	assert.True(t, high)

	require.NoError(t, led.SetCapturing(false))
	high, _ = e.Level(DefaultStatusPin)
	assert.False(t, high)

	assert.Error(t, StatusLED{Engine: e, Pin: 40}.SetCapturing(true))
}
