package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/banshee-data/wigglebot/internal/waveform"
)

// MemoryEngine is an in-process Engine used when no pulse engine is
// attached (engine_port unset) and in tests. It keeps every program it is
// given so callers can inspect what would have been sent.
type MemoryEngine struct {
	mu          sync.Mutex
	program     Program
	history     []Program
	levels      map[int]bool
	commands    []string
	subscribers map[string]chan string
	closing     bool

	// ReplaceErr, when set, is returned by the next Replace.
	ReplaceErr error
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		levels:      make(map[int]bool),
		subscribers: make(map[string]chan string),
	}
}

func (m *MemoryEngine) Replace(ctx context.Context, pulses []waveform.Pulse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrClosed
	}
	if m.ReplaceErr != nil {
		err := m.ReplaceErr
		m.ReplaceErr = nil
		return err
	}
	m.program = Program{Pulses: slices.Clone(pulses), Running: len(pulses) > 0}
	m.history = append(m.history, m.program)
	m.broadcastLocked("OK")
	return nil
}

func (m *MemoryEngine) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrClosed
	}
	m.program.Running = false
	m.broadcastLocked("OK")
	return nil
}

func (m *MemoryEngine) SetLevel(ctx context.Context, pin int, high bool) error {
	if err := validPin(pin); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrClosed
	}
	m.levels[pin] = high
	m.broadcastLocked("OK")
	return nil
}

// SendCommand records a raw console command and acknowledges it.
func (m *MemoryEngine) SendCommand(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrClosed
	}
	m.commands = append(m.commands, command)
	m.broadcastLocked("OK")
	return nil
}

// Program returns the current program.
func (m *MemoryEngine) Program() Program {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Program{Pulses: slices.Clone(m.program.Pulses), Running: m.program.Running}
}

// History returns every program passed to Replace, oldest first.
func (m *MemoryEngine) History() []Program {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

// Level reports the last level set on pin.
func (m *MemoryEngine) Level(pin int) (high, set bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	high, set = m.levels[pin]
	return high, set
}

// Commands returns the raw commands sent through SendCommand.
func (m *MemoryEngine) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.commands)
}

func (m *MemoryEngine) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = ch
	return id, ch
}

func (m *MemoryEngine) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *MemoryEngine) broadcastLocked(line string) {
	for _, ch := range m.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Monitor blocks until ctx is done; there is no device to read from.
func (m *MemoryEngine) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil
	}
	m.closing = true
	m.program.Running = false
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	return nil
}
