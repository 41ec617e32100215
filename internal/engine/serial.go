package engine

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/banshee-data/wigglebot/internal/waveform"
)

const instrumentationName = "github.com/banshee-data/wigglebot/internal/engine"

// SerialEngine drives a pulse engine over a serial port and lets several
// clients subscribe to the lines it sends back.
type SerialEngine[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex

	// commandMu serialises writes so one program is never interleaved
	// with another command.
	commandMu sync.Mutex
	program   Program

	closing   bool
	closingMu sync.Mutex

	commands metric.Int64Counter
	replies  metric.Int64Counter
}

// NewSerialEngine wraps an open port.
func NewSerialEngine[T SerialPorter](port T) (*SerialEngine[T], error) {
	m := otel.Meter(instrumentationName)

	commands, err := m.Int64Counter(
		"engine.commands.sent",
		metric.WithDescription("Command lines written to the pulse engine"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commands counter: %w", err)
	}
	replies, err := m.Int64Counter(
		"engine.replies",
		metric.WithDescription("Lines read back from the pulse engine, by class"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating replies counter: %w", err)
	}

	return &SerialEngine[T]{
		port:        port,
		subscribers: make(map[string]chan string),
		commands:    commands,
		replies:     replies,
	}, nil
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	_, _ = crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a channel for device lines. The ID identifies the
// channel when unsubscribing.
func (s *SerialEngine[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	// Checked under subscriberMu: Close sets closing before it takes the
	// lock to close subscribers, so a channel added here is always closed.
	if s.isClosing() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (s *SerialEngine[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialEngine[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// writeLocked writes lines as a single buffer. commandMu must be held.
func (s *SerialEngine[T]) writeLocked(ctx context.Context, lines ...string) error {
	if s.isClosing() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload := strings.Join(lines, "\n") + "\n"
	n, err := s.port.Write([]byte(payload))
	if err != nil {
		return fmt.Errorf("engine: write: %w", err)
	}
	if n != len(payload) {
		return ErrWriteFailed
	}
	s.commands.Add(context.Background(), int64(len(lines)))
	return nil
}

// SendCommand writes one raw command line. It is meant for the admin
// console; programs go through Replace.
func (s *SerialEngine[T]) SendCommand(ctx context.Context, command string) error {
	command = strings.TrimRight(command, "\r\n")
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	return s.writeLocked(ctx, command)
}

// Replace loads and starts pulses in one write.
func (s *SerialEngine[T]) Replace(ctx context.Context, pulses []waveform.Pulse) error {
	lines := EncodeProgram(pulses)

	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if err := s.writeLocked(ctx, lines...); err != nil {
		return err
	}
	s.program = Program{Pulses: slices.Clone(pulses), Running: len(pulses) > 0}
	tracef("program replaced: %d pulses, period %dus", len(pulses), s.program.PeriodUS())
	return nil
}

// Stop halts the program.
func (s *SerialEngine[T]) Stop(ctx context.Context) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if err := s.writeLocked(ctx, cmdStop); err != nil {
		return err
	}
	s.program.Running = false
	return nil
}

// SetLevel drives pin high or low outside the program.
func (s *SerialEngine[T]) SetLevel(ctx context.Context, pin int, high bool) error {
	if err := validPin(pin); err != nil {
		return err
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	return s.writeLocked(ctx, encodeLevel(pin, high))
}

// Program returns the last program written.
func (s *SerialEngine[T]) Program() Program {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	return Program{Pulses: slices.Clone(s.program.Pulses), Running: s.program.Running}
}

// Monitor reads lines from the device and forwards them to subscribers
// until ctx is cancelled, the port reaches EOF or Close is called.
func (s *SerialEngine[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan runs on its own goroutine so the loop below can
	// still observe cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				return nil
			}
			if s.isClosing() {
				return nil
			}

			class := ClassifyReply(line)
			s.replies.Add(context.Background(), 1, metric.WithAttributes(attribute.String("class", class)))
			if class == ReplyError {
				opsf("device reported: %s", line)
			}

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- line:
				default:
					// slow subscriber; drop rather than stall the reader
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

// Close stops the program, closes all subscriber channels and the port.
func (s *SerialEngine[T]) Close() error {
	s.commandMu.Lock()
	if !s.isClosing() && s.program.Running {
		if err := s.writeLocked(context.Background(), cmdStop); err != nil {
			opsf("stop on close: %v", err)
		}
	}
	s.commandMu.Unlock()

	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}
