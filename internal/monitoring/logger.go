// Package monitoring configures process logging.
//
// Packages log through three streams, following the convention used across
// the codebase:
//   - ops:   actionable warnings, errors, data loss
//   - diag:  day-to-day diagnostics and tuning context
//   - trace: per-frame telemetry, burst-sampled so it cannot flood the sink
//
// Streams are backed by a zerolog.Logger built by Setup.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rs/zerolog"
)

// Logf is the package-level diagnostic logger for code that has no stream
// of its own (mostly cmd/). It defaults to the global zerolog logger at info
// level and may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	base.Info().Msgf(format, v...)
}

var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Options selects where logs go.
type Options struct {
	// Level is one of TRACE, DEBUG, INFO, WARN, ERROR. Unknown values mean INFO.
	Level string
	// Console receives human-readable output; nil means os.Stderr.
	Console io.Writer
	// File, when set, receives the same output without colours.
	File io.Writer
	// GELFAddress, when set, also ships JSON records to Graylog over UDP.
	GELFAddress string
}

// ParseLevel converts a level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup builds the process logger, installs it as the base for Logf and
// returns it. The returned closer releases the GELF connection, if any.
func Setup(opts Options) (zerolog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339},
	}
	if opts.File != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.File, TimeFormat: time.RFC3339, NoColor: true})
	}

	var closer io.Closer = nopCloser{}
	if opts.GELFAddress != "" {
		gw, err := gelf.NewWriter(opts.GELFAddress)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create GELF writer for %s: %w", opts.GELFAddress, err)
		}
		writers = append(writers, gw)
		closer = gw
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()

	base = logger
	Logf = func(format string, v ...interface{}) {
		base.Info().Msgf(format, v...)
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Streams is the ops/diag/trace trio for one component.
type Streams struct {
	ops   zerolog.Logger
	diag  zerolog.Logger
	trace zerolog.Logger
	quiet bool
}

// NewStreams derives the three streams for component from l. The trace
// stream allows a burst of 5 records per second, then 1 in 50.
func NewStreams(l zerolog.Logger, component string) Streams {
	c := l.With().Str("component", component).Logger()
	return Streams{
		ops:  c,
		diag: c,
		trace: c.Sample(&zerolog.BurstSampler{
			Burst:       5,
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: 50},
		}),
	}
}

// Discard returns streams that drop everything.
func Discard() Streams {
	nop := zerolog.Nop()
	return Streams{ops: nop, diag: nop, trace: nop, quiet: true}
}

// Opsf logs to the ops stream at warn level.
func (s Streams) Opsf(format string, args ...interface{}) {
	s.ops.Warn().Msgf(format, args...)
}

// Diagf logs to the diag stream at info level.
func (s Streams) Diagf(format string, args ...interface{}) {
	s.diag.Info().Msgf(format, args...)
}

// Tracef logs to the sampled trace stream at debug level.
func (s Streams) Tracef(format string, args ...interface{}) {
	s.trace.Debug().Msgf(format, args...)
}

// Enabled reports whether the streams write anywhere.
func (s Streams) Enabled() bool { return !s.quiet }
