package pipeline

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/banshee-data/wigglebot/internal/monitoring"
)

var (
	mu   sync.RWMutex
	logs = monitoring.Discard()
)

// SetLogger routes the pipeline's ops, diag and trace streams to l. It may
// be called while a pipeline is running.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logs = monitoring.NewStreams(l, "pipeline")
}

func streams() monitoring.Streams {
	mu.RLock()
	defer mu.RUnlock()
	return logs
}

// opsf logs to the ops stream (actionable warnings, errors, data loss).
func opsf(format string, args ...interface{}) {
	streams().Opsf(format, args...)
}

// diagf logs to the diag stream (day-to-day diagnostics, tuning context).
func diagf(format string, args ...interface{}) {
	streams().Diagf(format, args...)
}

// tracef logs to the trace stream (high-frequency frame telemetry).
func tracef(format string, args ...interface{}) {
	streams().Tracef(format, args...)
}
