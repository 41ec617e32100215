package gocvcam

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/banshee-data/wigglebot/internal/monitoring"
)

var (
	mu   sync.RWMutex
	logs = monitoring.Discard()
)

// SetLogger routes this package's logs through l. It is safe to call while
// the package is in use.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logs = monitoring.NewStreams(l, "gocvcam")
}

func streams() monitoring.Streams {
	mu.RLock()
	defer mu.RUnlock()
	return logs
}

func opsf(format string, args ...interface{})   { streams().Opsf(format, args...) }
func diagf(format string, args ...interface{})  { streams().Diagf(format, args...) }
func tracef(format string, args ...interface{}) { streams().Tracef(format, args...) }
