package actuator

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/banshee-data/wigglebot/internal/monitoring"
)

var (
	mu   sync.RWMutex
	logs = monitoring.Discard()
)

// SetLogger routes the actuator's log streams through l. It is safe to call while
// the package is in use.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logs = monitoring.NewStreams(l, "actuator")
}

func streams() monitoring.Streams {
	mu.RLock()
	defer mu.RUnlock()
	return logs
}

func opsf(format string, args ...interface{}) { streams().Opsf(format, args...) }
