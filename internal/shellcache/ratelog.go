package shellcache

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// rateLimitedLogger drops warnings that arrive within interval of the last
// emitted one. The offline fallback uses it so a dead network does not flood
// the log with one line per request.
type rateLimitedLogger struct {
	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
	dropped  int
	entry    *log.Entry
}

func newRateLimitedLogger(entry *log.Entry, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{entry: entry, interval: interval}
}

func (l *rateLimitedLogger) Warnf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		l.dropped++
		return
	}
	l.lastAt = now
	e := l.entry
	if l.dropped > 0 {
		e = e.WithField("suppressed", l.dropped)
		l.dropped = 0
	}
	e.Warnf(format, args...)
}
