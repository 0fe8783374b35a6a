package shellcache

import (
	"bytes"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitedLogger(t *testing.T) {
	var buf bytes.Buffer
	l := log.New()
	l.SetOutput(&buf)
	l.SetFormatter(&log.TextFormatter{DisableTimestamp: true})

	rl := newRateLimitedLogger(log.NewEntry(l), time.Hour)
	rl.Warnf("offline %d", 1)
	rl.Warnf("offline %d", 2)
	rl.Warnf("offline %d", 3)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "offline"))
	assert.Contains(t, out, "offline 1")

	rl.lastAt = time.Now().Add(-2 * time.Hour)
	rl.Warnf("offline %d", 4)
	assert.Contains(t, buf.String(), "suppressed=2")
}
