package shellcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("server:\n  origin: http://shop.test/\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://shop.test", cfg.Server.Origin)
	assert.Equal(t, int64(DefaultMaxBodyBytes), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "app-shell-v1", cfg.Cache.Name())
	assert.Equal(t, DefaultShell, cfg.Cache.Shell)
	assert.True(t, cfg.skipWaiting())
	assert.Equal(t, "sync-products", cfg.Sync.Tag)
	assert.Equal(t, "/api/products", cfg.Sync.Endpoint)
	assert.Equal(t, "Mi Tienda PWA", cfg.Push.Title)
	assert.Equal(t, []int{200, 100, 200}, cfg.Push.Vibrate)
	assert.Equal(t, "/", cfg.Push.OpenURL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Zero(t, cfg.Network.timeoutDur)
}

func TestParseConfigOverrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
server:
  port: 9090
  origin: http://shop.test
cache:
  prefix: store
  version: v7
  skipWaiting: false
  shell:
    - /
    - /offline.html
network:
  timeout: 5s
logging:
  format: json
  logStatsEvery: 30s
`))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "store-v7", cfg.Cache.Name())
	assert.False(t, cfg.skipWaiting())
	assert.Equal(t, []string{"/", "/offline.html"}, cfg.Cache.Shell)
	assert.Equal(t, 5*time.Second, cfg.Network.timeoutDur)
	assert.Equal(t, 30*time.Second, cfg.Logging.logStatsEveryDur)
}

func TestParseConfigEnv(t *testing.T) {
	t.Setenv("SHELLCACHE_PORT", "7000")
	t.Setenv("SHELLCACHE_ORIGIN", "http://env.test")
	t.Setenv("SHELLCACHE_CACHE_VERSION", "v9")
	t.Setenv("SHELLCACHE_CACHE_DIR", "/var/lib/shellcache")
	t.Setenv("SHELLCACHE_LOG_LEVEL", "debug")

	cfg, err := ParseConfig([]byte("server:\n  origin: http://file.test\n"))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "http://env.test", cfg.Server.Origin)
	assert.Equal(t, "app-shell-v9", cfg.Cache.Name())
	assert.Equal(t, "/var/lib/shellcache", cfg.Cache.Dir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "missing origin", yaml: "server:\n  port: 1\n", want: "server.origin is required"},
		{name: "negative body cap", yaml: "server:\n  origin: http://x\n  maxBodyBytes: -1\n", want: "server.maxBodyBytes"},
		{name: "relative shell url", yaml: "server:\n  origin: http://x\ncache:\n  shell: [index.html]\n", want: "not root-relative"},
		{name: "bad timeout", yaml: "server:\n  origin: http://x\nnetwork:\n  timeout: soon\n", want: "network.timeout"},
		{name: "bad format", yaml: "server:\n  origin: http://x\nlogging:\n  format: xml\n", want: "logging.format"},
		{name: "bad stats interval", yaml: "server:\n  origin: http://x\nlogging:\n  logStatsEvery: often\n", want: "logging.logStatsEvery"},
		{name: "invalid yaml", yaml: "server: [", want: "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseConfigBadEnv(t *testing.T) {
	t.Setenv("SHELLCACHE_PORT", "not-a-port")
	_, err := ParseConfig([]byte("server:\n  origin: http://x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shellcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  origin: http://file.test\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://file.test", cfg.Server.Origin)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(t, "logging:\n  level: warn\n  format: json\n")
	l, err := NewLogger(cfg, os.Stderr)
	require.NoError(t, err)
	assert.Equal(t, "warning", l.GetLevel().String())

	cfg.Logging.Level = "loud"
	_, err = NewLogger(cfg, os.Stderr)
	assert.Error(t, err)
}
