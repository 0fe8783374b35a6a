package shellcache

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultShell is the app shell seeded at install when the config lists none.
var DefaultShell = []string{
	"/",
	"/index.html",
	"/styles.css",
	"/app.js",
	"/manifest.json",
	"/images/pixel.png",
	"/images/audifonos.png",
	"/images/laptop.png",
	"/images/camara.png",
	"/images/tablet.png",
	"/images/smartwatch.png",
}

// DefaultMaxBodyBytes is the request body cap when server.maxBodyBytes is unset.
const DefaultMaxBodyBytes = 10 << 20

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		Origin string `yaml:"origin"`
		// MaxBodyBytes caps proxied request bodies.
		MaxBodyBytes int64 `yaml:"maxBodyBytes"`
	} `yaml:"server"`

	Cache CacheConfig `yaml:"cache"`

	Network struct {
		Timeout string `yaml:"timeout"`

		timeoutDur time.Duration
	} `yaml:"network"`

	Sync SyncConfig `yaml:"sync"`

	Push PushConfig `yaml:"push"`

	Logging struct {
		Level         string `yaml:"level"`
		Format        string `yaml:"format"`
		LogStatsEvery string `yaml:"logStatsEvery"`

		logStatsEveryDur time.Duration
	} `yaml:"logging"`
}

type CacheConfig struct {
	Prefix  string `yaml:"prefix"`
	Version string `yaml:"version"`
	// Dir is the LevelDB directory. Empty keeps generations in memory.
	Dir string `yaml:"dir"`
	// SkipWaiting defaults to true when omitted.
	SkipWaiting *bool    `yaml:"skipWaiting"`
	Shell       []string `yaml:"shell"`
}

// Name is the generation name, "<prefix>-<version>".
func (c CacheConfig) Name() string {
	return c.Prefix + "-" + c.Version
}

type SyncConfig struct {
	Tag      string `yaml:"tag"`
	Endpoint string `yaml:"endpoint"`
}

type PushConfig struct {
	Title       string `yaml:"title"`
	DefaultBody string `yaml:"defaultBody"`
	Icon        string `yaml:"icon"`
	Badge       string `yaml:"badge"`
	Vibrate     []int  `yaml:"vibrate"`
	OpenURL     string `yaml:"openURL"`
}

// envOverrides are applied on top of the YAML file when set.
type envOverrides struct {
	Port         int    `env:"SHELLCACHE_PORT"`
	Origin       string `env:"SHELLCACHE_ORIGIN"`
	CacheVersion string `env:"SHELLCACHE_CACHE_VERSION"`
	CacheDir     string `env:"SHELLCACHE_CACHE_DIR"`
	LogLevel     string `env:"SHELLCACHE_LOG_LEVEL"`
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	cfg.applyEnv(ov)

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(ov envOverrides) {
	if ov.Port != 0 {
		c.Server.Port = ov.Port
	}
	if ov.Origin != "" {
		c.Server.Origin = ov.Origin
	}
	if ov.CacheVersion != "" {
		c.Cache.Version = ov.CacheVersion
	}
	if ov.CacheDir != "" {
		c.Cache.Dir = ov.CacheDir
	}
	if ov.LogLevel != "" {
		c.Logging.Level = ov.LogLevel
	}
}

func (c *Config) normalize() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Origin == "" {
		return errors.New("server.origin is required")
	}
	c.Server.Origin = strings.TrimRight(c.Server.Origin, "/")
	if c.Server.MaxBodyBytes < 0 {
		return errors.Errorf("server.maxBodyBytes: %d is negative", c.Server.MaxBodyBytes)
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "app-shell"
	}
	if c.Cache.Version == "" {
		c.Cache.Version = "v1"
	}
	if c.Cache.SkipWaiting == nil {
		skip := true
		c.Cache.SkipWaiting = &skip
	}
	if len(c.Cache.Shell) == 0 {
		c.Cache.Shell = append([]string(nil), DefaultShell...)
	}
	for i, u := range c.Cache.Shell {
		if !strings.HasPrefix(u, "/") {
			return errors.Errorf("cache.shell[%d]: %q is not root-relative", i, u)
		}
	}

	if c.Network.Timeout != "" {
		d, err := time.ParseDuration(c.Network.Timeout)
		if err != nil {
			return errors.Wrap(err, "network.timeout")
		}
		c.Network.timeoutDur = d
	}

	if c.Sync.Tag == "" {
		c.Sync.Tag = "sync-products"
	}
	if c.Sync.Endpoint == "" {
		c.Sync.Endpoint = "/api/products"
	}

	if c.Push.Title == "" {
		c.Push.Title = "Mi Tienda PWA"
	}
	if c.Push.DefaultBody == "" {
		c.Push.DefaultBody = "New notification"
	}
	if c.Push.Icon == "" {
		c.Push.Icon = "/images/icon-192x192.png"
	}
	if c.Push.Badge == "" {
		c.Push.Badge = "/images/badge-72x72.png"
	}
	if len(c.Push.Vibrate) == 0 {
		c.Push.Vibrate = []int{200, 100, 200}
	}
	if c.Push.OpenURL == "" {
		c.Push.OpenURL = "/"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "text"
	case "text", "json":
	default:
		return errors.Errorf("logging.format: unsupported %q", c.Logging.Format)
	}
	if c.Logging.LogStatsEvery != "" {
		d, err := time.ParseDuration(c.Logging.LogStatsEvery)
		if err != nil {
			return errors.Wrap(err, "logging.logStatsEvery")
		}
		c.Logging.logStatsEveryDur = d
	}
	return nil
}

func (c Config) skipWaiting() bool {
	return c.Cache.SkipWaiting == nil || *c.Cache.SkipWaiting
}
