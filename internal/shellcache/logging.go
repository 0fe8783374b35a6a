package shellcache

import (
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from the logging section of the config.
func NewLogger(cfg Config, out io.Writer) (*log.Logger, error) {
	lvl, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, errors.Wrap(err, "logging.level")
	}
	l := log.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	if cfg.Logging.Format == "json" {
		l.SetFormatter(&log.JSONFormatter{})
	} else {
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000000"})
	}
	return l, nil
}

// discardLogger is used when a component is built without a logger.
func discardLogger() *log.Entry {
	l := log.New()
	l.SetOutput(io.Discard)
	return log.NewEntry(l)
}
