// Package log configures the process-wide zerolog logger and defines the
// field names shared across packages so log entries stay queryable.
package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the output level and format of the service logger.
type Config struct {
	Level       string `mapstructure:"level"`
	Pretty      bool   `mapstructure:"pretty"`
	ServiceName string `mapstructure:"service_name"`
}

var (
	root = zerolog.New(os.Stdout).With().Timestamp().Logger()
	once sync.Once
)

// New builds a logger from cfg. Unrecognized level strings fall back to
// info rather than erroring; a misconfigured level must not block startup.
func New(cfg Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if cfg.ServiceName != "" {
		logger = logger.With().Str(FieldService, cfg.ServiceName).Logger()
	}
	return logger
}

// Init installs the configured logger as the process logger and routes
// stdlib log output through it. Only the first call takes effect.
func Init(cfg Config) {
	once.Do(func() {
		root = New(cfg)

		stdlog.SetFlags(0)
		stdlog.SetOutput(root.With().Str("source", "stdlog").Logger())
	})
}

// L returns the process logger.
func L() zerolog.Logger {
	return root
}
