// Package logger sets up the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config mirrors the log section of the application config.
type Config struct {
	Level  string
	Output string
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// Init builds a logger from cfg and installs it as the global zerolog logger.
func Init(cfg Config) (zerolog.Logger, error) {
	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), err
		}
	}

	l := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "kioskd").
		Logger()

	log.Logger = l
	return l, nil
}
