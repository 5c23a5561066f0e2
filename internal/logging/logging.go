package logging

import (
	"io"
	"os"
	"time"

	"github.com/Wyydra/callhub/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global zerolog logger described by cfg and returns it.
func Setup(cfg config.LogConfig) (zerolog.Logger, error) {
	return setup(cfg, os.Stdout)
}

func setup(cfg config.LogConfig, out io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, err
	}

	w := out
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	l := zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
	zerolog.SetGlobalLevel(level)
	log.Logger = l
	return l, nil
}
