package logger

import (
	"os"

	"github.com/evansantos/slimclaw/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger. Development environments get a
// human-readable console writer; everything else gets plain JSON lines
// suitable for log aggregation.
func New(cfg *config.Config) zerolog.Logger {
	var w zerolog.ConsoleWriter
	lvl := zerolog.InfoLevel
	if cfg.Env == "development" {
		lvl = zerolog.DebugLevel
		w = zerolog.ConsoleWriter{Out: os.Stderr}
		zerolog.SetGlobalLevel(lvl)
		return zerolog.New(w).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
