package logger

import (
	"os"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func New() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Caller().
		Logger()

	logger = logger.Level(zerolog.DebugLevel)

	return logger
}

// ApplyLevel sets the global level from a LOG_LEVEL string. Unknown values
// keep the current level.
func ApplyLevel(level string, logger zerolog.Logger) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logger.Warn().Str("level", level).Msg("unknown log level, keeping debug")
		return
	}
	zerolog.SetGlobalLevel(lvl)
	logger.Debug().Str("level", lvl.String()).Msg("log level applied")
}

var Module = fx.Provide(New)
