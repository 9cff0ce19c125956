package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RunLogger returns the global logger tagged with the app name and input.
func RunLogger(app, input string) zerolog.Logger {
	return log.Logger.With().Str("app", app).Str("input", input).Logger()
}
