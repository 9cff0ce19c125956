package testlog

import (
	"testing"

	"github.com/danmuck/staticobf/internal/logging"
	"github.com/rs/zerolog/log"
)

// Testlog package helper configuring test logging and tagging output with the test name.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Msgf("test=%s", t.Name())
}
