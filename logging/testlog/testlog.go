// Package testlog routes package tests through the test logging profile
package testlog

import (
	"testing"

	"github.com/rs/zerolog/log"

	"vdblink/logging"
)

// Start configures test logging and marks the start of t in the log
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
}
