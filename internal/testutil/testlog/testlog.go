// Package testlog wires the test logging profile into a test run.
package testlog

import (
	"testing"
	"time"

	"github.com/danmuck/satlink/internal/logging"
)

// Start configures test logging and brackets the test with start/finish lines.
func Start(t testing.TB) {
	t.Helper()
	logging.ConfigureTests()
	l := logging.WithComponent("test")
	start := time.Now()
	l.Debug().Str("test", t.Name()).Msg("test start")
	t.Cleanup(func() {
		l.Debug().
			Str("test", t.Name()).
			Bool("failed", t.Failed()).
			Dur("elapsed", time.Since(start)).
			Msg("test finish")
	})
}
