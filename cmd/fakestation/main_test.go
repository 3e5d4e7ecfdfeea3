package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/satlink/internal/fakestation"
	"github.com/danmuck/satlink/internal/testutil/testlog"
	"github.com/danmuck/satlink/internal/transport"
)

func TestApplyFlagsOnlyOverridesChanged(t *testing.T) {
	testlog.Start(t)
	var f cliFlags
	fs := newFlagSet(&f)
	require.NoError(t, fs.Parse([]string{
		"--listen", "0.0.0.0:9000",
		"--transport", "QUIC",
		"--known-entity", "sat-5,sat-6",
		"--cadence", "250ms",
	}))

	cfg := fakestation.DefaultConfig()
	cfg.BatchCount = 42
	applyFlags(fs, f, &cfg)

	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Equal(t, transport.KindQUIC, cfg.Transport.Kind)
	assert.Equal(t, []string{"sat-5", "sat-6"}, cfg.KnownEntities)
	assert.Equal(t, 250*time.Millisecond, cfg.Cadence)
	assert.Equal(t, 42, cfg.BatchCount)
	assert.Empty(t, cfg.AdminAddr)
}
