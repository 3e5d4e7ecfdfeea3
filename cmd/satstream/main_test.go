package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/satlink/internal/config"
	"github.com/danmuck/satlink/internal/fakestation"
	"github.com/danmuck/satlink/internal/protocol/wire"
	"github.com/danmuck/satlink/internal/stream"
	"github.com/danmuck/satlink/internal/testutil/testlog"
	"github.com/danmuck/satlink/internal/transport"
)

func TestApplyFlagsOverlaysConfig(t *testing.T) {
	testlog.Start(t)
	var f cliFlags
	fs := newFlagSet(&f)
	require.NoError(t, fs.Parse([]string{
		"--entity", " sat-9 ",
		"--transport", "TLS",
		"--ca-file", "ca.pem",
		"--max-attempts", "7",
		"--command", "70696e67",
		"--command", "",
		"-o", "out.bin",
	}))

	cfg := config.DefaultClient()
	cfg.Session.ChannelSetID = "cs-from-file"
	require.NoError(t, applyFlags(fs, f, &cfg))

	assert.Equal(t, "sat-9", cfg.Session.EntityID)
	assert.Equal(t, "cs-from-file", cfg.Session.ChannelSetID)
	assert.Equal(t, transport.KindTLS, cfg.Transport.Kind)
	assert.Equal(t, "ca.pem", cfg.Transport.TLS.CAFile)
	assert.Equal(t, 7, cfg.Session.MaxAttempts)
	assert.Equal(t, "out.bin", cfg.TelemetryFile)
	require.Len(t, cfg.Commands, 2)
	assert.Equal(t, []byte("ping"), cfg.Commands[0])
	assert.Empty(t, cfg.Commands[1])
}

func TestApplyFlagsRejectsBadHex(t *testing.T) {
	testlog.Start(t)
	var f cliFlags
	fs := newFlagSet(&f)
	require.NoError(t, fs.Parse([]string{"--command", "zz"}))
	cfg := config.DefaultClient()
	assert.Error(t, applyFlags(fs, f, &cfg))
}

func TestExitCode(t *testing.T) {
	testlog.Start(t)
	assert.Equal(t, exitOK, exitCode(stream.Result{Reason: stream.ReasonEndOfTelemetry}))
	assert.Equal(t, exitCancelled, exitCode(stream.Result{Reason: stream.ReasonUserCancelled}))
	assert.Equal(t, exitFailed, exitCode(stream.Result{Reason: stream.ReasonPlanFailed}))
	assert.Equal(t, exitFailed, exitCode(stream.Result{Reason: stream.ReasonRetriesExhausted}))
}

func TestProgressPrinterLinePerUpdate(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	p := &progressPrinter{out: &buf}

	p.Update(stream.Snapshot{MessagesReceived: 1, BytesReceived: 8})
	p.Update(stream.Snapshot{MessagesReceived: 1, BytesReceived: 8})
	p.Update(stream.Snapshot{MessagesReceived: 2, BytesReceived: 16, PlanKnown: true, PlanStatus: wire.PlanCompleted})
	p.Finish(stream.Result{Reason: stream.ReasonEndOfTelemetry, Attempts: 1}, stream.Snapshot{MessagesReceived: 2})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "received=1")
	assert.Contains(t, lines[1], "plan=COMPLETED")
	assert.True(t, strings.HasPrefix(lines[2], "finished reason="))
}

func TestProgressPrinterInlineRedraws(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	p := &progressPrinter{out: &buf, inline: true}
	p.Update(stream.Snapshot{MessagesReceived: 1})
	p.Update(stream.Snapshot{MessagesReceived: 2})
	p.Finish(stream.Result{Reason: stream.ReasonUserCancelled}, stream.Snapshot{})
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "\r"))
	assert.Contains(t, out, "\nfinished reason=")
}

func TestWritePlansTable(t *testing.T) {
	testlog.Start(t)
	aos := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	writePlans(&buf, []wire.Plan{{ID: "3", GroundStationID: "gs-fake", AOS: aos, LOS: aos.Add(10 * time.Minute), Status: "SCHEDULED"}})
	out := buf.String()
	assert.Contains(t, out, "PLAN")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
	assert.Contains(t, out, "SCHEDULED")
}

func TestRunSessionWritesTelemetryFile(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stationCfg := fakestation.DefaultConfig()
	stationCfg.ListenAddr = "127.0.0.1:0"
	stationCfg.BatchCount = 3
	stationCfg.ItemsPerBatch = 1
	stationCfg.PayloadSize = 8
	stationCfg.Cadence = time.Millisecond
	srv, err := fakestation.New(stationCfg)
	require.NoError(t, err)
	ln, err := transport.Listen(stationCfg.ListenAddr, stationCfg.Transport)
	require.NoError(t, err)
	serveCtx, stopServe := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(serveCtx, ln) }()
	defer func() {
		stopServe()
		<-served
	}()

	dir := t.TempDir()
	progress, err := os.Create(filepath.Join(dir, "progress.txt"))
	require.NoError(t, err)
	defer progress.Close()

	cfg := config.DefaultClient()
	cfg.Session.Endpoint = ln.Addr()
	cfg.Session.EntityID = "sat-5"
	cfg.TelemetryFile = filepath.Join(dir, "telemetry.bin")

	assert.Equal(t, exitOK, runSession(ctx, cfg, progress))

	data, err := os.ReadFile(cfg.TelemetryFile)
	require.NoError(t, err)
	assert.Len(t, data, 3*8)

	report, err := os.ReadFile(progress.Name())
	require.NoError(t, err)
	assert.Contains(t, string(report), "finished reason=")
}
