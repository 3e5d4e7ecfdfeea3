package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/danmuck/satlink/internal/config"
	"github.com/danmuck/satlink/internal/fakestation"
	"github.com/danmuck/satlink/internal/logging"
	"github.com/danmuck/satlink/internal/transport"
)

type cliFlags struct {
	configPath     string
	listen         string
	admin          string
	adminToken     string
	kind           string
	certFile       string
	keyFile        string
	knownEntities  []string
	batchCount     int
	cadence        time.Duration
	sessionTimeout time.Duration
}

func main() {
	logging.ConfigureRuntime()
	log := logging.WithComponent("fakestation")

	var f cliFlags
	fs := newFlagSet(&f)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	cfg := fakestation.DefaultConfig()
	if f.configPath != "" {
		loaded, err := config.LoadStation(f.configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", f.configPath).Msg("fakestation config load failed")
		}
		cfg = loaded
	}
	applyFlags(fs, f, &cfg)

	srv, err := fakestation.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("fakestation config invalid")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("fakestation exited")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("fakestation stopped")
}

func newFlagSet(f *cliFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("fakestation", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "TOML config file")
	fs.StringVar(&f.listen, "listen", "", "stream listen address host:port")
	fs.StringVar(&f.admin, "admin", "", "admin HTTP address (empty disables)")
	fs.StringVar(&f.adminToken, "admin-token", "", "bearer token required by the admin API")
	fs.StringVar(&f.kind, "transport", "", "transport: tcp|tls|quic")
	fs.StringVar(&f.certFile, "cert-file", "", "server certificate")
	fs.StringVar(&f.keyFile, "key-file", "", "server key")
	fs.StringSliceVar(&f.knownEntities, "known-entity", nil, "entity ids allowed to stream (repeatable)")
	fs.IntVar(&f.batchCount, "batch-count", 0, "telemetry batches per stream")
	fs.DurationVar(&f.cadence, "cadence", 0, "delay between telemetry batches")
	fs.DurationVar(&f.sessionTimeout, "session-timeout", 0, "drop attachments with UNAVAILABLE after this long")
	return fs
}

func applyFlags(fs *pflag.FlagSet, f cliFlags, cfg *fakestation.Config) {
	if fs.Changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if fs.Changed("admin") {
		cfg.AdminAddr = f.admin
	}
	if fs.Changed("admin-token") {
		cfg.AdminToken = f.adminToken
	}
	if fs.Changed("transport") {
		cfg.Transport.Kind = transport.NormalizeKind(transport.Kind(f.kind))
	}
	if fs.Changed("cert-file") {
		cfg.Transport.TLS.CertFile = f.certFile
	}
	if fs.Changed("key-file") {
		cfg.Transport.TLS.KeyFile = f.keyFile
	}
	if fs.Changed("known-entity") {
		cfg.KnownEntities = f.knownEntities
	}
	if fs.Changed("batch-count") {
		cfg.BatchCount = f.batchCount
	}
	if fs.Changed("cadence") {
		cfg.Cadence = f.cadence
	}
	if fs.Changed("session-timeout") {
		cfg.SessionTimeout = f.sessionTimeout
	}
}
