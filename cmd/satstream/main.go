package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/danmuck/satlink/internal/client"
	"github.com/danmuck/satlink/internal/config"
	"github.com/danmuck/satlink/internal/logging"
	"github.com/danmuck/satlink/internal/protocol/wire"
	"github.com/danmuck/satlink/internal/stream"
	"github.com/danmuck/satlink/internal/transport"
)

const (
	exitOK        = 0
	exitFailed    = 1
	exitUsage     = 2
	exitCancelled = 130
)

type cliFlags struct {
	configPath     string
	endpoint       string
	entityID       string
	channelSetID   string
	kind           string
	caFile         string
	certFile       string
	keyFile        string
	serverName     string
	insecure       bool
	maxAttempts    int
	out            string
	commandChannel string
	commands       []string
	listPlans      bool
	window         time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr *os.File) int {
	logging.ConfigureRuntime()
	log := logging.WithComponent("satstream")

	var f cliFlags
	fs := newFlagSet(&f)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg := config.DefaultClient()
	if f.configPath != "" {
		loaded, err := config.LoadClient(f.configPath)
		if err != nil {
			log.Error().Err(err).Str("path", f.configPath).Msg("satstream config load failed")
			return exitUsage
		}
		cfg = loaded
	}
	if err := applyFlags(fs, f, &cfg); err != nil {
		log.Error().Err(err).Msg("satstream invalid flags")
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.listPlans {
		return listPlans(ctx, cfg, f.window, stdout)
	}
	return runSession(ctx, cfg, stderr)
}

func newFlagSet(f *cliFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("satstream", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "TOML config file")
	fs.StringVar(&f.endpoint, "endpoint", "", "station address host:port")
	fs.StringVar(&f.entityID, "entity", "", "entity id to stream for")
	fs.StringVar(&f.channelSetID, "channel-set", "", "channel set id sent in setup")
	fs.StringVar(&f.kind, "transport", "", "transport: tcp|tls|quic")
	fs.StringVar(&f.caFile, "ca-file", "", "CA bundle for verifying the station")
	fs.StringVar(&f.certFile, "cert-file", "", "client certificate for mutual TLS")
	fs.StringVar(&f.keyFile, "key-file", "", "client key for mutual TLS")
	fs.StringVar(&f.serverName, "server-name", "", "TLS server name override")
	fs.BoolVar(&f.insecure, "insecure-skip-verify", false, "skip station certificate verification")
	fs.IntVar(&f.maxAttempts, "max-attempts", 0, "connection attempts before giving up")
	fs.StringVarP(&f.out, "out", "o", "", "file that receives telemetry payloads")
	fs.StringVar(&f.commandChannel, "command-channel", "", "channel id for --command payloads")
	fs.StringArrayVar(&f.commands, "command", nil, "hex-encoded command payload (repeatable)")
	fs.BoolVar(&f.listPlans, "list-plans", false, "list upcoming plans and exit")
	fs.DurationVar(&f.window, "window", time.Hour, "look-ahead window for --list-plans")
	return fs
}

// applyFlags overlays explicitly set flags on top of the file config.
func applyFlags(fs *pflag.FlagSet, f cliFlags, cfg *config.Client) error {
	if fs.Changed("endpoint") {
		cfg.Session.Endpoint = strings.TrimSpace(f.endpoint)
	}
	if fs.Changed("entity") {
		cfg.Session.EntityID = strings.TrimSpace(f.entityID)
	}
	if fs.Changed("channel-set") {
		cfg.Session.ChannelSetID = strings.TrimSpace(f.channelSetID)
	}
	if fs.Changed("transport") {
		cfg.Transport.Kind = transport.NormalizeKind(transport.Kind(f.kind))
	}
	if fs.Changed("ca-file") {
		cfg.Transport.TLS.CAFile = f.caFile
	}
	if fs.Changed("cert-file") {
		cfg.Transport.TLS.CertFile = f.certFile
		cfg.Transport.TLS.Mutual = true
	}
	if fs.Changed("key-file") {
		cfg.Transport.TLS.KeyFile = f.keyFile
	}
	if fs.Changed("server-name") {
		cfg.Transport.TLS.ServerName = f.serverName
	}
	if fs.Changed("insecure-skip-verify") {
		cfg.Transport.TLS.InsecureSkipVerify = f.insecure
	}
	if fs.Changed("max-attempts") {
		cfg.Session.MaxAttempts = f.maxAttempts
	}
	if fs.Changed("out") {
		cfg.TelemetryFile = f.out
	}
	if fs.Changed("command-channel") {
		cfg.CommandChannel = f.commandChannel
	}
	if fs.Changed("command") {
		cmds, err := config.DecodeCommands(f.commands)
		if err != nil {
			return err
		}
		cfg.Commands = cmds
	}
	return nil
}

func runSession(ctx context.Context, cfg config.Client, stderr *os.File) int {
	log := logging.WithComponent("satstream")

	tr, err := client.NewStreamTransport(cfg.Session.Endpoint, cfg.Transport)
	if err != nil {
		log.Error().Err(err).Msg("satstream transport config invalid")
		return exitUsage
	}
	sink, err := os.OpenFile(cfg.TelemetryFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.TelemetryFile).Msg("satstream open telemetry file failed")
		return exitFailed
	}
	defer sink.Close()

	progress := newProgressPrinter(stderr)
	sessCfg := cfg.Session
	sessCfg.OnProgress = progress.Update
	sess, err := stream.New(sessCfg, tr, sink)
	if err != nil {
		log.Error().Err(err).Msg("satstream session config invalid")
		return exitUsage
	}
	for _, cmd := range cfg.Commands {
		if err := sess.Send(cfg.CommandChannel, cmd); err != nil {
			log.Error().Err(err).Msg("satstream queue command failed")
			return exitFailed
		}
	}

	res := sess.Run(ctx)
	progress.Finish(res, sess.Stats())
	if err := sink.Sync(); err != nil {
		log.Warn().Err(err).Msg("satstream telemetry sync failed")
	}
	return exitCode(res)
}

func exitCode(res stream.Result) int {
	switch res.Reason {
	case stream.ReasonEndOfTelemetry:
		return exitOK
	case stream.ReasonUserCancelled:
		return exitCancelled
	default:
		return exitFailed
	}
}

func listPlans(ctx context.Context, cfg config.Client, window time.Duration, stdout io.Writer) int {
	log := logging.WithComponent("satstream")
	c, err := client.New(cfg.Session.Endpoint, cfg.Transport)
	if err != nil {
		log.Error().Err(err).Msg("satstream client config invalid")
		return exitUsage
	}
	now := time.Now()
	plans, err := c.ListPlans(ctx, wire.ListPlans{
		EntityID:  cfg.Session.EntityID,
		AOSAfter:  now,
		AOSBefore: now.Add(window),
	})
	if err != nil {
		log.Error().Err(err).Stringer("code", wire.StatusCode(err)).Msg("satstream list plans failed")
		return exitFailed
	}
	writePlans(stdout, plans)
	return exitOK
}

func writePlans(w io.Writer, plans []wire.Plan) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tSTATION\tAOS\tLOS\tSTATUS")
	for _, p := range plans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.GroundStationID, p.AOS.Format(time.RFC3339), p.LOS.Format(time.RFC3339), p.Status)
	}
	_ = tw.Flush()
}
