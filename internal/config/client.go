// Package config loads satstream and fakestation TOML files. Keys that are
// absent keep their Default* values.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/satlink/internal/stream"
	"github.com/danmuck/satlink/internal/transport"
)

// Client is everything cmd/satstream needs to run one session.
type Client struct {
	Session        stream.Config
	Transport      transport.Config
	TelemetryFile  string
	CommandChannel string
	Commands       [][]byte
}

func DefaultClient() Client {
	sess := stream.DefaultConfig()
	sess.Endpoint = "127.0.0.1:7400"
	return Client{
		Session:        sess,
		Transport:      transport.DefaultConfig(),
		TelemetryFile:  "telemetry.bin",
		CommandChannel: "default",
	}
}

type clientFile struct {
	Endpoint          string        `toml:"endpoint"`
	EntityID          string        `toml:"entity_id"`
	ChannelSetID      string        `toml:"channel_set_id"`
	EnableEvents      bool          `toml:"enable_events"`
	EnableFlowControl bool          `toml:"enable_flow_control"`
	AcceptedFraming   []string      `toml:"accepted_framing"`
	MaxAttempts       int           `toml:"max_attempts"`
	JoinTimeout       string        `toml:"join_timeout"`
	TelemetryFile     string        `toml:"telemetry_file"`
	CommandChannel    string        `toml:"command_channel"`
	Commands          []string      `toml:"commands"`
	Backoff           backoffFile   `toml:"backoff"`
	Transport         transportFile `toml:"transport"`
}

type backoffFile struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     bool    `toml:"jitter"`
}

func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Client{}, fmt.Errorf("load satstream config: %w", err)
	}

	if meta.IsDefined("endpoint") {
		cfg.Session.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if meta.IsDefined("entity_id") {
		cfg.Session.EntityID = strings.TrimSpace(raw.EntityID)
	}
	if meta.IsDefined("channel_set_id") {
		cfg.Session.ChannelSetID = strings.TrimSpace(raw.ChannelSetID)
	}
	if meta.IsDefined("enable_events") {
		cfg.Session.EnableEvents = raw.EnableEvents
	}
	if meta.IsDefined("enable_flow_control") {
		cfg.Session.EnableFlowControl = raw.EnableFlowControl
	}
	if meta.IsDefined("accepted_framing") {
		cfg.Session.AcceptedFraming = normalizeList(raw.AcceptedFraming)
	}
	if meta.IsDefined("max_attempts") {
		cfg.Session.MaxAttempts = raw.MaxAttempts
	}
	if err := parseDurationKey(meta, raw.JoinTimeout, &cfg.Session.JoinTimeout, "join_timeout"); err != nil {
		return Client{}, err
	}
	if meta.IsDefined("telemetry_file") {
		cfg.TelemetryFile = strings.TrimSpace(raw.TelemetryFile)
	}
	if meta.IsDefined("command_channel") {
		cfg.CommandChannel = strings.TrimSpace(raw.CommandChannel)
	}
	if meta.IsDefined("commands") {
		cmds, err := DecodeCommands(raw.Commands)
		if err != nil {
			return Client{}, err
		}
		cfg.Commands = cmds
	}

	if err := parseDurationKey(meta, raw.Backoff.Initial, &cfg.Session.Backoff.InitialDelay, "backoff", "initial"); err != nil {
		return Client{}, err
	}
	if err := parseDurationKey(meta, raw.Backoff.Max, &cfg.Session.Backoff.MaxDelay, "backoff", "max"); err != nil {
		return Client{}, err
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Session.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Session.Backoff.Jitter = raw.Backoff.Jitter
	}

	if err := applyTransport(meta, raw.Transport, &cfg.Transport); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// DecodeCommands parses hex-encoded command payloads. An empty entry is an
// empty payload, not a missing one.
func DecodeCommands(in []string) ([][]byte, error) {
	out := make([][]byte, 0, len(in))
	for i, s := range in {
		b, err := hex.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parse commands[%d]: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}
