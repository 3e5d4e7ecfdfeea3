package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindSatstream   = "satstream"
	KindFakestation = "fakestation"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindSatstream:
		return satstreamTemplate, nil
	case KindFakestation:
		return fakestationTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as kind and checks the result.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindSatstream:
		cfg, err := LoadClient(path)
		if err != nil {
			return err
		}
		if err := cfg.Session.Validate(); err != nil {
			return err
		}
		return cfg.Transport.WithDefaults().ValidateClient()
	case KindFakestation:
		cfg, err := LoadStation(path)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return cfg.Transport.WithDefaults().ValidateServer()
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const satstreamTemplate = `endpoint = "127.0.0.1:7400"
entity_id = "sat-5"
channel_set_id = "cs-1"
enable_events = true
enable_flow_control = false
accepted_framing = ["AX25"]
max_attempts = 5
join_timeout = "5s"
telemetry_file = "telemetry.bin"
command_channel = "ch-1"
commands = ["70696e67"]

[backoff]
initial = "250ms"
multiplier = 2.0
max = "5s"
jitter = true

[transport]
kind = "tcp"
connect_timeout = "5s"
handshake_timeout = "5s"
`

const fakestationTemplate = `listen_addr = "127.0.0.1:7400"
admin_addr = "127.0.0.1:7401"
admin_token = ""
known_entities = ["sat-5"]
plan_id = "3"
ground_station_id = "gs-fake"
batch_count = 10
items_per_batch = 2
payload_size = 64
cadence = "100ms"
framing = "AX25"
session_timeout = "0s"
plan_page_size = 3

[transport]
kind = "tcp"
`
