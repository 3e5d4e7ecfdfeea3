package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/satlink/internal/transport"
)

type transportFile struct {
	Kind               string `toml:"kind"`
	ConnectTimeout     string `toml:"connect_timeout"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	Linger             string `toml:"linger"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// applyTransport overlays the keys present under [transport] onto cfg.
func applyTransport(meta toml.MetaData, raw transportFile, cfg *transport.Config) error {
	if meta.IsDefined("transport", "kind") {
		cfg.Kind = transport.NormalizeKind(transport.Kind(raw.Kind))
	}
	if err := parseDurationKey(meta, raw.ConnectTimeout, &cfg.ConnectTimeout, "transport", "connect_timeout"); err != nil {
		return err
	}
	if err := parseDurationKey(meta, raw.HandshakeTimeout, &cfg.HandshakeTimeout, "transport", "handshake_timeout"); err != nil {
		return err
	}
	if err := parseDurationKey(meta, raw.Linger, &cfg.Linger, "transport", "linger"); err != nil {
		return err
	}
	if meta.IsDefined("transport", "cert_file") {
		cfg.TLS.CertFile = strings.TrimSpace(raw.CertFile)
	}
	if meta.IsDefined("transport", "key_file") {
		cfg.TLS.KeyFile = strings.TrimSpace(raw.KeyFile)
	}
	if meta.IsDefined("transport", "ca_file") {
		cfg.TLS.CAFile = strings.TrimSpace(raw.CAFile)
	}
	if meta.IsDefined("transport", "server_name") {
		cfg.TLS.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("transport", "mutual") {
		cfg.TLS.Mutual = raw.Mutual
	}
	if meta.IsDefined("transport", "insecure_skip_verify") {
		cfg.TLS.InsecureSkipVerify = raw.InsecureSkipVerify
	}
	return nil
}

// parseDurationKey sets *dst from raw when the key path is present in the file.
func parseDurationKey(meta toml.MetaData, raw string, dst *time.Duration, key ...string) error {
	if !meta.IsDefined(key...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
	}
	*dst = d
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
