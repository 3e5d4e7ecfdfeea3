package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/satlink/internal/testutil/testlog"
	"github.com/danmuck/satlink/internal/transport"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadClientTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "satstream.toml")
	if err := WriteTemplate(path, KindSatstream, false); err != nil {
		t.Fatalf("write template: %v", err)
	}

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("load client: %v", err)
	}
	if cfg.Session.EntityID != "sat-5" || cfg.Session.ChannelSetID != "cs-1" {
		t.Fatalf("unexpected identity: %+v", cfg.Session)
	}
	if cfg.Session.Backoff.InitialDelay != 250*time.Millisecond || cfg.Session.Backoff.MaxDelay != 5*time.Second {
		t.Fatalf("unexpected backoff: %+v", cfg.Session.Backoff)
	}
	if len(cfg.Commands) != 1 || string(cfg.Commands[0]) != "ping" {
		t.Fatalf("unexpected commands: %q", cfg.Commands)
	}
	if cfg.Transport.Kind != transport.KindTCP {
		t.Fatalf("unexpected transport kind: %q", cfg.Transport.Kind)
	}
	if err := Validate(path, KindSatstream); err != nil {
		t.Fatalf("validate template: %v", err)
	}
	if err := WriteTemplate(path, KindSatstream, false); err == nil {
		t.Fatalf("expected refusal to overwrite existing config")
	}
}

func TestLoadClientKeepsDefaultsForAbsentKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "partial.toml", "entity_id = \"sat-7\"\n\n[transport]\nkind = \"QUIC\"\n")

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("load client: %v", err)
	}
	def := DefaultClient()
	if cfg.Session.EntityID != "sat-7" {
		t.Fatalf("entity not applied: %q", cfg.Session.EntityID)
	}
	if cfg.Session.MaxAttempts != def.Session.MaxAttempts || !cfg.Session.EnableEvents {
		t.Fatalf("defaults lost: %+v", cfg.Session)
	}
	if cfg.Session.Endpoint != def.Session.Endpoint || cfg.TelemetryFile != def.TelemetryFile {
		t.Fatalf("defaults lost: endpoint=%q file=%q", cfg.Session.Endpoint, cfg.TelemetryFile)
	}
	if cfg.Transport.Kind != transport.KindQUIC {
		t.Fatalf("kind not normalized: %q", cfg.Transport.Kind)
	}
	if cfg.Transport.ConnectTimeout != def.Transport.ConnectTimeout {
		t.Fatalf("transport defaults lost: %+v", cfg.Transport)
	}
}

func TestLoadClientRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"duration": "join_timeout = \"soon\"\n",
		"backoff":  "[backoff]\ninitial = \"fast\"\n",
		"command":  "commands = [\"zz\"]\n",
		"syntax":   "entity_id = \n",
	}
	for name, body := range cases {
		if _, err := LoadClient(writeFile(t, name+".toml", body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadStationTemplateAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "fakestation.toml")
	if err := WriteTemplate(path, KindFakestation, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadStation(path)
	if err != nil {
		t.Fatalf("load station: %v", err)
	}
	if cfg.AdminAddr != "127.0.0.1:7401" || cfg.PlanID != "3" {
		t.Fatalf("unexpected station config: %+v", cfg)
	}
	if len(cfg.KnownEntities) != 1 || cfg.KnownEntities[0] != "sat-5" {
		t.Fatalf("unexpected entities: %+v", cfg.KnownEntities)
	}
	if cfg.Cadence != 100*time.Millisecond || cfg.SessionTimeout != 0 {
		t.Fatalf("unexpected durations: cadence=%v timeout=%v", cfg.Cadence, cfg.SessionTimeout)
	}
	if err := Validate(path, KindFakestation); err != nil {
		t.Fatalf("validate template: %v", err)
	}

	bad := writeFile(t, "bad.toml", "items_per_batch = 0\n")
	if err := Validate(bad, KindFakestation); err == nil {
		t.Fatalf("expected validation failure for items_per_batch=0")
	}
}

func TestTemplateUnknownKind(t *testing.T) {
	testlog.Start(t)
	if _, err := Template("groundstation"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestDecodeCommandsKeepsEmptyPayloads(t *testing.T) {
	testlog.Start(t)
	cmds, err := DecodeCommands([]string{" 70696e67 ", ""})
	if err != nil {
		t.Fatalf("decode commands: %v", err)
	}
	if len(cmds) != 2 || string(cmds[0]) != "ping" || len(cmds[1]) != 0 {
		t.Fatalf("unexpected commands: %q", cmds)
	}
	if _, err := DecodeCommands([]string{"zz"}); err == nil {
		t.Fatalf("expected hex error")
	}
}
