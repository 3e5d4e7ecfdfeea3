package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/satlink/internal/fakestation"
)

type stationFile struct {
	ListenAddr      string        `toml:"listen_addr"`
	AdminAddr       string        `toml:"admin_addr"`
	AdminToken      string        `toml:"admin_token"`
	KnownEntities   []string      `toml:"known_entities"`
	PlanID          string        `toml:"plan_id"`
	GroundStationID string        `toml:"ground_station_id"`
	BatchCount      int           `toml:"batch_count"`
	ItemsPerBatch   int           `toml:"items_per_batch"`
	PayloadSize     int           `toml:"payload_size"`
	Cadence         string        `toml:"cadence"`
	Framing         string        `toml:"framing"`
	SessionTimeout  string        `toml:"session_timeout"`
	PlanPageSize    int           `toml:"plan_page_size"`
	Transport       transportFile `toml:"transport"`
}

func LoadStation(path string) (fakestation.Config, error) {
	cfg := fakestation.DefaultConfig()

	var raw stationFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fakestation.Config{}, fmt.Errorf("load fakestation config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("known_entities") {
		cfg.KnownEntities = normalizeList(raw.KnownEntities)
	}
	if meta.IsDefined("plan_id") {
		cfg.PlanID = strings.TrimSpace(raw.PlanID)
	}
	if meta.IsDefined("ground_station_id") {
		cfg.GroundStationID = strings.TrimSpace(raw.GroundStationID)
	}
	if meta.IsDefined("batch_count") {
		cfg.BatchCount = raw.BatchCount
	}
	if meta.IsDefined("items_per_batch") {
		cfg.ItemsPerBatch = raw.ItemsPerBatch
	}
	if meta.IsDefined("payload_size") {
		cfg.PayloadSize = raw.PayloadSize
	}
	if err := parseDurationKey(meta, raw.Cadence, &cfg.Cadence, "cadence"); err != nil {
		return fakestation.Config{}, err
	}
	if meta.IsDefined("framing") {
		cfg.Framing = strings.TrimSpace(raw.Framing)
	}
	if err := parseDurationKey(meta, raw.SessionTimeout, &cfg.SessionTimeout, "session_timeout"); err != nil {
		return fakestation.Config{}, err
	}
	if meta.IsDefined("plan_page_size") {
		cfg.PlanPageSize = raw.PlanPageSize
	}
	if err := applyTransport(meta, raw.Transport, &cfg.Transport); err != nil {
		return fakestation.Config{}, err
	}
	return cfg, nil
}
