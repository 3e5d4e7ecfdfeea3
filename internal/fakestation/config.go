// Package fakestation is an in-process ground station that speaks the
// satlink wire protocol. It exists to drive clients through resume,
// reconnect, and termination paths.
package fakestation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/satlink/internal/transport"
)

var ErrInvalidConfig = errors.New("fakestation: invalid config")

type Config struct {
	ListenAddr string
	AdminAddr  string
	// AdminToken, when set, is the bearer token the admin API requires.
	AdminToken string
	Transport  transport.Config

	// KnownEntities restricts which entity ids may open streams. Empty
	// accepts any entity.
	KnownEntities   []string
	PlanID          string
	GroundStationID string

	BatchCount    int
	ItemsPerBatch int
	PayloadSize   int
	Cadence       time.Duration
	Framing       string

	// SessionTimeout, when positive, cancels every attachment with
	// UNAVAILABLE after it has been open this long.
	SessionTimeout time.Duration
	PlanPageSize   int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:7400",
		Transport:       transport.DefaultConfig(),
		PlanID:          "3",
		GroundStationID: "gs-fake",
		BatchCount:      10,
		ItemsPerBatch:   2,
		PayloadSize:     64,
		Cadence:         100 * time.Millisecond,
		Framing:         "AX25",
		PlanPageSize:    3,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: missing listen_addr", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.PlanID) == "" {
		return fmt.Errorf("%w: missing plan_id", ErrInvalidConfig)
	}
	if c.BatchCount < 0 || c.ItemsPerBatch < 1 || c.PayloadSize < 1 {
		return fmt.Errorf(
			"%w: batch_count=%d items_per_batch=%d payload_size=%d",
			ErrInvalidConfig, c.BatchCount, c.ItemsPerBatch, c.PayloadSize,
		)
	}
	if c.Cadence < 0 || c.SessionTimeout < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	if c.PlanPageSize < 1 {
		return fmt.Errorf("%w: plan_page_size must be >= 1", ErrInvalidConfig)
	}
	return nil
}

func (c Config) knows(entityID string) bool {
	if len(c.KnownEntities) == 0 {
		return true
	}
	for _, id := range c.KnownEntities {
		if id == entityID {
			return true
		}
	}
	return false
}
