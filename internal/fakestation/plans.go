package fakestation

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/satlink/internal/protocol/wire"
)

const (
	planLead        = 10 * time.Second
	planSpacing     = 30 * time.Minute
	planDuration    = 10 * time.Minute
	statusScheduled = "SCHEDULED"
	statusReserved  = "RESERVED"
)

// PlanBook answers plan queries. Every listing includes a fixed page of
// upcoming plans anchored at the current time; reservations are kept in
// memory until cancelled.
type PlanBook struct {
	mu       sync.RWMutex
	reserved map[string]wire.Plan

	planID   string
	station  string
	pageSize int
	now      func() time.Time
}

func NewPlanBook(cfg Config) *PlanBook {
	return &PlanBook{
		reserved: make(map[string]wire.Plan),
		planID:   cfg.PlanID,
		station:  cfg.GroundStationID,
		pageSize: cfg.PlanPageSize,
		now:      time.Now,
	}
}

func (b *PlanBook) List(req wire.ListPlans) ([]wire.Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out []wire.Plan
	for _, p := range b.page(req.EntityID) {
		if inWindow(p.AOS, req) {
			out = append(out, p)
		}
	}
	b.mu.RLock()
	for _, p := range b.reserved {
		if p.EntityID == req.EntityID && inWindow(p.AOS, req) {
			out = append(out, p)
		}
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AOS.Before(out[j].AOS) })
	return out, nil
}

func (b *PlanBook) Reserve(req wire.ReservePlan) (wire.Plan, error) {
	if strings.TrimSpace(req.EntityID) == "" {
		return wire.Plan{}, wire.Errorf(wire.InvalidArgument, "entity_id not set")
	}
	if !req.LOS.After(req.AOS) {
		return wire.Plan{}, wire.Errorf(wire.InvalidArgument, "los must follow aos")
	}
	station := req.GroundStationID
	if station == "" {
		station = b.station
	}
	p := wire.Plan{
		ID:              uuid.NewString(),
		EntityID:        req.EntityID,
		GroundStationID: station,
		AOS:             req.AOS.UTC(),
		LOS:             req.LOS.UTC(),
		Status:          statusReserved,
	}
	b.mu.Lock()
	b.reserved[p.ID] = p
	b.mu.Unlock()
	return p, nil
}

func (b *PlanBook) Cancel(planID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.reserved[planID]; !ok {
		return wire.Errorf(wire.NotFound, "plan %q not found", planID)
	}
	delete(b.reserved, planID)
	return nil
}

// Reserved returns the number of live reservations.
func (b *PlanBook) Reserved() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.reserved)
}

func (b *PlanBook) page(entityID string) []wire.Plan {
	start := b.now().UTC().Truncate(time.Second).Add(planLead)
	out := make([]wire.Plan, 0, b.pageSize)
	for i := 0; i < b.pageSize; i++ {
		id := b.planID
		if i > 0 {
			id = b.planID + "." + strconv.Itoa(i)
		}
		aos := start.Add(time.Duration(i) * planSpacing)
		out = append(out, wire.Plan{
			ID:              id,
			EntityID:        entityID,
			GroundStationID: b.station,
			AOS:             aos,
			LOS:             aos.Add(planDuration),
			Status:          statusScheduled,
		})
	}
	return out
}

func inWindow(aos time.Time, req wire.ListPlans) bool {
	return !aos.Before(req.AOSAfter) && !aos.After(req.AOSBefore)
}
