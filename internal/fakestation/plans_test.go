package fakestation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/satlink/internal/protocol/wire"
	"github.com/danmuck/satlink/internal/testutil/testlog"
)

func fixedBook(now time.Time) *PlanBook {
	b := NewPlanBook(DefaultConfig())
	b.now = func() time.Time { return now }
	return b
}

func TestListPlansReturnsPageInsideWindow(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1700000000, 0).UTC()
	b := fixedBook(now)

	plans, err := b.List(wire.ListPlans{
		EntityID:  "sat-5",
		AOSAfter:  now.Add(-2 * time.Minute),
		AOSBefore: now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, plans, 2, "third plan starts after the window")
	assert.Equal(t, "3", plans[0].ID)
	assert.Equal(t, now.Add(planLead), plans[0].AOS)
	assert.Equal(t, "sat-5", plans[0].EntityID)
	assert.True(t, plans[1].AOS.After(plans[0].AOS))
}

func TestListPlansRejectsBadWindows(t *testing.T) {
	testlog.Start(t)
	now := time.Now()
	b := fixedBook(now)

	cases := map[string]wire.ListPlans{
		"missing entity": {AOSAfter: now, AOSBefore: now.Add(time.Hour)},
		"missing after":  {EntityID: "sat-5", AOSBefore: now},
		"missing before": {EntityID: "sat-5", AOSAfter: now},
		"inverted":       {EntityID: "sat-5", AOSAfter: now, AOSBefore: now.Add(-time.Hour)},
		"forty days":     {EntityID: "sat-5", AOSAfter: now, AOSBefore: now.Add(40 * 24 * time.Hour)},
	}
	for name, req := range cases {
		_, err := b.List(req)
		assert.Equal(t, wire.InvalidArgument, wire.StatusCode(err), name)
	}

	_, err := b.List(wire.ListPlans{EntityID: "sat-5", AOSAfter: now, AOSBefore: now.Add(wire.MaxListWindow)})
	assert.NoError(t, err, "exactly 31 days is allowed")
}

func TestReserveAndCancelPlan(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1700000000, 0).UTC()
	b := fixedBook(now)

	aos := now.Add(3 * time.Hour)
	p, err := b.Reserve(wire.ReservePlan{EntityID: "sat-5", AOS: aos, LOS: aos.Add(5 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, statusReserved, p.Status)
	assert.Equal(t, "gs-fake", p.GroundStationID)
	assert.Equal(t, 1, b.Reserved())

	plans, err := b.List(wire.ListPlans{EntityID: "sat-5", AOSAfter: aos.Add(-time.Minute), AOSBefore: aos.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, p.ID, plans[0].ID)

	other, err := b.List(wire.ListPlans{EntityID: "sat-9", AOSAfter: aos.Add(-time.Minute), AOSBefore: aos.Add(time.Minute)})
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, b.Cancel(p.ID))
	assert.Equal(t, wire.NotFound, wire.StatusCode(b.Cancel(p.ID)))

	_, err = b.Reserve(wire.ReservePlan{EntityID: "sat-5", AOS: aos, LOS: aos})
	assert.Equal(t, wire.InvalidArgument, wire.StatusCode(err))
}
