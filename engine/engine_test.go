package engine_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/allocation"
	"github.com/warp/fulfillment-engine/core"
	"github.com/warp/fulfillment-engine/core/store"
	"github.com/warp/fulfillment-engine/engine"
	"github.com/warp/fulfillment-engine/factory"
	"github.com/warp/fulfillment-engine/inventory"
	"github.com/warp/fulfillment-engine/priority"
	"github.com/warp/fulfillment-engine/tax"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const bookFixture = `{
	"addresses": [
		{"contact_mech_id": "ADDR-CA", "state_geo_id": "CA", "country_geo_id": "USA"},
		{"contact_mech_id": "ADDR-NY", "state_geo_id": "NY", "country_geo_id": "USA"}
	],
	"inventory": [{"id": "INV-1", "product_id": "WIDGET", "quantity": "12"}],
	"orders": [
		{
			"id": "SPLIT",
			"lines": [{"seq_id": "00001", "product_id": "WIDGET", "quantity": "10", "unit_price": "4.00"}],
			"ship_groups": [{"seq_id": "00001", "contact_mech_id": "ADDR-CA", "priority": 2}],
			"allocations": [{"line": "00001", "group": "00001", "quantity": "10"}],
			"reservations": [{"line": "00001", "group": "00001", "item": "INV-1", "quantity": "10"}]
		},
		{
			"id": "RUSH",
			"lines": [{"seq_id": "00001", "product_id": "WIDGET", "quantity": "5", "unit_price": "4.00"}],
			"ship_groups": [{"seq_id": "00001", "contact_mech_id": "ADDR-NY", "priority": 1}],
			"allocations": [{"line": "00001", "group": "00001", "quantity": "5"}],
			"reservations": [{"line": "00001", "group": "00001", "item": "INV-1", "quantity": "5"}]
		}
	]
}`

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts engine.Options) (context.Context, *engine.Engine) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	ff := factory.NewFixtureFactory(inventory.NewService(nil))
	ff.Clock = func() time.Time { return t0 }
	fj, err := ff.ParseFixture(bookFixture)
	require.NoError(t, err)
	require.NoError(t, st.WithTx(ctx, func(tx core.Store) error { return ff.Seed(ctx, tx, fj) }))

	eng := engine.New(st, opts)
	eng.Clock = func() time.Time { return t0.Add(time.Hour) }
	return ctx, eng
}

func moveFour() allocation.TransferRequest {
	return allocation.TransferRequest{
		OrderID: "SPLIT",
		Lines: []allocation.LineTransfer{
			{OrderItemSeqID: "00001", FromShipGroupSeqID: "00001", Quantity: core.Qty(4)},
		},
		Destination: allocation.Destination{ContactMechID: "ADDR-NY"},
	}
}

type busyGate struct{}

func (busyGate) Acquire(context.Context) (func(), error) {
	return nil, core.ErrConflict
}

type brokenInventory struct {
	*inventory.Service
}

func (b brokenInventory) ReserveQuantity(context.Context, core.Store, core.ReserveRequest) (core.Reservation, error) {
	return core.Reservation{}, errors.New("connection reset")
}

// =============================================================================
// PER-ORDER OPERATIONS
// =============================================================================

func TestEngine_Transfer(t *testing.T) {
	ctx, eng := newEngine(t, engine.Options{})

	res, err := eng.TransferToNewShipGroup(ctx, moveFour())
	require.NoError(t, err)
	assert.Equal(t, core.ShipGroupSeqID("00002"), res.ShipGroup.SeqID)

	view, err := eng.GetOrder(ctx, "SPLIT")
	require.NoError(t, err)
	assert.Len(t, view.ShipGroups, 2)
	assert.Len(t, view.Reservations, 2)
}

func TestEngine_ConcurrentTransfersOnOneOrder(t *testing.T) {
	// GIVEN: Two callers splitting the same order at once
	ctx, eng := newEngine(t, engine.Options{})
	var wg sync.WaitGroup
	groups := make([]core.ShipGroupSeqID, 2)

	// WHEN: Both transfer 4
	for i := range groups {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := eng.TransferToNewShipGroup(ctx, moveFour())
			assert.NoError(t, err)
			groups[i] = res.ShipGroup.SeqID
		}(i)
	}
	wg.Wait()

	// THEN: Each got its own group and 2 stayed behind
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	assert.Equal(t, []core.ShipGroupSeqID{"00002", "00003"}, groups)
	a, err := eng.Store.GetAllocation(ctx, core.AllocationKey{OrderID: "SPLIT", OrderItemSeqID: "00001", ShipGroupSeqID: "00001"})
	require.NoError(t, err)
	assert.True(t, a.Quantity.Equal(core.Qty(2)))
}

func TestEngine_RecalcTax(t *testing.T) {
	ctx, eng := newEngine(t, engine.Options{TaxService: tax.NewFlatRate(core.MustDecimal("0.05"))})

	res, err := eng.RecalcTax(ctx, "SPLIT", false)
	require.NoError(t, err)
	assert.True(t, res.NewTaxTotal.Equal(core.MustDecimal("2.00")))

	view, err := eng.GetOrder(ctx, "SPLIT")
	require.NoError(t, err)
	assert.True(t, view.TaxTotal.Equal(core.MustDecimal("2.00")))
	assert.True(t, view.Order.GrandTotal.Equal(core.MustDecimal("42.00")))
}

func TestEngine_GetOrderNotFound(t *testing.T) {
	ctx, eng := newEngine(t, engine.Options{})
	_, err := eng.GetOrder(ctx, "GHOST")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_ItemLedger(t *testing.T) {
	ctx, eng := newEngine(t, engine.Options{})

	v, err := eng.ItemLedger(ctx, "INV-1")
	require.NoError(t, err)

	// received 12, reserved 10, reserved 5
	require.Len(t, v.Running, 3)
	assert.True(t, v.Running[0].Equal(core.Qty(12)))
	assert.True(t, v.Running[2].Equal(core.Qty(-3)))
	assert.True(t, v.ATP.Equal(core.Qty(-3)))
	assert.True(t, v.QOH.Equal(core.Qty(12)))
	assert.True(t, v.Item.AvailableToPromise.Equal(v.ATP))
}

// =============================================================================
// PRIORITIES AND REPLAY
// =============================================================================

func TestEngine_Priorities(t *testing.T) {
	ctx, eng := newEngine(t, engine.Options{})

	ranks, err := eng.ResequencePriorities(ctx, []priority.ResequenceEntry{
		{OrderID: "SPLIT", ShipGroupSeqID: "00001"},
		{OrderID: "RUSH", ShipGroupSeqID: "00001"},
	})
	require.NoError(t, err)
	require.Len(t, ranks, 2)
	assert.Equal(t, core.OrderID("SPLIT"), ranks[0].OrderID)

	require.NoError(t, eng.DeletePriority(ctx, "RUSH"))
	listed, err := eng.ListPriorities(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	ranks, err = eng.SetPriority(ctx, "RUSH")
	require.NoError(t, err)
	require.Len(t, ranks, 1)
	assert.Equal(t, int64(2), ranks[0].PriorityValue)
}

func TestEngine_ReplayRecordsRun(t *testing.T) {
	// GIVEN: RUSH ranked ahead of SPLIT but reserved after it
	ctx, eng := newEngine(t, engine.Options{})

	// WHEN: Replaying
	run, err := eng.ReplayReservationsByPriority(ctx)
	require.NoError(t, err)

	// THEN: Both reservations were rebuilt and the run is recorded
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 2, run.Cancelled)
	assert.Equal(t, 2, run.Reserved)
	require.NotNil(t, run.FinishedAt)
	assert.Empty(t, run.Error)

	runs, err := eng.ListReplayRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run, runs[0])

	// AND: The shortfall moved to SPLIT
	rs, err := eng.Store.ListReservations(ctx, core.ReservationFilter{OrderID: "SPLIT"})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.True(t, rs[0].QuantityUnavailable.Equal(core.Qty(3)))
}

func TestEngine_ReplayHeldElsewhere(t *testing.T) {
	ctx, eng := newEngine(t, engine.Options{Gate: busyGate{}})

	run, err := eng.ReplayReservationsByPriority(ctx)

	assert.ErrorIs(t, err, core.ErrConflict)
	assert.NotEmpty(t, run.Error)
	runs, _ := eng.ListReplayRuns(ctx, 0)
	require.Len(t, runs, 1)
	assert.Equal(t, run.Error, runs[0].Error)
}

func TestEngine_FailedReplayChangesNothing(t *testing.T) {
	// GIVEN: An inventory service that refuses every reserve
	ctx, eng := newEngine(t, engine.Options{})
	eng.Replayer = priority.NewReplayer(brokenInventory{Service: eng.Inventory}, nil)
	before, _ := eng.Store.ListReservations(ctx, core.ReservationFilter{})

	// WHEN: Replaying
	run, err := eng.ReplayWithID(ctx, "run-1")

	// THEN: The failure is recorded with zero counts and reservations are untouched
	var ce *core.CollaboratorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "run-1", run.ID)
	assert.Zero(t, run.Cancelled)
	assert.Zero(t, run.Reserved)
	assert.Contains(t, run.Error, "connection reset")

	after, _ := eng.Store.ListReservations(ctx, core.ReservationFilter{})
	assert.Equal(t, before, after)

	runs, _ := eng.ListReplayRuns(ctx, 1)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	require.NotNil(t, runs[0].FinishedAt)
}
