package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/core"
	"github.com/warp/fulfillment-engine/core/store"
)

func TestMemory_WithTxCommits(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	err := m.WithTx(ctx, func(tx core.Store) error {
		return tx.SaveOrder(ctx, core.Order{ID: "O1", Status: core.OrderApproved})
	})
	require.NoError(t, err)

	o, err := m.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, core.OrderApproved, o.Status)
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	// GIVEN: A committed order
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveOrder(ctx, core.Order{ID: "O1", Status: core.OrderApproved}))

	// WHEN: A transaction writes several tables and then fails
	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx core.Store) error {
		_ = tx.SaveOrder(ctx, core.Order{ID: "O1", Status: core.OrderCancelled})
		_ = tx.SaveOrder(ctx, core.Order{ID: "O2"})
		_ = tx.AppendLedgerEntries(ctx, []core.LedgerEntry{{InventoryItemID: "INV-1", ATPDiff: core.Qty(-1)}})
		_ = tx.SavePriorityRank(ctx, core.PriorityRank{OrderID: "O1", ShipGroupSeqID: "00001", PriorityValue: 1})
		return boom
	})

	// THEN: None of it is visible
	require.ErrorIs(t, err, boom)
	o, err := m.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, core.OrderApproved, o.Status)

	_, err = m.GetOrder(ctx, "O2")
	assert.ErrorIs(t, err, core.ErrNotFound)

	entries, _ := m.ListLedgerEntries(ctx, "INV-1")
	assert.Empty(t, entries)
	ranks, _ := m.ListPriorityRanks(ctx)
	assert.Empty(t, ranks)
}

func TestMemory_BilledAdjustmentCannotBeDeleted(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveAdjustment(ctx, core.Adjustment{ID: "ADJ-1", OrderID: "O1", Type: core.AdjTax}))
	require.NoError(t, m.SaveAdjustmentBilling(ctx, core.AdjustmentBilling{AdjustmentID: "ADJ-1", InvoiceID: "INV", Amount: core.Qty(1)}))

	err := m.DeleteAdjustment(ctx, "ADJ-1")
	assert.ErrorIs(t, err, core.ErrValidation)

	adjs, _ := m.ListAdjustments(ctx, "O1")
	assert.Len(t, adjs, 1)
}

func TestMemory_ReplacePriorityRanks(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SavePriorityRank(ctx, core.PriorityRank{OrderID: "OLD", ShipGroupSeqID: "00001", PriorityValue: 1}))

	require.NoError(t, m.ReplacePriorityRanks(ctx, []core.PriorityRank{
		{OrderID: "B", ShipGroupSeqID: "00001", PriorityValue: 2},
		{OrderID: "A", ShipGroupSeqID: "00001", PriorityValue: 1},
	}))

	ranks, err := m.ListPriorityRanks(ctx)
	require.NoError(t, err)
	require.Len(t, ranks, 2)
	assert.Equal(t, core.OrderID("A"), ranks[0].OrderID)
	assert.Equal(t, core.OrderID("B"), ranks[1].OrderID)
}

func TestMemory_ListReplayRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, m.SaveReplayRun(ctx, core.ReplayRun{ID: id}))
	}
	require.NoError(t, m.SaveReplayRun(ctx, core.ReplayRun{ID: "r2", Reserved: 4}))

	runs, err := m.ListReplayRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
	assert.Equal(t, 4, runs[1].Reserved)

	all, _ := m.ListReplayRuns(ctx, 0)
	assert.Len(t, all, 3)
}

func TestMemory_ReservationFilter(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveReservation(ctx, core.Reservation{OrderID: "O1", OrderItemSeqID: "00001", ShipGroupSeqID: "00001", InventoryItemID: "INV-1", SequenceID: 2}))
	require.NoError(t, m.SaveReservation(ctx, core.Reservation{OrderID: "O1", OrderItemSeqID: "00001", ShipGroupSeqID: "00002", InventoryItemID: "INV-1", SequenceID: 1}))
	require.NoError(t, m.SaveReservation(ctx, core.Reservation{OrderID: "O2", OrderItemSeqID: "00001", ShipGroupSeqID: "00001", InventoryItemID: "INV-1", SequenceID: 3}))

	rs, err := m.ListReservations(ctx, core.ReservationFilter{OrderID: "O1"})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, core.ShipGroupSeqID("00002"), rs[0].ShipGroupSeqID)

	all, _ := m.ListReservations(ctx, core.ReservationFilter{InventoryItemID: "INV-1"})
	assert.Len(t, all, 3)
}

func TestMemory_Reset(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.SaveOrder(ctx, core.Order{ID: "O1"}))
	require.NoError(t, m.Reset(ctx))
	_, err := m.GetOrder(ctx, "O1")
	assert.True(t, core.IsNotFound(err))
}
