package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/core"
	"github.com/warp/fulfillment-engine/core/store"
)

func entry(item core.InventoryItemID, group core.ShipGroupSeqID, atp int64) core.LedgerEntry {
	return core.LedgerEntry{
		InventoryItemID: item,
		OrderID:         "O1",
		OrderItemSeqID:  "00001",
		ShipGroupSeqID:  group,
		ATPDiff:         core.Qty(atp),
		QOHDiff:         core.Qty(0),
		Reason:          "test",
		CreatedAt:       time.Now(),
	}
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestAssertBalanced_PairedEntriesNetZero(t *testing.T) {
	// GIVEN: A transfer attribution pair on one item
	entries := []core.LedgerEntry{
		entry("INV-1", "00001", 4),
		entry("INV-1", "00002", -4),
	}

	// THEN: The batch is balanced
	assert.NoError(t, core.AssertBalanced("O1", entries))
}

func TestAssertBalanced_ReportsFirstImbalancedItem(t *testing.T) {
	entries := []core.LedgerEntry{
		entry("INV-2", "00001", 1),
		entry("INV-1", "00001", 3),
		entry("INV-1", "00002", -2),
	}

	err := core.AssertBalanced("O1", entries)

	var ce *core.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.InventoryItemID("INV-1"), ce.InventoryItemID)
	assert.True(t, ce.Actual.Equal(core.Qty(1)))
}

func TestNetByItem(t *testing.T) {
	net := core.NetByItem([]core.LedgerEntry{
		entry("INV-1", "00001", 5),
		entry("INV-1", "00001", -2),
		entry("INV-2", "00001", -1),
	})
	assert.True(t, net["INV-1"].Equal(core.Qty(3)))
	assert.True(t, net["INV-2"].Equal(core.Qty(-1)))
}

func TestLedger_AppendAndBalance(t *testing.T) {
	// GIVEN: A receipt followed by a reservation
	ctx := context.Background()
	st := store.NewMemory()
	receipt := entry("INV-1", "", 10)
	receipt.QOHDiff = core.Qty(10)

	err := st.WithTx(ctx, func(tx core.Store) error {
		return core.NewLedger(tx).Append(ctx, receipt, entry("INV-1", "00001", -3))
	})
	require.NoError(t, err)

	// WHEN: Reading the balance
	var atp, qoh = core.Qty(0), core.Qty(0)
	err = st.WithTx(ctx, func(tx core.Store) error {
		var err error
		atp, qoh, err = core.NewLedger(tx).Balance(ctx, "INV-1")
		return err
	})
	require.NoError(t, err)

	// THEN: ATP reflects both, QOH only the receipt
	assert.True(t, atp.Equal(core.Qty(7)))
	assert.True(t, qoh.Equal(core.Qty(10)))
}

func TestLedger_AppendNothing(t *testing.T) {
	assert.NoError(t, core.NewLedger(nil).Append(context.Background()))
}

// =============================================================================
// ENTITY TESTS
// =============================================================================

func TestNewReservation_RejectsUnavailableAboveQuantity(t *testing.T) {
	key := core.ReservationKey{OrderID: "O1", OrderItemSeqID: "00001", ShipGroupSeqID: "00001", InventoryItemID: "INV-1"}

	_, err := core.NewReservation(key, core.Qty(2), core.Qty(3), time.Now(), 1)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = core.NewReservation(key, core.Qty(-1), core.Qty(0), time.Now(), 1)
	assert.ErrorIs(t, err, core.ErrValidation)

	r, err := core.NewReservation(key, core.Qty(3), core.Qty(1), time.Now(), 1)
	require.NoError(t, err)
	assert.Equal(t, core.ReserveTypeSoft, r.ReserveType)
	assert.Equal(t, key, r.Key())
}

func TestSortReservations_ByTimeThenSequence(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := []core.Reservation{
		{OrderID: "C", ReservedAt: t0.Add(time.Minute), SequenceID: 1},
		{OrderID: "B", ReservedAt: t0, SequenceID: 2},
		{OrderID: "A", ReservedAt: t0, SequenceID: 1},
	}

	core.SortReservations(rs)

	assert.Equal(t, []core.OrderID{"A", "B", "C"}, []core.OrderID{rs[0].OrderID, rs[1].OrderID, rs[2].OrderID})
}

func TestSortRanks(t *testing.T) {
	ranks := []core.PriorityRank{
		{OrderID: "B", ShipGroupSeqID: "00001", PriorityValue: 2},
		{OrderID: "A", ShipGroupSeqID: "00002", PriorityValue: 1},
		{OrderID: "A", ShipGroupSeqID: "00001", PriorityValue: 1},
	}

	core.SortRanks(ranks)

	assert.Equal(t, core.ShipGroupSeqID("00001"), ranks[0].ShipGroupSeqID)
	assert.Equal(t, core.ShipGroupSeqID("00002"), ranks[1].ShipGroupSeqID)
	assert.Equal(t, core.OrderID("B"), ranks[2].OrderID)
}

func TestOrderLine_Remaining(t *testing.T) {
	line, err := core.NewOrderLine("O1", "00001", "WIDGET", core.Qty(10), core.MustDecimal("4.00"))
	require.NoError(t, err)
	line.CancelQuantity = core.Qty(3)
	assert.True(t, line.Remaining().Equal(core.Qty(7)))
	assert.True(t, line.Status.IsValid())
}

func TestAllocation_Unshipped(t *testing.T) {
	a, err := core.NewAllocation(core.AllocationKey{OrderID: "O1", OrderItemSeqID: "00001", ShipGroupSeqID: "00001"}, core.Qty(10))
	require.NoError(t, err)
	a.ShippedQuantity = core.Qty(4)
	assert.True(t, a.Unshipped().Equal(core.Qty(6)))
}

func TestFormatShipGroupSeq(t *testing.T) {
	assert.Equal(t, core.ShipGroupSeqID("00002"), core.FormatShipGroupSeq(2))
	assert.Equal(t, core.ShipGroupSeqID("00123"), core.FormatShipGroupSeq(123))
}

func TestAdjustment_IsOrderLevel(t *testing.T) {
	assert.True(t, core.Adjustment{OrderItemSeqID: core.NoOrderItem}.IsOrderLevel())
	assert.True(t, core.Adjustment{}.IsOrderLevel())
	assert.False(t, core.Adjustment{OrderItemSeqID: "00001"}.IsOrderLevel())
}
