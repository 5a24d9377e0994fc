package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/core"
	"github.com/warp/fulfillment-engine/core/store"
	"github.com/warp/fulfillment-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_OrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// GIVEN: An order with a line, a ship group and an allocation
	shipBy := created.Add(48 * time.Hour)
	err := s.WithTx(ctx, func(tx core.Store) error {
		if err := tx.SaveOrder(ctx, core.Order{
			ID: "O1", Status: core.OrderApproved, Currency: "USD",
			GrandTotal: core.MustDecimal("40.00"), CreatedAt: created,
		}); err != nil {
			return err
		}
		line, _ := core.NewOrderLine("O1", "00001", "WIDGET", core.Qty(10), core.MustDecimal("4.00"))
		if err := tx.SaveOrderLine(ctx, line); err != nil {
			return err
		}
		if err := tx.SaveShipGroup(ctx, core.ShipGroup{
			OrderID: "O1", SeqID: "00001", ContactMechID: "ADDR-CA",
			CarrierPartyID: "UPS", ShipmentMethodTypeID: "GROUND", MaySplit: true,
			ShipByDate:        &shipBy,
			ThirdPartyBilling: &core.ThirdPartyBilling{AccountNumber: "ACC-9", PostalCode: "93701", CountryGeoID: "USA"},
			Status:            core.ShipGroupActive, CreatedAt: created,
		}); err != nil {
			return err
		}
		a, _ := core.NewAllocation(core.AllocationKey{OrderID: "O1", OrderItemSeqID: "00001", ShipGroupSeqID: "00001"}, core.Qty(10))
		a.ShippedQuantity = core.Qty(4)
		return tx.SaveAllocation(ctx, a)
	})
	require.NoError(t, err)

	// THEN: Everything reads back with decimal precision intact
	o, err := s.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.True(t, o.GrandTotal.Equal(core.MustDecimal("40.00")))
	assert.True(t, o.CreatedAt.Equal(created))

	lines, err := s.ListOrderLines(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].UnitPrice.Equal(core.MustDecimal("4.00")))
	assert.Equal(t, core.LineApproved, lines[0].Status)

	g, err := s.GetShipGroup(ctx, "O1", "00001")
	require.NoError(t, err)
	assert.True(t, g.MaySplit)
	require.NotNil(t, g.ShipByDate)
	assert.True(t, g.ShipByDate.Equal(shipBy))
	require.NotNil(t, g.ThirdPartyBilling)
	assert.Equal(t, "ACC-9", g.ThirdPartyBilling.AccountNumber)

	a, err := s.GetAllocation(ctx, core.AllocationKey{OrderID: "O1", OrderItemSeqID: "00001", ShipGroupSeqID: "00001"})
	require.NoError(t, err)
	assert.True(t, a.Unshipped().Equal(core.Qty(6)))
}

func TestSQLite_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetShipGroup(ctx, "missing", "00001")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetInventoryItem(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetPostalAddress(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLite_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx core.Store) error {
		require.NoError(t, tx.SaveOrder(ctx, core.Order{ID: "O1", Status: core.OrderApproved, CreatedAt: time.Now()}))
		return boom
	})

	require.ErrorIs(t, err, boom)
	_, err = s.GetOrder(ctx, "O1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLite_ReservationsInPriorityOrder(t *testing.T) {
	// GIVEN: Reservations saved out of order
	ctx := context.Background()
	s := newStore(t)
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	save := func(order core.OrderID, at time.Time, seq int64) {
		r, err := core.NewReservation(core.ReservationKey{OrderID: order, OrderItemSeqID: "00001", ShipGroupSeqID: "00001", InventoryItemID: "INV-1"},
			core.Qty(5), core.Qty(1), at, seq)
		require.NoError(t, err)
		require.NoError(t, s.SaveReservation(ctx, r))
	}
	save("C", t0.Add(time.Second), 1)
	save("B", t0, 2)
	save("A", t0, 1)

	// WHEN: Listing by item
	rs, err := s.ListReservations(ctx, core.ReservationFilter{InventoryItemID: "INV-1"})
	require.NoError(t, err)

	// THEN: Ordered by (ReservedAt, SequenceID)
	require.Len(t, rs, 3)
	assert.Equal(t, core.OrderID("A"), rs[0].OrderID)
	assert.Equal(t, core.OrderID("B"), rs[1].OrderID)
	assert.Equal(t, core.OrderID("C"), rs[2].OrderID)
	assert.True(t, rs[0].QuantityUnavailable.Equal(core.Qty(1)))

	require.NoError(t, s.DeleteReservation(ctx, rs[0].Key()))
	rs, _ = s.ListReservations(ctx, core.ReservationFilter{OrderID: "A"})
	assert.Empty(t, rs)
}

func TestSQLite_ReservationTiesMatchMemory(t *testing.T) {
	// GIVEN: Reservations sharing ReservedAt and SequenceID, saved in reverse key order
	ctx := context.Background()
	s := newStore(t)
	mem := store.NewMemory()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	keys := []core.ReservationKey{
		{OrderID: "B", OrderItemSeqID: "00001", ShipGroupSeqID: "00001", InventoryItemID: "INV-1"},
		{OrderID: "A", OrderItemSeqID: "00002", ShipGroupSeqID: "00001", InventoryItemID: "INV-2"},
		{OrderID: "A", OrderItemSeqID: "00002", ShipGroupSeqID: "00001", InventoryItemID: "INV-1"},
		{OrderID: "A", OrderItemSeqID: "00001", ShipGroupSeqID: "00002", InventoryItemID: "INV-1"},
		{OrderID: "A", OrderItemSeqID: "00001", ShipGroupSeqID: "00001", InventoryItemID: "INV-1"},
	}
	for _, k := range keys {
		r, err := core.NewReservation(k, core.Qty(1), core.Qty(0), t0, 0)
		require.NoError(t, err)
		require.NoError(t, s.SaveReservation(ctx, r))
		require.NoError(t, mem.SaveReservation(ctx, r))
	}

	// WHEN: Listing from both stores
	fromSQL, err := s.ListReservations(ctx, core.ReservationFilter{})
	require.NoError(t, err)
	fromMem, err := mem.ListReservations(ctx, core.ReservationFilter{})
	require.NoError(t, err)

	// THEN: Both break the tie by order, ship group, line, then item
	want := []core.ReservationKey{keys[4], keys[2], keys[1], keys[3], keys[0]}
	require.Len(t, fromSQL, len(want))
	require.Len(t, fromMem, len(want))
	for i := range want {
		assert.Equal(t, want[i], fromSQL[i].Key(), "sqlite position %d", i)
		assert.Equal(t, want[i], fromMem[i].Key(), "memory position %d", i)
	}
}

func TestSQLite_LedgerAppendOrderAndDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	entries := []core.LedgerEntry{
		{ID: "L1", InventoryItemID: "INV-1", ATPDiff: core.Qty(10), QOHDiff: core.Qty(10), Reason: "received", CreatedAt: now},
		{ID: "L2", InventoryItemID: "INV-1", OrderID: "O1", ATPDiff: core.Qty(-3), QOHDiff: core.Qty(0), Reason: "reserved", CreatedAt: now},
	}
	require.NoError(t, s.AppendLedgerEntries(ctx, entries))

	got, err := s.ListLedgerEntries(ctx, "INV-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.LedgerEntryID("L1"), got[0].ID)
	assert.Equal(t, "reserved", got[1].Reason)

	// Re-appending the same id is a consistency fault, not an overwrite.
	err = s.AppendLedgerEntries(ctx, entries[:1])
	assert.ErrorIs(t, err, core.ErrConsistency)

	atp, qoh, err := core.NewLedger(s).Balance(ctx, "INV-1")
	require.NoError(t, err)
	assert.True(t, atp.Equal(core.Qty(7)))
	assert.True(t, qoh.Equal(core.Qty(10)))
}

func TestSQLite_AdjustmentsAndBillings(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	applies := core.Qty(10)
	pct := core.MustDecimal("8")

	require.NoError(t, s.SaveAdjustment(ctx, core.Adjustment{
		ID: "ADJ-1", Type: core.AdjTax, OrderID: "O1", OrderItemSeqID: "00001", ShipGroupSeqID: "00001",
		Amount: core.MustDecimal("8.00"), SourcePercentage: &pct, AppliesToQuantity: &applies,
		TaxAuthorityGeoID: "CA", CreatedAt: time.Now(),
	}))
	require.NoError(t, s.SaveAdjustment(ctx, core.Adjustment{
		ID: "ADJ-2", Type: core.AdjTax, OrderID: "O1", OrderItemSeqID: core.NoOrderItem,
		Amount: core.MustDecimal("0.01"), NeverProrate: true, Comments: "tax difference", CreatedAt: time.Now(),
	}))
	require.NoError(t, s.SaveAdjustmentBilling(ctx, core.AdjustmentBilling{
		AdjustmentID: "ADJ-1", InvoiceID: "INV-O1", InvoiceItemSeqID: "00001", Amount: core.MustDecimal("3.20"),
	}))

	adjs, err := s.ListAdjustments(ctx, "O1")
	require.NoError(t, err)
	require.Len(t, adjs, 2)
	require.NotNil(t, adjs[0].AppliesToQuantity)
	assert.True(t, adjs[0].AppliesToQuantity.Equal(applies))
	assert.Nil(t, adjs[1].AppliesToQuantity)
	assert.True(t, adjs[1].NeverProrate)
	assert.True(t, adjs[1].IsOrderLevel())

	// WHEN: Deleting a billed adjustment
	err = s.DeleteAdjustment(ctx, "ADJ-1")

	// THEN: Refused; the unbilled one deletes fine
	assert.ErrorIs(t, err, core.ErrValidation)
	require.NoError(t, s.DeleteAdjustment(ctx, "ADJ-2"))
	adjs, _ = s.ListAdjustments(ctx, "O1")
	assert.Len(t, adjs, 1)

	bills, err := s.ListAdjustmentBillings(ctx, "ADJ-1")
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.True(t, bills[0].Amount.Equal(core.MustDecimal("3.20")))
}

func TestSQLite_PriorityRanks(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SavePriorityRank(ctx, core.PriorityRank{OrderID: "B", ShipGroupSeqID: "00001", PriorityValue: 2}))
	require.NoError(t, s.SavePriorityRank(ctx, core.PriorityRank{OrderID: "A", ShipGroupSeqID: "00001", PriorityValue: 1}))
	ranks, err := s.ListPriorityRanks(ctx)
	require.NoError(t, err)
	require.Len(t, ranks, 2)
	assert.Equal(t, core.OrderID("A"), ranks[0].OrderID)

	require.NoError(t, s.DeletePriorityRanks(ctx, "A"))
	ranks, _ = s.ListPriorityRanks(ctx)
	require.Len(t, ranks, 1)

	require.NoError(t, s.ReplacePriorityRanks(ctx, []core.PriorityRank{{OrderID: "C", ShipGroupSeqID: "00002", PriorityValue: 1}}))
	ranks, _ = s.ListPriorityRanks(ctx)
	require.Len(t, ranks, 1)
	assert.Equal(t, core.OrderID("C"), ranks[0].OrderID)
}

func TestSQLite_PickLocksAndReplayRuns(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	key := core.AllocationKey{OrderID: "O1", OrderItemSeqID: "00001", ShipGroupSeqID: "00001"}

	require.NoError(t, s.SetPickLock(ctx, key, true))
	require.NoError(t, s.SetPickLock(ctx, key, true))
	locked, err := s.IsPickLocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, s.SetPickLock(ctx, key, false))
	locked, _ = s.IsPickLocked(ctx, key)
	assert.False(t, locked)

	started := time.Now()
	require.NoError(t, s.SaveReplayRun(ctx, core.ReplayRun{ID: "r1", StartedAt: started}))
	require.NoError(t, s.SaveReplayRun(ctx, core.ReplayRun{ID: "r2", StartedAt: started}))
	finished := started.Add(time.Second)
	require.NoError(t, s.SaveReplayRun(ctx, core.ReplayRun{ID: "r1", StartedAt: started, FinishedAt: &finished, Reserved: 3}))

	runs, err := s.ListReplayRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, 3, runs[1].Reserved)
	require.NotNil(t, runs[1].FinishedAt)
}

func TestSQLite_Reset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveInventoryItem(ctx, core.InventoryItem{ID: "INV-1", QuantityOnHand: core.Qty(1), AvailableToPromise: core.Qty(1)}))
	require.NoError(t, s.Reset(ctx))
	_, err := s.GetInventoryItem(ctx, "INV-1")
	assert.True(t, core.IsNotFound(err))
}
