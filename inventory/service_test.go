package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-engine/core"
	"github.com/warp/fulfillment-engine/core/store"
	"github.com/warp/fulfillment-engine/inventory"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func reserveReq(order core.OrderID, qty int64, seq int64) core.ReserveRequest {
	return core.ReserveRequest{
		Key:        core.ReservationKey{OrderID: order, OrderItemSeqID: "00001", ShipGroupSeqID: "00001", InventoryItemID: "INV-1"},
		Quantity:   core.Qty(qty),
		ReservedAt: t0,
		SequenceID: seq,
	}
}

func setup(t *testing.T, stock int64) (context.Context, *store.Memory, *inventory.Service) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	svc := inventory.NewService(nil)
	svc.Clock = func() time.Time { return t0 }
	require.NoError(t, st.WithTx(ctx, func(tx core.Store) error {
		_, err := svc.Receive(ctx, tx, core.InventoryItem{ID: "INV-1", ProductID: "WIDGET", FacilityID: "WH-1"}, core.Qty(stock))
		return err
	}))
	return ctx, st, svc
}

func TestReserveQuantity_PartialFulfilment(t *testing.T) {
	// GIVEN: ATP 12
	ctx, st, svc := setup(t, 12)

	// WHEN: Three reservations of 5 in order
	var got []core.Reservation
	err := st.WithTx(ctx, func(tx core.Store) error {
		for i, order := range []core.OrderID{"A", "B", "C"} {
			r, err := svc.ReserveQuantity(ctx, tx, reserveReq(order, 5, int64(i+1)))
			if err != nil {
				return err
			}
			got = append(got, r)
		}
		return nil
	})
	require.NoError(t, err)

	// THEN: Only the third is short, by 3, and ATP goes to -3
	require.Len(t, got, 3)
	assert.True(t, got[0].QuantityUnavailable.IsZero())
	assert.True(t, got[1].QuantityUnavailable.IsZero())
	assert.True(t, got[2].QuantityUnavailable.Equal(core.Qty(3)))
	assert.Equal(t, core.ReserveTypeSoft, got[2].ReserveType)

	item, err := st.GetInventoryItem(ctx, "INV-1")
	require.NoError(t, err)
	assert.True(t, item.AvailableToPromise.Equal(core.Qty(-3)))
	assert.True(t, item.QuantityOnHand.Equal(core.Qty(12)))

	// Ledger: receipt +12 then three -5 entries
	atp, qoh, err := core.NewLedger(st).Balance(ctx, "INV-1")
	require.NoError(t, err)
	assert.True(t, atp.Equal(core.Qty(-3)))
	assert.True(t, qoh.Equal(core.Qty(12)))
}

func TestReserveQuantity_NotPersisted(t *testing.T) {
	ctx, st, svc := setup(t, 5)

	require.NoError(t, st.WithTx(ctx, func(tx core.Store) error {
		_, err := svc.ReserveQuantity(ctx, tx, reserveReq("A", 2, 1))
		return err
	}))

	rs, err := st.ListReservations(ctx, core.ReservationFilter{InventoryItemID: "INV-1"})
	require.NoError(t, err)
	assert.Empty(t, rs, "the caller saves the returned reservation")
}

func TestReserveQuantity_UnknownItemIsCollaboratorError(t *testing.T) {
	ctx, st, svc := setup(t, 5)
	req := reserveReq("A", 1, 1)
	req.Key.InventoryItemID = "INV-404"

	err := st.WithTx(ctx, func(tx core.Store) error {
		_, err := svc.ReserveQuantity(ctx, tx, req)
		return err
	})

	var ce *core.CollaboratorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "inventory", ce.Service)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestReserveQuantity_Negative(t *testing.T) {
	ctx, st, svc := setup(t, 5)
	err := st.WithTx(ctx, func(tx core.Store) error {
		_, err := svc.ReserveQuantity(ctx, tx, reserveReq("A", -1, 1))
		return err
	})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestReleaseReservation_RestoresATP(t *testing.T) {
	ctx, st, svc := setup(t, 5)

	err := st.WithTx(ctx, func(tx core.Store) error {
		r, err := svc.ReserveQuantity(ctx, tx, reserveReq("A", 8, 1))
		if err != nil {
			return err
		}
		assert.True(t, r.QuantityUnavailable.Equal(core.Qty(3)))
		return svc.ReleaseReservation(ctx, tx, r)
	})
	require.NoError(t, err)

	item, _ := st.GetInventoryItem(ctx, "INV-1")
	assert.True(t, item.AvailableToPromise.Equal(core.Qty(5)))

	entries, _ := st.ListLedgerEntries(ctx, "INV-1")
	require.Len(t, entries, 3)
	assert.Equal(t, "reservation released", entries[2].Reason)
	assert.True(t, entries[2].ATPDiff.Equal(core.Qty(8)))
}

func TestRebalance_RecomputesInPriorityOrder(t *testing.T) {
	// GIVEN: ATP 12 and three reservations of 5 where the first was marked short
	ctx, st, svc := setup(t, 12)
	err := st.WithTx(ctx, func(tx core.Store) error {
		for i, order := range []core.OrderID{"A", "B", "C"} {
			r, err := svc.ReserveQuantity(ctx, tx, reserveReq(order, 5, int64(i+1)))
			if err != nil {
				return err
			}
			if order == "A" {
				r.QuantityUnavailable = core.Qty(3)
			} else {
				r.QuantityUnavailable = core.Qty(0)
			}
			if err := tx.SaveReservation(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	// WHEN: Rebalancing the item
	require.NoError(t, st.WithTx(ctx, func(tx core.Store) error {
		return svc.Rebalance(ctx, tx, "INV-1")
	}))

	// THEN: The shortfall lands on the last reservation in (ReservedAt, SequenceID) order
	rs, err := st.ListReservations(ctx, core.ReservationFilter{InventoryItemID: "INV-1"})
	require.NoError(t, err)
	require.Len(t, rs, 3)
	assert.True(t, rs[0].QuantityUnavailable.IsZero())
	assert.True(t, rs[1].QuantityUnavailable.IsZero())
	assert.True(t, rs[2].QuantityUnavailable.Equal(core.Qty(3)))
	assert.Equal(t, core.OrderID("C"), rs[2].OrderID)

	// Rebalance moves no ATP
	item, _ := st.GetInventoryItem(ctx, "INV-1")
	assert.True(t, item.AvailableToPromise.Equal(core.Qty(-3)))
}

func TestReceive_AddsToExistingItem(t *testing.T) {
	ctx, st, svc := setup(t, 5)

	require.NoError(t, st.WithTx(ctx, func(tx core.Store) error {
		item, err := svc.Receive(ctx, tx, core.InventoryItem{ID: "INV-1"}, core.Qty(3))
		assert.Equal(t, core.ProductID("WIDGET"), item.ProductID)
		return err
	}))

	item, _ := st.GetInventoryItem(ctx, "INV-1")
	assert.True(t, item.QuantityOnHand.Equal(core.Qty(8)))
	assert.True(t, item.AvailableToPromise.Equal(core.Qty(8)))
}
