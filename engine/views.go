package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/core"
)

// OrderView is everything the engine tracks for one order.
type OrderView struct {
	Order        core.Order
	Lines        []core.OrderLine
	ShipGroups   []core.ShipGroup
	Allocations  []core.Allocation
	Reservations []core.Reservation
	Adjustments  []core.Adjustment
	TaxTotal     decimal.Decimal
}

func (e *Engine) GetOrder(ctx context.Context, orderID core.OrderID) (v OrderView, err error) {
	err = e.Store.WithTx(ctx, func(tx core.Store) error {
		if v.Order, err = tx.GetOrder(ctx, orderID); err != nil {
			return err
		}
		if v.Lines, err = tx.ListOrderLines(ctx, orderID); err != nil {
			return err
		}
		if v.ShipGroups, err = tx.ListShipGroups(ctx, orderID); err != nil {
			return err
		}
		if v.Allocations, err = tx.ListAllocations(ctx, orderID); err != nil {
			return err
		}
		if v.Reservations, err = tx.ListReservations(ctx, core.ReservationFilter{OrderID: orderID}); err != nil {
			return err
		}
		v.Adjustments, err = tx.ListAdjustments(ctx, orderID)
		return err
	})
	for _, a := range v.Adjustments {
		if a.IsTax() {
			v.TaxTotal = v.TaxTotal.Add(a.Amount)
		}
	}
	return v, err
}

// LedgerView is an item's ledger with the running ATP after each entry.
type LedgerView struct {
	Item    core.InventoryItem
	Entries []core.LedgerEntry
	Running []decimal.Decimal
	ATP     decimal.Decimal
	QOH     decimal.Decimal
}

func (e *Engine) ItemLedger(ctx context.Context, id core.InventoryItemID) (v LedgerView, err error) {
	err = e.Store.WithTx(ctx, func(tx core.Store) error {
		if v.Item, err = tx.GetInventoryItem(ctx, id); err != nil {
			return err
		}
		if v.Entries, err = tx.ListLedgerEntries(ctx, id); err != nil {
			return err
		}
		v.ATP, v.QOH, err = core.NewLedger(tx).Balance(ctx, id)
		return err
	})
	running := decimal.Zero
	for _, le := range v.Entries {
		running = running.Add(le.ATPDiff)
		v.Running = append(v.Running, running)
	}
	return v, err
}
