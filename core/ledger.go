/*
ledger.go - Append-only available-to-promise ledger

PURPOSE:
  Every change in an inventory item's available-to-promise (ATP) or on-hand
  quantity is recorded as a LedgerEntry attributed to an order and ship group.
  The sum of an item's entries is always its true ATP change.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. ATTRIBUTION MOVES NET TO ZERO: an Allocation Transfer writes a +delta at
     the source group and a -delta at the destination group for the same item,
     so the item's total is unchanged
  3. RESERVE/RELEASE ARE REAL: the inventory service writes -qty on reserve
     and +qty on release

SEE ALSO:
  - store.go: LedgerStore persistence interface
  - allocation/transfer.go: Writes paired attribution entries
  - inventory/service.go: Writes reserve and release entries
*/
package core

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store LedgerStore
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{Store: store}
}

// Append records entries as one batch.
func (l *Ledger) Append(ctx context.Context, entries ...LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return l.Store.AppendLedgerEntries(ctx, entries)
}

// Balance returns the net ATP and QOH change recorded for item.
func (l *Ledger) Balance(ctx context.Context, item InventoryItemID) (atp, qoh decimal.Decimal, err error) {
	entries, err := l.Store.ListLedgerEntries(ctx, item)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	atp, qoh = decimal.Zero, decimal.Zero
	for _, e := range entries {
		atp = atp.Add(e.ATPDiff)
		qoh = qoh.Add(e.QOHDiff)
	}
	return atp, qoh, nil
}

// NetByItem sums ATP deltas per inventory item.
func NetByItem(entries []LedgerEntry) map[InventoryItemID]decimal.Decimal {
	net := make(map[InventoryItemID]decimal.Decimal)
	for _, e := range entries {
		cur, ok := net[e.InventoryItemID]
		if !ok {
			cur = decimal.Zero
		}
		net[e.InventoryItemID] = cur.Add(e.ATPDiff)
	}
	return net
}

// AssertBalanced returns a ConsistencyError for the first item (in id order)
// whose entries do not net to zero.
func AssertBalanced(orderID OrderID, entries []LedgerEntry) error {
	net := NetByItem(entries)
	items := make([]InventoryItemID, 0, len(net))
	for id := range net {
		items = append(items, id)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	for _, id := range items {
		if !net[id].IsZero() {
			return &ConsistencyError{
				OrderID:         orderID,
				InventoryItemID: id,
				Expected:        decimal.Zero,
				Actual:          net[id],
				Message:         "ledger entries do not net to zero",
			}
		}
	}
	return nil
}
