/*
Package core provides the order commitment model of the fulfillment engine.

PURPOSE:
  This package holds the entities every other package works on: orders and
  their lines, ship groups, allocations, inventory reservations, the
  available-to-promise ledger, priority ranks, and tax adjustments. It also
  owns the small numeric helpers that the allocation, priority and tax
  packages share so that quantities and money are handled one way only.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: type-safe ids for orders, lines, ship groups, inventory items
  - Statuses: order, line and ship group lifecycle values
  - Quantity helpers: decimal parsing and comparison shortcuts

DESIGN PRINCIPLES:
  1. Precision: every quantity and amount is a decimal.Decimal
  2. Type Safety: distinct id types so a ship group id is never passed as a line id
  3. Conservation: entity constructors reject negative quantities up front

SEE ALSO:
  - entities.go: Entity structs and constructors
  - money.go: Money and the two-stage tax rounding policy
  - quantity.go: The Quantity Ledger used by Allocation Transfer
  - ledger.go: Append-only available-to-promise ledger
*/
package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type OrderItemSeqID string
type ShipGroupSeqID string
type InventoryItemID string
type ProductID string
type FacilityID string
type ContactMechID string
type AdjustmentID string
type LedgerEntryID string

// NoOrderItem marks an adjustment that applies to the whole order rather than a line.
const NoOrderItem OrderItemSeqID = "_NA_"

// FormatShipGroupSeq renders a ship group sequence number the way order entry does ("00001").
func FormatShipGroupSeq(n int) ShipGroupSeqID {
	return ShipGroupSeqID(fmt.Sprintf("%05d", n))
}

// =============================================================================
// STATUSES
// =============================================================================

type OrderStatus string

const (
	OrderCreated   OrderStatus = "ORDER_CREATED"
	OrderApproved  OrderStatus = "ORDER_APPROVED"
	OrderHeld      OrderStatus = "ORDER_HOLD"
	OrderCompleted OrderStatus = "ORDER_COMPLETED"
	OrderCancelled OrderStatus = "ORDER_CANCELLED"
)

// IsTerminal reports whether the order can no longer be re-allocated.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

type LineStatus string

const (
	LineCreated   LineStatus = "ITEM_CREATED"
	LineApproved  LineStatus = "ITEM_APPROVED"
	LineCompleted LineStatus = "ITEM_COMPLETED"
	LineCancelled LineStatus = "ITEM_CANCELLED"
	LineRejected  LineStatus = "ITEM_REJECTED"
)

// IsValid reports whether the line still counts toward totals and tax.
func (s LineStatus) IsValid() bool {
	return s != LineCancelled && s != LineRejected
}

type ShipGroupStatus string

const (
	ShipGroupActive    ShipGroupStatus = "ACTIVE"
	ShipGroupCancelled ShipGroupStatus = "CANCELLED"
)

// =============================================================================
// QUANTITY HELPERS
// =============================================================================

// Qty builds a decimal quantity from an integer count.
func Qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// MustDecimal parses s or panics. Intended for fixtures and constants.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("core: invalid decimal %q: %v", s, err))
	}
	return d
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
