package core

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ORDER AND LINES (created by order entry, read here)
// =============================================================================

type Order struct {
	ID               OrderID
	Status           OrderStatus
	ProductStoreID   string
	BillToPartyID    string
	OriginFacilityID FacilityID
	Currency         string
	GrandTotal       decimal.Decimal
	CreatedAt        time.Time
}

// OrderLine is one ordered product.
//
// INVARIANT: Remaining() = Quantity - CancelQuantity >= 0.
type OrderLine struct {
	OrderID        OrderID
	SeqID          OrderItemSeqID
	ProductID      ProductID
	Quantity       decimal.Decimal
	CancelQuantity decimal.Decimal
	UnitPrice      decimal.Decimal
	Status         LineStatus
}

func NewOrderLine(orderID OrderID, seq OrderItemSeqID, product ProductID, qty, unitPrice decimal.Decimal) (OrderLine, error) {
	if qty.IsNegative() {
		return OrderLine{}, Invalid("quantity", "line %s: negative quantity %s", seq, qty)
	}
	return OrderLine{
		OrderID:        orderID,
		SeqID:          seq,
		ProductID:      product,
		Quantity:       qty,
		CancelQuantity: decimal.Zero,
		UnitPrice:      unitPrice,
		Status:         LineApproved,
	}, nil
}

func (l OrderLine) Remaining() decimal.Decimal { return l.Quantity.Sub(l.CancelQuantity) }

// =============================================================================
// SHIP GROUP
// =============================================================================

// ShipGroup is a sub-shipment of an order. It is never deleted; emptied
// groups move to CANCELLED so pick history stays resolvable.
type ShipGroup struct {
	OrderID              OrderID
	SeqID                ShipGroupSeqID
	ContactMechID        ContactMechID
	CarrierPartyID       string
	ShipmentMethodTypeID string
	MaySplit             bool
	IsGift               bool
	ShipByDate           *time.Time
	ThirdPartyBilling    *ThirdPartyBilling
	Status               ShipGroupStatus
	CreatedAt            time.Time
}

type ThirdPartyBilling struct {
	AccountNumber string
	PostalCode    string
	CountryGeoID  string
}

func (g ShipGroup) IsActive() bool { return g.Status != ShipGroupCancelled }

// Matches reports whether g ships to the same place the same way as other.
func (g ShipGroup) Matches(contactMech ContactMechID, carrier, method string) bool {
	return g.ContactMechID == contactMech && g.CarrierPartyID == carrier && g.ShipmentMethodTypeID == method
}

// =============================================================================
// ALLOCATION (order line <-> ship group)
// =============================================================================

type AllocationKey struct {
	OrderID        OrderID
	OrderItemSeqID OrderItemSeqID
	ShipGroupSeqID ShipGroupSeqID
}

// Allocation is the quantity of a line committed to a ship group.
// ShippedQuantity is the portion already issued to a shipment.
type Allocation struct {
	OrderID         OrderID
	OrderItemSeqID  OrderItemSeqID
	ShipGroupSeqID  ShipGroupSeqID
	Quantity        decimal.Decimal
	ShippedQuantity decimal.Decimal
}

func NewAllocation(key AllocationKey, qty decimal.Decimal) (Allocation, error) {
	if qty.IsNegative() {
		return Allocation{}, Invalid("quantity", "allocation %s/%s: negative quantity %s", key.OrderItemSeqID, key.ShipGroupSeqID, qty)
	}
	return Allocation{
		OrderID:         key.OrderID,
		OrderItemSeqID:  key.OrderItemSeqID,
		ShipGroupSeqID:  key.ShipGroupSeqID,
		Quantity:        qty,
		ShippedQuantity: decimal.Zero,
	}, nil
}

func (a Allocation) Key() AllocationKey {
	return AllocationKey{OrderID: a.OrderID, OrderItemSeqID: a.OrderItemSeqID, ShipGroupSeqID: a.ShipGroupSeqID}
}

// Unshipped is the quantity still eligible for transfer.
func (a Allocation) Unshipped() decimal.Decimal { return a.Quantity.Sub(a.ShippedQuantity) }

// =============================================================================
// RESERVATION
// =============================================================================

type ReservationKey struct {
	OrderID         OrderID
	OrderItemSeqID  OrderItemSeqID
	ShipGroupSeqID  ShipGroupSeqID
	InventoryItemID InventoryItemID
}

// Reservation backs part of an allocation with a specific inventory item.
// Quantity includes the backordered QuantityUnavailable portion.
//
// INVARIANT: 0 <= QuantityUnavailable <= Quantity.
type Reservation struct {
	OrderID             OrderID
	OrderItemSeqID      OrderItemSeqID
	ShipGroupSeqID      ShipGroupSeqID
	InventoryItemID     InventoryItemID
	ReserveType         string
	Quantity            decimal.Decimal
	QuantityUnavailable decimal.Decimal
	ReservedAt          time.Time
	SequenceID          int64
	Priority            string
}

const ReserveTypeSoft = "SOFT_RESERVATION"

func NewReservation(key ReservationKey, qty, unavailable decimal.Decimal, reservedAt time.Time, seq int64) (Reservation, error) {
	if qty.IsNegative() || unavailable.IsNegative() {
		return Reservation{}, Invalid("quantity", "reservation %s: negative quantity", key.InventoryItemID)
	}
	if unavailable.GreaterThan(qty) {
		return Reservation{}, Invalid("quantityUnavailable", "reservation %s: unavailable %s exceeds quantity %s", key.InventoryItemID, unavailable, qty)
	}
	return Reservation{
		OrderID:             key.OrderID,
		OrderItemSeqID:      key.OrderItemSeqID,
		ShipGroupSeqID:      key.ShipGroupSeqID,
		InventoryItemID:     key.InventoryItemID,
		ReserveType:         ReserveTypeSoft,
		Quantity:            qty,
		QuantityUnavailable: unavailable,
		ReservedAt:          reservedAt,
		SequenceID:          seq,
	}, nil
}

func (r Reservation) Key() ReservationKey {
	return ReservationKey{
		OrderID:         r.OrderID,
		OrderItemSeqID:  r.OrderItemSeqID,
		ShipGroupSeqID:  r.ShipGroupSeqID,
		InventoryItemID: r.InventoryItemID,
	}
}

// IsEmpty reports whether both quantity fields reached zero; such rows are deleted.
func (r Reservation) IsEmpty() bool {
	return r.Quantity.IsZero() && r.QuantityUnavailable.IsZero()
}

// ReservedBefore orders reservations by (ReservedAt, SequenceID), falling back
// to the key so the order is total.
func ReservedBefore(a, b Reservation) bool {
	if !a.ReservedAt.Equal(b.ReservedAt) {
		return a.ReservedAt.Before(b.ReservedAt)
	}
	if a.SequenceID != b.SequenceID {
		return a.SequenceID < b.SequenceID
	}
	if a.OrderID != b.OrderID {
		return a.OrderID < b.OrderID
	}
	if a.ShipGroupSeqID != b.ShipGroupSeqID {
		return a.ShipGroupSeqID < b.ShipGroupSeqID
	}
	if a.OrderItemSeqID != b.OrderItemSeqID {
		return a.OrderItemSeqID < b.OrderItemSeqID
	}
	return a.InventoryItemID < b.InventoryItemID
}

// SortReservations sorts rs in place in reservation priority order.
func SortReservations(rs []Reservation) {
	sort.SliceStable(rs, func(i, j int) bool { return ReservedBefore(rs[i], rs[j]) })
}

// =============================================================================
// LEDGER ENTRY (available-to-promise / on-hand delta)
// =============================================================================

type LedgerEntry struct {
	ID              LedgerEntryID
	InventoryItemID InventoryItemID
	OrderID         OrderID
	OrderItemSeqID  OrderItemSeqID
	ShipGroupSeqID  ShipGroupSeqID
	ATPDiff         decimal.Decimal
	QOHDiff         decimal.Decimal
	Reason          string
	CreatedAt       time.Time
}

// =============================================================================
// INVENTORY ITEM (owned by the inventory service)
// =============================================================================

type InventoryItem struct {
	ID                 InventoryItemID
	ProductID          ProductID
	FacilityID         FacilityID
	QuantityOnHand     decimal.Decimal
	AvailableToPromise decimal.Decimal
}

// =============================================================================
// PRIORITY RANK
// =============================================================================

// PriorityRank orders ship groups for reservation replay. Lower values are
// serviced first.
type PriorityRank struct {
	OrderID        OrderID
	ShipGroupSeqID ShipGroupSeqID
	PriorityValue  int64
}

// SortRanks orders ranks by (PriorityValue, OrderID, ShipGroupSeqID).
func SortRanks(ranks []PriorityRank) {
	sort.SliceStable(ranks, func(i, j int) bool {
		a, b := ranks[i], ranks[j]
		if a.PriorityValue != b.PriorityValue {
			return a.PriorityValue < b.PriorityValue
		}
		if a.OrderID != b.OrderID {
			return a.OrderID < b.OrderID
		}
		return a.ShipGroupSeqID < b.ShipGroupSeqID
	})
}

// =============================================================================
// ADJUSTMENTS AND BILLINGS
// =============================================================================

type AdjustmentType string

const (
	AdjTax       AdjustmentType = "SALES_TAX"
	AdjShipping  AdjustmentType = "SHIPPING_CHARGES"
	AdjPromotion AdjustmentType = "PROMOTION_ADJUSTMENT"
	AdjDiscount  AdjustmentType = "DISCOUNT_ADJUSTMENT"
)

// Adjustment is money attached to an order, optionally to one line and one
// ship group. OrderItemSeqID == NoOrderItem marks an order-level adjustment.
type Adjustment struct {
	ID                    AdjustmentID
	Type                  AdjustmentType
	OrderID               OrderID
	OrderItemSeqID        OrderItemSeqID
	ShipGroupSeqID        ShipGroupSeqID
	Amount                decimal.Decimal
	SourcePercentage      *decimal.Decimal
	TaxAuthorityGeoID     string
	TaxAuthPartyID        string
	PrimaryGeoID          string
	TaxAuthorityRateSeqID string
	Comments              string
	AppliesToQuantity     *decimal.Decimal
	NeverProrate          bool
	CreatedAt             time.Time
}

func (a Adjustment) IsTax() bool { return a.Type == AdjTax }

func (a Adjustment) IsOrderLevel() bool {
	return a.OrderItemSeqID == "" || a.OrderItemSeqID == NoOrderItem
}

// AdjustmentBilling records an amount of an adjustment already on an invoice.
type AdjustmentBilling struct {
	AdjustmentID     AdjustmentID
	InvoiceID        string
	InvoiceItemSeqID string
	Amount           decimal.Decimal
}

// =============================================================================
// ADDRESSES AND FACILITIES (read for tax jurisdiction)
// =============================================================================

type PostalAddress struct {
	ContactMechID ContactMechID
	Address1      string
	City          string
	PostalCode    string
	StateGeoID    string
	CountryGeoID  string
}

type Facility struct {
	ID        FacilityID
	Name      string
	AddressID ContactMechID
}

// =============================================================================
// REPLAY RUN (audit record for reservation replays)
// =============================================================================

type ReplayRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Cancelled  int
	Reserved   int
	Error      string
}
