/*
store.go - Persistence interfaces for the order commitment model

PURPOSE:
  Defines the boundary between the allocation, priority and tax logic and the
  database. Every operation of the engine runs inside one TxStore.WithTx call;
  the Store handed to the callback is the transactional view and is the only
  Store the operation may touch.

KEY INTERFACES:
  OrderStore:       orders, lines, ship groups, allocations (read/write)
  ReservationStore: reservations ordered by (ReservedAt, SequenceID)
  LedgerStore:      append-only ATP ledger entries
  InventoryStore:   inventory items (written only by the inventory service)
  PriorityStore:    the priority rank list
  AdjustmentStore:  adjustments and their billings
  ReferenceStore:   postal addresses, facilities, pick locks, replay runs

ATOMICITY:
  WithTx commits when fn returns nil and rolls back everything fn wrote
  otherwise, so no partial transfer, replay, or tax state is ever visible.

NOT FOUND:
  Get* methods return an error matching ErrNotFound when the row is absent.

IMPLEMENTATIONS:
  - core/store/memory.go: in-memory, copy-on-transaction
  - store/sqlite/sqlite.go: SQLite via database/sql

SEE ALSO:
  - ledger.go: Ledger helper built on LedgerStore
*/
package core

import "context"

type OrderStore interface {
	GetOrder(ctx context.Context, id OrderID) (Order, error)
	SaveOrder(ctx context.Context, o Order) error

	GetOrderLine(ctx context.Context, orderID OrderID, seq OrderItemSeqID) (OrderLine, error)
	ListOrderLines(ctx context.Context, orderID OrderID) ([]OrderLine, error)
	SaveOrderLine(ctx context.Context, l OrderLine) error

	GetShipGroup(ctx context.Context, orderID OrderID, seq ShipGroupSeqID) (ShipGroup, error)
	ListShipGroups(ctx context.Context, orderID OrderID) ([]ShipGroup, error)
	SaveShipGroup(ctx context.Context, g ShipGroup) error

	GetAllocation(ctx context.Context, key AllocationKey) (Allocation, error)
	ListAllocations(ctx context.Context, orderID OrderID) ([]Allocation, error)
	SaveAllocation(ctx context.Context, a Allocation) error
	DeleteAllocation(ctx context.Context, key AllocationKey) error
}

// ReservationFilter selects reservations; empty fields match anything.
type ReservationFilter struct {
	OrderID         OrderID
	OrderItemSeqID  OrderItemSeqID
	ShipGroupSeqID  ShipGroupSeqID
	InventoryItemID InventoryItemID
}

func (f ReservationFilter) Matches(r Reservation) bool {
	return (f.OrderID == "" || f.OrderID == r.OrderID) &&
		(f.OrderItemSeqID == "" || f.OrderItemSeqID == r.OrderItemSeqID) &&
		(f.ShipGroupSeqID == "" || f.ShipGroupSeqID == r.ShipGroupSeqID) &&
		(f.InventoryItemID == "" || f.InventoryItemID == r.InventoryItemID)
}

type ReservationStore interface {
	// ListReservations returns matches ordered by (ReservedAt, SequenceID).
	ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error)
	SaveReservation(ctx context.Context, r Reservation) error
	DeleteReservation(ctx context.Context, key ReservationKey) error
}

// LedgerStore is APPEND-ONLY. No Update, No Delete.
type LedgerStore interface {
	AppendLedgerEntries(ctx context.Context, entries []LedgerEntry) error
	ListLedgerEntries(ctx context.Context, item InventoryItemID) ([]LedgerEntry, error)
}

type InventoryStore interface {
	GetInventoryItem(ctx context.Context, id InventoryItemID) (InventoryItem, error)
	SaveInventoryItem(ctx context.Context, item InventoryItem) error
}

type PriorityStore interface {
	// ListPriorityRanks returns ranks ordered by (PriorityValue, OrderID, ShipGroupSeqID).
	ListPriorityRanks(ctx context.Context) ([]PriorityRank, error)
	SavePriorityRank(ctx context.Context, r PriorityRank) error
	DeletePriorityRanks(ctx context.Context, orderID OrderID) error
	// ReplacePriorityRanks deletes every rank and inserts ranks.
	ReplacePriorityRanks(ctx context.Context, ranks []PriorityRank) error
}

type AdjustmentStore interface {
	ListAdjustments(ctx context.Context, orderID OrderID) ([]Adjustment, error)
	SaveAdjustment(ctx context.Context, a Adjustment) error
	DeleteAdjustment(ctx context.Context, id AdjustmentID) error
	ListAdjustmentBillings(ctx context.Context, id AdjustmentID) ([]AdjustmentBilling, error)
	SaveAdjustmentBilling(ctx context.Context, b AdjustmentBilling) error
}

type ReferenceStore interface {
	GetPostalAddress(ctx context.Context, id ContactMechID) (PostalAddress, error)
	SavePostalAddress(ctx context.Context, a PostalAddress) error
	GetFacility(ctx context.Context, id FacilityID) (Facility, error)
	SaveFacility(ctx context.Context, f Facility) error

	IsPickLocked(ctx context.Context, key AllocationKey) (bool, error)
	SetPickLock(ctx context.Context, key AllocationKey, locked bool) error

	SaveReplayRun(ctx context.Context, run ReplayRun) error
	ListReplayRuns(ctx context.Context, limit int) ([]ReplayRun, error)
}

// Store is the full persistence surface.
type Store interface {
	OrderStore
	ReservationStore
	LedgerStore
	InventoryStore
	PriorityStore
	AdjustmentStore
	ReferenceStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Reset removes all data. Development and demo scenarios only.
	Reset(ctx context.Context) error
}
