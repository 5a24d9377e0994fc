package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVENTORY AVAILABILITY SERVICE
// =============================================================================

// ReserveRequest asks the inventory service to reserve quantity for one
// allocation. ReservedAt and SequenceID carry the priority ordering.
type ReserveRequest struct {
	Key         ReservationKey
	ReserveType string
	Quantity    decimal.Decimal
	ReservedAt  time.Time
	SequenceID  int64
	Priority    string
}

// InventoryService restores and claims physical availability. Calls receive
// the caller's transactional Store so an in-process implementation commits or
// rolls back with the operation; a remote implementation ignores it.
type InventoryService interface {
	ReleaseReservation(ctx context.Context, tx Store, r Reservation) error
	// ReserveQuantity claims quantity. The returned reservation carries the
	// backordered portion in QuantityUnavailable. It is not persisted.
	ReserveQuantity(ctx context.Context, tx Store, req ReserveRequest) (Reservation, error)
	Rebalance(ctx context.Context, tx Store, item InventoryItemID) error
}

// =============================================================================
// TAX-RATE SERVICE
// =============================================================================

// TaxLine is one line's input to the tax-rate service.
type TaxLine struct {
	ProductID          ProductID       `json:"productId"`
	TaxableBase        decimal.Decimal `json:"taxableBase"`
	ShippingAllocation decimal.Decimal `json:"shippingAllocation"`
	UnitPrice          decimal.Decimal `json:"unitPrice"`
	Quantity           decimal.Decimal `json:"quantity"`
}

type TaxRequest struct {
	ProductStoreID        string          `json:"productStoreId"`
	BillToPartyID         string          `json:"billToPartyId"`
	ShipToAddress         PostalAddress   `json:"shipToAddress"`
	Lines                 []TaxLine       `json:"lines"`
	GlobalPromotionAmount decimal.Decimal `json:"globalPromotionAmount"`
	GlobalShippingAmount  decimal.Decimal `json:"globalShippingAmount"`
}

// TaxComponent is one tax authority's amount.
type TaxComponent struct {
	TaxAuthorityGeoID     string           `json:"taxAuthGeoId"`
	TaxAuthPartyID        string           `json:"taxAuthPartyId"`
	PrimaryGeoID          string           `json:"primaryGeoId"`
	TaxAuthorityRateSeqID string           `json:"taxAuthorityRateSeqId"`
	SourcePercentage      *decimal.Decimal `json:"sourcePercentage,omitempty"`
	Amount                decimal.Decimal  `json:"amount"`
	Comments              string           `json:"comments,omitempty"`
}

// TaxResult holds order-level components and, per request line, that line's components.
type TaxResult struct {
	OrderAdjustments []TaxComponent   `json:"orderAdjustments"`
	LineAdjustments  [][]TaxComponent `json:"lineAdjustments"`
}

type TaxService interface {
	ComputeTax(ctx context.Context, req TaxRequest) (TaxResult, error)
}

// =============================================================================
// PICK-LIST COLLABORATOR
// =============================================================================

type PickListChecker interface {
	IsAllocationLocked(ctx context.Context, tx Store, key AllocationKey) (bool, error)
}

// StorePickList reads pick locks from the transactional store.
type StorePickList struct{}

func (StorePickList) IsAllocationLocked(ctx context.Context, tx Store, key AllocationKey) (bool, error) {
	return tx.IsPickLocked(ctx, key)
}
