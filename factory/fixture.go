/*
Package factory provides JSON to Go fixture conversion.

PURPOSE:
  Converts JSON order fixtures into core entities and seeds them into a
  store. Demo scenarios, the CLI, and tests describe whole order books
  (facilities, stock, orders, reservations, billed tax) as JSON instead of
  hand-building every struct.

JSON SCHEMA:
  {
    "addresses": [
      {"contact_mech_id": "ADDR-CA", "city": "Fresno", "state_geo_id": "CA", "country_geo_id": "USA"}
    ],
    "facilities": [{"id": "WH-1", "name": "Main", "address_id": "ADDR-WH"}],
    "inventory":  [{"id": "INV-1", "product_id": "WIDGET", "facility_id": "WH-1", "quantity": "12"}],
    "orders": [
      {
        "id": "ORD-1",
        "origin_facility_id": "WH-1",
        "lines": [{"seq_id": "00001", "product_id": "WIDGET", "quantity": "10", "unit_price": "4.00"}],
        "ship_groups": [{"seq_id": "00001", "contact_mech_id": "ADDR-CA", "priority": 2}],
        "allocations": [{"line": "00001", "group": "00001", "quantity": "10"}],
        "reservations": [{"line": "00001", "group": "00001", "item": "INV-1", "quantity": "10"}],
        "adjustments": [
          {"id": "TAX-1", "type": "SALES_TAX", "line": "00001", "group": "00001",
           "amount": "2.50", "billed": "2.50", "tax_authority_geo_id": "CA"}
        ],
        "pick_locks": [{"line": "00001", "group": "00001"}]
      }
    ]
  }

SEEDING ORDER:
  1. Addresses and facilities
  2. Stock is received through the inventory service (ledger entries written)
  3. Orders, lines, ship groups, allocations
  4. Reservations through ReserveQuantity, in fixture order (sequence 1..n)
  5. Adjustments and their billings, pick locks, priority ranks

DEFAULTS:
  - order status ORDER_APPROVED, currency USD
  - line status ITEM_APPROVED
  - ship group carrier UPS / GROUND, status ACTIVE
  - adjustment type SALES_TAX

SEE ALSO:
  - api/scenarios.go: Demo fixtures
  - inventory/service.go: Receive and ReserveQuantity
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/core"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type FixtureJSON struct {
	Addresses  []AddressJSON   `json:"addresses" validate:"dive"`
	Facilities []FacilityJSON  `json:"facilities" validate:"dive"`
	Inventory  []InventoryJSON `json:"inventory" validate:"dive"`
	Orders     []OrderJSON     `json:"orders" validate:"dive"`
}

type AddressJSON struct {
	ContactMechID string `json:"contact_mech_id" validate:"required"`
	Address1      string `json:"address1,omitempty"`
	City          string `json:"city,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	StateGeoID    string `json:"state_geo_id,omitempty"`
	CountryGeoID  string `json:"country_geo_id,omitempty"`
}

type FacilityJSON struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name,omitempty"`
	AddressID string `json:"address_id,omitempty"`
}

type InventoryJSON struct {
	ID         string          `json:"id" validate:"required"`
	ProductID  string          `json:"product_id" validate:"required"`
	FacilityID string          `json:"facility_id,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type OrderJSON struct {
	ID               string            `json:"id" validate:"required"`
	Status           string            `json:"status,omitempty"`
	ProductStoreID   string            `json:"product_store_id,omitempty"`
	BillToPartyID    string            `json:"bill_to_party_id,omitempty"`
	OriginFacilityID string            `json:"origin_facility_id,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	GrandTotal       decimal.Decimal   `json:"grand_total"`
	Lines            []LineJSON        `json:"lines" validate:"required,min=1,dive"`
	ShipGroups       []ShipGroupJSON   `json:"ship_groups" validate:"required,min=1,dive"`
	Allocations      []AllocationJSON  `json:"allocations" validate:"dive"`
	Reservations     []ReservationJSON `json:"reservations" validate:"dive"`
	Adjustments      []AdjustmentJSON  `json:"adjustments" validate:"dive"`
	PickLocks        []PickLockJSON    `json:"pick_locks" validate:"dive"`
}

type LineJSON struct {
	SeqID          string          `json:"seq_id" validate:"required"`
	ProductID      string          `json:"product_id" validate:"required"`
	Quantity       decimal.Decimal `json:"quantity"`
	CancelQuantity decimal.Decimal `json:"cancel_quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Status         string          `json:"status,omitempty"`
}

type ShipGroupJSON struct {
	SeqID                string     `json:"seq_id" validate:"required"`
	ContactMechID        string     `json:"contact_mech_id,omitempty"`
	CarrierPartyID       string     `json:"carrier_party_id,omitempty"`
	ShipmentMethodTypeID string     `json:"shipment_method_type_id,omitempty"`
	MaySplit             bool       `json:"may_split,omitempty"`
	IsGift               bool       `json:"is_gift,omitempty"`
	ShipByDate           *time.Time `json:"ship_by_date,omitempty"`
	Priority             int64      `json:"priority,omitempty" validate:"gte=0"`
}

type AllocationJSON struct {
	Line     string          `json:"line" validate:"required"`
	Group    string          `json:"group" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
	Shipped  decimal.Decimal `json:"shipped"`
}

type ReservationJSON struct {
	Line     string          `json:"line" validate:"required"`
	Group    string          `json:"group" validate:"required"`
	Item     string          `json:"item" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

type AdjustmentJSON struct {
	ID                string           `json:"id,omitempty"`
	Type              string           `json:"type,omitempty"`
	Line              string           `json:"line,omitempty"`
	Group             string           `json:"group,omitempty"`
	Amount            decimal.Decimal  `json:"amount"`
	Billed            *decimal.Decimal `json:"billed,omitempty"`
	TaxAuthorityGeoID string           `json:"tax_authority_geo_id,omitempty"`
	TaxAuthPartyID    string           `json:"tax_auth_party_id,omitempty"`
	AppliesToQuantity *decimal.Decimal `json:"applies_to_quantity,omitempty"`
	Comments          string           `json:"comments,omitempty"`
}

type PickLockJSON struct {
	Line  string `json:"line" validate:"required"`
	Group string `json:"group" validate:"required"`
}

// =============================================================================
// FIXTURE FACTORY
// =============================================================================

// Stocker is the part of the inventory service seeding needs.
type Stocker interface {
	Receive(ctx context.Context, tx core.Store, item core.InventoryItem, qty decimal.Decimal) (core.InventoryItem, error)
	ReserveQuantity(ctx context.Context, tx core.Store, req core.ReserveRequest) (core.Reservation, error)
}

// FixtureFactory converts JSON fixtures to entities and seeds them.
type FixtureFactory struct {
	Stock    Stocker
	Clock    func() time.Time
	validate *validator.Validate
}

func NewFixtureFactory(stock Stocker) *FixtureFactory {
	return &FixtureFactory{Stock: stock, Clock: time.Now, validate: validator.New()}
}

// ParseFixture parses and structurally validates a JSON fixture.
func (f *FixtureFactory) ParseFixture(jsonStr string) (FixtureJSON, error) {
	var fj FixtureJSON
	if err := json.Unmarshal([]byte(jsonStr), &fj); err != nil {
		return FixtureJSON{}, fmt.Errorf("failed to parse fixture JSON: %w", err)
	}
	if err := f.validate.Struct(fj); err != nil {
		return FixtureJSON{}, core.Invalid("fixture", "%v", err)
	}
	return fj, nil
}

// Seed writes fj into tx. Run it inside WithTx so a bad fixture leaves nothing behind.
func (f *FixtureFactory) Seed(ctx context.Context, tx core.Store, fj FixtureJSON) error {
	now := f.Clock().UTC()

	for _, a := range fj.Addresses {
		if err := tx.SavePostalAddress(ctx, toAddress(a)); err != nil {
			return err
		}
	}
	for _, fc := range fj.Facilities {
		if err := tx.SaveFacility(ctx, core.Facility{
			ID:        core.FacilityID(fc.ID),
			Name:      fc.Name,
			AddressID: core.ContactMechID(fc.AddressID),
		}); err != nil {
			return err
		}
	}
	for _, inv := range fj.Inventory {
		item := core.InventoryItem{
			ID:         core.InventoryItemID(inv.ID),
			ProductID:  core.ProductID(inv.ProductID),
			FacilityID: core.FacilityID(inv.FacilityID),
		}
		if _, err := f.Stock.Receive(ctx, tx, item, inv.Quantity); err != nil {
			return err
		}
	}

	var seq int64
	for _, oj := range fj.Orders {
		if err := f.seedOrder(ctx, tx, oj, now, &seq); err != nil {
			return fmt.Errorf("order %s: %w", oj.ID, err)
		}
	}
	return nil
}

func (f *FixtureFactory) seedOrder(ctx context.Context, tx core.Store, oj OrderJSON, now time.Time, seq *int64) error {
	orderID := core.OrderID(oj.ID)
	order := core.Order{
		ID:               orderID,
		Status:           core.OrderStatus(orDefault(oj.Status, string(core.OrderApproved))),
		ProductStoreID:   oj.ProductStoreID,
		BillToPartyID:    oj.BillToPartyID,
		OriginFacilityID: core.FacilityID(oj.OriginFacilityID),
		Currency:         orDefault(oj.Currency, "USD"),
		GrandTotal:       oj.GrandTotal,
		CreatedAt:        now,
	}
	if err := tx.SaveOrder(ctx, order); err != nil {
		return err
	}

	for _, lj := range oj.Lines {
		line, err := core.NewOrderLine(orderID, core.OrderItemSeqID(lj.SeqID), core.ProductID(lj.ProductID), lj.Quantity, lj.UnitPrice)
		if err != nil {
			return err
		}
		line.CancelQuantity = lj.CancelQuantity
		if lj.Status != "" {
			line.Status = core.LineStatus(lj.Status)
		}
		if line.Remaining().IsNegative() {
			return core.Invalid("cancelQuantity", "line %s: cancel quantity exceeds quantity", lj.SeqID)
		}
		if err := tx.SaveOrderLine(ctx, line); err != nil {
			return err
		}
	}

	var ranks []core.PriorityRank
	for _, gj := range oj.ShipGroups {
		g := core.ShipGroup{
			OrderID:              orderID,
			SeqID:                core.ShipGroupSeqID(gj.SeqID),
			ContactMechID:        core.ContactMechID(gj.ContactMechID),
			CarrierPartyID:       orDefault(gj.CarrierPartyID, "UPS"),
			ShipmentMethodTypeID: orDefault(gj.ShipmentMethodTypeID, "GROUND"),
			MaySplit:             gj.MaySplit,
			IsGift:               gj.IsGift,
			ShipByDate:           gj.ShipByDate,
			Status:               core.ShipGroupActive,
			CreatedAt:            now,
		}
		if err := tx.SaveShipGroup(ctx, g); err != nil {
			return err
		}
		if gj.Priority > 0 {
			ranks = append(ranks, core.PriorityRank{OrderID: orderID, ShipGroupSeqID: g.SeqID, PriorityValue: gj.Priority})
		}
	}

	for _, aj := range oj.Allocations {
		key := core.AllocationKey{OrderID: orderID, OrderItemSeqID: core.OrderItemSeqID(aj.Line), ShipGroupSeqID: core.ShipGroupSeqID(aj.Group)}
		alloc, err := core.NewAllocation(key, aj.Quantity)
		if err != nil {
			return err
		}
		alloc.ShippedQuantity = aj.Shipped
		if err := tx.SaveAllocation(ctx, alloc); err != nil {
			return err
		}
	}

	for _, rj := range oj.Reservations {
		*seq++
		r, err := f.Stock.ReserveQuantity(ctx, tx, core.ReserveRequest{
			Key: core.ReservationKey{
				OrderID:         orderID,
				OrderItemSeqID:  core.OrderItemSeqID(rj.Line),
				ShipGroupSeqID:  core.ShipGroupSeqID(rj.Group),
				InventoryItemID: core.InventoryItemID(rj.Item),
			},
			ReserveType: core.ReserveTypeSoft,
			Quantity:    rj.Quantity,
			ReservedAt:  now,
			SequenceID:  *seq,
		})
		if err != nil {
			return err
		}
		if err := tx.SaveReservation(ctx, r); err != nil {
			return err
		}
	}

	for _, adj := range oj.Adjustments {
		a := toAdjustment(orderID, adj, now)
		if err := tx.SaveAdjustment(ctx, a); err != nil {
			return err
		}
		if adj.Billed != nil {
			if err := tx.SaveAdjustmentBilling(ctx, core.AdjustmentBilling{
				AdjustmentID:     a.ID,
				InvoiceID:        "INV-" + string(orderID),
				InvoiceItemSeqID: "00001",
				Amount:           *adj.Billed,
			}); err != nil {
				return err
			}
		}
	}

	for _, pj := range oj.PickLocks {
		key := core.AllocationKey{OrderID: orderID, OrderItemSeqID: core.OrderItemSeqID(pj.Line), ShipGroupSeqID: core.ShipGroupSeqID(pj.Group)}
		if err := tx.SetPickLock(ctx, key, true); err != nil {
			return err
		}
	}

	for _, r := range ranks {
		if err := tx.SavePriorityRank(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func toAddress(a AddressJSON) core.PostalAddress {
	return core.PostalAddress{
		ContactMechID: core.ContactMechID(a.ContactMechID),
		Address1:      a.Address1,
		City:          a.City,
		PostalCode:    a.PostalCode,
		StateGeoID:    a.StateGeoID,
		CountryGeoID:  a.CountryGeoID,
	}
}

func toAdjustment(orderID core.OrderID, adj AdjustmentJSON, now time.Time) core.Adjustment {
	id := adj.ID
	if id == "" {
		id = uuid.NewString()
	}
	line := core.OrderItemSeqID(adj.Line)
	if line == "" {
		line = core.NoOrderItem
	}
	return core.Adjustment{
		ID:                core.AdjustmentID(id),
		Type:              core.AdjustmentType(orDefault(adj.Type, string(core.AdjTax))),
		OrderID:           orderID,
		OrderItemSeqID:    line,
		ShipGroupSeqID:    core.ShipGroupSeqID(adj.Group),
		Amount:            adj.Amount,
		TaxAuthorityGeoID: adj.TaxAuthorityGeoID,
		TaxAuthPartyID:    adj.TaxAuthPartyID,
		AppliesToQuantity: adj.AppliesToQuantity,
		Comments:          adj.Comments,
		CreatedAt:         now,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
