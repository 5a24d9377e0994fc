/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

ENVELOPE:
  Every response is a Result:
    {"ok": true,  "data": {...}}
    {"ok": false, "kind": "conflict", "message": "..."}
  kind is one of validation, conflict, consistency, collaborator, not_found,
  internal.

VALIDATION:
  Request types carry go-playground/validator tags. Handlers run them before
  anything reaches the engine; domain rules (remaining quantity, pick locks)
  are checked by the engine itself.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/allocation"
	"github.com/warp/fulfillment-engine/core"
	"github.com/warp/fulfillment-engine/engine"
	"github.com/warp/fulfillment-engine/priority"
	"github.com/warp/fulfillment-engine/tax"
)

// Result is the typed envelope of every response.
type Result struct {
	OK      bool   `json:"ok"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

type LineTransferRequest struct {
	OrderItemSeqID     string          `json:"order_item_seq_id" validate:"required"`
	FromShipGroupSeqID string          `json:"from_ship_group_seq_id" validate:"required"`
	Quantity           decimal.Decimal `json:"quantity"`
}

type ThirdPartyBillingRequest struct {
	AccountNumber string `json:"account_number" validate:"required"`
	PostalCode    string `json:"postal_code"`
	CountryGeoID  string `json:"country_geo_id"`
}

type TransferRequest struct {
	Lines                []LineTransferRequest     `json:"lines" validate:"required,min=1,dive"`
	ContactMechID        string                    `json:"contact_mech_id"`
	CarrierPartyID       string                    `json:"carrier_party_id" validate:"required"`
	ShipmentMethodTypeID string                    `json:"shipment_method_type_id" validate:"required"`
	MaySplit             bool                      `json:"may_split"`
	IsGift               bool                      `json:"is_gift"`
	ShipByDate           *time.Time                `json:"ship_by_date"`
	ThirdPartyBilling    *ThirdPartyBillingRequest `json:"third_party_billing" validate:"omitempty"`
	ReuseCompatibleGroup bool                      `json:"reuse_compatible_group"`
}

func (r TransferRequest) toDomain(orderID core.OrderID) allocation.TransferRequest {
	req := allocation.TransferRequest{
		OrderID: orderID,
		Destination: allocation.Destination{
			ContactMechID:        core.ContactMechID(r.ContactMechID),
			CarrierPartyID:       r.CarrierPartyID,
			ShipmentMethodTypeID: r.ShipmentMethodTypeID,
			MaySplit:             r.MaySplit,
			IsGift:               r.IsGift,
			ShipByDate:           r.ShipByDate,
		},
		ReuseCompatibleGroup: r.ReuseCompatibleGroup,
	}
	if tp := r.ThirdPartyBilling; tp != nil {
		req.Destination.ThirdPartyBilling = &core.ThirdPartyBilling{
			AccountNumber: tp.AccountNumber,
			PostalCode:    tp.PostalCode,
			CountryGeoID:  tp.CountryGeoID,
		}
	}
	for _, l := range r.Lines {
		req.Lines = append(req.Lines, allocation.LineTransfer{
			OrderItemSeqID:     core.OrderItemSeqID(l.OrderItemSeqID),
			FromShipGroupSeqID: core.ShipGroupSeqID(l.FromShipGroupSeqID),
			Quantity:           l.Quantity,
		})
	}
	return req
}

type RecalcTaxRequest struct {
	ContactMechIDChanged bool `json:"contact_mech_id_changed"`
}

type ResequenceEntryRequest struct {
	OrderID        string     `json:"order_id" validate:"required"`
	ShipGroupSeqID string     `json:"ship_group_seq_id" validate:"required"`
	ShipByDate     *time.Time `json:"ship_by_date"`
}

type ResequenceRequest struct {
	Entries []ResequenceEntryRequest `json:"entries" validate:"dive"`
}

func (r ResequenceRequest) toDomain() []priority.ResequenceEntry {
	out := make([]priority.ResequenceEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, priority.ResequenceEntry{
			OrderID:        core.OrderID(e.OrderID),
			ShipGroupSeqID: core.ShipGroupSeqID(e.ShipGroupSeqID),
			ShipByDate:     e.ShipByDate,
		})
	}
	return out
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type OrderDTO struct {
	ID               string       `json:"id"`
	Status           string       `json:"status"`
	ProductStoreID   string       `json:"product_store_id,omitempty"`
	OriginFacilityID string       `json:"origin_facility_id,omitempty"`
	Currency         string       `json:"currency,omitempty"`
	GrandTotal       string       `json:"grand_total"`
	TaxTotal         string       `json:"tax_total"`
	Lines            []LineDTO    `json:"lines"`
	ShipGroups       []GroupDTO   `json:"ship_groups"`
	Allocations      []AllocDTO   `json:"allocations"`
	Reservations     []ResDTO     `json:"reservations"`
	Adjustments      []AdjDTO     `json:"adjustments"`
}

type LineDTO struct {
	SeqID          string `json:"seq_id"`
	ProductID      string `json:"product_id"`
	Quantity       string `json:"quantity"`
	CancelQuantity string `json:"cancel_quantity"`
	UnitPrice      string `json:"unit_price"`
	Status         string `json:"status"`
}

type GroupDTO struct {
	SeqID                string  `json:"seq_id"`
	ContactMechID        string  `json:"contact_mech_id,omitempty"`
	CarrierPartyID       string  `json:"carrier_party_id"`
	ShipmentMethodTypeID string  `json:"shipment_method_type_id"`
	MaySplit             bool    `json:"may_split"`
	IsGift               bool    `json:"is_gift"`
	ShipByDate           *string `json:"ship_by_date,omitempty"`
	Status               string  `json:"status"`
}

type AllocDTO struct {
	OrderItemSeqID  string `json:"order_item_seq_id"`
	ShipGroupSeqID  string `json:"ship_group_seq_id"`
	Quantity        string `json:"quantity"`
	ShippedQuantity string `json:"shipped_quantity"`
}

type ResDTO struct {
	OrderID             string `json:"order_id"`
	OrderItemSeqID      string `json:"order_item_seq_id"`
	ShipGroupSeqID      string `json:"ship_group_seq_id"`
	InventoryItemID     string `json:"inventory_item_id"`
	Quantity            string `json:"quantity"`
	QuantityUnavailable string `json:"quantity_unavailable"`
	ReservedAt          string `json:"reserved_at"`
	SequenceID          int64  `json:"sequence_id"`
}

type AdjDTO struct {
	ID                string  `json:"id"`
	Type              string  `json:"type"`
	OrderItemSeqID    string  `json:"order_item_seq_id,omitempty"`
	ShipGroupSeqID    string  `json:"ship_group_seq_id,omitempty"`
	Amount            string  `json:"amount"`
	TaxAuthorityGeoID string  `json:"tax_authority_geo_id,omitempty"`
	AppliesToQuantity *string `json:"applies_to_quantity,omitempty"`
	NeverProrate      bool    `json:"never_prorate,omitempty"`
	Comments          string  `json:"comments,omitempty"`
}

type LedgerEntryDTO struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id,omitempty"`
	ShipGroupSeqID string `json:"ship_group_seq_id,omitempty"`
	ATPDiff        string `json:"atp_diff"`
	QOHDiff        string `json:"qoh_diff"`
	RunningATP     string `json:"running_atp"`
	Reason         string `json:"reason"`
	CreatedAt      string `json:"created_at"`
}

type LedgerDTO struct {
	InventoryItemID string           `json:"inventory_item_id"`
	QuantityOnHand  string           `json:"quantity_on_hand"`
	ATP             string           `json:"available_to_promise"`
	LedgerATP       string           `json:"ledger_atp"`
	Entries         []LedgerEntryDTO `json:"entries"`
}

type RankDTO struct {
	OrderID        string `json:"order_id"`
	ShipGroupSeqID string `json:"ship_group_seq_id"`
	PriorityValue  int64  `json:"priority_value"`
}

type TransferResultDTO struct {
	ShipGroup       GroupDTO         `json:"ship_group"`
	LedgerEntries   []LedgerEntryDTO `json:"ledger_entries"`
	CancelledGroups []string         `json:"cancelled_groups"`
}

type RecalcResultDTO struct {
	OldTaxTotal   string   `json:"old_tax_total"`
	NewTaxTotal   string   `json:"new_tax_total"`
	RemovedAmount string   `json:"removed_amount"`
	CreatedAmount string   `json:"created_amount"`
	Difference    string   `json:"difference"`
	GrandTotal    string   `json:"grand_total"`
	Created       []AdjDTO `json:"created"`
}

type ReplayRunDTO struct {
	ID         string  `json:"id"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
	Cancelled  int     `json:"cancelled"`
	Reserved   int     `json:"reserved"`
	Error      string  `json:"error,omitempty"`
	Queued     bool    `json:"queued,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func formatDecimalPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func toGroupDTO(g core.ShipGroup) GroupDTO {
	return GroupDTO{
		SeqID:                string(g.SeqID),
		ContactMechID:        string(g.ContactMechID),
		CarrierPartyID:       g.CarrierPartyID,
		ShipmentMethodTypeID: g.ShipmentMethodTypeID,
		MaySplit:             g.MaySplit,
		IsGift:               g.IsGift,
		ShipByDate:           formatTimePtr(g.ShipByDate),
		Status:               string(g.Status),
	}
}

func toAdjDTO(a core.Adjustment) AdjDTO {
	return AdjDTO{
		ID:                string(a.ID),
		Type:              string(a.Type),
		OrderItemSeqID:    string(a.OrderItemSeqID),
		ShipGroupSeqID:    string(a.ShipGroupSeqID),
		Amount:            a.Amount.String(),
		TaxAuthorityGeoID: a.TaxAuthorityGeoID,
		AppliesToQuantity: formatDecimalPtr(a.AppliesToQuantity),
		NeverProrate:      a.NeverProrate,
		Comments:          a.Comments,
	}
}

func toLedgerEntryDTO(e core.LedgerEntry, running decimal.Decimal) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:             string(e.ID),
		OrderID:        string(e.OrderID),
		ShipGroupSeqID: string(e.ShipGroupSeqID),
		ATPDiff:        e.ATPDiff.String(),
		QOHDiff:        e.QOHDiff.String(),
		RunningATP:     running.String(),
		Reason:         e.Reason,
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toOrderDTO(v engine.OrderView) OrderDTO {
	dto := OrderDTO{
		ID:               string(v.Order.ID),
		Status:           string(v.Order.Status),
		ProductStoreID:   v.Order.ProductStoreID,
		OriginFacilityID: string(v.Order.OriginFacilityID),
		Currency:         v.Order.Currency,
		GrandTotal:       v.Order.GrandTotal.String(),
		TaxTotal:         v.TaxTotal.String(),
		Lines:            []LineDTO{},
		ShipGroups:       []GroupDTO{},
		Allocations:      []AllocDTO{},
		Reservations:     []ResDTO{},
		Adjustments:      []AdjDTO{},
	}
	for _, l := range v.Lines {
		dto.Lines = append(dto.Lines, LineDTO{
			SeqID:          string(l.SeqID),
			ProductID:      string(l.ProductID),
			Quantity:       l.Quantity.String(),
			CancelQuantity: l.CancelQuantity.String(),
			UnitPrice:      l.UnitPrice.String(),
			Status:         string(l.Status),
		})
	}
	for _, g := range v.ShipGroups {
		dto.ShipGroups = append(dto.ShipGroups, toGroupDTO(g))
	}
	for _, a := range v.Allocations {
		dto.Allocations = append(dto.Allocations, AllocDTO{
			OrderItemSeqID:  string(a.OrderItemSeqID),
			ShipGroupSeqID:  string(a.ShipGroupSeqID),
			Quantity:        a.Quantity.String(),
			ShippedQuantity: a.ShippedQuantity.String(),
		})
	}
	for _, r := range v.Reservations {
		dto.Reservations = append(dto.Reservations, toResDTO(r))
	}
	for _, a := range v.Adjustments {
		dto.Adjustments = append(dto.Adjustments, toAdjDTO(a))
	}
	return dto
}

func toResDTO(r core.Reservation) ResDTO {
	return ResDTO{
		OrderID:             string(r.OrderID),
		OrderItemSeqID:      string(r.OrderItemSeqID),
		ShipGroupSeqID:      string(r.ShipGroupSeqID),
		InventoryItemID:     string(r.InventoryItemID),
		Quantity:            r.Quantity.String(),
		QuantityUnavailable: r.QuantityUnavailable.String(),
		ReservedAt:          r.ReservedAt.UTC().Format(time.RFC3339Nano),
		SequenceID:          r.SequenceID,
	}
}

func toRankDTOs(ranks []core.PriorityRank) []RankDTO {
	out := make([]RankDTO, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, RankDTO{
			OrderID:        string(r.OrderID),
			ShipGroupSeqID: string(r.ShipGroupSeqID),
			PriorityValue:  r.PriorityValue,
		})
	}
	return out
}

func toTransferResultDTO(res allocation.TransferResult) TransferResultDTO {
	dto := TransferResultDTO{
		ShipGroup:       toGroupDTO(res.ShipGroup),
		LedgerEntries:   []LedgerEntryDTO{},
		CancelledGroups: []string{},
	}
	running := decimal.Zero
	for _, e := range res.LedgerEntries {
		running = running.Add(e.ATPDiff)
		dto.LedgerEntries = append(dto.LedgerEntries, toLedgerEntryDTO(e, running))
	}
	for _, g := range res.CancelledGroups {
		dto.CancelledGroups = append(dto.CancelledGroups, string(g))
	}
	return dto
}

func toRecalcResultDTO(res tax.RecalcResult) RecalcResultDTO {
	dto := RecalcResultDTO{
		OldTaxTotal:   res.OldTaxTotal.String(),
		NewTaxTotal:   res.NewTaxTotal.String(),
		RemovedAmount: res.RemovedAmount.String(),
		CreatedAmount: res.CreatedAmount.String(),
		Difference:    res.Difference.String(),
		GrandTotal:    res.GrandTotal.String(),
		Created:       []AdjDTO{},
	}
	for _, a := range res.Created {
		dto.Created = append(dto.Created, toAdjDTO(a))
	}
	return dto
}

func toReplayRunDTO(run core.ReplayRun) ReplayRunDTO {
	return ReplayRunDTO{
		ID:         run.ID,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt: formatTimePtr(run.FinishedAt),
		Cancelled:  run.Cancelled,
		Reserved:   run.Reserved,
		Error:      run.Error,
	}
}

func toLedgerDTO(v engine.LedgerView) LedgerDTO {
	dto := LedgerDTO{
		InventoryItemID: string(v.Item.ID),
		QuantityOnHand:  v.Item.QuantityOnHand.String(),
		ATP:             v.Item.AvailableToPromise.String(),
		LedgerATP:       v.ATP.String(),
		Entries:         []LedgerEntryDTO{},
	}
	for i, e := range v.Entries {
		dto.Entries = append(dto.Entries, toLedgerEntryDTO(e, v.Running[i]))
	}
	return dto
}
