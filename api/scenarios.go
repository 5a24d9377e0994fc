/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built order books that populate the store with realistic
	data for demos. Each scenario is a JSON fixture handed to the fixture
	factory, so stock receipts and reservations go through the inventory
	service and show up in the ATP ledger like real ones.

AVAILABLE SCENARIOS:

	split-shipment:     One line of 10 reserved on INV-1, ready to transfer
	priority-backorder: ATP 12, three orders of 5 ranked against arrival order
	billed-tax:         Partially shipped line whose tax is already invoiced

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Parse the scenario's fixture JSON
 3. Seed it in one transaction

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "priority-backorder"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description and fixture JSON

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - factory/fixture.go: Fixture JSON schema
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/core"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	fixture string
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "split-shipment",
			Name:        "Split Shipment",
			Description: "Line of 10 reserved on INV-1; transfer part of it to a second address",
		},
		fixture: splitShipmentFixture,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "priority-backorder",
			Name:        "Priority Backorder",
			Description: "ATP 12 shared by three orders of 5; replay moves the shortfall to the lowest rank",
		},
		fixture: priorityBackorderFixture,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "billed-tax",
			Name:        "Billed Tax",
			Description: "4 of 10 units shipped and invoiced; recalculation keeps the billed tax",
		},
		fixture: billedTaxFixture,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s.ScenarioDTO)
	}
	writeResult(w, http.StatusOK, out)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetStore clears all data.
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Store.Reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	s, ok := findScenario(id)
	if !ok {
		return core.NotFound("scenario", id)
	}
	fixture, err := h.Fixtures.ParseFixture(s.fixture)
	if err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}
	if err := h.Engine.Store.Reset(ctx); err != nil {
		return err
	}
	if err := h.Engine.Store.WithTx(ctx, func(tx core.Store) error {
		return h.Fixtures.Seed(ctx, tx, fixture)
	}); err != nil {
		return err
	}
	h.Logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// =============================================================================
// SCENARIO FIXTURES
// =============================================================================

const referenceData = `
	"addresses": [
		{"contact_mech_id": "ADDR-WH", "address1": "1 Dock Rd", "city": "Reno", "postal_code": "89501", "state_geo_id": "NV", "country_geo_id": "USA"},
		{"contact_mech_id": "ADDR-CA", "address1": "5 Vine St", "city": "Fresno", "postal_code": "93701", "state_geo_id": "CA", "country_geo_id": "USA"},
		{"contact_mech_id": "ADDR-NY", "address1": "9 Pearl St", "city": "Albany", "postal_code": "12207", "state_geo_id": "NY", "country_geo_id": "USA"}
	],
	"facilities": [{"id": "WH-1", "name": "Reno Warehouse", "address_id": "ADDR-WH"}],`

const splitShipmentFixture = `{` + referenceData + `
	"inventory": [{"id": "INV-1", "product_id": "WIDGET", "facility_id": "WH-1", "quantity": "25"}],
	"orders": [{
		"id": "ORD-SPLIT",
		"product_store_id": "STORE",
		"bill_to_party_id": "CUST-1",
		"origin_facility_id": "WH-1",
		"grand_total": "40.00",
		"lines": [{"seq_id": "00001", "product_id": "WIDGET", "quantity": "10", "unit_price": "4.00"}],
		"ship_groups": [{"seq_id": "00001", "contact_mech_id": "ADDR-CA"}],
		"allocations": [{"line": "00001", "group": "00001", "quantity": "10"}],
		"reservations": [{"line": "00001", "group": "00001", "item": "INV-1", "quantity": "10"}]
	}]
}`

const priorityBackorderFixture = `{` + referenceData + `
	"inventory": [{"id": "INV-1", "product_id": "WIDGET", "facility_id": "WH-1", "quantity": "12"}],
	"orders": [
		{
			"id": "ORD-A",
			"origin_facility_id": "WH-1",
			"lines": [{"seq_id": "00001", "product_id": "WIDGET", "quantity": "5", "unit_price": "4.00"}],
			"ship_groups": [{"seq_id": "00001", "contact_mech_id": "ADDR-CA", "priority": 3}],
			"allocations": [{"line": "00001", "group": "00001", "quantity": "5"}],
			"reservations": [{"line": "00001", "group": "00001", "item": "INV-1", "quantity": "5"}]
		},
		{
			"id": "ORD-B",
			"origin_facility_id": "WH-1",
			"lines": [{"seq_id": "00001", "product_id": "WIDGET", "quantity": "5", "unit_price": "4.00"}],
			"ship_groups": [{"seq_id": "00001", "contact_mech_id": "ADDR-NY", "priority": 2}],
			"allocations": [{"line": "00001", "group": "00001", "quantity": "5"}],
			"reservations": [{"line": "00001", "group": "00001", "item": "INV-1", "quantity": "5"}]
		},
		{
			"id": "ORD-C",
			"origin_facility_id": "WH-1",
			"lines": [{"seq_id": "00001", "product_id": "WIDGET", "quantity": "5", "unit_price": "4.00"}],
			"ship_groups": [{"seq_id": "00001", "contact_mech_id": "ADDR-CA", "priority": 1}],
			"allocations": [{"line": "00001", "group": "00001", "quantity": "5"}],
			"reservations": [{"line": "00001", "group": "00001", "item": "INV-1", "quantity": "5"}]
		}
	]
}`

const billedTaxFixture = `{` + referenceData + `
	"inventory": [{"id": "INV-1", "product_id": "WIDGET", "facility_id": "WH-1", "quantity": "20"}],
	"orders": [{
		"id": "ORD-TAX",
		"origin_facility_id": "WH-1",
		"grand_total": "108.00",
		"lines": [{"seq_id": "00001", "product_id": "WIDGET", "quantity": "10", "unit_price": "10.00"}],
		"ship_groups": [{"seq_id": "00001", "contact_mech_id": "ADDR-CA"}],
		"allocations": [{"line": "00001", "group": "00001", "quantity": "10", "shipped": "4"}],
		"reservations": [{"line": "00001", "group": "00001", "item": "INV-1", "quantity": "6"}],
		"adjustments": [
			{"id": "TAX-CA-1", "line": "00001", "group": "00001", "amount": "8.00", "billed": "3.20",
			 "tax_authority_geo_id": "CA", "tax_auth_party_id": "TAX_AUTHORITY", "applies_to_quantity": "10"}
		]
	}]
}`
