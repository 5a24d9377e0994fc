package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/fulfillment-engine/core"
)

// =============================================================================
// ORDERS
// =============================================================================

func (q *queries) GetOrder(ctx context.Context, id core.OrderID) (core.Order, error) {
	var o core.Order
	var created string
	err := q.db.QueryRowContext(ctx, `
		SELECT id, status, product_store_id, bill_to_party_id, origin_facility_id,
		       currency, grand_total, created_at
		FROM orders WHERE id = ?`, id).
		Scan(&o.ID, &o.Status, &o.ProductStoreID, &o.BillToPartyID, &o.OriginFacilityID,
			&o.Currency, &o.GrandTotal, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Order{}, core.NotFound("order", id)
	}
	if err != nil {
		return core.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	o.CreatedAt, err = parseTime(created)
	return o, err
}

func (q *queries) SaveOrder(ctx context.Context, o core.Order) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (id, status, product_store_id, bill_to_party_id, origin_facility_id,
		                    currency, grand_total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			product_store_id = excluded.product_store_id,
			bill_to_party_id = excluded.bill_to_party_id,
			origin_facility_id = excluded.origin_facility_id,
			currency = excluded.currency,
			grand_total = excluded.grand_total`,
		o.ID, o.Status, o.ProductStoreID, o.BillToPartyID, o.OriginFacilityID,
		o.Currency, o.GrandTotal, formatTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// =============================================================================
// ORDER LINES
// =============================================================================

const lineColumns = `order_id, seq_id, product_id, quantity, cancel_quantity, unit_price, status`

func scanLine(row interface{ Scan(...any) error }) (core.OrderLine, error) {
	var l core.OrderLine
	err := row.Scan(&l.OrderID, &l.SeqID, &l.ProductID, &l.Quantity, &l.CancelQuantity, &l.UnitPrice, &l.Status)
	return l, err
}

func (q *queries) GetOrderLine(ctx context.Context, orderID core.OrderID, seq core.OrderItemSeqID) (core.OrderLine, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+lineColumns+` FROM order_lines WHERE order_id = ? AND seq_id = ?`, orderID, seq)
	l, err := scanLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.OrderLine{}, core.NotFound("order line", string(orderID)+"/"+string(seq))
	}
	if err != nil {
		return core.OrderLine{}, fmt.Errorf("failed to get order line: %w", err)
	}
	return l, nil
}

func (q *queries) ListOrderLines(ctx context.Context, orderID core.OrderID) ([]core.OrderLine, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+lineColumns+` FROM order_lines WHERE order_id = ? ORDER BY seq_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order lines: %w", err)
	}
	defer rows.Close()

	var out []core.OrderLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (q *queries) SaveOrderLine(ctx context.Context, l core.OrderLine) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO order_lines (`+lineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id, seq_id) DO UPDATE SET
			product_id = excluded.product_id,
			quantity = excluded.quantity,
			cancel_quantity = excluded.cancel_quantity,
			unit_price = excluded.unit_price,
			status = excluded.status`,
		l.OrderID, l.SeqID, l.ProductID, l.Quantity, l.CancelQuantity, l.UnitPrice, l.Status)
	if err != nil {
		return fmt.Errorf("failed to save order line: %w", err)
	}
	return nil
}

// =============================================================================
// SHIP GROUPS
// =============================================================================

const groupColumns = `order_id, seq_id, contact_mech_id, carrier_party_id, shipment_method_type_id,
	may_split, is_gift, ship_by_date, third_party_json, status, created_at`

func scanGroup(row interface{ Scan(...any) error }) (core.ShipGroup, error) {
	var g core.ShipGroup
	var shipBy, thirdParty sql.NullString
	var created string
	if err := row.Scan(&g.OrderID, &g.SeqID, &g.ContactMechID, &g.CarrierPartyID, &g.ShipmentMethodTypeID,
		&g.MaySplit, &g.IsGift, &shipBy, &thirdParty, &g.Status, &created); err != nil {
		return core.ShipGroup{}, err
	}
	var err error
	if g.ShipByDate, err = parseNullTime(shipBy); err != nil {
		return core.ShipGroup{}, err
	}
	if thirdParty.Valid {
		g.ThirdPartyBilling = &core.ThirdPartyBilling{}
		if err := json.Unmarshal([]byte(thirdParty.String), g.ThirdPartyBilling); err != nil {
			return core.ShipGroup{}, fmt.Errorf("decode third-party billing: %w", err)
		}
	}
	g.CreatedAt, err = parseTime(created)
	return g, err
}

func (q *queries) GetShipGroup(ctx context.Context, orderID core.OrderID, seq core.ShipGroupSeqID) (core.ShipGroup, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM ship_groups WHERE order_id = ? AND seq_id = ?`, orderID, seq)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ShipGroup{}, core.NotFound("ship group", string(orderID)+"/"+string(seq))
	}
	if err != nil {
		return core.ShipGroup{}, fmt.Errorf("failed to get ship group: %w", err)
	}
	return g, nil
}

func (q *queries) ListShipGroups(ctx context.Context, orderID core.OrderID) ([]core.ShipGroup, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM ship_groups WHERE order_id = ? ORDER BY seq_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ship groups: %w", err)
	}
	defer rows.Close()

	var out []core.ShipGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (q *queries) SaveShipGroup(ctx context.Context, g core.ShipGroup) error {
	var thirdParty sql.NullString
	if g.ThirdPartyBilling != nil {
		b, err := json.Marshal(g.ThirdPartyBilling)
		if err != nil {
			return err
		}
		thirdParty = nullString(string(b))
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ship_groups (`+groupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id, seq_id) DO UPDATE SET
			contact_mech_id = excluded.contact_mech_id,
			carrier_party_id = excluded.carrier_party_id,
			shipment_method_type_id = excluded.shipment_method_type_id,
			may_split = excluded.may_split,
			is_gift = excluded.is_gift,
			ship_by_date = excluded.ship_by_date,
			third_party_json = excluded.third_party_json,
			status = excluded.status`,
		g.OrderID, g.SeqID, g.ContactMechID, g.CarrierPartyID, g.ShipmentMethodTypeID,
		g.MaySplit, g.IsGift, nullTime(g.ShipByDate), thirdParty, g.Status, formatTime(g.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save ship group: %w", err)
	}
	return nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

const allocationColumns = `order_id, order_item_seq_id, ship_group_seq_id, quantity, shipped_quantity`

func scanAllocation(row interface{ Scan(...any) error }) (core.Allocation, error) {
	var a core.Allocation
	err := row.Scan(&a.OrderID, &a.OrderItemSeqID, &a.ShipGroupSeqID, &a.Quantity, &a.ShippedQuantity)
	return a, err
}

func (q *queries) GetAllocation(ctx context.Context, key core.AllocationKey) (core.Allocation, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM allocations
		WHERE order_id = ? AND order_item_seq_id = ? AND ship_group_seq_id = ?`,
		key.OrderID, key.OrderItemSeqID, key.ShipGroupSeqID)
	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Allocation{}, core.NotFound("allocation", key)
	}
	if err != nil {
		return core.Allocation{}, fmt.Errorf("failed to get allocation: %w", err)
	}
	return a, nil
}

func (q *queries) ListAllocations(ctx context.Context, orderID core.OrderID) ([]core.Allocation, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+allocationColumns+` FROM allocations
		WHERE order_id = ? ORDER BY ship_group_seq_id, order_item_seq_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var out []core.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *queries) SaveAllocation(ctx context.Context, a core.Allocation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO allocations (`+allocationColumns+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(order_id, order_item_seq_id, ship_group_seq_id) DO UPDATE SET
			quantity = excluded.quantity,
			shipped_quantity = excluded.shipped_quantity`,
		a.OrderID, a.OrderItemSeqID, a.ShipGroupSeqID, a.Quantity, a.ShippedQuantity)
	if err != nil {
		return fmt.Errorf("failed to save allocation: %w", err)
	}
	return nil
}

func (q *queries) DeleteAllocation(ctx context.Context, key core.AllocationKey) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM allocations
		WHERE order_id = ? AND order_item_seq_id = ? AND ship_group_seq_id = ?`,
		key.OrderID, key.OrderItemSeqID, key.ShipGroupSeqID)
	return err
}
