package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/fulfillment-engine/core"
)

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationColumns = `order_id, order_item_seq_id, ship_group_seq_id, inventory_item_id,
	reserve_type, quantity, quantity_unavailable, reserved_at, sequence_id, priority`

func (q *queries) ListReservations(ctx context.Context, f core.ReservationFilter) ([]core.Reservation, error) {
	var where []string
	var args []any
	add := func(col, val string) {
		if val != "" {
			where = append(where, col+" = ?")
			args = append(args, val)
		}
	}
	add("order_id", string(f.OrderID))
	add("order_item_seq_id", string(f.OrderItemSeqID))
	add("ship_group_seq_id", string(f.ShipGroupSeqID))
	add("inventory_item_id", string(f.InventoryItemID))

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY reserved_at, sequence_id, order_id, ship_group_seq_id, order_item_seq_id, inventory_item_id`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var out []core.Reservation
	for rows.Next() {
		var r core.Reservation
		var reservedAt string
		if err := rows.Scan(&r.OrderID, &r.OrderItemSeqID, &r.ShipGroupSeqID, &r.InventoryItemID,
			&r.ReserveType, &r.Quantity, &r.QuantityUnavailable, &reservedAt, &r.SequenceID, &r.Priority); err != nil {
			return nil, err
		}
		if r.ReservedAt, err = parseTime(reservedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Ties on (reserved_at, sequence_id) fall back to the key order.
	core.SortReservations(out)
	return out, nil
}

func (q *queries) SaveReservation(ctx context.Context, r core.Reservation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id, order_item_seq_id, ship_group_seq_id, inventory_item_id) DO UPDATE SET
			reserve_type = excluded.reserve_type,
			quantity = excluded.quantity,
			quantity_unavailable = excluded.quantity_unavailable,
			reserved_at = excluded.reserved_at,
			sequence_id = excluded.sequence_id,
			priority = excluded.priority`,
		r.OrderID, r.OrderItemSeqID, r.ShipGroupSeqID, r.InventoryItemID,
		r.ReserveType, r.Quantity, r.QuantityUnavailable, formatTime(r.ReservedAt), r.SequenceID, r.Priority)
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return nil
}

func (q *queries) DeleteReservation(ctx context.Context, key core.ReservationKey) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM reservations
		WHERE order_id = ? AND order_item_seq_id = ? AND ship_group_seq_id = ? AND inventory_item_id = ?`,
		key.OrderID, key.OrderItemSeqID, key.ShipGroupSeqID, key.InventoryItemID)
	return err
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

func (q *queries) AppendLedgerEntries(ctx context.Context, entries []core.LedgerEntry) error {
	for _, e := range entries {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO ledger_entries
			(id, inventory_item_id, order_id, order_item_seq_id, ship_group_seq_id,
			 atp_diff, qoh_diff, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.InventoryItemID, e.OrderID, e.OrderItemSeqID, e.ShipGroupSeqID,
			e.ATPDiff, e.QOHDiff, e.Reason, formatTime(e.CreatedAt))
		if isUniqueConstraintError(err) {
			return fmt.Errorf("ledger entry %s already recorded: %w", e.ID, core.ErrConsistency)
		}
		if err != nil {
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}
	return nil
}

// ListLedgerEntries returns item's entries in append order.
func (q *queries) ListLedgerEntries(ctx context.Context, item core.InventoryItemID) ([]core.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, inventory_item_id, order_id, order_item_seq_id, ship_group_seq_id,
		       atp_diff, qoh_diff, reason, created_at
		FROM ledger_entries WHERE inventory_item_id = ? ORDER BY rowid`, item)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		var e core.LedgerEntry
		var created string
		if err := rows.Scan(&e.ID, &e.InventoryItemID, &e.OrderID, &e.OrderItemSeqID, &e.ShipGroupSeqID,
			&e.ATPDiff, &e.QOHDiff, &e.Reason, &created); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// INVENTORY ITEMS
// =============================================================================

func (q *queries) GetInventoryItem(ctx context.Context, id core.InventoryItemID) (core.InventoryItem, error) {
	var it core.InventoryItem
	err := q.db.QueryRowContext(ctx, `
		SELECT id, product_id, facility_id, quantity_on_hand, available_to_promise
		FROM inventory_items WHERE id = ?`, id).
		Scan(&it.ID, &it.ProductID, &it.FacilityID, &it.QuantityOnHand, &it.AvailableToPromise)
	if errors.Is(err, sql.ErrNoRows) {
		return core.InventoryItem{}, core.NotFound("inventory item", id)
	}
	if err != nil {
		return core.InventoryItem{}, fmt.Errorf("failed to get inventory item: %w", err)
	}
	return it, nil
}

func (q *queries) SaveInventoryItem(ctx context.Context, it core.InventoryItem) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO inventory_items (id, product_id, facility_id, quantity_on_hand, available_to_promise)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_id = excluded.product_id,
			facility_id = excluded.facility_id,
			quantity_on_hand = excluded.quantity_on_hand,
			available_to_promise = excluded.available_to_promise`,
		it.ID, it.ProductID, it.FacilityID, it.QuantityOnHand, it.AvailableToPromise)
	if err != nil {
		return fmt.Errorf("failed to save inventory item: %w", err)
	}
	return nil
}

// =============================================================================
// PRIORITY RANKS
// =============================================================================

func (q *queries) ListPriorityRanks(ctx context.Context) ([]core.PriorityRank, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT order_id, ship_group_seq_id, priority_value FROM priority_ranks
		ORDER BY priority_value, order_id, ship_group_seq_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list priority ranks: %w", err)
	}
	defer rows.Close()

	var out []core.PriorityRank
	for rows.Next() {
		var r core.PriorityRank
		if err := rows.Scan(&r.OrderID, &r.ShipGroupSeqID, &r.PriorityValue); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *queries) SavePriorityRank(ctx context.Context, r core.PriorityRank) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO priority_ranks (order_id, ship_group_seq_id, priority_value)
		VALUES (?, ?, ?)
		ON CONFLICT(order_id, ship_group_seq_id) DO UPDATE SET
			priority_value = excluded.priority_value`,
		r.OrderID, r.ShipGroupSeqID, r.PriorityValue)
	if err != nil {
		return fmt.Errorf("failed to save priority rank: %w", err)
	}
	return nil
}

func (q *queries) DeletePriorityRanks(ctx context.Context, orderID core.OrderID) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM priority_ranks WHERE order_id = ?`, orderID)
	return err
}

func (q *queries) ReplacePriorityRanks(ctx context.Context, ranks []core.PriorityRank) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM priority_ranks`); err != nil {
		return err
	}
	for _, r := range ranks {
		if err := q.SavePriorityRank(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
