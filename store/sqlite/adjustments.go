package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-engine/core"
)

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}

func (q *queries) ListAdjustments(ctx context.Context, orderID core.OrderID) ([]core.Adjustment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, type, order_id, order_item_seq_id, ship_group_seq_id, amount, source_percentage,
		       tax_authority_geo_id, tax_auth_party_id, primary_geo_id, tax_authority_rate_seq_id,
		       comments, applies_to_quantity, never_prorate, created_at
		FROM adjustments WHERE order_id = ? ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	var out []core.Adjustment
	for rows.Next() {
		var a core.Adjustment
		var pct, applies decimal.NullDecimal
		var created string
		if err := rows.Scan(&a.ID, &a.Type, &a.OrderID, &a.OrderItemSeqID, &a.ShipGroupSeqID, &a.Amount, &pct,
			&a.TaxAuthorityGeoID, &a.TaxAuthPartyID, &a.PrimaryGeoID, &a.TaxAuthorityRateSeqID,
			&a.Comments, &applies, &a.NeverProrate, &created); err != nil {
			return nil, err
		}
		a.SourcePercentage = fromNullDecimal(pct)
		a.AppliesToQuantity = fromNullDecimal(applies)
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *queries) SaveAdjustment(ctx context.Context, a core.Adjustment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO adjustments
		(id, type, order_id, order_item_seq_id, ship_group_seq_id, amount, source_percentage,
		 tax_authority_geo_id, tax_auth_party_id, primary_geo_id, tax_authority_rate_seq_id,
		 comments, applies_to_quantity, never_prorate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			order_item_seq_id = excluded.order_item_seq_id,
			ship_group_seq_id = excluded.ship_group_seq_id,
			amount = excluded.amount,
			source_percentage = excluded.source_percentage,
			tax_authority_geo_id = excluded.tax_authority_geo_id,
			tax_auth_party_id = excluded.tax_auth_party_id,
			primary_geo_id = excluded.primary_geo_id,
			tax_authority_rate_seq_id = excluded.tax_authority_rate_seq_id,
			comments = excluded.comments,
			applies_to_quantity = excluded.applies_to_quantity,
			never_prorate = excluded.never_prorate`,
		a.ID, a.Type, a.OrderID, a.OrderItemSeqID, a.ShipGroupSeqID, a.Amount, nullDecimal(a.SourcePercentage),
		a.TaxAuthorityGeoID, a.TaxAuthPartyID, a.PrimaryGeoID, a.TaxAuthorityRateSeqID,
		a.Comments, nullDecimal(a.AppliesToQuantity), a.NeverProrate, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save adjustment: %w", err)
	}
	return nil
}

// DeleteAdjustment refuses adjustments referenced by a billing.
func (q *queries) DeleteAdjustment(ctx context.Context, id core.AdjustmentID) error {
	var billed int
	if err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM adjustment_billings WHERE adjustment_id = ?`, id).Scan(&billed); err != nil {
		return err
	}
	if billed > 0 {
		return core.Invalid("adjustment", "adjustment %s is billed and cannot be deleted", id)
	}
	_, err := q.db.ExecContext(ctx, `DELETE FROM adjustments WHERE id = ?`, id)
	return err
}

func (q *queries) ListAdjustmentBillings(ctx context.Context, id core.AdjustmentID) ([]core.AdjustmentBilling, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT adjustment_id, invoice_id, invoice_item_seq_id, amount
		FROM adjustment_billings WHERE adjustment_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustment billings: %w", err)
	}
	defer rows.Close()

	var out []core.AdjustmentBilling
	for rows.Next() {
		var b core.AdjustmentBilling
		if err := rows.Scan(&b.AdjustmentID, &b.InvoiceID, &b.InvoiceItemSeqID, &b.Amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *queries) SaveAdjustmentBilling(ctx context.Context, b core.AdjustmentBilling) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO adjustment_billings (adjustment_id, invoice_id, invoice_item_seq_id, amount)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(adjustment_id, invoice_id, invoice_item_seq_id) DO UPDATE SET
			amount = excluded.amount`,
		b.AdjustmentID, b.InvoiceID, b.InvoiceItemSeqID, b.Amount)
	if err != nil {
		return fmt.Errorf("failed to save adjustment billing: %w", err)
	}
	return nil
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (q *queries) GetPostalAddress(ctx context.Context, id core.ContactMechID) (core.PostalAddress, error) {
	var a core.PostalAddress
	err := q.db.QueryRowContext(ctx, `
		SELECT contact_mech_id, address1, city, postal_code, state_geo_id, country_geo_id
		FROM postal_addresses WHERE contact_mech_id = ?`, id).
		Scan(&a.ContactMechID, &a.Address1, &a.City, &a.PostalCode, &a.StateGeoID, &a.CountryGeoID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PostalAddress{}, core.NotFound("postal address", id)
	}
	if err != nil {
		return core.PostalAddress{}, fmt.Errorf("failed to get postal address: %w", err)
	}
	return a, nil
}

func (q *queries) SavePostalAddress(ctx context.Context, a core.PostalAddress) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO postal_addresses (contact_mech_id, address1, city, postal_code, state_geo_id, country_geo_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_mech_id) DO UPDATE SET
			address1 = excluded.address1,
			city = excluded.city,
			postal_code = excluded.postal_code,
			state_geo_id = excluded.state_geo_id,
			country_geo_id = excluded.country_geo_id`,
		a.ContactMechID, a.Address1, a.City, a.PostalCode, a.StateGeoID, a.CountryGeoID)
	return err
}

func (q *queries) GetFacility(ctx context.Context, id core.FacilityID) (core.Facility, error) {
	var f core.Facility
	err := q.db.QueryRowContext(ctx, `SELECT id, name, address_id FROM facilities WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &f.AddressID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Facility{}, core.NotFound("facility", id)
	}
	if err != nil {
		return core.Facility{}, fmt.Errorf("failed to get facility: %w", err)
	}
	return f, nil
}

func (q *queries) SaveFacility(ctx context.Context, f core.Facility) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO facilities (id, name, address_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, address_id = excluded.address_id`,
		f.ID, f.Name, f.AddressID)
	return err
}

func (q *queries) IsPickLocked(ctx context.Context, key core.AllocationKey) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pick_locks
		WHERE order_id = ? AND order_item_seq_id = ? AND ship_group_seq_id = ?`,
		key.OrderID, key.OrderItemSeqID, key.ShipGroupSeqID).Scan(&n)
	return n > 0, err
}

func (q *queries) SetPickLock(ctx context.Context, key core.AllocationKey, locked bool) error {
	query := `DELETE FROM pick_locks WHERE order_id = ? AND order_item_seq_id = ? AND ship_group_seq_id = ?`
	if locked {
		query = `INSERT OR IGNORE INTO pick_locks (order_id, order_item_seq_id, ship_group_seq_id) VALUES (?, ?, ?)`
	}
	_, err := q.db.ExecContext(ctx, query, key.OrderID, key.OrderItemSeqID, key.ShipGroupSeqID)
	return err
}

// =============================================================================
// REPLAY RUNS
// =============================================================================

func (q *queries) SaveReplayRun(ctx context.Context, run core.ReplayRun) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO replay_runs (id, started_at, finished_at, cancelled, reserved, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			cancelled = excluded.cancelled,
			reserved = excluded.reserved,
			error = excluded.error`,
		run.ID, formatTime(run.StartedAt), nullTime(run.FinishedAt), run.Cancelled, run.Reserved, run.Error)
	if err != nil {
		return fmt.Errorf("failed to save replay run: %w", err)
	}
	return nil
}

// ListReplayRuns returns the most recent runs first.
func (q *queries) ListReplayRuns(ctx context.Context, limit int) ([]core.ReplayRun, error) {
	query := `SELECT id, started_at, finished_at, cancelled, reserved, error FROM replay_runs ORDER BY rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list replay runs: %w", err)
	}
	defer rows.Close()

	var out []core.ReplayRun
	for rows.Next() {
		var r core.ReplayRun
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &started, &finished, &r.Cancelled, &r.Reserved, &r.Error); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseNullTime(finished); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
