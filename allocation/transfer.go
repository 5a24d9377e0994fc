/*
Package allocation moves committed order quantity between ship groups.

PURPOSE:
  Splits part of one or more order lines out of their current ship groups
  into a new ship group. Allocations, the inventory reservations backing them,
  and the ATP ledger attribution all move together.

ALGORITHM:
  1. Validate everything up front (order status, line ownership, quantities,
     pick locks). Nothing is written when validation fails.
  2. Create the destination ship group (one per call).
  3. Per line: shrink the source allocation, create the destination one.
  4. Per line: walk the source reservations in (ReservedAt, SequenceID)
     order, let the Quantity Ledger pick the deltas, shrink the source rows,
     create destination rows, and write a +delta/-delta ledger pair.
  5. Cancel every source ship group left without allocations.

INVARIANTS:
  - Quantity conservation: a line's total allocated quantity is unchanged
  - Ledger balance: the entries written net to zero per inventory item
  Both are checked before returning; a violation is a ConsistencyError and
  the enclosing transaction is rolled back.

VARIANT:
  TransferRequest.ReuseCompatibleGroup merges into an ACTIVE group of the same
  order with an identical address, carrier, and method instead of creating a
  new one. Off by default.

SEE ALSO:
  - core/quantity.go: ComputeTransferDeltas
  - engine/engine.go: Runs Transfer under the order lock inside WithTx
*/
package allocation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/core"
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

type LineTransfer struct {
	OrderItemSeqID     core.OrderItemSeqID
	FromShipGroupSeqID core.ShipGroupSeqID
	Quantity           decimal.Decimal
}

type Destination struct {
	ContactMechID        core.ContactMechID
	CarrierPartyID       string
	ShipmentMethodTypeID string
	MaySplit             bool
	IsGift               bool
	ShipByDate           *time.Time
	ThirdPartyBilling    *core.ThirdPartyBilling
}

type TransferRequest struct {
	OrderID              core.OrderID
	Lines                []LineTransfer
	Destination          Destination
	ReuseCompatibleGroup bool
}

type TransferResult struct {
	ShipGroup       core.ShipGroup
	LedgerEntries   []core.LedgerEntry
	CancelledGroups []core.ShipGroupSeqID
}

// =============================================================================
// TRANSFERER
// =============================================================================

type Transferer struct {
	Picks  core.PickListChecker
	Clock  func() time.Time
	Logger *zap.Logger
}

func NewTransferer(picks core.PickListChecker, logger *zap.Logger) *Transferer {
	if picks == nil {
		picks = core.StorePickList{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transferer{Picks: picks, Clock: time.Now, Logger: logger}
}

// plannedLine is a validated, non-zero line transfer.
type plannedLine struct {
	transfer LineTransfer
	source   core.Allocation
}

// Transfer moves the requested quantities to a ship group and returns it.
// tx must be a transactional view; on error the caller rolls back.
func (t *Transferer) Transfer(ctx context.Context, tx core.Store, req TransferRequest) (TransferResult, error) {
	order, lines, err := t.validate(ctx, tx, req)
	if err != nil {
		return TransferResult{}, err
	}
	now := t.Clock().UTC()

	allocsBefore, err := tx.ListAllocations(ctx, order.ID)
	if err != nil {
		return TransferResult{}, err
	}

	dest, err := t.resolveDestination(ctx, tx, req, lines, now)
	if err != nil {
		return TransferResult{}, err
	}

	var entries []core.LedgerEntry
	sourceGroups := make(map[core.ShipGroupSeqID]bool)

	for _, pl := range lines {
		sourceGroups[pl.source.ShipGroupSeqID] = true

		if err := moveAllocation(ctx, tx, pl, dest.SeqID); err != nil {
			t.logConsistency(order.ID, err)
			return TransferResult{}, err
		}
		moved, err := t.moveReservations(ctx, tx, pl, dest.SeqID, now)
		if err != nil {
			t.logConsistency(order.ID, err)
			return TransferResult{}, err
		}
		entries = append(entries, moved...)
	}

	if err := core.AssertBalanced(order.ID, entries); err != nil {
		t.logConsistency(order.ID, err)
		return TransferResult{}, err
	}
	if err := core.NewLedger(tx).Append(ctx, entries...); err != nil {
		return TransferResult{}, err
	}

	cancelled, err := cancelEmptiedGroups(ctx, tx, order.ID, sourceGroups)
	if err != nil {
		return TransferResult{}, err
	}

	allocsAfter, err := tx.ListAllocations(ctx, order.ID)
	if err != nil {
		return TransferResult{}, err
	}
	if err := assertConserved(order.ID, allocsBefore, allocsAfter); err != nil {
		t.logConsistency(order.ID, err)
		return TransferResult{}, err
	}

	t.Logger.Info("allocation transferred",
		zap.String("order_id", string(order.ID)),
		zap.String("ship_group", string(dest.SeqID)),
		zap.Int("lines", len(lines)),
		zap.Int("ledger_entries", len(entries)),
		zap.Int("cancelled_groups", len(cancelled)))

	return TransferResult{ShipGroup: dest, LedgerEntries: entries, CancelledGroups: cancelled}, nil
}

// =============================================================================
// VALIDATION (no writes)
// =============================================================================

func (t *Transferer) validate(ctx context.Context, tx core.Store, req TransferRequest) (core.Order, []plannedLine, error) {
	if req.OrderID == "" {
		return core.Order{}, nil, core.Invalid("orderId", "required")
	}
	order, err := tx.GetOrder(ctx, req.OrderID)
	if err != nil {
		return core.Order{}, nil, err
	}
	if order.Status.IsTerminal() {
		return core.Order{}, nil, core.Invalid("order", "order %s is %s", order.ID, order.Status)
	}
	if req.Destination.CarrierPartyID == "" {
		return core.Order{}, nil, core.Invalid("carrierPartyId", "required")
	}
	if req.Destination.ShipmentMethodTypeID == "" {
		return core.Order{}, nil, core.Invalid("shipmentMethodTypeId", "required")
	}
	if len(req.Lines) == 0 {
		return core.Order{}, nil, core.Invalid("lines", "at least one line is required")
	}

	seen := make(map[core.AllocationKey]bool)
	var planned []plannedLine

	for i, lt := range req.Lines {
		field := "lines[" + strconv.Itoa(i) + "]"
		if lt.Quantity.IsNegative() {
			return core.Order{}, nil, core.Invalid(field, "negative quantity %s", lt.Quantity)
		}

		line, err := tx.GetOrderLine(ctx, order.ID, lt.OrderItemSeqID)
		if err != nil {
			if core.IsNotFound(err) {
				return core.Order{}, nil, core.Invalid(field, "line %s does not belong to order %s", lt.OrderItemSeqID, order.ID)
			}
			return core.Order{}, nil, err
		}
		if !line.Status.IsValid() {
			return core.Order{}, nil, core.Invalid(field, "line %s is %s", line.SeqID, line.Status)
		}

		key := core.AllocationKey{OrderID: order.ID, OrderItemSeqID: lt.OrderItemSeqID, ShipGroupSeqID: lt.FromShipGroupSeqID}
		if seen[key] {
			return core.Order{}, nil, core.Invalid(field, "line %s from ship group %s listed twice", lt.OrderItemSeqID, lt.FromShipGroupSeqID)
		}
		seen[key] = true

		if lt.Quantity.IsZero() {
			continue
		}

		src, err := tx.GetAllocation(ctx, key)
		if err != nil {
			if core.IsNotFound(err) {
				return core.Order{}, nil, core.Invalid(field, "line %s is not in ship group %s", lt.OrderItemSeqID, lt.FromShipGroupSeqID)
			}
			return core.Order{}, nil, err
		}
		if lt.Quantity.GreaterThan(src.Unshipped()) {
			return core.Order{}, nil, core.Invalid(field, "transfer quantity %s exceeds remaining %s", lt.Quantity, src.Unshipped())
		}

		locked, err := t.Picks.IsAllocationLocked(ctx, tx, key)
		if err != nil {
			return core.Order{}, nil, &core.CollaboratorError{Service: "picklist", Op: "isAllocationLocked", Err: err}
		}
		if locked {
			return core.Order{}, nil, &core.ConflictError{OrderID: key.OrderID, OrderItemSeqID: key.OrderItemSeqID, ShipGroupSeqID: key.ShipGroupSeqID}
		}

		planned = append(planned, plannedLine{transfer: lt, source: src})
	}

	if len(planned) == 0 {
		return core.Order{}, nil, core.Invalid("lines", "no line has a non-zero transfer quantity")
	}
	return order, planned, nil
}

// =============================================================================
// DESTINATION
// =============================================================================

func (t *Transferer) resolveDestination(ctx context.Context, tx core.Store, req TransferRequest, lines []plannedLine, now time.Time) (core.ShipGroup, error) {
	groups, err := tx.ListShipGroups(ctx, req.OrderID)
	if err != nil {
		return core.ShipGroup{}, err
	}
	d := req.Destination

	if req.ReuseCompatibleGroup {
		sources := make(map[core.ShipGroupSeqID]bool, len(lines))
		for _, pl := range lines {
			sources[pl.source.ShipGroupSeqID] = true
		}
		for _, g := range groups {
			if g.IsActive() && !sources[g.SeqID] && g.Matches(d.ContactMechID, d.CarrierPartyID, d.ShipmentMethodTypeID) {
				return g, nil
			}
		}
	}

	next := 1
	for _, g := range groups {
		if n, err := strconv.Atoi(string(g.SeqID)); err == nil && n >= next {
			next = n + 1
		}
	}

	g := core.ShipGroup{
		OrderID:              req.OrderID,
		SeqID:                core.FormatShipGroupSeq(next),
		ContactMechID:        d.ContactMechID,
		CarrierPartyID:       d.CarrierPartyID,
		ShipmentMethodTypeID: d.ShipmentMethodTypeID,
		MaySplit:             d.MaySplit,
		IsGift:               d.IsGift,
		ShipByDate:           d.ShipByDate,
		ThirdPartyBilling:    d.ThirdPartyBilling,
		Status:               core.ShipGroupActive,
		CreatedAt:            now,
	}
	if err := tx.SaveShipGroup(ctx, g); err != nil {
		return core.ShipGroup{}, err
	}
	return g, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func moveAllocation(ctx context.Context, tx core.Store, pl plannedLine, dest core.ShipGroupSeqID) error {
	src := pl.source
	qty := pl.transfer.Quantity

	src.Quantity = src.Quantity.Sub(qty)
	if src.Quantity.IsNegative() {
		return &core.ConsistencyError{
			OrderID:        src.OrderID,
			OrderItemSeqID: src.OrderItemSeqID,
			Expected:       qty,
			Actual:         pl.source.Quantity,
			Message:        "source allocation would go negative",
		}
	}
	if src.Quantity.IsZero() {
		if err := tx.DeleteAllocation(ctx, src.Key()); err != nil {
			return err
		}
	} else if err := tx.SaveAllocation(ctx, src); err != nil {
		return err
	}

	destKey := core.AllocationKey{OrderID: src.OrderID, OrderItemSeqID: src.OrderItemSeqID, ShipGroupSeqID: dest}
	existing, err := tx.GetAllocation(ctx, destKey)
	switch {
	case err == nil:
		existing.Quantity = existing.Quantity.Add(qty)
		return tx.SaveAllocation(ctx, existing)
	case core.IsNotFound(err):
		a, err := core.NewAllocation(destKey, qty)
		if err != nil {
			return err
		}
		return tx.SaveAllocation(ctx, a)
	default:
		return err
	}
}

func cancelEmptiedGroups(ctx context.Context, tx core.Store, orderID core.OrderID, sources map[core.ShipGroupSeqID]bool) ([]core.ShipGroupSeqID, error) {
	allocs, err := tx.ListAllocations(ctx, orderID)
	if err != nil {
		return nil, err
	}
	inUse := make(map[core.ShipGroupSeqID]bool)
	for _, a := range allocs {
		inUse[a.ShipGroupSeqID] = true
	}

	groups, err := tx.ListShipGroups(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var cancelled []core.ShipGroupSeqID
	for _, g := range groups {
		if !sources[g.SeqID] || inUse[g.SeqID] || !g.IsActive() {
			continue
		}
		g.Status = core.ShipGroupCancelled
		if err := tx.SaveShipGroup(ctx, g); err != nil {
			return nil, err
		}
		cancelled = append(cancelled, g.SeqID)
	}
	return cancelled, nil
}

func assertConserved(orderID core.OrderID, before, after []core.Allocation) error {
	sum := func(as []core.Allocation) map[core.OrderItemSeqID]decimal.Decimal {
		out := make(map[core.OrderItemSeqID]decimal.Decimal)
		for _, a := range as {
			cur, ok := out[a.OrderItemSeqID]
			if !ok {
				cur = decimal.Zero
			}
			out[a.OrderItemSeqID] = cur.Add(a.Quantity)
		}
		return out
	}
	b, a := sum(before), sum(after)
	for seq, qty := range b {
		got, ok := a[seq]
		if !ok {
			got = decimal.Zero
		}
		if !got.Equal(qty) {
			return &core.ConsistencyError{
				OrderID:        orderID,
				OrderItemSeqID: seq,
				Expected:       qty,
				Actual:         got,
				Message:        "allocated quantity not conserved",
			}
		}
	}
	return nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (t *Transferer) moveReservations(ctx context.Context, tx core.Store, pl plannedLine, dest core.ShipGroupSeqID, now time.Time) ([]core.LedgerEntry, error) {
	src := pl.source
	rs, err := tx.ListReservations(ctx, core.ReservationFilter{
		OrderID:        src.OrderID,
		OrderItemSeqID: src.OrderItemSeqID,
		ShipGroupSeqID: src.ShipGroupSeqID,
	})
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		// Not inventory-tracked: only the allocation moves.
		return nil, nil
	}

	sources := make([]core.TransferSource, len(rs))
	for i, r := range rs {
		sources[i] = core.TransferSource{Quantity: r.Quantity, QuantityUnavailable: r.QuantityUnavailable}
	}
	deltas, _, err := core.ComputeTransferDeltas(pl.transfer.Quantity, sources)
	if err != nil {
		var ce *core.ConsistencyError
		if errors.As(err, &ce) {
			ce.OrderID = src.OrderID
			ce.OrderItemSeqID = src.OrderItemSeqID
		}
		return nil, err
	}

	var entries []core.LedgerEntry
	for _, d := range deltas {
		from := rs[d.Index]
		to := from

		from.Quantity = from.Quantity.Sub(d.Delta)
		from.QuantityUnavailable = from.QuantityUnavailable.Sub(d.DeltaUnavailable)
		if from.Quantity.IsNegative() || from.QuantityUnavailable.IsNegative() || from.QuantityUnavailable.GreaterThan(from.Quantity) {
			return nil, &core.ConsistencyError{
				OrderID:         src.OrderID,
				OrderItemSeqID:  src.OrderItemSeqID,
				InventoryItemID: from.InventoryItemID,
				Expected:        d.Delta,
				Actual:          rs[d.Index].Quantity,
				Message:         "source reservation would go negative",
			}
		}
		if from.IsEmpty() {
			if err := tx.DeleteReservation(ctx, from.Key()); err != nil {
				return nil, err
			}
		} else if err := tx.SaveReservation(ctx, from); err != nil {
			return nil, err
		}

		to.ShipGroupSeqID = dest
		to.Quantity = d.Delta
		to.QuantityUnavailable = d.DeltaUnavailable
		if err := mergeReservation(ctx, tx, to); err != nil {
			return nil, err
		}

		entries = append(entries,
			t.ledgerEntry(from, src.ShipGroupSeqID, d.Delta, now),
			t.ledgerEntry(from, dest, d.Delta.Neg(), now))
	}
	return entries, nil
}

// mergeReservation saves r, adding to an existing row with the same key.
// The existing row keeps its place in the priority order.
func mergeReservation(ctx context.Context, tx core.Store, r core.Reservation) error {
	existing, err := tx.ListReservations(ctx, core.ReservationFilter{
		OrderID:         r.OrderID,
		OrderItemSeqID:  r.OrderItemSeqID,
		ShipGroupSeqID:  r.ShipGroupSeqID,
		InventoryItemID: r.InventoryItemID,
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		e := existing[0]
		e.Quantity = e.Quantity.Add(r.Quantity)
		e.QuantityUnavailable = e.QuantityUnavailable.Add(r.QuantityUnavailable)
		return tx.SaveReservation(ctx, e)
	}
	return tx.SaveReservation(ctx, r)
}

func (t *Transferer) ledgerEntry(r core.Reservation, group core.ShipGroupSeqID, atp decimal.Decimal, now time.Time) core.LedgerEntry {
	return core.LedgerEntry{
		ID:              core.LedgerEntryID(uuid.NewString()),
		InventoryItemID: r.InventoryItemID,
		OrderID:         r.OrderID,
		OrderItemSeqID:  r.OrderItemSeqID,
		ShipGroupSeqID:  group,
		ATPDiff:         atp,
		QOHDiff:         decimal.Zero,
		Reason:          "reservation transferred",
		CreatedAt:       now,
	}
}

// logConsistency logs err with full context when it is a ConsistencyError.
func (t *Transferer) logConsistency(orderID core.OrderID, err error) {
	if !errors.Is(err, core.ErrConsistency) {
		return
	}
	fields := []zap.Field{zap.String("order_id", string(orderID)), zap.Error(err)}
	var ce *core.ConsistencyError
	if errors.As(err, &ce) {
		fields = append(fields,
			zap.String("order_item_seq_id", string(ce.OrderItemSeqID)),
			zap.String("inventory_item_id", string(ce.InventoryItemID)),
			zap.String("expected", ce.Expected.String()),
			zap.String("actual", ce.Actual.String()))
	}
	t.Logger.Error("allocation transfer aborted", fields...)
}
