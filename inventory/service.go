/*
Package inventory provides the in-process inventory availability service.

PURPOSE:
  Owns the available-to-promise (ATP) and on-hand (QOH) counters of every
  inventory item. Reserving stock lowers ATP by the full requested quantity;
  whatever exceeds the stock that was free is reported back as the
  reservation's backordered QuantityUnavailable. Releasing a reservation gives
  the quantity back.

LEDGER:
  Every counter change is written to the ATP ledger in the caller's
  transaction, so ledger sums always equal the real ATP movement.

PARTIAL FULFILMENT EXAMPLE:
  Item with ATP 12, three reservations of 5 in priority order:
    #1 -> unavailable 0, ATP 7
    #2 -> unavailable 0, ATP 2
    #3 -> unavailable 3, ATP -3

SEE ALSO:
  - core/collaborators.go: InventoryService interface
  - priority/replay.go: Main caller during reservation replay
*/
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/core"
)

const serviceName = "inventory"

type Service struct {
	Clock  func() time.Time
	Logger *zap.Logger
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Clock: time.Now, Logger: logger}
}

var _ core.InventoryService = (*Service)(nil)

func (s *Service) now() time.Time { return s.Clock().UTC() }

func (s *Service) loadItem(ctx context.Context, tx core.Store, op string, id core.InventoryItemID) (core.InventoryItem, error) {
	item, err := tx.GetInventoryItem(ctx, id)
	if err != nil {
		return core.InventoryItem{}, &core.CollaboratorError{Service: serviceName, Op: op, Err: err}
	}
	return item, nil
}

func (s *Service) entry(item core.InventoryItemID, key core.ReservationKey, atp, qoh decimal.Decimal, reason string) core.LedgerEntry {
	return core.LedgerEntry{
		ID:              core.LedgerEntryID(uuid.NewString()),
		InventoryItemID: item,
		OrderID:         key.OrderID,
		OrderItemSeqID:  key.OrderItemSeqID,
		ShipGroupSeqID:  key.ShipGroupSeqID,
		ATPDiff:         atp,
		QOHDiff:         qoh,
		Reason:          reason,
		CreatedAt:       s.now(),
	}
}

// =============================================================================
// RESERVE / RELEASE
// =============================================================================

// ReleaseReservation restores r.Quantity to the item's ATP.
func (s *Service) ReleaseReservation(ctx context.Context, tx core.Store, r core.Reservation) error {
	item, err := s.loadItem(ctx, tx, "releaseReservation", r.InventoryItemID)
	if err != nil {
		return err
	}
	item.AvailableToPromise = item.AvailableToPromise.Add(r.Quantity)
	if err := tx.SaveInventoryItem(ctx, item); err != nil {
		return err
	}
	return tx.AppendLedgerEntries(ctx, []core.LedgerEntry{
		s.entry(item.ID, r.Key(), r.Quantity, decimal.Zero, "reservation released"),
	})
}

// ReserveQuantity lowers ATP by req.Quantity. The part that exceeded the free
// stock comes back as QuantityUnavailable.
func (s *Service) ReserveQuantity(ctx context.Context, tx core.Store, req core.ReserveRequest) (core.Reservation, error) {
	item, err := s.loadItem(ctx, tx, "reserveQuantity", req.Key.InventoryItemID)
	if err != nil {
		return core.Reservation{}, err
	}
	if req.Quantity.IsNegative() {
		return core.Reservation{}, core.Invalid("quantity", "cannot reserve negative quantity %s", req.Quantity)
	}

	free := core.MaxDecimal(item.AvailableToPromise, decimal.Zero)
	unavailable := core.MaxDecimal(req.Quantity.Sub(free), decimal.Zero)

	item.AvailableToPromise = item.AvailableToPromise.Sub(req.Quantity)
	if err := tx.SaveInventoryItem(ctx, item); err != nil {
		return core.Reservation{}, err
	}
	if err := tx.AppendLedgerEntries(ctx, []core.LedgerEntry{
		s.entry(item.ID, req.Key, req.Quantity.Neg(), decimal.Zero, "reservation created"),
	}); err != nil {
		return core.Reservation{}, err
	}

	r, err := core.NewReservation(req.Key, req.Quantity, unavailable, req.ReservedAt, req.SequenceID)
	if err != nil {
		return core.Reservation{}, err
	}
	if req.ReserveType != "" {
		r.ReserveType = req.ReserveType
	}
	r.Priority = req.Priority

	if unavailable.IsPositive() {
		s.Logger.Debug("reservation partially backordered",
			zap.String("inventory_item_id", string(item.ID)),
			zap.String("order_id", string(req.Key.OrderID)),
			zap.String("quantity", req.Quantity.String()),
			zap.String("unavailable", unavailable.String()))
	}
	return r, nil
}

// =============================================================================
// REBALANCE
// =============================================================================

// Rebalance recomputes every reservation's backordered portion of item by
// walking them in priority order over the stock free before any reservation.
func (s *Service) Rebalance(ctx context.Context, tx core.Store, id core.InventoryItemID) error {
	item, err := s.loadItem(ctx, tx, "rebalance", id)
	if err != nil {
		return err
	}
	rs, err := tx.ListReservations(ctx, core.ReservationFilter{InventoryItemID: id})
	if err != nil {
		return err
	}

	free := item.AvailableToPromise
	for _, r := range rs {
		free = free.Add(r.Quantity)
	}

	for _, r := range rs {
		avail := core.MaxDecimal(free, decimal.Zero)
		unavailable := core.MaxDecimal(r.Quantity.Sub(avail), decimal.Zero)
		free = free.Sub(r.Quantity)
		if unavailable.Equal(r.QuantityUnavailable) {
			continue
		}
		r.QuantityUnavailable = unavailable
		if err := tx.SaveReservation(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// RECEIPTS (stock entering the facility)
// =============================================================================

// Receive adds qty to both QOH and ATP, creating the item when absent.
func (s *Service) Receive(ctx context.Context, tx core.Store, item core.InventoryItem, qty decimal.Decimal) (core.InventoryItem, error) {
	existing, err := tx.GetInventoryItem(ctx, item.ID)
	switch {
	case err == nil:
		item = existing
	case core.IsNotFound(err):
		item.QuantityOnHand = decimal.Zero
		item.AvailableToPromise = decimal.Zero
	default:
		return core.InventoryItem{}, err
	}

	item.QuantityOnHand = item.QuantityOnHand.Add(qty)
	item.AvailableToPromise = item.AvailableToPromise.Add(qty)
	if err := tx.SaveInventoryItem(ctx, item); err != nil {
		return core.InventoryItem{}, err
	}
	err = tx.AppendLedgerEntries(ctx, []core.LedgerEntry{
		s.entry(item.ID, core.ReservationKey{}, qty, qty, "received"),
	})
	return item, err
}
