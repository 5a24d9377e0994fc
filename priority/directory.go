/*
Package priority ranks ship groups and replays inventory reservations in rank order.

PURPOSE:
  The Directory maintains the rank list: one PriorityRank per (order, ship
  group), lower PriorityValue serviced first. The Replayer (replay.go) reads
  that list and rebuilds every reservation in the system so physical stock is
  handed to higher-priority shipments first.

DIRECTORY OPERATIONS:
  SetPriority:    append the order's active, unranked ship groups to the end
  DeletePriority: drop every rank of the order
  Resequence:     rebuild the whole list from a user-ordered view

RESEQUENCE SUBTLETY:
  The user's view may be stale. Pairs whose rank vanished since the view was
  rendered are skipped silently. Requested ship-by dates are applied
  best-effort: a failure is logged and the resequence still commits.

SEE ALSO:
  - replay.go: ReplayJob and Replayer
  - core/store.go: PriorityStore
*/
package priority

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/core"
)

// =============================================================================
// DIRECTORY
// =============================================================================

type Directory struct {
	Logger *zap.Logger
}

func NewDirectory(logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{Logger: logger}
}

// List returns every rank in service order.
func (d *Directory) List(ctx context.Context, tx core.Store) ([]core.PriorityRank, error) {
	return tx.ListPriorityRanks(ctx)
}

// SetPriority ranks the order's active ship groups after every existing rank.
// Groups that already have a rank keep it. Returns the ranks created.
func (d *Directory) SetPriority(ctx context.Context, tx core.Store, orderID core.OrderID) ([]core.PriorityRank, error) {
	if _, err := tx.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	groups, err := tx.ListShipGroups(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ranks, err := tx.ListPriorityRanks(ctx)
	if err != nil {
		return nil, err
	}

	var maxValue int64
	ranked := make(map[core.ShipGroupSeqID]bool)
	for _, r := range ranks {
		if r.PriorityValue > maxValue {
			maxValue = r.PriorityValue
		}
		if r.OrderID == orderID {
			ranked[r.ShipGroupSeqID] = true
		}
	}

	var created []core.PriorityRank
	for _, g := range groups {
		if !g.IsActive() || ranked[g.SeqID] {
			continue
		}
		maxValue++
		r := core.PriorityRank{OrderID: orderID, ShipGroupSeqID: g.SeqID, PriorityValue: maxValue}
		if err := tx.SavePriorityRank(ctx, r); err != nil {
			return nil, err
		}
		created = append(created, r)
	}

	d.Logger.Info("priority set",
		zap.String("order_id", string(orderID)),
		zap.Int("ranks_created", len(created)))
	return created, nil
}

// DeletePriority removes every rank of the order.
func (d *Directory) DeletePriority(ctx context.Context, tx core.Store, orderID core.OrderID) error {
	if err := tx.DeletePriorityRanks(ctx, orderID); err != nil {
		return err
	}
	d.Logger.Info("priority deleted", zap.String("order_id", string(orderID)))
	return nil
}

// ResequenceEntry is one row of the user-ordered view.
type ResequenceEntry struct {
	OrderID        core.OrderID
	ShipGroupSeqID core.ShipGroupSeqID
	ShipByDate     *time.Time
}

// Resequence replaces the rank list with entries, numbered 1..n in the given
// order. Entries without a current rank, and repeats, are dropped.
func (d *Directory) Resequence(ctx context.Context, tx core.Store, entries []ResequenceEntry) ([]core.PriorityRank, error) {
	current, err := tx.ListPriorityRanks(ctx)
	if err != nil {
		return nil, err
	}
	type pair struct {
		order core.OrderID
		group core.ShipGroupSeqID
	}
	exists := make(map[pair]bool, len(current))
	for _, r := range current {
		exists[pair{r.OrderID, r.ShipGroupSeqID}] = true
	}

	used := make(map[pair]bool, len(entries))
	next := make([]core.PriorityRank, 0, len(entries))
	stale := 0

	for _, e := range entries {
		p := pair{e.OrderID, e.ShipGroupSeqID}
		if !exists[p] || used[p] {
			stale++
			continue
		}
		used[p] = true
		next = append(next, core.PriorityRank{
			OrderID:        e.OrderID,
			ShipGroupSeqID: e.ShipGroupSeqID,
			PriorityValue:  int64(len(next) + 1),
		})
		if e.ShipByDate != nil {
			d.updateShipByDate(ctx, tx, e)
		}
	}

	if err := tx.ReplacePriorityRanks(ctx, next); err != nil {
		return nil, err
	}

	d.Logger.Info("priorities resequenced",
		zap.Int("ranks", len(next)),
		zap.Int("skipped", stale),
		zap.Int("dropped", len(current)-len(next)))
	return next, nil
}

func (d *Directory) updateShipByDate(ctx context.Context, tx core.Store, e ResequenceEntry) {
	g, err := tx.GetShipGroup(ctx, e.OrderID, e.ShipGroupSeqID)
	if err == nil {
		date := e.ShipByDate.UTC()
		g.ShipByDate = &date
		err = tx.SaveShipGroup(ctx, g)
	}
	if err != nil {
		d.Logger.Warn("ship-by date not updated",
			zap.String("order_id", string(e.OrderID)),
			zap.String("ship_group", string(e.ShipGroupSeqID)),
			zap.Error(err))
	}
}
