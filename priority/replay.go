package priority

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/core"
)

// =============================================================================
// REPLAY JOB - Pure planning: (snapshot, ranks) -> operations
// =============================================================================

// ReplayJob is a frozen view of every reservation and the rank list.
type ReplayJob struct {
	Snapshot []core.Reservation
	Ranks    []core.PriorityRank
	Now      time.Time
}

// ReplayStep re-reserves one snapshot reservation. Reservation already
// carries the new ReservedAt and SequenceID.
type ReplayStep struct {
	Reservation   core.Reservation
	Ranked        bool
	PriorityValue int64
}

// ReplayPlan is the list of operations a replay applies, in order.
type ReplayPlan struct {
	Cancels  []core.Reservation
	Reserves []ReplayStep
}

// Plan cancels every snapshot reservation (oldest first), then re-reserves
// them rank by rank. Reservations of unranked ship groups go last in their
// original relative order. SequenceID counts up across the whole run, so
// sorting by (ReservedAt, SequenceID) reproduces the plan order even though
// every step shares the same timestamp.
func (j ReplayJob) Plan() ReplayPlan {
	snapshot := append([]core.Reservation(nil), j.Snapshot...)
	core.SortReservations(snapshot)

	ranks := append([]core.PriorityRank(nil), j.Ranks...)
	core.SortRanks(ranks)

	type pair struct {
		order core.OrderID
		group core.ShipGroupSeqID
	}
	byPair := make(map[pair][]int)
	for i, r := range snapshot {
		p := pair{r.OrderID, r.ShipGroupSeqID}
		byPair[p] = append(byPair[p], i)
	}

	plan := ReplayPlan{
		Cancels:  snapshot,
		Reserves: make([]ReplayStep, 0, len(snapshot)),
	}
	consumed := make([]bool, len(snapshot))
	var seq int64

	step := func(i int, ranked bool, value int64) {
		seq++
		r := snapshot[i]
		r.ReservedAt = j.Now
		r.SequenceID = seq
		r.QuantityUnavailable = decimal.Zero // decided by the inventory service
		plan.Reserves = append(plan.Reserves, ReplayStep{Reservation: r, Ranked: ranked, PriorityValue: value})
		consumed[i] = true
	}

	for _, rank := range ranks {
		for _, i := range byPair[pair{rank.OrderID, rank.ShipGroupSeqID}] {
			if !consumed[i] {
				step(i, true, rank.PriorityValue)
			}
		}
	}
	for i := range snapshot {
		if !consumed[i] {
			step(i, false, 0)
		}
	}
	return plan
}

// =============================================================================
// REPLAYER - Applies a plan against the store and inventory service
// =============================================================================

type Replayer struct {
	Inventory core.InventoryService
	Clock     func() time.Time
	Logger    *zap.Logger
}

func NewReplayer(inv core.InventoryService, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{Inventory: inv, Clock: time.Now, Logger: logger}
}

type ReplaySummary struct {
	Cancelled int
	Reserved  int
	Ranked    int
	Unranked  int
	Items     []core.InventoryItemID
}

// Snapshot builds the job from the current state of tx.
func (r *Replayer) Snapshot(ctx context.Context, tx core.Store) (ReplayJob, error) {
	snapshot, err := tx.ListReservations(ctx, core.ReservationFilter{})
	if err != nil {
		return ReplayJob{}, err
	}
	ranks, err := tx.ListPriorityRanks(ctx)
	if err != nil {
		return ReplayJob{}, err
	}
	return ReplayJob{Snapshot: snapshot, Ranks: ranks, Now: r.Clock().UTC()}, nil
}

// Replay cancels and rebuilds every reservation in rank order.
func (r *Replayer) Replay(ctx context.Context, tx core.Store) (ReplaySummary, error) {
	job, err := r.Snapshot(ctx, tx)
	if err != nil {
		return ReplaySummary{}, err
	}
	return r.Apply(ctx, tx, job.Plan())
}

// Apply executes plan. Any failure aborts the replay; the caller must roll
// back tx so no order is left half-reserved.
func (r *Replayer) Apply(ctx context.Context, tx core.Store, plan ReplayPlan) (ReplaySummary, error) {
	var sum ReplaySummary
	items := make(map[core.InventoryItemID]bool)

	for _, c := range plan.Cancels {
		if err := r.Inventory.ReleaseReservation(ctx, tx, c); err != nil {
			return sum, r.fail("releaseReservation", c, err)
		}
		if err := tx.DeleteReservation(ctx, c.Key()); err != nil {
			return sum, err
		}
		items[c.InventoryItemID] = true
		sum.Cancelled++
	}

	for _, s := range plan.Reserves {
		want := s.Reservation
		got, err := r.Inventory.ReserveQuantity(ctx, tx, core.ReserveRequest{
			Key:         want.Key(),
			ReserveType: want.ReserveType,
			Quantity:    want.Quantity,
			ReservedAt:  want.ReservedAt,
			SequenceID:  want.SequenceID,
			Priority:    want.Priority,
		})
		if err != nil {
			return sum, r.fail("reserveQuantity", want, err)
		}
		if !got.Quantity.Equal(want.Quantity) {
			return sum, &core.ConsistencyError{
				OrderID:         want.OrderID,
				OrderItemSeqID:  want.OrderItemSeqID,
				InventoryItemID: want.InventoryItemID,
				Expected:        want.Quantity,
				Actual:          got.Quantity,
				Message:         "re-reservation changed quantity",
			}
		}
		if err := tx.SaveReservation(ctx, got); err != nil {
			return sum, err
		}
		items[want.InventoryItemID] = true
		sum.Reserved++
		if s.Ranked {
			sum.Ranked++
		} else {
			sum.Unranked++
		}
	}

	for id := range items {
		sum.Items = append(sum.Items, id)
	}
	sort.Slice(sum.Items, func(i, j int) bool { return sum.Items[i] < sum.Items[j] })
	for _, id := range sum.Items {
		if err := r.Inventory.Rebalance(ctx, tx, id); err != nil {
			return sum, wrapInventory("rebalance", err)
		}
	}

	r.Logger.Info("reservations replayed",
		zap.Int("cancelled", sum.Cancelled),
		zap.Int("reserved", sum.Reserved),
		zap.Int("ranked", sum.Ranked),
		zap.Int("unranked", sum.Unranked),
		zap.Int("items", len(sum.Items)))
	return sum, nil
}

func (r *Replayer) fail(op string, res core.Reservation, err error) error {
	err = wrapInventory(op, err)
	r.Logger.Error("reservation replay aborted",
		zap.String("op", op),
		zap.String("order_id", string(res.OrderID)),
		zap.String("ship_group", string(res.ShipGroupSeqID)),
		zap.String("inventory_item_id", string(res.InventoryItemID)),
		zap.Error(err))
	return err
}

func wrapInventory(op string, err error) error {
	if errors.Is(err, core.ErrCollaborator) || errors.Is(err, core.ErrConsistency) || errors.Is(err, core.ErrValidation) {
		return err
	}
	return &core.CollaboratorError{Service: "inventory", Op: op, Err: err}
}
