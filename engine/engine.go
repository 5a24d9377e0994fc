/*
Package engine exposes the order-commitment operations.

PURPOSE:
  Each exported operation runs under the right lock and inside exactly one
  store transaction, so a failure leaves no partial ship group, reservation,
  ledger, or adjustment state behind.

OPERATIONS:
  TransferToNewShipGroup       per-order lock
  RecalcTax                    per-order lock
  SetPriority / DeletePriority rank-list lock
  ResequencePriorities         rank-list lock
  ReplayReservationsByPriority global exclusive lock

SEE ALSO:
  - lock: Coordinator
  - allocation, priority, tax: the algorithms
*/
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/allocation"
	"github.com/warp/fulfillment-engine/core"
	"github.com/warp/fulfillment-engine/inventory"
	"github.com/warp/fulfillment-engine/lock"
	"github.com/warp/fulfillment-engine/priority"
	"github.com/warp/fulfillment-engine/tax"
)

type Engine struct {
	Store     core.TxStore
	Locks     *lock.Coordinator
	Inventory *inventory.Service
	Transfers *allocation.Transferer
	Directory *priority.Directory
	Replayer  *priority.Replayer
	Taxes     *tax.Reconciler
	Clock     func() time.Time
	Logger    *zap.Logger
}

type Options struct {
	TaxService core.TaxService
	Rounding   core.RoundingPolicy
	Picks      core.PickListChecker
	Gate       lock.Gate
	Logger     *zap.Logger
}

// New wires the engine over store. Missing options fall back to the
// in-process collaborators: store-backed pick locks, a zero flat tax rate,
// and default rounding.
func New(store core.TxStore, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TaxService == nil {
		opts.TaxService = tax.NewFlatRate(core.Qty(0))
	}
	if opts.Rounding == (core.RoundingPolicy{}) {
		opts.Rounding = core.DefaultRounding()
	}
	if opts.Picks == nil {
		opts.Picks = core.StorePickList{}
	}

	inv := inventory.NewService(logger.Named("inventory"))
	return &Engine{
		Store:     store,
		Locks:     lock.NewCoordinator(opts.Gate),
		Inventory: inv,
		Transfers: allocation.NewTransferer(opts.Picks, logger.Named("allocation")),
		Directory: priority.NewDirectory(logger.Named("priority")),
		Replayer:  priority.NewReplayer(inv, logger.Named("replay")),
		Taxes:     tax.NewReconciler(opts.TaxService, opts.Rounding, logger.Named("tax")),
		Clock:     time.Now,
		Logger:    logger,
	}
}

// =============================================================================
// PER-ORDER OPERATIONS
// =============================================================================

func (e *Engine) TransferToNewShipGroup(ctx context.Context, req allocation.TransferRequest) (res allocation.TransferResult, err error) {
	err = e.Locks.WithOrder(ctx, req.OrderID, func() error {
		return e.Store.WithTx(ctx, func(tx core.Store) error {
			res, err = e.Transfers.Transfer(ctx, tx, req)
			return err
		})
	})
	return res, err
}

// RecalcTax recomputes the order's tax. A changed ship-to contact mech keeps
// already-billed tax in place.
func (e *Engine) RecalcTax(ctx context.Context, orderID core.OrderID, contactMechIDChanged bool) (res tax.RecalcResult, err error) {
	err = e.Locks.WithOrder(ctx, orderID, func() error {
		return e.Store.WithTx(ctx, func(tx core.Store) error {
			res, err = e.Taxes.Recalc(ctx, tx, orderID, contactMechIDChanged)
			return err
		})
	})
	return res, err
}

// =============================================================================
// PRIORITY DIRECTORY
// =============================================================================

func (e *Engine) SetPriority(ctx context.Context, orderID core.OrderID) (ranks []core.PriorityRank, err error) {
	err = e.Locks.WithRanks(ctx, func() error {
		return e.Store.WithTx(ctx, func(tx core.Store) error {
			ranks, err = e.Directory.SetPriority(ctx, tx, orderID)
			return err
		})
	})
	return ranks, err
}

func (e *Engine) DeletePriority(ctx context.Context, orderID core.OrderID) error {
	return e.Locks.WithRanks(ctx, func() error {
		return e.Store.WithTx(ctx, func(tx core.Store) error {
			return e.Directory.DeletePriority(ctx, tx, orderID)
		})
	})
}

func (e *Engine) ResequencePriorities(ctx context.Context, entries []priority.ResequenceEntry) (ranks []core.PriorityRank, err error) {
	err = e.Locks.WithRanks(ctx, func() error {
		return e.Store.WithTx(ctx, func(tx core.Store) error {
			ranks, err = e.Directory.Resequence(ctx, tx, entries)
			return err
		})
	})
	return ranks, err
}

func (e *Engine) ListPriorities(ctx context.Context) ([]core.PriorityRank, error) {
	return e.Directory.List(ctx, e.Store)
}

// =============================================================================
// RESERVATION REPLAY
// =============================================================================

// ReplayReservationsByPriority rebuilds every reservation in rank order. The
// run is recorded whether or not it succeeds; a failed run changes nothing
// else.
func (e *Engine) ReplayReservationsByPriority(ctx context.Context) (core.ReplayRun, error) {
	return e.ReplayWithID(ctx, uuid.NewString())
}

// ReplayWithID is ReplayReservationsByPriority under a caller-chosen run id,
// used when the id was handed out before the run started.
func (e *Engine) ReplayWithID(ctx context.Context, runID string) (core.ReplayRun, error) {
	run := core.ReplayRun{ID: runID, StartedAt: e.Clock().UTC()}

	err := e.Locks.WithGlobal(ctx, func() error {
		if err := e.Store.SaveReplayRun(ctx, run); err != nil {
			return err
		}
		return e.Store.WithTx(ctx, func(tx core.Store) error {
			sum, err := e.Replayer.Replay(ctx, tx)
			run.Cancelled, run.Reserved = sum.Cancelled, sum.Reserved
			return err
		})
	})

	finished := e.Clock().UTC()
	run.FinishedAt = &finished
	if err != nil {
		run.Cancelled, run.Reserved = 0, 0
		run.Error = err.Error()
		e.Logger.Error("reservation replay failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	if saveErr := e.Store.SaveReplayRun(ctx, run); saveErr != nil {
		e.Logger.Warn("replay run not recorded", zap.String("run_id", run.ID), zap.Error(saveErr))
	}
	return run, err
}

func (e *Engine) ListReplayRuns(ctx context.Context, limit int) ([]core.ReplayRun, error) {
	return e.Store.ListReplayRuns(ctx, limit)
}
