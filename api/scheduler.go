/*
scheduler.go - Background reservation replay queue

PURPOSE:
  Runs reservation replays off the request path. A replay holds the global
  lock for its whole duration, so HTTP callers enqueue it and get a run id
  back immediately; the run record shows up under /api/reservations/replay/runs
  once it starts.

DESIGN:
  - One worker goroutine; replays never overlap inside this process
  - At most one replay waits behind the running one. Enqueueing while one is
    already pending returns the pending run id instead of queueing another,
    since a second replay of the same rank list would do nothing new
  - An optional ticker enqueues a replay every Interval

CONFIGURATION:
  - Interval: replay.interval in config (0 disables the ticker)

USAGE:
  queue := NewReplayQueue(eng, logger)
  queue.Interval = cfg.Replay.Interval
  queue.Start()
  // ... later
  queue.Stop()

SEE ALSO:
  - handlers.go: ReplayReservations endpoint
  - engine/engine.go: ReplayWithID
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/fulfillment-engine/core"
)

// Replayer runs one replay under a caller-chosen run id.
type Replayer interface {
	ReplayWithID(ctx context.Context, runID string) (core.ReplayRun, error)
}

// ReplayQueue serializes replays onto one background worker.
type ReplayQueue struct {
	Replayer Replayer
	Interval time.Duration
	Logger   *zap.Logger

	jobs    chan string
	pending string
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

func NewReplayQueue(replayer Replayer, logger *zap.Logger) *ReplayQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayQueue{
		Replayer: replayer,
		Logger:   logger,
		jobs:     make(chan string, 1),
		stop:     make(chan struct{}),
	}
}

// Start begins the worker and, when Interval > 0, the ticker.
func (q *ReplayQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	var tick <-chan time.Time
	if q.Interval > 0 {
		q.ticker = time.NewTicker(q.Interval)
		tick = q.ticker.C
	}
	q.wg.Add(1)
	go q.run(tick)

	q.Logger.Info("replay queue started", zap.Duration("interval", q.Interval))
}

// Stop waits for the running replay, if any, and drops a pending one.
func (q *ReplayQueue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	if q.ticker != nil {
		q.ticker.Stop()
	}
	close(q.stop)
	q.mu.Unlock()

	q.wg.Wait()
	q.Logger.Info("replay queue stopped")
}

// Enqueue schedules a replay and returns its run id.
func (q *ReplayQueue) Enqueue() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending != "" {
		return q.pending
	}
	id := uuid.NewString()
	q.pending = id
	q.jobs <- id
	return id
}

func (q *ReplayQueue) run(tick <-chan time.Time) {
	defer q.wg.Done()
	for {
		select {
		case id := <-q.jobs:
			q.mu.Lock()
			q.pending = ""
			q.mu.Unlock()
			q.replay(id)
		case <-tick:
			q.Enqueue()
		case <-q.stop:
			return
		}
	}
}

func (q *ReplayQueue) replay(id string) {
	run, err := q.Replayer.ReplayWithID(context.Background(), id)
	if err != nil {
		// The engine already recorded and logged the failed run.
		q.Logger.Warn("queued replay failed", zap.String("run_id", id), zap.Error(err))
		return
	}
	q.Logger.Info("queued replay finished",
		zap.String("run_id", id),
		zap.Int("cancelled", run.Cancelled),
		zap.Int("reserved", run.Reserved))
}
