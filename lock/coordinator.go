/*
Package lock serializes engine operations.

PURPOSE:
  Allocation transfers and tax recalculation touch one order each and may run
  in parallel across different orders. The reservation replay rebuilds every
  reservation of the system and must run alone.

LOCK MODEL:
  global gate (RWMutex)   per-order mutex
  WithOrder:  shared      exclusive on that order
  WithRanks:  shared      - (rank-list mutex instead)
  WithGlobal: exclusive   -

  WithGlobal additionally holds the optional cross-process Gate (see
  redis.go) so two server processes never replay at the same time.

SEE ALSO:
  - engine/engine.go: picks the right lock per operation
*/
package lock

import (
	"context"
	"sync"

	"github.com/warp/fulfillment-engine/core"
)

// Gate is a cross-process exclusive lock.
type Gate interface {
	Acquire(ctx context.Context) (release func(), err error)
}

type Coordinator struct {
	global sync.RWMutex
	ranks  sync.Mutex
	gate   Gate

	mu     sync.Mutex
	orders map[core.OrderID]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

// NewCoordinator returns a coordinator. gate may be nil.
func NewCoordinator(gate Gate) *Coordinator {
	return &Coordinator{gate: gate, orders: make(map[core.OrderID]*orderLock)}
}

// WithOrder runs fn holding the shared global gate and orderID's mutex.
func (c *Coordinator) WithOrder(ctx context.Context, orderID core.OrderID, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.global.RLock()
	defer c.global.RUnlock()

	l := c.acquire(orderID)
	defer c.release(orderID, l)

	return fn()
}

// WithRanks runs fn holding the shared global gate and the rank-list mutex.
func (c *Coordinator) WithRanks(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.global.RLock()
	defer c.global.RUnlock()
	c.ranks.Lock()
	defer c.ranks.Unlock()
	return fn()
}

// WithGlobal runs fn with every other operation excluded.
func (c *Coordinator) WithGlobal(ctx context.Context, fn func() error) error {
	if c.gate != nil {
		release, err := c.gate.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.global.Lock()
	defer c.global.Unlock()
	return fn()
}

func (c *Coordinator) acquire(id core.OrderID) *orderLock {
	c.mu.Lock()
	l, ok := c.orders[id]
	if !ok {
		l = &orderLock{}
		c.orders[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return l
}

func (c *Coordinator) release(id core.OrderID, l *orderLock) {
	l.mu.Unlock()

	c.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(c.orders, id)
	}
	c.mu.Unlock()
}

// held reports how many orders currently have lock waiters or holders.
func (c *Coordinator) held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.orders)
}
