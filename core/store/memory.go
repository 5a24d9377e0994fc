// Package store provides an in-memory core.TxStore.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/fulfillment-engine/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a core.TxStore held in maps. WithTx runs against a copy of the
// state and swaps it in only when fn succeeds.
type Memory struct {
	mu sync.Mutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

type lineKey struct {
	OrderID core.OrderID
	SeqID   core.OrderItemSeqID
}

type groupKey struct {
	OrderID core.OrderID
	SeqID   core.ShipGroupSeqID
}

type state struct {
	orders       map[core.OrderID]core.Order
	lines        map[lineKey]core.OrderLine
	groups       map[groupKey]core.ShipGroup
	allocations  map[core.AllocationKey]core.Allocation
	reservations map[core.ReservationKey]core.Reservation
	ledger       []core.LedgerEntry
	inventory    map[core.InventoryItemID]core.InventoryItem
	ranks        map[groupKey]core.PriorityRank
	adjustments  map[core.AdjustmentID]core.Adjustment
	billings     map[core.AdjustmentID][]core.AdjustmentBilling
	addresses    map[core.ContactMechID]core.PostalAddress
	facilities   map[core.FacilityID]core.Facility
	picks        map[core.AllocationKey]bool
	runs         []core.ReplayRun
}

func newState() *state {
	return &state{
		orders:       make(map[core.OrderID]core.Order),
		lines:        make(map[lineKey]core.OrderLine),
		groups:       make(map[groupKey]core.ShipGroup),
		allocations:  make(map[core.AllocationKey]core.Allocation),
		reservations: make(map[core.ReservationKey]core.Reservation),
		inventory:    make(map[core.InventoryItemID]core.InventoryItem),
		ranks:        make(map[groupKey]core.PriorityRank),
		adjustments:  make(map[core.AdjustmentID]core.Adjustment),
		billings:     make(map[core.AdjustmentID][]core.AdjustmentBilling),
		addresses:    make(map[core.ContactMechID]core.PostalAddress),
		facilities:   make(map[core.FacilityID]core.Facility),
		picks:        make(map[core.AllocationKey]bool),
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies every table. Entity values are copied by value; callers never
// mutate through the pointer fields they hold.
func (s *state) clone() *state {
	billings := make(map[core.AdjustmentID][]core.AdjustmentBilling, len(s.billings))
	for k, v := range s.billings {
		billings[k] = append([]core.AdjustmentBilling(nil), v...)
	}
	return &state{
		orders:       copyMap(s.orders),
		lines:        copyMap(s.lines),
		groups:       copyMap(s.groups),
		allocations:  copyMap(s.allocations),
		reservations: copyMap(s.reservations),
		ledger:       append([]core.LedgerEntry(nil), s.ledger...),
		inventory:    copyMap(s.inventory),
		ranks:        copyMap(s.ranks),
		adjustments:  copyMap(s.adjustments),
		billings:     billings,
		addresses:    copyMap(s.addresses),
		facilities:   copyMap(s.facilities),
		picks:        copyMap(s.picks),
		runs:         append([]core.ReplayRun(nil), s.runs...),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// On error the working copy is discarded, which is the rollback.
func (m *Memory) WithTx(ctx context.Context, fn func(core.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	m.st = work
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// with runs fn against the committed state under the store lock.
func (m *Memory) with(fn func(s *state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

// =============================================================================
// LOCKED DELEGATES (non-transactional access)
// =============================================================================

func (m *Memory) GetOrder(ctx context.Context, id core.OrderID) (o core.Order, err error) {
	err = m.with(func(s *state) error { o, err = s.GetOrder(ctx, id); return err })
	return o, err
}

func (m *Memory) SaveOrder(ctx context.Context, o core.Order) error {
	return m.with(func(s *state) error { return s.SaveOrder(ctx, o) })
}

func (m *Memory) GetOrderLine(ctx context.Context, orderID core.OrderID, seq core.OrderItemSeqID) (l core.OrderLine, err error) {
	err = m.with(func(s *state) error { l, err = s.GetOrderLine(ctx, orderID, seq); return err })
	return l, err
}

func (m *Memory) ListOrderLines(ctx context.Context, orderID core.OrderID) (ls []core.OrderLine, err error) {
	err = m.with(func(s *state) error { ls, err = s.ListOrderLines(ctx, orderID); return err })
	return ls, err
}

func (m *Memory) SaveOrderLine(ctx context.Context, l core.OrderLine) error {
	return m.with(func(s *state) error { return s.SaveOrderLine(ctx, l) })
}

func (m *Memory) GetShipGroup(ctx context.Context, orderID core.OrderID, seq core.ShipGroupSeqID) (g core.ShipGroup, err error) {
	err = m.with(func(s *state) error { g, err = s.GetShipGroup(ctx, orderID, seq); return err })
	return g, err
}

func (m *Memory) ListShipGroups(ctx context.Context, orderID core.OrderID) (gs []core.ShipGroup, err error) {
	err = m.with(func(s *state) error { gs, err = s.ListShipGroups(ctx, orderID); return err })
	return gs, err
}

func (m *Memory) SaveShipGroup(ctx context.Context, g core.ShipGroup) error {
	return m.with(func(s *state) error { return s.SaveShipGroup(ctx, g) })
}

func (m *Memory) GetAllocation(ctx context.Context, key core.AllocationKey) (a core.Allocation, err error) {
	err = m.with(func(s *state) error { a, err = s.GetAllocation(ctx, key); return err })
	return a, err
}

func (m *Memory) ListAllocations(ctx context.Context, orderID core.OrderID) (as []core.Allocation, err error) {
	err = m.with(func(s *state) error { as, err = s.ListAllocations(ctx, orderID); return err })
	return as, err
}

func (m *Memory) SaveAllocation(ctx context.Context, a core.Allocation) error {
	return m.with(func(s *state) error { return s.SaveAllocation(ctx, a) })
}

func (m *Memory) DeleteAllocation(ctx context.Context, key core.AllocationKey) error {
	return m.with(func(s *state) error { return s.DeleteAllocation(ctx, key) })
}

func (m *Memory) ListReservations(ctx context.Context, f core.ReservationFilter) (rs []core.Reservation, err error) {
	err = m.with(func(s *state) error { rs, err = s.ListReservations(ctx, f); return err })
	return rs, err
}

func (m *Memory) SaveReservation(ctx context.Context, r core.Reservation) error {
	return m.with(func(s *state) error { return s.SaveReservation(ctx, r) })
}

func (m *Memory) DeleteReservation(ctx context.Context, key core.ReservationKey) error {
	return m.with(func(s *state) error { return s.DeleteReservation(ctx, key) })
}

func (m *Memory) AppendLedgerEntries(ctx context.Context, entries []core.LedgerEntry) error {
	return m.with(func(s *state) error { return s.AppendLedgerEntries(ctx, entries) })
}

func (m *Memory) ListLedgerEntries(ctx context.Context, item core.InventoryItemID) (es []core.LedgerEntry, err error) {
	err = m.with(func(s *state) error { es, err = s.ListLedgerEntries(ctx, item); return err })
	return es, err
}

func (m *Memory) GetInventoryItem(ctx context.Context, id core.InventoryItemID) (it core.InventoryItem, err error) {
	err = m.with(func(s *state) error { it, err = s.GetInventoryItem(ctx, id); return err })
	return it, err
}

func (m *Memory) SaveInventoryItem(ctx context.Context, item core.InventoryItem) error {
	return m.with(func(s *state) error { return s.SaveInventoryItem(ctx, item) })
}

func (m *Memory) ListPriorityRanks(ctx context.Context) (rs []core.PriorityRank, err error) {
	err = m.with(func(s *state) error { rs, err = s.ListPriorityRanks(ctx); return err })
	return rs, err
}

func (m *Memory) SavePriorityRank(ctx context.Context, r core.PriorityRank) error {
	return m.with(func(s *state) error { return s.SavePriorityRank(ctx, r) })
}

func (m *Memory) DeletePriorityRanks(ctx context.Context, orderID core.OrderID) error {
	return m.with(func(s *state) error { return s.DeletePriorityRanks(ctx, orderID) })
}

func (m *Memory) ReplacePriorityRanks(ctx context.Context, ranks []core.PriorityRank) error {
	return m.with(func(s *state) error { return s.ReplacePriorityRanks(ctx, ranks) })
}

func (m *Memory) ListAdjustments(ctx context.Context, orderID core.OrderID) (as []core.Adjustment, err error) {
	err = m.with(func(s *state) error { as, err = s.ListAdjustments(ctx, orderID); return err })
	return as, err
}

func (m *Memory) SaveAdjustment(ctx context.Context, a core.Adjustment) error {
	return m.with(func(s *state) error { return s.SaveAdjustment(ctx, a) })
}

func (m *Memory) DeleteAdjustment(ctx context.Context, id core.AdjustmentID) error {
	return m.with(func(s *state) error { return s.DeleteAdjustment(ctx, id) })
}

func (m *Memory) ListAdjustmentBillings(ctx context.Context, id core.AdjustmentID) (bs []core.AdjustmentBilling, err error) {
	err = m.with(func(s *state) error { bs, err = s.ListAdjustmentBillings(ctx, id); return err })
	return bs, err
}

func (m *Memory) SaveAdjustmentBilling(ctx context.Context, b core.AdjustmentBilling) error {
	return m.with(func(s *state) error { return s.SaveAdjustmentBilling(ctx, b) })
}

func (m *Memory) GetPostalAddress(ctx context.Context, id core.ContactMechID) (a core.PostalAddress, err error) {
	err = m.with(func(s *state) error { a, err = s.GetPostalAddress(ctx, id); return err })
	return a, err
}

func (m *Memory) SavePostalAddress(ctx context.Context, a core.PostalAddress) error {
	return m.with(func(s *state) error { return s.SavePostalAddress(ctx, a) })
}

func (m *Memory) GetFacility(ctx context.Context, id core.FacilityID) (f core.Facility, err error) {
	err = m.with(func(s *state) error { f, err = s.GetFacility(ctx, id); return err })
	return f, err
}

func (m *Memory) SaveFacility(ctx context.Context, f core.Facility) error {
	return m.with(func(s *state) error { return s.SaveFacility(ctx, f) })
}

func (m *Memory) IsPickLocked(ctx context.Context, key core.AllocationKey) (locked bool, err error) {
	err = m.with(func(s *state) error { locked, err = s.IsPickLocked(ctx, key); return err })
	return locked, err
}

func (m *Memory) SetPickLock(ctx context.Context, key core.AllocationKey, locked bool) error {
	return m.with(func(s *state) error { return s.SetPickLock(ctx, key, locked) })
}

func (m *Memory) SaveReplayRun(ctx context.Context, run core.ReplayRun) error {
	return m.with(func(s *state) error { return s.SaveReplayRun(ctx, run) })
}

func (m *Memory) ListReplayRuns(ctx context.Context, limit int) (rs []core.ReplayRun, err error) {
	err = m.with(func(s *state) error { rs, err = s.ListReplayRuns(ctx, limit); return err })
	return rs, err
}

// =============================================================================
// STATE - Unlocked table operations (the transactional view)
// =============================================================================

func (s *state) GetOrder(_ context.Context, id core.OrderID) (core.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return core.Order{}, core.NotFound("order", id)
	}
	return o, nil
}

func (s *state) SaveOrder(_ context.Context, o core.Order) error {
	s.orders[o.ID] = o
	return nil
}

func (s *state) GetOrderLine(_ context.Context, orderID core.OrderID, seq core.OrderItemSeqID) (core.OrderLine, error) {
	l, ok := s.lines[lineKey{orderID, seq}]
	if !ok {
		return core.OrderLine{}, core.NotFound("order line", string(orderID)+"/"+string(seq))
	}
	return l, nil
}

func (s *state) ListOrderLines(_ context.Context, orderID core.OrderID) ([]core.OrderLine, error) {
	var out []core.OrderLine
	for k, l := range s.lines {
		if k.OrderID == orderID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqID < out[j].SeqID })
	return out, nil
}

func (s *state) SaveOrderLine(_ context.Context, l core.OrderLine) error {
	s.lines[lineKey{l.OrderID, l.SeqID}] = l
	return nil
}

func (s *state) GetShipGroup(_ context.Context, orderID core.OrderID, seq core.ShipGroupSeqID) (core.ShipGroup, error) {
	g, ok := s.groups[groupKey{orderID, seq}]
	if !ok {
		return core.ShipGroup{}, core.NotFound("ship group", string(orderID)+"/"+string(seq))
	}
	return g, nil
}

func (s *state) ListShipGroups(_ context.Context, orderID core.OrderID) ([]core.ShipGroup, error) {
	var out []core.ShipGroup
	for k, g := range s.groups {
		if k.OrderID == orderID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqID < out[j].SeqID })
	return out, nil
}

func (s *state) SaveShipGroup(_ context.Context, g core.ShipGroup) error {
	s.groups[groupKey{g.OrderID, g.SeqID}] = g
	return nil
}

func (s *state) GetAllocation(_ context.Context, key core.AllocationKey) (core.Allocation, error) {
	a, ok := s.allocations[key]
	if !ok {
		return core.Allocation{}, core.NotFound("allocation", key)
	}
	return a, nil
}

func (s *state) ListAllocations(_ context.Context, orderID core.OrderID) ([]core.Allocation, error) {
	var out []core.Allocation
	for k, a := range s.allocations {
		if k.OrderID == orderID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShipGroupSeqID != out[j].ShipGroupSeqID {
			return out[i].ShipGroupSeqID < out[j].ShipGroupSeqID
		}
		return out[i].OrderItemSeqID < out[j].OrderItemSeqID
	})
	return out, nil
}

func (s *state) SaveAllocation(_ context.Context, a core.Allocation) error {
	s.allocations[a.Key()] = a
	return nil
}

func (s *state) DeleteAllocation(_ context.Context, key core.AllocationKey) error {
	delete(s.allocations, key)
	return nil
}

func (s *state) ListReservations(_ context.Context, f core.ReservationFilter) ([]core.Reservation, error) {
	var out []core.Reservation
	for _, r := range s.reservations {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	core.SortReservations(out)
	return out, nil
}

func (s *state) SaveReservation(_ context.Context, r core.Reservation) error {
	s.reservations[r.Key()] = r
	return nil
}

func (s *state) DeleteReservation(_ context.Context, key core.ReservationKey) error {
	delete(s.reservations, key)
	return nil
}

func (s *state) AppendLedgerEntries(_ context.Context, entries []core.LedgerEntry) error {
	s.ledger = append(s.ledger, entries...)
	return nil
}

func (s *state) ListLedgerEntries(_ context.Context, item core.InventoryItemID) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	for _, e := range s.ledger {
		if e.InventoryItemID == item {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *state) GetInventoryItem(_ context.Context, id core.InventoryItemID) (core.InventoryItem, error) {
	it, ok := s.inventory[id]
	if !ok {
		return core.InventoryItem{}, core.NotFound("inventory item", id)
	}
	return it, nil
}

func (s *state) SaveInventoryItem(_ context.Context, item core.InventoryItem) error {
	s.inventory[item.ID] = item
	return nil
}

func (s *state) ListPriorityRanks(_ context.Context) ([]core.PriorityRank, error) {
	out := make([]core.PriorityRank, 0, len(s.ranks))
	for _, r := range s.ranks {
		out = append(out, r)
	}
	core.SortRanks(out)
	return out, nil
}

func (s *state) SavePriorityRank(_ context.Context, r core.PriorityRank) error {
	s.ranks[groupKey{r.OrderID, r.ShipGroupSeqID}] = r
	return nil
}

func (s *state) DeletePriorityRanks(_ context.Context, orderID core.OrderID) error {
	for k := range s.ranks {
		if k.OrderID == orderID {
			delete(s.ranks, k)
		}
	}
	return nil
}

func (s *state) ReplacePriorityRanks(_ context.Context, ranks []core.PriorityRank) error {
	s.ranks = make(map[groupKey]core.PriorityRank, len(ranks))
	for _, r := range ranks {
		s.ranks[groupKey{r.OrderID, r.ShipGroupSeqID}] = r
	}
	return nil
}

func (s *state) ListAdjustments(_ context.Context, orderID core.OrderID) ([]core.Adjustment, error) {
	var out []core.Adjustment
	for _, a := range s.adjustments {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) SaveAdjustment(_ context.Context, a core.Adjustment) error {
	s.adjustments[a.ID] = a
	return nil
}

func (s *state) DeleteAdjustment(_ context.Context, id core.AdjustmentID) error {
	if len(s.billings[id]) > 0 {
		return core.Invalid("adjustment", "adjustment %s is billed and cannot be deleted", id)
	}
	delete(s.adjustments, id)
	return nil
}

func (s *state) ListAdjustmentBillings(_ context.Context, id core.AdjustmentID) ([]core.AdjustmentBilling, error) {
	return append([]core.AdjustmentBilling(nil), s.billings[id]...), nil
}

func (s *state) SaveAdjustmentBilling(_ context.Context, b core.AdjustmentBilling) error {
	s.billings[b.AdjustmentID] = append(s.billings[b.AdjustmentID], b)
	return nil
}

func (s *state) GetPostalAddress(_ context.Context, id core.ContactMechID) (core.PostalAddress, error) {
	a, ok := s.addresses[id]
	if !ok {
		return core.PostalAddress{}, core.NotFound("postal address", id)
	}
	return a, nil
}

func (s *state) SavePostalAddress(_ context.Context, a core.PostalAddress) error {
	s.addresses[a.ContactMechID] = a
	return nil
}

func (s *state) GetFacility(_ context.Context, id core.FacilityID) (core.Facility, error) {
	f, ok := s.facilities[id]
	if !ok {
		return core.Facility{}, core.NotFound("facility", id)
	}
	return f, nil
}

func (s *state) SaveFacility(_ context.Context, f core.Facility) error {
	s.facilities[f.ID] = f
	return nil
}

func (s *state) IsPickLocked(_ context.Context, key core.AllocationKey) (bool, error) {
	return s.picks[key], nil
}

func (s *state) SetPickLock(_ context.Context, key core.AllocationKey, locked bool) error {
	if locked {
		s.picks[key] = true
	} else {
		delete(s.picks, key)
	}
	return nil
}

func (s *state) SaveReplayRun(_ context.Context, run core.ReplayRun) error {
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

// ListReplayRuns returns the most recent runs first.
func (s *state) ListReplayRuns(_ context.Context, limit int) ([]core.ReplayRun, error) {
	out := make([]core.ReplayRun, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0; i-- {
		out = append(out, s.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
