package core

import "github.com/shopspring/decimal"

// =============================================================================
// QUANTITY LEDGER - Greedy delta computation over ordered sources
// =============================================================================

// TransferSource is one record a quantity can be taken from.
type TransferSource struct {
	Quantity            decimal.Decimal
	QuantityUnavailable decimal.Decimal
}

// TransferDelta says how much to take from sources[Index].
type TransferDelta struct {
	Index            int
	Delta            decimal.Decimal
	DeltaUnavailable decimal.Decimal
}

// ComputeTransferDeltas consumes need from sources in iteration order. Each
// source gives min(remaining need, quantity); a source with a backordered
// portion also gives min(unavailable, delta) of it.
//
// The deltas always sum to need. Insufficient sources are a caller contract
// violation and return a ConsistencyError rather than a truncated result.
func ComputeTransferDeltas(need decimal.Decimal, sources []TransferSource) ([]TransferDelta, decimal.Decimal, error) {
	if need.IsNegative() {
		return nil, decimal.Zero, Invalid("quantity", "negative transfer quantity %s", need)
	}

	remaining := need
	consumed := decimal.Zero
	var deltas []TransferDelta

	for i, src := range sources {
		if !remaining.IsPositive() {
			break
		}
		delta := MinDecimal(remaining, src.Quantity)
		if !delta.IsPositive() {
			continue
		}
		d := TransferDelta{Index: i, Delta: delta, DeltaUnavailable: decimal.Zero}
		if !src.QuantityUnavailable.IsZero() {
			d.DeltaUnavailable = MinDecimal(src.QuantityUnavailable, delta)
		}
		deltas = append(deltas, d)
		remaining = remaining.Sub(delta)
		consumed = consumed.Add(delta)
	}

	if !consumed.Equal(need) {
		return nil, consumed, &ConsistencyError{
			Expected: need,
			Actual:   consumed,
			Message:  "reservations do not cover transfer quantity",
		}
	}
	return deltas, consumed, nil
}
