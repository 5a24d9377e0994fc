/*
money.go - Money and two-stage tax rounding

PURPOSE:
  Tax is accumulated at a calculation scale and rounded to a final scale
  exactly once per line and once per order-level total. Invoicing re-derives
  tax with the same two stages, so both sides must round identically.

STAGES:
  RoundForCalculation: applied to every per-authority component and to every
                       running total while accumulating (default 3 places)
  RoundFinal:          applied once per line total and once per global total
                       (default 2 places)

EXAMPLE:
  p := core.DefaultRounding()
  a := core.NewMoney(core.MustDecimal("0.0625")).RoundForCalculation(p) // 0.063
  b := a.RoundFinal(p)                                                  // 0.06
*/
package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROUNDING POLICY
// =============================================================================

type RoundingMode string

const (
	RoundHalfUp   RoundingMode = "half-up"
	RoundHalfEven RoundingMode = "half-even"
)

type RoundingPolicy struct {
	CalcScale  int32
	FinalScale int32
	Mode       RoundingMode
}

// DefaultRounding matches common sales tax settings: 3 calc places, 2 final, half-up.
func DefaultRounding() RoundingPolicy {
	return RoundingPolicy{CalcScale: 3, FinalScale: 2, Mode: RoundHalfUp}
}

func (p RoundingPolicy) Validate() error {
	if p.CalcScale < 0 || p.FinalScale < 0 {
		return Invalid("rounding", "scales must be non-negative")
	}
	if p.FinalScale > p.CalcScale {
		return Invalid("rounding", "final scale %d exceeds calculation scale %d", p.FinalScale, p.CalcScale)
	}
	switch p.Mode {
	case RoundHalfUp, RoundHalfEven:
		return nil
	default:
		return Invalid("rounding", "unknown mode %q", p.Mode)
	}
}

func (p RoundingPolicy) round(d decimal.Decimal, places int32) decimal.Decimal {
	if p.Mode == RoundHalfEven {
		return d.RoundBank(places)
	}
	// decimal.Round rounds half away from zero, which is half-up for both signs.
	return d.Round(places)
}

// =============================================================================
// MONEY
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(d decimal.Decimal) Money { return Money{Value: d} }

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money  { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money  { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money         { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool       { return m.Value.IsZero() }
func (m Money) Equal(o Money) bool { return m.Value.Equal(o.Value) }
func (m Money) String() string     { return m.Value.String() }

func (m Money) RoundForCalculation(p RoundingPolicy) Money {
	return Money{Value: p.round(m.Value, p.CalcScale)}
}

func (m Money) RoundFinal(p RoundingPolicy) Money {
	return Money{Value: p.round(m.Value, p.FinalScale)}
}

// Accumulator sums components, rounding the running total at calculation
// scale after every addition.
type Accumulator struct {
	policy RoundingPolicy
	total  Money
}

func NewAccumulator(p RoundingPolicy) *Accumulator {
	return &Accumulator{policy: p, total: ZeroMoney()}
}

func (a *Accumulator) Add(m Money) {
	a.total = a.total.Add(m.RoundForCalculation(a.policy)).RoundForCalculation(a.policy)
}

func (a *Accumulator) Total() Money { return a.total }

func (a *Accumulator) Final() Money { return a.total.RoundFinal(a.policy) }

func (a *Accumulator) String() string {
	return fmt.Sprintf("%s (final %s)", a.total, a.Final())
}
