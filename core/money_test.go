package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/fulfillment-engine/core"
)

func TestRounding_TwoStages(t *testing.T) {
	p := core.DefaultRounding()
	m := core.NewMoney(core.MustDecimal("0.0625"))

	calc := m.RoundForCalculation(p)
	assert.Equal(t, "0.063", calc.Value.StringFixed(3))
	assert.Equal(t, "0.06", calc.RoundFinal(p).Value.StringFixed(2))
}

func TestRounding_HalfUpAwayFromZero(t *testing.T) {
	p := core.DefaultRounding()
	assert.Equal(t, "0.13", core.NewMoney(core.MustDecimal("0.125")).RoundFinal(p).Value.StringFixed(2))
	assert.Equal(t, "-0.13", core.NewMoney(core.MustDecimal("-0.125")).RoundFinal(p).Value.StringFixed(2))
}

func TestRounding_HalfEven(t *testing.T) {
	p := core.RoundingPolicy{CalcScale: 3, FinalScale: 2, Mode: core.RoundHalfEven}
	assert.Equal(t, "0.12", core.NewMoney(core.MustDecimal("0.125")).RoundFinal(p).Value.StringFixed(2))
	assert.Equal(t, "0.14", core.NewMoney(core.MustDecimal("0.135")).RoundFinal(p).Value.StringFixed(2))
}

func TestRoundingPolicy_Validate(t *testing.T) {
	assert.NoError(t, core.DefaultRounding().Validate())
	assert.Error(t, core.RoundingPolicy{CalcScale: 2, FinalScale: 3, Mode: core.RoundHalfUp}.Validate())
	assert.Error(t, core.RoundingPolicy{CalcScale: -1, FinalScale: 0, Mode: core.RoundHalfUp}.Validate())
	assert.ErrorIs(t, core.RoundingPolicy{CalcScale: 3, FinalScale: 2, Mode: "up"}.Validate(), core.ErrValidation)
}

func TestAccumulator_RoundsRunningTotal(t *testing.T) {
	// GIVEN: Three components of 0.3333 each
	// WHEN: Accumulated at 3 places
	// THEN: Each is rounded to 0.333 first; the final total rounds once

	acc := core.NewAccumulator(core.DefaultRounding())
	for i := 0; i < 3; i++ {
		acc.Add(core.NewMoney(core.MustDecimal("0.3333")))
	}
	assert.Equal(t, "0.999", acc.Total().Value.StringFixed(3))
	assert.Equal(t, "1.00", acc.Final().Value.StringFixed(2))
}

func TestAccumulator_Empty(t *testing.T) {
	acc := core.NewAccumulator(core.DefaultRounding())
	assert.True(t, acc.Final().IsZero())
}
