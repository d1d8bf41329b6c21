package cascade

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSlotStatusFollowsCapital(t *testing.T) {
	s := &Slot{ID: "slot_1", VB: decimal.NewFromInt(1000)}

	s.recompute()
	assert.Equal(t, StatusBootstrap, s.Status)
	assert.False(t, s.Reached())

	s.Capital = decimal.NewFromInt(999)
	s.recompute()
	assert.Equal(t, StatusBootstrap, s.Status)

	s.Capital = decimal.NewFromInt(1000)
	s.recompute()
	assert.Equal(t, StatusOperating, s.Status)
	assert.True(t, s.Reached())

	// Losses drop the status but never the reached latch.
	s.Capital = decimal.NewFromInt(800)
	s.recompute()
	assert.Equal(t, StatusBootstrap, s.Status)
	assert.True(t, s.Reached())
}

func TestSlotExcessAndDeficit(t *testing.T) {
	s := &Slot{VB: decimal.NewFromInt(1000), Capital: decimal.NewFromInt(1250)}
	assert.True(t, s.Excess().Equal(decimal.NewFromInt(250)))
	assert.True(t, s.Deficit().IsZero())

	s.Capital = decimal.NewFromInt(400)
	assert.True(t, s.Excess().IsZero())
	assert.True(t, s.Deficit().Equal(decimal.NewFromInt(600)))

	s.Capital = s.VB
	assert.True(t, s.Excess().IsZero())
	assert.True(t, s.Deficit().IsZero())
}

func TestSlotWinRate(t *testing.T) {
	s := &Slot{}
	assert.Equal(t, 0.0, s.WinRate())

	s.TradesDone = 5
	s.Wins = 2
	assert.InDelta(t, 0.4, s.WinRate(), 1e-9)

	s.TradesDone = 8
	s.Wins = 8
	assert.Equal(t, 1.0, s.WinRate())
}

func TestSlotClone(t *testing.T) {
	s := &Slot{
		ID:      "slot_3",
		VB:      decimal.NewFromInt(1000),
		Capital: decimal.NewFromInt(640),
		NetPnL:  decimal.NewFromInt(-60),
	}
	s.recompute()

	c := s.Clone()
	c.Capital = decimal.NewFromInt(9999)
	c.TradesDone = 42

	assert.True(t, s.Capital.Equal(decimal.NewFromInt(640)))
	assert.Equal(t, 0, s.TradesDone)
}
