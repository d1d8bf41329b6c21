// Package cascade implements the Valor Base slot ladder: an ordered set of
// capital slots filled left to right by routed trading profit. The ladder is
// a plain data structure; the treasury router owns it and serializes all
// mutation under its lock.
package cascade

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a slot, always a pure function of Capital vs VB.
type Status string

const (
	StatusBootstrap Status = "BOOTSTRAP"
	StatusOperating Status = "OPERATING"
)

// Slot is one rung of the ladder. VB is immutable after construction;
// Capital moves only through settlement and cascade routing.
type Slot struct {
	ID      string          `json:"id"`
	VB      decimal.Decimal `json:"vb"`
	Capital decimal.Decimal `json:"capital"`
	Status  Status          `json:"status"`

	TradesDone int             `json:"trades_done"`
	Wins       int             `json:"wins"`
	NetPnL     decimal.Decimal `json:"net_pnl"`

	// ProfitReceived counts value routed in from other slots,
	// ProfitSent counts excess routed out. A slot's own trading P&L is
	// NetPnL and never appears in either.
	ProfitReceived decimal.Decimal `json:"profit_received"`
	ProfitSent     decimal.Decimal `json:"profit_sent"`

	CreatedAt time.Time `json:"created_at"`

	// reached is sticky: set the first time Capital touches VB. The
	// cascade never refills a reached slot, even if later losses pull its
	// capital back under VB. Only a downgrade clears it.
	reached bool
}

// recompute derives Status from Capital vs VB and latches reached.
func (s *Slot) recompute() {
	if s.Capital.GreaterThanOrEqual(s.VB) {
		s.Status = StatusOperating
		s.reached = true
	} else {
		s.Status = StatusBootstrap
	}
}

// Excess returns Capital − VB when positive, else zero.
func (s *Slot) Excess() decimal.Decimal {
	excess := s.Capital.Sub(s.VB)
	if excess.Sign() <= 0 {
		return decimal.Zero
	}
	return excess
}

// Deficit returns VB − Capital when positive, else zero.
func (s *Slot) Deficit() decimal.Decimal {
	deficit := s.VB.Sub(s.Capital)
	if deficit.Sign() <= 0 {
		return decimal.Zero
	}
	return deficit
}

// WinRate returns wins over trades, or 0 before the first trade.
func (s *Slot) WinRate() float64 {
	if s.TradesDone == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TradesDone)
}

// Reached reports whether the slot has ever been fully capitalized.
func (s *Slot) Reached() bool {
	return s.reached
}

// Clone returns a value copy safe to hand to readers.
func (s *Slot) Clone() Slot {
	return *s
}
