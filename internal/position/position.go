// Package position tracks live trades from entry to settled exit. The Store
// owns the position table; the Executor owns the lifecycle around it: slot
// selection, sizing, entry, trigger monitoring, and close-out settlement.
package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/valortrade/valor/internal/fees"
)

// Status of a position.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// CloseReason records what ended a position.
type CloseReason string

const (
	CloseTakeProfit CloseReason = "TAKE_PROFIT"
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseManual     CloseReason = "MANUAL"
	CloseShutdown   CloseReason = "SHUTDOWN"
)

// Position is one live or settled trade, uniquely owned by one slot from
// open to close. All money is fixed-point decimal in the quote currency
// except AmountBase, which counts coins.
type Position struct {
	ID            string          `json:"id"`
	SlotID        string          `json:"slot_id"`
	Venue         string          `json:"venue"`
	Symbol        string          `json:"symbol"`
	Side          fees.Side       `json:"side"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	AmountBase    decimal.Decimal `json:"amount_base"`
	NotionalQuote decimal.Decimal `json:"notional_quote"`
	TPPrice       decimal.Decimal `json:"tp_price"`
	SLPrice       decimal.Decimal `json:"sl_price"`
	Confidence    float64         `json:"confidence"`
	Status        Status          `json:"status"`

	ExitPrice   decimal.Decimal `json:"exit_price"`
	CloseReason CloseReason     `json:"close_reason,omitempty"`
	GrossQuote  decimal.Decimal `json:"gross_quote"`
	FeesQuote   decimal.Decimal `json:"fees_quote"`
	NetQuote    decimal.Decimal `json:"net_quote"`

	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at,omitempty"`
}

// Triggered evaluates the close trigger for a mark price.
// LONG: price at or past TP takes profit, at or past SL stops out.
// SHORT mirrors both comparisons.
func (p *Position) Triggered(price decimal.Decimal) (CloseReason, bool) {
	if p.Side == fees.SideShort {
		if price.LessThanOrEqual(p.TPPrice) {
			return CloseTakeProfit, true
		}
		if price.GreaterThanOrEqual(p.SLPrice) {
			return CloseStopLoss, true
		}
		return "", false
	}

	if price.GreaterThanOrEqual(p.TPPrice) {
		return CloseTakeProfit, true
	}
	if price.LessThanOrEqual(p.SLPrice) {
		return CloseStopLoss, true
	}
	return "", false
}

// Open reports whether the position is still live.
func (p *Position) Open() bool {
	return p.Status == StatusOpen
}
