// Package fees isolates venue fee rates from every price-derived decision.
// All math is fixed-point decimal; rates are loaded once at boot and are
// immutable afterwards. Take-profit prices produced here are above
// break-even by construction.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Side of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// ErrUnknownVenue is returned when fee rates were never loaded for a venue.
var ErrUnknownVenue = errors.New("unknown venue")

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)

	// TP sizing relative to the break-even floor.
	defaultTPMultiple = decimal.NewFromInt(3)
	floorTPMultiple   = decimal.RequireFromString("1.5")

	// DefaultMaxLossPct is the stop-loss budget before fees (3%).
	DefaultMaxLossPct = decimal.RequireFromString("0.03")

	// DefaultSafetyBufferPct pads the break-even threshold (0.1%).
	DefaultSafetyBufferPct = decimal.RequireFromString("0.001")
)

// Rates holds one venue's fee schedule.
type Rates struct {
	Maker decimal.Decimal `json:"maker"`
	Taker decimal.Decimal `json:"taker"`
}

// Breakdown is the full accounting of one closed round trip.
type Breakdown struct {
	GrossPct   decimal.Decimal `json:"gross_pct"`
	GrossQuote decimal.Decimal `json:"gross_quote"`
	EntryFee   decimal.Decimal `json:"entry_fee"`
	ExitFee    decimal.Decimal `json:"exit_fee"`
	TotalFees  decimal.Decimal `json:"total_fees"`
	NetQuote   decimal.Decimal `json:"net_quote"`
	NetPct     decimal.Decimal `json:"net_pct"`
	Profitable bool            `json:"profitable"`
}

// Model serves fee math for all configured venues. Immutable after New.
type Model struct {
	rates        map[string]Rates
	safetyBuffer decimal.Decimal
}

// New builds a fee model from per-venue rates. A zero safetyBuffer selects
// the default 0.1%.
func New(rates map[string]Rates, safetyBuffer decimal.Decimal) *Model {
	owned := make(map[string]Rates, len(rates))
	for venue, r := range rates {
		owned[venue] = r
	}
	if safetyBuffer.IsZero() {
		safetyBuffer = DefaultSafetyBufferPct
	}
	return &Model{rates: owned, safetyBuffer: safetyBuffer}
}

// RatesFromFloat converts config-level float rates into a decimal schedule.
func RatesFromFloat(maker, taker float64) Rates {
	return Rates{
		Maker: decimal.NewFromFloat(maker),
		Taker: decimal.NewFromFloat(taker),
	}
}

// Rates returns the fee schedule for a venue.
func (m *Model) Rates(venue string) (Rates, error) {
	r, ok := m.rates[venue]
	if !ok {
		return Rates{}, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}
	return r, nil
}

// MinProfitPct is the smallest return that covers a taker entry, a taker
// exit, and the safety buffer.
func (m *Model) MinProfitPct(venue string) (decimal.Decimal, error) {
	r, err := m.Rates(venue)
	if err != nil {
		return decimal.Zero, err
	}
	return r.Taker.Mul(two).Add(m.safetyBuffer), nil
}

// TakeProfit derives the TP price for an entry. When desired is nil the
// target is 3x the break-even threshold; any requested target is floored at
// 1.5x break-even so a TP can never land inside the fee band.
// Returns the price and the effective percentage actually applied.
func (m *Model) TakeProfit(venue string, entry decimal.Decimal, side Side, desired *decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	minPct, err := m.MinProfitPct(venue)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	pct := minPct.Mul(defaultTPMultiple)
	if desired != nil {
		pct = *desired
	}
	floor := minPct.Mul(floorTPMultiple)
	if pct.LessThan(floor) {
		pct = floor
	}

	var price decimal.Decimal
	switch side {
	case SideShort:
		price = entry.Mul(one.Sub(pct))
	default:
		price = entry.Mul(one.Add(pct))
	}
	return price, pct, nil
}

// StopLoss derives the SL price for an entry. The loss budget is inflated by
// the round-trip taker fee so the realized loss stays near maxLossPct after
// fees. A zero maxLossPct selects the default 3%.
func (m *Model) StopLoss(venue string, entry decimal.Decimal, side Side, maxLossPct decimal.Decimal) (decimal.Decimal, error) {
	r, err := m.Rates(venue)
	if err != nil {
		return decimal.Zero, err
	}
	if maxLossPct.IsZero() {
		maxLossPct = DefaultMaxLossPct
	}

	total := maxLossPct.Add(r.Taker.Mul(two))
	if side == SideShort {
		return entry.Mul(one.Add(total)), nil
	}
	return entry.Mul(one.Sub(total)), nil
}

// NetProfit accounts a full round trip: gross move, entry fee on the opened
// notional, exit fee on the closed notional.
// Law: a zero price move nets exactly -2*taker*notional.
func (m *Model) NetProfit(venue string, entry, exit, notional decimal.Decimal, side Side) (Breakdown, error) {
	r, err := m.Rates(venue)
	if err != nil {
		return Breakdown{}, err
	}
	if entry.IsZero() {
		return Breakdown{}, fmt.Errorf("entry price must be positive")
	}

	var grossPct decimal.Decimal
	if side == SideShort {
		grossPct = entry.Sub(exit).Div(entry)
	} else {
		grossPct = exit.Sub(entry).Div(entry)
	}

	grossQuote := notional.Mul(grossPct)
	entryFee := notional.Mul(r.Taker)
	// The exit trades amountBase at the exit price, so the fee base scales
	// with the price ratio.
	exitFee := notional.Mul(exit.Div(entry)).Mul(r.Taker)
	totalFees := entryFee.Add(exitFee)
	netQuote := grossQuote.Sub(totalFees)

	netPct := decimal.Zero
	if !notional.IsZero() {
		netPct = netQuote.Div(notional)
	}

	return Breakdown{
		GrossPct:   grossPct,
		GrossQuote: grossQuote,
		EntryFee:   entryFee,
		ExitFee:    exitFee,
		TotalFees:  totalFees,
		NetQuote:   netQuote,
		NetPct:     netPct,
		Profitable: netQuote.GreaterThan(decimal.Zero),
	}, nil
}
