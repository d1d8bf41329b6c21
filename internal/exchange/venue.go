// Package exchange provides venue adapters behind a single port. The paper
// venue simulates fills locally; the Binance adapter talks to the real API
// through a rate limiter, retry loop and circuit breaker.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/valortrade/valor/internal/market"
)

// OrderSide is the wire-level direction of an order. Position direction
// (LONG/SHORT) maps onto it at entry and exit.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderStatus of a venue order.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "FILLED"
	OrderOpen     OrderStatus = "OPEN"
	OrderCanceled OrderStatus = "CANCELED"
	OrderRejected OrderStatus = "REJECTED"
)

var (
	ErrVenueUnknown  = errors.New("venue not configured")
	ErrOrderNotFound = errors.New("order not found")
	ErrNoPrice       = errors.New("no price available")
)

// Ticker is a point-in-time price quote.
type Ticker struct {
	Symbol string          `json:"symbol"`
	Last   decimal.Decimal `json:"last"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	At     time.Time       `json:"at"`
}

// Order is the venue's view of a placed order.
type Order struct {
	ID         string          `json:"id"`
	Venue      string          `json:"venue"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	AmountBase decimal.Decimal `json:"amount_base"`
	FilledBase decimal.Decimal `json:"filled_base"`
	FillPrice  decimal.Decimal `json:"fill_price"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Filled reports whether the order executed in full.
func (o *Order) Filled() bool {
	return o.Status == OrderFilled && o.FilledBase.Equal(o.AmountBase)
}

// Venue is the port every exchange adapter implements. Implementations are
// safe for concurrent use. Klines also satisfies market.KlineSource so a
// venue plugs straight into the snapshot provider.
type Venue interface {
	Name() string
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	Klines(ctx context.Context, symbol string, limit int) ([]market.Kline, error)
	CreateMarketOrder(ctx context.Context, symbol string, side OrderSide, amountBase decimal.Decimal) (Order, error)
	CreateLimitOrder(ctx context.Context, symbol string, side OrderSide, amountBase, price decimal.Decimal) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
}

var _ market.KlineSource = Venue(nil)
