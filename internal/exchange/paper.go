package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/market"
)

// paperHalfSpread is the half-spread applied to paper fills: buys execute
// 0.05% above mid, sells 0.05% below. Matches a liquid spot book.
var paperHalfSpread = decimal.RequireFromString("0.0005")

// defaultPaperBalance seeds the quote balance of a fresh paper venue.
var defaultPaperBalance = decimal.NewFromInt(1_000_000)

// Paper is an in-memory venue for paper trading. Prices are set by tests
// or by a live price feed; market orders fill instantly at mid plus or
// minus the half-spread, limit orders rest until cancelled. Order ids are
// sequential, which keeps paper runs reproducible.
type Paper struct {
	name string

	mu       sync.RWMutex
	prices   map[string]decimal.Decimal
	klines   map[string][]market.Kline
	orders   map[string]*Order
	balances map[string]decimal.Decimal
	seq      uint64

	logger zerolog.Logger
}

// NewPaper creates a paper venue seeded with the default quote balance.
func NewPaper(name string) *Paper {
	p := &Paper{
		name:     name,
		prices:   make(map[string]decimal.Decimal),
		klines:   make(map[string][]market.Kline),
		orders:   make(map[string]*Order),
		balances: map[string]decimal.Decimal{"USDT": defaultPaperBalance},
		logger:   config.NewLogger("exchange"),
	}
	p.logger.Info().Str("venue", name).Msg("Paper venue initialized")
	return p
}

func (p *Paper) Name() string { return p.name }

// SetPrice sets the current mid price for a symbol.
func (p *Paper) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetKlines installs an explicit candle history for a symbol. Without one,
// Klines synthesizes a deterministic series around the current price.
func (p *Paper) SetKlines(symbol string, klines []market.Kline) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.klines[symbol] = klines
}

// SetBalance sets the free balance of an asset.
func (p *Paper) SetBalance(asset string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[asset] = amount
}

func (p *Paper) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	mid, ok := p.prices[symbol]
	if !ok {
		return Ticker{}, fmt.Errorf("%w for %s on %s", ErrNoPrice, symbol, p.name)
	}

	one := decimal.NewFromInt(1)
	return Ticker{
		Symbol: symbol,
		Last:   mid,
		Bid:    mid.Mul(one.Sub(paperHalfSpread)),
		Ask:    mid.Mul(one.Add(paperHalfSpread)),
		At:     time.Now(),
	}, nil
}

func (p *Paper) Klines(ctx context.Context, symbol string, limit int) ([]market.Kline, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if series, ok := p.klines[symbol]; ok {
		if len(series) > limit {
			series = series[len(series)-limit:]
		}
		out := make([]market.Kline, len(series))
		copy(out, series)
		return out, nil
	}

	mid, ok := p.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w for %s on %s", ErrNoPrice, symbol, p.name)
	}
	return syntheticKlines(mid, limit), nil
}

// syntheticKlines builds a deterministic gentle wave ending at the current
// price, so indicator math has a plausible series to work on.
func syntheticKlines(mid decimal.Decimal, limit int) []market.Kline {
	price, _ := mid.Float64()
	now := time.Now().Truncate(time.Minute)

	out := make([]market.Kline, limit)
	prevClose := price * (1 + 0.004*math.Sin(float64(limit)/8))
	for i := 0; i < limit; i++ {
		phase := float64(limit-1-i) / 8
		c := price * (1 + 0.004*math.Sin(phase))
		o := prevClose
		hi := math.Max(o, c) * 1.0005
		lo := math.Min(o, c) * 0.9995
		openTime := now.Add(-time.Duration(limit-i) * time.Minute)

		out[i] = market.Kline{
			OpenTime:  openTime,
			Open:      o,
			High:      hi,
			Low:       lo,
			Close:     c,
			Volume:    10 + float64(i%7),
			CloseTime: openTime.Add(time.Minute),
		}
		prevClose = c
	}
	return out
}

func (p *Paper) CreateMarketOrder(ctx context.Context, symbol string, side OrderSide, amountBase decimal.Decimal) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amountBase.Sign() <= 0 {
		return Order{}, fmt.Errorf("amount must be positive, got %s", amountBase)
	}
	mid, ok := p.prices[symbol]
	if !ok {
		return Order{}, fmt.Errorf("%w for %s on %s", ErrNoPrice, symbol, p.name)
	}

	one := decimal.NewFromInt(1)
	var fillPrice decimal.Decimal
	if side == Buy {
		fillPrice = mid.Mul(one.Add(paperHalfSpread))
	} else {
		fillPrice = mid.Mul(one.Sub(paperHalfSpread))
	}

	order := p.newOrder(symbol, side, amountBase)
	order.FilledBase = amountBase
	order.FillPrice = fillPrice
	order.Status = OrderFilled
	p.orders[order.ID] = order
	p.applyFill(order)

	p.logger.Info().
		Str("venue", p.name).
		Str("order_id", order.ID).
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("amount", amountBase.String()).
		Str("fill_price", fillPrice.String()).
		Msg("Paper market order filled")

	return *order, nil
}

func (p *Paper) CreateLimitOrder(ctx context.Context, symbol string, side OrderSide, amountBase, price decimal.Decimal) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amountBase.Sign() <= 0 {
		return Order{}, fmt.Errorf("amount must be positive, got %s", amountBase)
	}
	if price.Sign() <= 0 {
		return Order{}, fmt.Errorf("limit price must be positive, got %s", price)
	}

	order := p.newOrder(symbol, side, amountBase)
	order.FillPrice = price
	order.Status = OrderOpen
	p.orders[order.ID] = order

	p.logger.Info().
		Str("venue", p.name).
		Str("order_id", order.ID).
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("price", price.String()).
		Msg("Paper limit order resting")

	return *order, nil
}

func (p *Paper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Status != OrderOpen {
		return fmt.Errorf("cannot cancel order %s in status %s", orderID, order.Status)
	}

	order.Status = OrderCanceled
	return nil
}

func (p *Paper) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balances[asset], nil
}

// GetOrder returns a copy of a tracked order. Test helper.
func (p *Paper) GetOrder(orderID string) (Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	order, ok := p.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return *order, nil
}

func (p *Paper) newOrder(symbol string, side OrderSide, amountBase decimal.Decimal) *Order {
	p.seq++
	return &Order{
		ID:         fmt.Sprintf("%s-%d", p.name, p.seq),
		Venue:      p.name,
		Symbol:     symbol,
		Side:       side,
		AmountBase: amountBase,
		CreatedAt:  time.Now(),
	}
}

// applyFill moves the quote balance by the raw notional. Fees are modeled
// by the fee engine at close, not by the paper book.
func (p *Paper) applyFill(order *Order) {
	notional := order.FillPrice.Mul(order.FilledBase)
	quote := p.balances["USDT"]
	if order.Side == Buy {
		p.balances["USDT"] = quote.Sub(notional)
	} else {
		p.balances["USDT"] = quote.Add(notional)
	}
}
