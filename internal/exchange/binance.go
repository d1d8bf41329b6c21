package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/market"
	"github.com/valortrade/valor/internal/metrics"
)

// defaultCallTimeout bounds a single venue API call, retries included.
const defaultCallTimeout = 10 * time.Second

// klineInterval is the candle resolution snapshots are built from.
const klineInterval = "1m"

// Binance is the live venue adapter. Every API call goes through the rate
// limiter, the circuit breaker and the retry loop, in that order, and
// lands in the exchange-call metrics.
type Binance struct {
	name    string
	client  *binance.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	retry   RetryConfig
	timeout time.Duration
	logger  zerolog.Logger
}

// NewBinance creates a live Binance adapter from venue config.
func NewBinance(name string, cfg config.VenueConfig) *Binance {
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	logger := config.NewLogger("exchange")
	if cfg.Testnet {
		binance.UseTestnet = true
		logger.Info().Str("venue", name).Msg("Binance adapter initialized (TESTNET mode)")
	} else {
		logger.Warn().Str("venue", name).Msg("Binance adapter initialized (LIVE TRADING mode)")
	}

	every := time.Duration(cfg.RateLimitMS) * time.Millisecond
	if every <= 0 {
		every = 100 * time.Millisecond
	}

	return &Binance{
		name:    name,
		client:  client,
		breaker: newBreaker(name),
		limiter: rate.NewLimiter(rate.Every(every), 1),
		retry:   DefaultRetryConfig(),
		timeout: defaultCallTimeout,
		logger:  logger,
	}
}

func (b *Binance) Name() string { return b.name }

// call runs one venue operation through the limiter, breaker and retry
// loop. The breaker sees the whole retry loop as a single request.
func (b *Binance) call(ctx context.Context, endpoint string, op func(ctx context.Context) error) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	_, err := b.breaker.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return nil, WithRetry(cctx, b.retry, func() error { return op(cctx) })
	})
	metrics.RecordExchangeCall(b.name, endpoint, float64(time.Since(start).Milliseconds()), err)
	return err
}

func (b *Binance) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	var book []*binance.BookTicker
	err := b.call(ctx, "book_ticker", func(ctx context.Context) error {
		var opErr error
		book, opErr = b.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
		return opErr
	})
	if err != nil {
		return Ticker{}, fmt.Errorf("failed to fetch book ticker for %s: %w", symbol, err)
	}
	if len(book) == 0 {
		return Ticker{}, fmt.Errorf("%w for %s on %s", ErrNoPrice, symbol, b.name)
	}

	bid, err := decimal.NewFromString(book[0].BidPrice)
	if err != nil {
		return Ticker{}, fmt.Errorf("failed to parse bid price %q: %w", book[0].BidPrice, err)
	}
	ask, err := decimal.NewFromString(book[0].AskPrice)
	if err != nil {
		return Ticker{}, fmt.Errorf("failed to parse ask price %q: %w", book[0].AskPrice, err)
	}

	var prices []*binance.SymbolPrice
	err = b.call(ctx, "last_price", func(ctx context.Context) error {
		var opErr error
		prices, opErr = b.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return opErr
	})
	if err != nil {
		return Ticker{}, fmt.Errorf("failed to fetch last price for %s: %w", symbol, err)
	}

	last := bid.Add(ask).Div(decimal.NewFromInt(2))
	if len(prices) > 0 {
		if parsed, perr := decimal.NewFromString(prices[0].Price); perr == nil {
			last = parsed
		}
	}

	return Ticker{Symbol: symbol, Last: last, Bid: bid, Ask: ask, At: time.Now()}, nil
}

func (b *Binance) Klines(ctx context.Context, symbol string, limit int) ([]market.Kline, error) {
	var raw []*binance.Kline
	err := b.call(ctx, "klines", func(ctx context.Context) error {
		var opErr error
		raw, opErr = b.client.NewKlinesService().
			Symbol(symbol).
			Interval(klineInterval).
			Limit(limit).
			Do(ctx)
		return opErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}

	out := make([]market.Kline, 0, len(raw))
	for _, k := range raw {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		out = append(out, market.Kline{
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: time.UnixMilli(k.CloseTime),
		})
	}
	return out, nil
}

func (b *Binance) CreateMarketOrder(ctx context.Context, symbol string, side OrderSide, amountBase decimal.Decimal) (Order, error) {
	var resp *binance.CreateOrderResponse
	err := b.call(ctx, "create_order", func(ctx context.Context) error {
		var opErr error
		resp, opErr = b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(binanceSide(side)).
			Type(binance.OrderTypeMarket).
			Quantity(amountBase.String()).
			Do(ctx)
		return opErr
	})
	if err != nil {
		return Order{}, fmt.Errorf("failed to place market order: %w", err)
	}

	order := b.orderFromResponse(resp, side, amountBase)
	b.logger.Info().
		Str("venue", b.name).
		Str("order_id", order.ID).
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("filled", order.FilledBase.String()).
		Str("fill_price", order.FillPrice.String()).
		Msg("Market order placed")

	return order, nil
}

func (b *Binance) CreateLimitOrder(ctx context.Context, symbol string, side OrderSide, amountBase, price decimal.Decimal) (Order, error) {
	var resp *binance.CreateOrderResponse
	err := b.call(ctx, "create_order", func(ctx context.Context) error {
		var opErr error
		resp, opErr = b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(binanceSide(side)).
			Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(amountBase.String()).
			Price(price.String()).
			Do(ctx)
		return opErr
	})
	if err != nil {
		return Order{}, fmt.Errorf("failed to place limit order: %w", err)
	}

	order := b.orderFromResponse(resp, side, amountBase)
	b.logger.Info().
		Str("venue", b.name).
		Str("order_id", order.ID).
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("price", price.String()).
		Str("status", string(order.Status)).
		Msg("Limit order placed")

	return order, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order ID format %q: %w", orderID, err)
	}

	err = b.call(ctx, "cancel_order", func(ctx context.Context) error {
		_, opErr := b.client.NewCancelOrderService().
			Symbol(symbol).
			OrderID(id).
			Do(ctx)
		return opErr
	})
	if err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}

	b.logger.Info().
		Str("venue", b.name).
		Str("order_id", orderID).
		Msg("Order cancelled")
	return nil
}

func (b *Binance) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var account *binance.Account
	err := b.call(ctx, "account", func(ctx context.Context) error {
		var opErr error
		account, opErr = b.client.NewGetAccountService().Do(ctx)
		return opErr
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch account: %w", err)
	}

	for _, bal := range account.Balances {
		if bal.Asset == asset {
			free, perr := decimal.NewFromString(bal.Free)
			if perr != nil {
				return decimal.Zero, fmt.Errorf("failed to parse balance %q: %w", bal.Free, perr)
			}
			return free, nil
		}
	}
	return decimal.Zero, nil
}

func (b *Binance) orderFromResponse(resp *binance.CreateOrderResponse, side OrderSide, amountBase decimal.Decimal) Order {
	filled, _ := decimal.NewFromString(resp.ExecutedQuantity)
	cumQuote, _ := decimal.NewFromString(resp.CummulativeQuoteQuantity)

	var fillPrice decimal.Decimal
	if filled.Sign() > 0 {
		fillPrice = cumQuote.Div(filled)
	}

	return Order{
		ID:         strconv.FormatInt(resp.OrderID, 10),
		Venue:      b.name,
		Symbol:     resp.Symbol,
		Side:       side,
		AmountBase: amountBase,
		FilledBase: filled,
		FillPrice:  fillPrice,
		Status:     orderStatusFromBinance(resp.Status),
		CreatedAt:  time.Now(),
	}
}

func binanceSide(side OrderSide) binance.SideType {
	if side == Sell {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func orderStatusFromBinance(status binance.OrderStatusType) OrderStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return OrderFilled
	case binance.OrderStatusTypeCanceled:
		return OrderCanceled
	case binance.OrderStatusTypeRejected:
		return OrderRejected
	default:
		return OrderOpen
	}
}
