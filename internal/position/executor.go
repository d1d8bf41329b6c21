package position

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/valortrade/valor/internal/cascade"
	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/exchange"
	"github.com/valortrade/valor/internal/fees"
	"github.com/valortrade/valor/internal/market"
	"github.com/valortrade/valor/internal/metrics"
	"github.com/valortrade/valor/internal/notify"
	"github.com/valortrade/valor/internal/treasury"
)

// Close-order retry schedule. A triggered position is never abandoned: on
// exhausted retries it stays open, alerts fire, and the next monitor pass
// tries again.
const (
	defaultCloseAttempts   = 6
	defaultCloseBackoff    = time.Second
	defaultCloseBackoffMax = 60 * time.Second
	closeBackoffGrowth     = 2
	amountBasePrecision    = 8
	confidenceSizeBase     = 0.5
	confidenceSizeSlope    = 0.8
)

// OpenOutcome classifies the result of an open attempt. Business refusals
// are outcomes, not errors.
type OpenOutcome string

const (
	OutcomeOpened          OpenOutcome = "OPENED"
	OutcomeNoAvailableSlot OpenOutcome = "NO_AVAILABLE_SLOT"
)

// OpenRequest asks the executor to put on a position.
type OpenRequest struct {
	Venue      string
	Symbol     string
	Side       fees.Side
	Confidence float64
	// SlotID is an optional slot preference; it wins only if that slot
	// still has free capital.
	SlotID string
}

// OpenResult reports what an open attempt did.
type OpenResult struct {
	Outcome  OpenOutcome
	Reason   string
	Position Position
}

// Executor turns trading decisions into live positions and walks each one
// to its settled close: slot selection, confidence-scaled sizing, entry,
// trigger monitoring, exit, fee accounting, settlement.
type Executor struct {
	store  *Store
	router *treasury.Router
	fees   *fees.Model
	venues *exchange.Registry
	cfg    config.TradingConfig
	prices *market.PriceCache
	logger zerolog.Logger

	closeAttempts   int
	closeBackoff    time.Duration
	closeBackoffMax time.Duration
}

// NewExecutor wires an executor over its collaborators.
func NewExecutor(store *Store, router *treasury.Router, feeModel *fees.Model, venues *exchange.Registry, cfg config.TradingConfig) *Executor {
	return &Executor{
		store:           store,
		router:          router,
		fees:            feeModel,
		venues:          venues,
		cfg:             cfg,
		logger:          config.NewLogger("executor"),
		closeAttempts:   defaultCloseAttempts,
		closeBackoff:    defaultCloseBackoff,
		closeBackoffMax: defaultCloseBackoffMax,
	}
}

// SetPriceCache installs a shared ticker cache. Monitor passes check it
// before hitting the venue, so many positions on one symbol cost one call.
func (e *Executor) SetPriceCache(cache *market.PriceCache) {
	e.prices = cache
}

// Open attempts to open a position for a decision. Slot exhaustion and the
// exposure cap are refusals reported in the OpenResult; exchange and fee
// failures are errors. An error leaves no side effects behind.
func (e *Executor) Open(ctx context.Context, req OpenRequest) (OpenResult, error) {
	venue, err := e.venues.Get(req.Venue)
	if err != nil {
		return OpenResult{}, err
	}

	slotID, free, ok := e.selectSlot(req.SlotID)
	if !ok {
		return e.refuse("no slot with free capital"), nil
	}

	size := e.positionSize(free, req.Confidence)
	if size.LessThan(e.minPositionSize()) {
		return e.refuse(fmt.Sprintf("position size %s below minimum %s", size, e.minPositionSize())), nil
	}
	if capped, limit := e.exceedsExposureCap(size); capped {
		return e.refuse(fmt.Sprintf("exposure cap %s reached", limit)), nil
	}

	tick, err := venue.Ticker(ctx, req.Symbol)
	if err != nil {
		return OpenResult{}, fmt.Errorf("failed to resolve mark price: %w", err)
	}
	mark := tick.Last

	tpPrice, tpPct, err := e.fees.TakeProfit(req.Venue, mark, req.Side, nil)
	if err != nil {
		return OpenResult{}, err
	}
	slPrice, err := e.fees.StopLoss(req.Venue, mark, req.Side, decimal.NewFromFloat(e.cfg.MaxLossPct))
	if err != nil {
		return OpenResult{}, err
	}

	amountBase := size.DivRound(mark, amountBasePrecision)
	if amountBase.Sign() <= 0 {
		return e.refuse("amount rounds to zero at current price"), nil
	}

	order, err := venue.CreateMarketOrder(ctx, req.Symbol, entrySide(req.Side), amountBase)
	if err != nil {
		metrics.RecordOrderRejected(metrics.NormalizeRejectReason(err.Error()))
		notify.AlertOrderFailed(ctx, req.Venue, req.Symbol, string(req.Side), err)
		return OpenResult{}, fmt.Errorf("entry order failed: %w", err)
	}

	entry := order.FillPrice
	if entry.Sign() <= 0 {
		entry = mark
	}
	filled := order.FilledBase
	if filled.Sign() <= 0 {
		filled = amountBase
	}

	p := Position{
		ID:            fmt.Sprintf("%s_%s_%d", req.Venue, req.Symbol, time.Now().UnixNano()),
		SlotID:        slotID,
		Venue:         req.Venue,
		Symbol:        req.Symbol,
		Side:          req.Side,
		EntryPrice:    entry,
		AmountBase:    filled,
		NotionalQuote: filled.Mul(entry),
		TPPrice:       tpPrice,
		SLPrice:       slPrice,
		Confidence:    req.Confidence,
		Status:        StatusOpen,
		OpenedAt:      time.Now().UTC(),
	}
	if err := e.store.Add(ctx, p); err != nil {
		return OpenResult{}, err
	}

	notify.TradeOpened(ctx, notify.TradeOpen{
		PositionID: p.ID,
		SlotID:     p.SlotID,
		Venue:      p.Venue,
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		EntryPrice: p.EntryPrice,
		Notional:   p.NotionalQuote,
		TPPrice:    p.TPPrice,
		SLPrice:    p.SLPrice,
		Confidence: p.Confidence,
	})

	e.logger.Info().
		Str("position_id", p.ID).
		Str("slot_id", p.SlotID).
		Str("symbol", p.Symbol).
		Str("side", string(p.Side)).
		Str("entry_price", p.EntryPrice.String()).
		Str("tp_price", p.TPPrice.String()).
		Str("sl_price", p.SLPrice.String()).
		Str("tp_pct", tpPct.String()).
		Str("notional", p.NotionalQuote.String()).
		Msg("Position entered")

	return OpenResult{Outcome: OutcomeOpened, Position: p}, nil
}

// Monitor runs one trigger pass over all open positions and closes every
// one whose mark price crossed its TP or SL. Returns the number closed.
func (e *Executor) Monitor(ctx context.Context) int {
	closed := 0
	for _, p := range e.store.Open() {
		select {
		case <-ctx.Done():
			return closed
		default:
		}

		venue, err := e.venues.Get(p.Venue)
		if err != nil {
			e.logger.Error().Err(err).Str("position_id", p.ID).Msg("Venue missing for open position")
			continue
		}
		mark, err := e.markPrice(ctx, venue, p.Venue, p.Symbol)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("position_id", p.ID).
				Str("symbol", p.Symbol).
				Msg("Price fetch failed during monitor pass")
			continue
		}

		reason, hit := p.Triggered(mark)
		if !hit {
			continue
		}

		e.logger.Info().
			Str("position_id", p.ID).
			Str("symbol", p.Symbol).
			Str("price", mark.String()).
			Str("reason", string(reason)).
			Msg("Close trigger hit")

		if _, err := e.Close(ctx, p, reason); err == nil {
			closed++
		}
	}
	return closed
}

// CloseManual closes one open position at the current market price.
func (e *Executor) CloseManual(ctx context.Context, id string) (Position, error) {
	p, ok := e.store.Get(id)
	if !ok || !p.Open() {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return e.Close(ctx, p, CloseManual)
}

// Shutdown closes every open position with reason SHUTDOWN and settles each
// before returning. The returned error means at least one position could
// not be closed and manual intervention is needed.
func (e *Executor) Shutdown(ctx context.Context) error {
	open := e.store.Open()
	if len(open) == 0 {
		return nil
	}

	e.logger.Info().Int("count", len(open)).Msg("Closing all open positions for shutdown")

	var failed int
	var lastErr error
	for _, p := range open {
		if _, err := e.Close(ctx, p, CloseShutdown); err != nil {
			failed++
			lastErr = err
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to close %d of %d positions during shutdown: %w", failed, len(open), lastErr)
	}
	return nil
}

// Close exits a position, accounts the round trip through the fee model,
// marks it closed, and settles the net P&L into its slot. The settlement
// id is the position id, so a crash between close and settle replays
// safely.
func (e *Executor) Close(ctx context.Context, p Position, reason CloseReason) (Position, error) {
	venue, err := e.venues.Get(p.Venue)
	if err != nil {
		return Position{}, err
	}

	order, err := e.exitOrder(ctx, venue, p)
	if err != nil {
		metrics.RecordError("unclosable_position", "executor")
		notify.AlertUnclosablePosition(ctx, p.ID, p.Symbol, err)
		e.logger.Error().Err(err).
			Str("position_id", p.ID).
			Str("symbol", p.Symbol).
			Msg("Exit order exhausted retries, position stays open")
		return Position{}, err
	}

	exit := order.FillPrice
	if exit.Sign() <= 0 {
		if tick, terr := venue.Ticker(ctx, p.Symbol); terr == nil {
			exit = tick.Last
		}
	}

	bd, err := e.fees.NetProfit(p.Venue, p.EntryPrice, exit, p.NotionalQuote, p.Side)
	if err != nil {
		notify.AlertSystemError(ctx, "executor", err)
		return Position{}, fmt.Errorf("failed to account close of %s: %w", p.ID, err)
	}

	closed, err := e.store.Close(ctx, p.ID, exit, reason, bd.GrossQuote, bd.TotalFees, bd.NetQuote)
	if err != nil {
		// Lost the race with a concurrent close; the winner settled it.
		return Position{}, err
	}

	if _, err := e.router.Settle(ctx, closed.SlotID, bd.NetQuote, closed.ID, settleDetails(reason)); err != nil {
		e.logger.Error().Err(err).
			Str("position_id", closed.ID).
			Str("slot_id", closed.SlotID).
			Msg("Settlement failed for closed position")
	}

	notify.TradeClosed(ctx, notify.TradeClose{
		PositionID:  closed.ID,
		SlotID:      closed.SlotID,
		Venue:       closed.Venue,
		Symbol:      closed.Symbol,
		Side:        string(closed.Side),
		EntryPrice:  closed.EntryPrice,
		ExitPrice:   closed.ExitPrice,
		CloseReason: string(closed.CloseReason),
		NetPnL:      closed.NetQuote,
		Held:        closed.ClosedAt.Sub(closed.OpenedAt),
	})

	return closed, nil
}

// markPrice resolves the current mark, preferring the shared price cache.
func (e *Executor) markPrice(ctx context.Context, venue exchange.Venue, venueName, symbol string) (decimal.Decimal, error) {
	if e.prices != nil {
		if price, ok := e.prices.Get(ctx, venueName, symbol); ok {
			return decimal.NewFromFloat(price), nil
		}
	}

	tick, err := venue.Ticker(ctx, symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if e.prices != nil {
		last, _ := tick.Last.Float64()
		_ = e.prices.Set(ctx, venueName, symbol, last)
	}
	return tick.Last, nil
}

// exitOrder submits the opposite-side market order with backoff. Unlike
// entry orders, every failure here is retried: the position exists and
// must come off the book.
func (e *Executor) exitOrder(ctx context.Context, venue exchange.Venue, p Position) (exchange.Order, error) {
	side := exchange.Sell
	if p.Side == fees.SideShort {
		side = exchange.Buy
	}

	backoff := e.closeBackoff
	var lastErr error
	for attempt := 1; attempt <= e.closeAttempts; attempt++ {
		order, err := venue.CreateMarketOrder(ctx, p.Symbol, side, p.AmountBase)
		if err == nil {
			return order, nil
		}
		lastErr = err

		e.logger.Warn().Err(err).
			Str("position_id", p.ID).
			Int("attempt", attempt).
			Int("max_attempts", e.closeAttempts).
			Dur("backoff", backoff).
			Msg("Exit order failed, retrying")

		if attempt == e.closeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return exchange.Order{}, fmt.Errorf("close cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= closeBackoffGrowth
		if backoff > e.closeBackoffMax {
			backoff = e.closeBackoffMax
		}
	}
	return exchange.Order{}, fmt.Errorf("exit order failed after %d attempts: %w", e.closeAttempts, lastErr)
}

// selectSlot picks the slot that funds a new position: the preferred slot
// when it still has free capital, otherwise the best historical performer,
// ties broken by the most free capital.
func (e *Executor) selectSlot(preferred string) (string, decimal.Decimal, bool) {
	states := e.router.SlotStates()
	minFree := e.minPositionSize()

	if preferred != "" {
		for _, s := range states {
			if s.ID == preferred {
				if free := e.freeCapital(s); free.GreaterThanOrEqual(minFree) {
					return s.ID, free, true
				}
				break
			}
		}
	}

	var (
		bestID   string
		bestFree decimal.Decimal
		bestRate float64
		found    bool
	)
	for _, s := range states {
		free := e.freeCapital(s)
		if free.LessThan(minFree) {
			continue
		}
		rate := s.WinRate()
		if !found || rate > bestRate || (rate == bestRate && free.GreaterThan(bestFree)) {
			bestID, bestFree, bestRate, found = s.ID, free, rate, true
		}
	}
	return bestID, bestFree, found
}

// freeCapital is slot capital minus the reservations of its open positions.
func (e *Executor) freeCapital(s cascade.Slot) decimal.Decimal {
	return s.Capital.Sub(e.store.Reserved(s.ID))
}

// positionSize scales the risk budget by confidence: base risk is
// free×risk%, modulated by 0.5 + 0.8×confidence and capped at free.
func (e *Executor) positionSize(free decimal.Decimal, confidence float64) decimal.Decimal {
	risk := decimal.NewFromFloat(e.cfg.MaxRiskPerTradePct).Div(decimal.NewFromInt(100))
	mult := decimal.NewFromFloat(confidenceSizeBase + confidenceSizeSlope*confidence)
	size := free.Mul(risk).Mul(mult)
	if size.GreaterThan(free) {
		return free
	}
	return size
}

// exceedsExposureCap reports whether adding size would push total open
// notional past MaxExposurePct of all slot capital.
func (e *Executor) exceedsExposureCap(size decimal.Decimal) (bool, decimal.Decimal) {
	pct := decimal.NewFromFloat(e.cfg.MaxExposurePct)
	if pct.Sign() <= 0 {
		return false, decimal.Zero
	}
	limit := e.router.TotalCapital().Mul(pct).Div(decimal.NewFromInt(100))
	return e.store.TotalOpenNotional().Add(size).GreaterThan(limit), limit
}

func (e *Executor) minPositionSize() decimal.Decimal {
	if e.cfg.MinPositionSize <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(e.cfg.MinPositionSize)
}

func (e *Executor) refuse(reason string) OpenResult {
	metrics.RecordOrderRejected(metrics.NormalizeRejectReason(reason))
	e.logger.Info().Str("reason", reason).Msg("Open refused")
	return OpenResult{Outcome: OutcomeNoAvailableSlot, Reason: reason}
}

func entrySide(side fees.Side) exchange.OrderSide {
	if side == fees.SideShort {
		return exchange.Sell
	}
	return exchange.Buy
}

func settleDetails(reason CloseReason) string {
	return strings.ReplaceAll(strings.ToLower(string(reason)), "_", " ")
}
