// Package orchestrator runs the top-level trading loop: one cycle monitors
// open positions, then fans consensus rounds out over the configured
// (venue, symbol) pairs and opens positions for actionable decisions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/consensus"
	"github.com/valortrade/valor/internal/events"
	"github.com/valortrade/valor/internal/exchange"
	"github.com/valortrade/valor/internal/fees"
	"github.com/valortrade/valor/internal/market"
	"github.com/valortrade/valor/internal/metrics"
	"github.com/valortrade/valor/internal/notify"
	"github.com/valortrade/valor/internal/position"
	"github.com/valortrade/valor/internal/treasury"
)

// Trading states reported by State and the /status endpoint.
const (
	StateStopped  = "STOPPED"
	StateRunning  = "RUNNING"
	StatePaused   = "PAUSED"
	StateStopping = "STOPPING"
)

var (
	// ErrNotRunning is returned by controls that need an active loop.
	ErrNotRunning = errors.New("orchestrator is not running")
	// ErrAlreadyRunning is returned by Run and Start when the loop is live.
	ErrAlreadyRunning = errors.New("orchestrator is already running")
)

const summaryInterval = 24 * time.Hour

// Deps collects the services the loop drives.
type Deps struct {
	Engine   *consensus.Engine
	Executor *position.Executor
	Store    *position.Store
	Router   *treasury.Router
	Provider market.Provider
	Venues   *exchange.Registry
	Bus      *events.Bus
}

// Orchestrator owns the cycle loop and the pause/stop state machine.
// Pausing stops new entries; the monitor pass keeps running so open
// positions still close and settle.
type Orchestrator struct {
	cfg    *config.Config
	deps   Deps
	logger zerolog.Logger

	mu     sync.Mutex
	state  string
	paused bool
	cancel context.CancelFunc
	done   chan struct{}
	runErr error

	lastSummary time.Time
}

// New wires an orchestrator. Call Run to start trading.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: config.NewLogger("orchestrator"),
		state:  StateStopped,
	}
}

// Run blocks driving trading cycles until the context is cancelled or Stop
// is called. Each cycle is a barrier: the next one starts only after every
// per-symbol query of the previous one returned. On exit all open
// positions are closed with reason SHUTDOWN and settled; the returned
// error means at least one position could not be closed.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateStopped {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.state = StateRunning
	o.paused = false
	o.cancel = cancel
	o.done = make(chan struct{})
	o.runErr = nil
	o.lastSummary = time.Now()
	done := o.done
	o.mu.Unlock()

	defer cancel()

	interval := o.cfg.Trading.ScanInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	o.logger.Info().
		Str("mode", o.cfg.Trading.Mode).
		Strs("symbols", o.cfg.Trading.Symbols).
		Strs("venues", o.deps.Venues.Names()).
		Dur("scan_interval", interval).
		Msg("Trading loop started")
	o.deps.Bus.SystemStatus(runCtx, StateRunning, "trading loop started")
	notify.SystemStatus(runCtx, StateRunning, "trading loop started")

	timer := time.NewTimer(0)
	defer timer.Stop()

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-timer.C:
		}

		started := time.Now()
		o.cycle(runCtx)
		metrics.ObserveCycleDuration(float64(time.Since(started).Milliseconds()))

		o.maybeSummarize(runCtx)

		sleep := interval - time.Since(started)
		if sleep < 0 {
			sleep = 0
		}
		timer.Reset(sleep)
	}

	err := o.closeout()

	o.mu.Lock()
	o.state = StateStopped
	o.runErr = err
	o.mu.Unlock()
	close(done)

	return err
}

// pair keys a (venue, symbol) slot in the cooldown set.
type pair struct {
	venue  string
	symbol string
}

// cycle runs one pass: close triggered positions first, then scan for new
// entries unless paused. A symbol whose position the monitor pass just
// closed sits the scan out; re-entry waits for the next cycle so it is
// decided on a fresh consensus round, not the one that triggered the exit.
func (o *Orchestrator) cycle(ctx context.Context) {
	before := o.openPairs()
	closed := o.deps.Executor.Monitor(ctx)
	if closed > 0 {
		o.logger.Info().Int("closed", closed).Msg("Monitor pass closed positions")
	}
	metrics.SetOpenPositions(o.deps.Store.OpenCount())

	if ctx.Err() != nil || o.isPaused() {
		return
	}

	cooldown := make(map[pair]struct{})
	for p := range before {
		if !o.deps.Store.HasOpen(p.venue, p.symbol) {
			cooldown[p] = struct{}{}
		}
	}
	o.scan(ctx, cooldown)
}

func (o *Orchestrator) openPairs() map[pair]struct{} {
	open := o.deps.Store.Open()
	out := make(map[pair]struct{}, len(open))
	for _, p := range open {
		out[pair{venue: p.Venue, symbol: p.Symbol}] = struct{}{}
	}
	return out
}

// scan queries consensus for every (venue, symbol) pair under the
// per-venue concurrency cap and opens positions for actionable decisions.
// Pairs in the cooldown set are skipped for this cycle. Per-symbol queries
// fan out; the errgroup wait is the cycle barrier.
func (o *Orchestrator) scan(ctx context.Context, cooldown map[pair]struct{}) {
	for _, venueName := range o.deps.Venues.Names() {
		budget := o.venueBudget(venueName)
		if budget <= 0 {
			continue
		}
		if o.maxFreeCapital().LessThan(o.minPositionSize()) {
			o.logger.Debug().Str("venue", venueName).Msg("Free capital below floor, skipping scan")
			continue
		}

		remaining := int32(budget)
		g, gctx := errgroup.WithContext(ctx)
		for _, symbol := range o.cfg.Trading.Symbols {
			if o.deps.Store.HasOpen(venueName, symbol) {
				continue
			}
			if _, cooling := cooldown[pair{venue: venueName, symbol: symbol}]; cooling {
				o.logger.Debug().
					Str("venue", venueName).
					Str("symbol", symbol).
					Msg("Position closed this cycle, symbol sits the scan out")
				continue
			}
			venueName, symbol := venueName, symbol
			g.Go(func() error {
				o.evaluate(gctx, venueName, symbol, &remaining)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// evaluate runs one consensus round for a symbol and acts on the result.
// Refusals and skipped symbols are normal outcomes; only the decision and
// its consequences are logged.
func (o *Orchestrator) evaluate(ctx context.Context, venueName, symbol string, remaining *int32) {
	snapshot, err := o.deps.Provider.Snapshot(ctx, venueName, symbol)
	if err != nil {
		o.logger.Debug().Err(err).
			Str("venue", venueName).
			Str("symbol", symbol).
			Msg("Snapshot unavailable, skipping symbol")
		return
	}

	result := o.deps.Engine.Decide(ctx, snapshot)
	o.publishDecision(ctx, result)

	if !result.Actionable() {
		return
	}
	if result.Confidence < o.cfg.Consensus.MinConfidence {
		o.logger.Info().
			Str("symbol", symbol).
			Str("outcome", string(result.Outcome)).
			Float64("confidence", result.Confidence).
			Float64("min_confidence", o.cfg.Consensus.MinConfidence).
			Msg("Decision below confidence floor, not trading")
		return
	}
	if atomic.AddInt32(remaining, -1) < 0 {
		o.logger.Info().
			Str("venue", venueName).
			Str("symbol", symbol).
			Msg("Venue position cap reached, decision not traded")
		return
	}

	res, err := o.deps.Executor.Open(ctx, position.OpenRequest{
		Venue:      venueName,
		Symbol:     symbol,
		Side:       sideFor(result.Outcome),
		Confidence: result.Confidence,
	})
	if err != nil {
		atomic.AddInt32(remaining, 1)
		o.logger.Error().Err(err).
			Str("venue", venueName).
			Str("symbol", symbol).
			Msg("Open failed")
		return
	}
	if res.Outcome != position.OutcomeOpened {
		atomic.AddInt32(remaining, 1)
		o.logger.Info().
			Str("venue", venueName).
			Str("symbol", symbol).
			Str("reason", res.Reason).
			Msg("Open refused")
	}
}

func (o *Orchestrator) publishDecision(ctx context.Context, result *consensus.Result) {
	scores := make(map[string]float64, len(result.Scores))
	for signal, score := range result.Scores {
		scores[string(signal)] = score
	}
	o.deps.Bus.DecisionMade(ctx, events.DecisionEvent{
		Symbol:     result.Symbol,
		Outcome:    string(result.Outcome),
		Confidence: result.Confidence,
		Scores:     scores,
		Supporters: result.Supporters,
		Reason:     result.Reason,
	})
}

// venueBudget is how many more positions the venue may carry this cycle.
func (o *Orchestrator) venueBudget(venueName string) int {
	limit := o.cfg.Trading.MaxConcurrentPositions
	if limit <= 0 {
		limit = 3
	}
	return limit - o.deps.Store.OpenOnVenue(venueName)
}

// maxFreeCapital is the largest unreserved slot balance; when even the best
// slot is below the minimum position size, the whole scan is pointless.
func (o *Orchestrator) maxFreeCapital() decimal.Decimal {
	best := decimal.Zero
	for _, s := range o.deps.Router.SlotStates() {
		free := s.Capital.Sub(o.deps.Store.Reserved(s.ID))
		if free.GreaterThan(best) {
			best = free
		}
	}
	return best
}

func (o *Orchestrator) minPositionSize() decimal.Decimal {
	if o.cfg.Trading.MinPositionSize <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(o.cfg.Trading.MinPositionSize)
}

// closeout closes every open position with reason SHUTDOWN and settles
// each before the loop returns.
func (o *Orchestrator) closeout() error {
	o.mu.Lock()
	o.state = StateStopping
	o.mu.Unlock()

	o.logger.Info().Msg("Trading loop stopping, running shutdown closeout")

	// The run context is already cancelled; the closeout gets its own
	// deadline so exit orders can still go out.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	err := o.deps.Executor.Shutdown(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("Shutdown closeout incomplete")
	}

	o.deps.Bus.SystemStatus(ctx, StateStopped, "trading loop stopped")
	notify.SystemStatus(ctx, StateStopped, "trading loop stopped")
	return err
}

// maybeSummarize sends the daily activity summary once per interval.
func (o *Orchestrator) maybeSummarize(ctx context.Context) {
	o.mu.Lock()
	due := time.Since(o.lastSummary) >= summaryInterval
	if due {
		o.lastSummary = time.Now()
	}
	o.mu.Unlock()
	if !due {
		return
	}

	notify.DailySummary(ctx, o.Summary(summaryInterval))
}

// Summary aggregates the trades closed within the window plus the current
// capital picture.
func (o *Orchestrator) Summary(window time.Duration) notify.Summary {
	cutoff := time.Now().Add(-window)

	var trades, wins int
	net := decimal.Zero
	for _, p := range o.deps.Store.Closed(0) {
		if p.ClosedAt.Before(cutoff) {
			continue
		}
		trades++
		if p.NetQuote.Sign() > 0 {
			wins++
		}
		net = net.Add(p.NetQuote)
	}

	cascade := o.deps.Router.CascadeStatus()
	return notify.Summary{
		Date:          time.Now().UTC(),
		TradesTotal:   trades,
		Wins:          wins,
		NetPnL:        net,
		TotalCapital:  cascade.TotalCapital,
		Treasury:      cascade.Treasury,
		OpenPositions: o.deps.Store.OpenCount(),
	}
}

// Start resumes a paused loop. The loop itself is started by Run.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case StateStopped, StateStopping:
		return ErrNotRunning
	case StateRunning:
		if !o.paused {
			return ErrAlreadyRunning
		}
	}
	o.paused = false
	o.state = StateRunning
	o.logger.Info().Msg("Trading resumed")
	return nil
}

// Pause stops opening new positions. Monitoring and settlement continue.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateRunning && o.state != StatePaused {
		return ErrNotRunning
	}
	o.paused = true
	o.state = StatePaused
	o.logger.Info().Msg("Trading paused, monitor passes continue")
	return nil
}

// Stop cancels the loop and waits for the shutdown closeout to finish or
// the context to expire. The returned error is the closeout result.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateStopped {
		o.mu.Unlock()
		return nil
	}
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop timed out waiting for closeout: %w", ctx.Err())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runErr
}

// EmergencyStop is Stop with a critical alert; every open position is
// closed at market regardless of P&L.
func (o *Orchestrator) EmergencyStop(ctx context.Context) error {
	o.logger.Warn().Msg("Emergency stop requested")
	notify.GetDefaultManager().SendCritical(ctx, "Emergency Stop",
		"emergency stop requested, closing all open positions", nil)
	return o.Stop(ctx)
}

// State reports the loop state for dashboards.
func (o *Orchestrator) State() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func sideFor(outcome consensus.Outcome) fees.Side {
	if outcome == consensus.OutcomeSell {
		return fees.SideShort
	}
	return fees.SideLong
}
