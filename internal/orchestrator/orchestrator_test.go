package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valortrade/valor/internal/agent"
	"github.com/valortrade/valor/internal/cascade"
	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/consensus"
	"github.com/valortrade/valor/internal/exchange"
	"github.com/valortrade/valor/internal/fees"
	"github.com/valortrade/valor/internal/market"
	"github.com/valortrade/valor/internal/position"
	"github.com/valortrade/valor/internal/treasury"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// stubAgent votes a fixed signal with fixed confidence.
type stubAgent struct {
	id     string
	signal agent.Signal
	conf   float64
	err    error
}

func (a *stubAgent) ID() string               { return a.id }
func (a *stubAgent) Strategy() agent.Strategy { return agent.StrategyTrend }

func (a *stubAgent) Analyze(_ context.Context, _ *market.Snapshot) (*agent.Vote, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &agent.Vote{
		AgentID:    a.id,
		Signal:     a.signal,
		Confidence: a.conf,
		Reason:     "stub",
	}, nil
}

type stack struct {
	orch   *Orchestrator
	engine *consensus.Engine
	store  *position.Store
	router *treasury.Router
	paper  *exchange.Paper
	cfg    *config.Config
}

func newStack(t *testing.T, agents ...agent.Agent) *stack {
	t.Helper()

	cfg := &config.Config{
		Trading: config.TradingConfig{
			Mode:                   "paper",
			Symbols:                []string{"BTCUSDT"},
			MaxRiskPerTradePct:     10,
			MaxExposurePct:         50,
			MaxConcurrentPositions: 2,
			ScanInterval:           10 * time.Millisecond,
			MinPositionSize:        1,
			MaxLossPct:             0.03,
		},
		Cascade: config.CascadeConfig{ValorBase: 1000, Slots: 3},
		Consensus: config.ConsensusConfig{
			Threshold:       0.65,
			MinAgentsVoting: 2,
			MinConfidence:   0.70,
			AgentTimeout:    time.Second,
			HistorySize:     100,
		},
	}

	ladder := cascade.NewLadder(cfg.Cascade)
	router := treasury.New(ladder, nil, nil)
	feeModel := fees.New(map[string]fees.Rates{
		"paper": fees.RatesFromFloat(0.001, 0.001),
	}, decimal.Zero)

	paper := exchange.NewPaper("paper")
	paper.SetPrice("BTCUSDT", d("50000"))
	registry := exchange.NewRegistry()
	registry.Add(paper)

	provider := market.NewSnapshotProvider(50)
	provider.Register("paper", paper)

	store := position.NewStore(nil, nil)
	executor := position.NewExecutor(store, router, feeModel, registry, cfg.Trading)

	engine := consensus.New(cfg.Consensus)
	for _, a := range agents {
		require.NoError(t, engine.Register(agent.Entry{Agent: a, Group: "primary", Weight: 1.0, Enabled: true}))
	}

	orch := New(cfg, Deps{
		Engine:   engine,
		Executor: executor,
		Store:    store,
		Router:   router,
		Provider: provider,
		Venues:   registry,
	})
	return &stack{orch: orch, engine: engine, store: store, router: router, paper: paper, cfg: cfg}
}

func buyers(n int, conf float64) []agent.Agent {
	out := make([]agent.Agent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &stubAgent{id: "buyer_" + string(rune('a'+i)), signal: agent.SignalBuy, conf: conf})
	}
	return out
}

func TestCycleOpensPositionOnConsensus(t *testing.T) {
	s := newStack(t, buyers(3, 0.9)...)
	s.orch.state = StateRunning

	s.orch.cycle(context.Background())

	open := s.store.Open()
	require.Len(t, open, 1)
	assert.Equal(t, "BTCUSDT", open[0].Symbol)
	assert.Equal(t, fees.SideLong, open[0].Side)
	assert.Equal(t, "slot_1", open[0].SlotID)
	assert.True(t, s.store.Reserved("slot_1").GreaterThan(decimal.Zero))
}

func TestCycleSellOpensShort(t *testing.T) {
	s := newStack(t,
		&stubAgent{id: "a1", signal: agent.SignalSell, conf: 0.9},
		&stubAgent{id: "a2", signal: agent.SignalSell, conf: 0.85},
	)
	s.orch.cycle(context.Background())

	open := s.store.Open()
	require.Len(t, open, 1)
	assert.Equal(t, fees.SideShort, open[0].Side)
}

func TestCycleHoldDoesNotTrade(t *testing.T) {
	s := newStack(t, &stubAgent{id: "a1", signal: agent.SignalHold, conf: 0.99},
		&stubAgent{id: "a2", signal: agent.SignalHold, conf: 0.99})

	s.orch.cycle(context.Background())

	assert.Zero(t, s.store.OpenCount())
	history := s.engine.History(1)
	require.Len(t, history, 1)
	assert.Equal(t, consensus.OutcomeHold, history[0].Outcome)
}

func TestCycleNoConsensusDoesNotTrade(t *testing.T) {
	// Scenario: three BUY (0.9, 0.8, 0.6) against one SELL (0.9), weight 1
	// each. BUY wins at 0.575 but stays below the 0.65 threshold.
	s := newStack(t,
		&stubAgent{id: "a1", signal: agent.SignalBuy, conf: 0.9},
		&stubAgent{id: "a2", signal: agent.SignalBuy, conf: 0.8},
		&stubAgent{id: "a3", signal: agent.SignalBuy, conf: 0.6},
		&stubAgent{id: "a4", signal: agent.SignalSell, conf: 0.9},
	)
	s.orch.cycle(context.Background())

	assert.Zero(t, s.store.OpenCount())
	history := s.engine.History(1)
	require.Len(t, history, 1)
	assert.Equal(t, consensus.OutcomeNoConsensus, history[0].Outcome)
}

func TestCycleRespectsConfidenceFloor(t *testing.T) {
	// 0.68 passes the 0.65 consensus threshold but not the 0.70 trading floor.
	s := newStack(t, buyers(2, 0.68)...)

	s.orch.cycle(context.Background())

	assert.Zero(t, s.store.OpenCount())
	history := s.engine.History(1)
	require.Len(t, history, 1)
	assert.Equal(t, consensus.OutcomeBuy, history[0].Outcome)
}

func TestCycleSkipsSymbolWithOpenPosition(t *testing.T) {
	s := newStack(t, buyers(3, 0.9)...)

	s.orch.cycle(context.Background())
	require.Equal(t, 1, s.store.OpenCount())

	s.orch.cycle(context.Background())
	assert.Equal(t, 1, s.store.OpenCount(), "second cycle must not double up on the symbol")
}

func TestCycleHonorsVenueConcurrencyCap(t *testing.T) {
	s := newStack(t, buyers(3, 0.9)...)
	s.cfg.Trading.Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	s.paper.SetPrice("ETHUSDT", d("3000"))
	s.paper.SetPrice("SOLUSDT", d("150"))

	s.orch.cycle(context.Background())

	assert.Equal(t, 2, s.store.OpenCount(), "cap is 2 positions per venue")
}

func TestPauseStopsEntriesButKeepsMonitoring(t *testing.T) {
	s := newStack(t, buyers(3, 0.9)...)
	s.orch.state = StateRunning

	s.orch.cycle(context.Background())
	open := s.store.Open()
	require.Len(t, open, 1)

	require.NoError(t, s.orch.Pause())
	assert.Equal(t, StatePaused, s.orch.State())

	// Price through the TP: the paused cycle must still close and settle.
	s.paper.SetPrice("BTCUSDT", open[0].TPPrice.Mul(d("1.01")))
	s.orch.cycle(context.Background())

	assert.Zero(t, s.store.OpenCount())
	require.Len(t, s.store.Closed(1), 1)
	assert.Equal(t, position.CloseTakeProfit, s.store.Closed(1)[0].CloseReason)
	assert.Equal(t, 1, s.router.CascadeStatus().Settlements)

	// And no new entry was opened while paused.
	assert.Zero(t, s.store.OpenCount())
}

func TestStartResumesAfterPause(t *testing.T) {
	s := newStack(t, buyers(3, 0.9)...)

	assert.ErrorIs(t, s.orch.Start(), ErrNotRunning)
	assert.ErrorIs(t, s.orch.Pause(), ErrNotRunning)

	s.orch.state = StateRunning
	require.NoError(t, s.orch.Pause())
	require.NoError(t, s.orch.Start())
	assert.Equal(t, StateRunning, s.orch.State())

	s.orch.cycle(context.Background())
	assert.Equal(t, 1, s.store.OpenCount())
}

func TestRunStopClosesOutPositions(t *testing.T) {
	s := newStack(t, buyers(3, 0.9)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- s.orch.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.store.OpenCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, s.orch.Stop(stopCtx))

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	assert.Equal(t, StateStopped, s.orch.State())
	assert.Zero(t, s.store.OpenCount())
	closed := s.store.Closed(1)
	require.Len(t, closed, 1)
	assert.Equal(t, position.CloseShutdown, closed[0].CloseReason)
	assert.Equal(t, 1, s.router.CascadeStatus().Settlements)
}

func TestRunRejectsSecondStart(t *testing.T) {
	s := newStack(t, buyers(2, 0.9)...)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.orch.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.orch.State() == StateRunning
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.orch.Run(ctx), ErrAlreadyRunning)

	cancel()
	<-runErr
}

func TestStopWhenNeverStarted(t *testing.T) {
	s := newStack(t)
	assert.NoError(t, s.orch.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.orch.State())
}

func TestAgentFailuresDoNotAbortCycle(t *testing.T) {
	s := newStack(t,
		&stubAgent{id: "dead", err: errors.New("agent offline")},
		&stubAgent{id: "a1", signal: agent.SignalBuy, conf: 0.9},
		&stubAgent{id: "a2", signal: agent.SignalBuy, conf: 0.85},
	)

	s.orch.cycle(context.Background())

	assert.Equal(t, 1, s.store.OpenCount())
}

func TestCycleDoesNotReenterSymbolClosedSameCycle(t *testing.T) {
	s := newStack(t, buyers(3, 0.9)...)

	s.orch.cycle(context.Background())
	open := s.store.Open()
	require.Len(t, open, 1)

	// Price through the TP: the next cycle's monitor pass closes the
	// position. The scan of that same cycle must not reopen the symbol
	// even though the agents still vote BUY.
	s.paper.SetPrice("BTCUSDT", open[0].TPPrice.Mul(d("1.01")))
	s.orch.cycle(context.Background())

	assert.Zero(t, s.store.OpenCount(), "re-entry must wait for the next cycle")
	require.Len(t, s.store.Closed(1), 1)
	assert.Equal(t, position.CloseTakeProfit, s.store.Closed(1)[0].CloseReason)

	// The following cycle trades the symbol again on a fresh round.
	s.orch.cycle(context.Background())
	assert.Equal(t, 1, s.store.OpenCount())
}

func TestSummaryAggregatesClosedTrades(t *testing.T) {
	s := newStack(t, buyers(3, 0.9)...)

	s.orch.cycle(context.Background())
	open := s.store.Open()
	require.Len(t, open, 1)

	s.paper.SetPrice("BTCUSDT", open[0].TPPrice.Mul(d("1.01")))
	s.orch.cycle(context.Background())
	require.Zero(t, s.store.OpenCount())

	sum := s.orch.Summary(time.Hour)
	assert.Equal(t, 1, sum.TradesTotal)
	assert.Equal(t, 1, sum.Wins)
	assert.True(t, sum.NetPnL.GreaterThan(decimal.Zero), "TP close must be fee-safe, net = %s", sum.NetPnL)
	assert.Zero(t, sum.OpenPositions)
}
