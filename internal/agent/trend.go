package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/market"
)

// TrendAgent votes with the EMA crossover: fast above slow is bullish.
// A fresh cross carries more conviction than a stretched one.
type TrendAgent struct {
	id         string
	fastPeriod int
	slowPeriod int
	logger     zerolog.Logger
}

// NewTrendAgent builds a trend-following agent.
// Params: fast_period (9), slow_period (21).
func NewTrendAgent(id string, params Params) *TrendAgent {
	return &TrendAgent{
		id:         id,
		fastPeriod: params.Int("fast_period", 9),
		slowPeriod: params.Int("slow_period", 21),
		logger:     config.NewAgentLogger(id, string(StrategyTrend)),
	}
}

func (a *TrendAgent) ID() string         { return a.id }
func (a *TrendAgent) Strategy() Strategy { return StrategyTrend }

// Analyze compares fast and slow EMAs at the last two candles.
func (a *TrendAgent) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	if a.fastPeriod >= a.slowPeriod {
		return nil, fmt.Errorf("agent %s: fast period (%d) must be less than slow period (%d)", a.id, a.fastPeriod, a.slowPeriod)
	}

	closes := snapshot.CloseSeries()
	fast, err := computeEMA(closes, a.fastPeriod)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.id, err)
	}
	slow, err := computeEMA(closes, a.slowPeriod)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.id, err)
	}
	if len(fast) < 2 || len(slow) < 2 {
		return nil, fmt.Errorf("agent %s: EMA series too short", a.id)
	}

	// Series warm up at different offsets; both tails land on the same
	// candle, so last and last-1 of each line up in time.
	curFast, prevFast := fast[len(fast)-1], fast[len(fast)-2]
	curSlow, prevSlow := slow[len(slow)-1], slow[len(slow)-2]

	curDiff := curFast - curSlow
	prevDiff := prevFast - prevSlow
	separation := 0.0
	if curSlow != 0 {
		separation = curDiff / curSlow
	}

	vote := &Vote{
		AgentID: a.id,
		Indicators: map[string]float64{
			"ema_fast":       curFast,
			"ema_slow":       curSlow,
			"separation_pct": separation * 100,
		},
	}

	switch {
	case math.Abs(separation) < 0.0005:
		vote.Signal = SignalHold
		vote.Confidence = 0.4
		vote.Reason = fmt.Sprintf("EMAs entangled (%.3f%% apart)", separation*100)
	case curDiff > 0 && prevDiff <= 0:
		vote.Signal = SignalBuy
		vote.Confidence = 0.85
		vote.Reason = fmt.Sprintf("Golden cross: EMA%d crossed above EMA%d", a.fastPeriod, a.slowPeriod)
	case curDiff < 0 && prevDiff >= 0:
		vote.Signal = SignalSell
		vote.Confidence = 0.85
		vote.Reason = fmt.Sprintf("Death cross: EMA%d crossed below EMA%d", a.fastPeriod, a.slowPeriod)
	case curDiff > 0:
		vote.Signal = SignalBuy
		vote.Confidence = clampConfidence(0.55 + math.Min(0.3, math.Abs(separation)*30))
		vote.Reason = fmt.Sprintf("Uptrend: EMA%d %.2f%% above EMA%d", a.fastPeriod, separation*100, a.slowPeriod)
	default:
		vote.Signal = SignalSell
		vote.Confidence = clampConfidence(0.55 + math.Min(0.3, math.Abs(separation)*30))
		vote.Reason = fmt.Sprintf("Downtrend: EMA%d %.2f%% below EMA%d", a.fastPeriod, math.Abs(separation)*100, a.slowPeriod)
	}

	a.logger.Debug().
		Str("symbol", snapshot.Symbol).
		Float64("ema_fast", curFast).
		Float64("ema_slow", curSlow).
		Str("signal", string(vote.Signal)).
		Float64("confidence", vote.Confidence).
		Msg("Trend vote")

	return vote, nil
}
