package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/market"
)

// BreakoutAgent votes when price escapes its recent high-low channel.
// Conviction scales with the breakout distance measured in ATRs.
type BreakoutAgent struct {
	id            string
	channelPeriod int
	atrPeriod     int
	logger        zerolog.Logger
}

// NewBreakoutAgent builds a channel-breakout agent.
// Params: channel_period (20), atr_period (14).
func NewBreakoutAgent(id string, params Params) *BreakoutAgent {
	return &BreakoutAgent{
		id:            id,
		channelPeriod: params.Int("channel_period", 20),
		atrPeriod:     params.Int("atr_period", 14),
		logger:        config.NewAgentLogger(id, string(StrategyBreakout)),
	}
}

func (a *BreakoutAgent) ID() string         { return a.id }
func (a *BreakoutAgent) Strategy() Strategy { return StrategyBreakout }

// Analyze checks the last close against the prior channel extremes.
func (a *BreakoutAgent) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	highs := snapshot.HighSeries()
	lows := snapshot.LowSeries()
	closes := snapshot.CloseSeries()

	highest, lowest, err := channelExtremes(highs, lows, a.channelPeriod)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.id, err)
	}
	atr, err := computeATR(highs, lows, closes, a.atrPeriod)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.id, err)
	}

	price := snapshot.LastClose()

	vote := &Vote{
		AgentID: a.id,
		Indicators: map[string]float64{
			"channel_high": highest,
			"channel_low":  lowest,
			"atr":          atr,
		},
	}

	// Breakout distance in ATRs drives conviction; half an ATR of margin
	// already reads as a decisive break.
	atrScore := func(margin float64) float64 {
		if atr <= 0 {
			return 0
		}
		return math.Min(0.3, margin/atr*0.15)
	}

	switch {
	case price > highest:
		vote.Signal = SignalBuy
		vote.Confidence = clampConfidence(0.65 + atrScore(price-highest))
		vote.Reason = fmt.Sprintf("Close %.4f broke above %d-candle high %.4f", price, a.channelPeriod, highest)
	case price < lowest:
		vote.Signal = SignalSell
		vote.Confidence = clampConfidence(0.65 + atrScore(lowest-price))
		vote.Reason = fmt.Sprintf("Close %.4f broke below %d-candle low %.4f", price, a.channelPeriod, lowest)
	default:
		vote.Signal = SignalHold
		vote.Confidence = 0.35
		vote.Reason = fmt.Sprintf("Price inside %d-candle channel [%.4f, %.4f]", a.channelPeriod, lowest, highest)
	}

	a.logger.Debug().
		Str("symbol", snapshot.Symbol).
		Float64("channel_high", highest).
		Float64("channel_low", lowest).
		Float64("atr", atr).
		Str("signal", string(vote.Signal)).
		Float64("confidence", vote.Confidence).
		Msg("Breakout vote")

	return vote, nil
}
