package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/market"
)

// ScalpingAgent votes on short-horizon RSI exhaustion: oversold is a buy,
// overbought is a sell.
type ScalpingAgent struct {
	id         string
	period     int
	oversold   float64
	overbought float64
	logger     zerolog.Logger
}

// NewScalpingAgent builds a scalping agent.
// Params: rsi_period (14), oversold (30), overbought (70).
func NewScalpingAgent(id string, params Params) *ScalpingAgent {
	return &ScalpingAgent{
		id:         id,
		period:     params.Int("rsi_period", 14),
		oversold:   params.Float("oversold", 30),
		overbought: params.Float("overbought", 70),
		logger:     config.NewAgentLogger(id, string(StrategyScalping)),
	}
}

func (a *ScalpingAgent) ID() string         { return a.id }
func (a *ScalpingAgent) Strategy() Strategy { return StrategyScalping }

// Analyze computes RSI over the close series and votes on the extremes.
func (a *ScalpingAgent) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	rsiValues, err := computeRSI(snapshot.CloseSeries(), a.period)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.id, err)
	}
	rsi := rsiValues[len(rsiValues)-1]

	vote := &Vote{
		AgentID:    a.id,
		Indicators: map[string]float64{"rsi": rsi},
	}

	switch {
	case rsi <= a.oversold:
		vote.Signal = SignalBuy
		vote.Confidence = clampConfidence(0.55 + 0.45*(a.oversold-rsi)/a.oversold)
		vote.Reason = fmt.Sprintf("RSI %.1f oversold (<= %.0f)", rsi, a.oversold)
	case rsi >= a.overbought:
		vote.Signal = SignalSell
		vote.Confidence = clampConfidence(0.55 + 0.45*(rsi-a.overbought)/(100-a.overbought))
		vote.Reason = fmt.Sprintf("RSI %.1f overbought (>= %.0f)", rsi, a.overbought)
	default:
		vote.Signal = SignalHold
		vote.Confidence = 0.4
		vote.Reason = fmt.Sprintf("RSI %.1f in neutral band [%.0f, %.0f]", rsi, a.oversold, a.overbought)
	}

	a.logger.Debug().
		Str("symbol", snapshot.Symbol).
		Float64("rsi", rsi).
		Str("signal", string(vote.Signal)).
		Float64("confidence", vote.Confidence).
		Msg("Scalping vote")

	return vote, nil
}
