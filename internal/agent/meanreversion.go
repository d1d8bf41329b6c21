package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/market"
)

// MeanReversionAgent fades Bollinger Band excursions: a close at or below
// the lower band is a buy, at or above the upper band a sell.
type MeanReversionAgent struct {
	id     string
	period int
	logger zerolog.Logger
}

// NewMeanReversionAgent builds a mean-reversion agent.
// Params: bb_period (20).
func NewMeanReversionAgent(id string, params Params) *MeanReversionAgent {
	return &MeanReversionAgent{
		id:     id,
		period: params.Int("bb_period", 20),
		logger: config.NewAgentLogger(id, string(StrategyMeanReversion)),
	}
}

func (a *MeanReversionAgent) ID() string         { return a.id }
func (a *MeanReversionAgent) Strategy() Strategy { return StrategyMeanReversion }

// Analyze places the last close inside the Bollinger envelope.
func (a *MeanReversionAgent) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	lower, middle, upper, err := computeBollinger(snapshot.CloseSeries(), a.period)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.id, err)
	}

	curLower := lower[len(lower)-1]
	curMiddle := middle[len(middle)-1]
	curUpper := upper[len(upper)-1]
	price := snapshot.LastClose()

	bandWidth := curUpper - curLower
	percentB := 0.5
	if bandWidth > 0 {
		percentB = (price - curLower) / bandWidth
	}

	vote := &Vote{
		AgentID: a.id,
		Indicators: map[string]float64{
			"bb_lower":  curLower,
			"bb_middle": curMiddle,
			"bb_upper":  curUpper,
			"percent_b": percentB,
		},
	}

	switch {
	case bandWidth <= 0:
		vote.Signal = SignalHold
		vote.Confidence = 0.3
		vote.Reason = "Bands collapsed, no reversion edge"
	case price <= curLower:
		depth := (curLower - price) / bandWidth
		vote.Signal = SignalBuy
		vote.Confidence = clampConfidence(0.6 + math.Min(0.5, depth)*0.7)
		vote.Reason = fmt.Sprintf("Price %.4f at/below lower band %.4f", price, curLower)
	case price >= curUpper:
		depth := (price - curUpper) / bandWidth
		vote.Signal = SignalSell
		vote.Confidence = clampConfidence(0.6 + math.Min(0.5, depth)*0.7)
		vote.Reason = fmt.Sprintf("Price %.4f at/above upper band %.4f", price, curUpper)
	default:
		vote.Signal = SignalHold
		vote.Confidence = 0.4
		vote.Reason = fmt.Sprintf("Price inside bands (%%B %.2f)", percentB)
	}

	a.logger.Debug().
		Str("symbol", snapshot.Symbol).
		Float64("percent_b", percentB).
		Str("signal", string(vote.Signal)).
		Float64("confidence", vote.Confidence).
		Msg("Mean reversion vote")

	return vote, nil
}
