package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/valortrade/valor/internal/config"
	"github.com/valortrade/valor/internal/market"
)

// MomentumAgent votes on MACD crossovers confirmed by rate of change.
// A fresh crossover is the strong signal; a one-sided histogram with
// agreeing ROC is a weaker continuation vote.
type MomentumAgent struct {
	id           string
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
	rocPeriod    int
	logger       zerolog.Logger
}

// NewMomentumAgent builds a momentum agent.
// Params: fast_period (12), slow_period (26), signal_period (9), roc_period (10).
func NewMomentumAgent(id string, params Params) *MomentumAgent {
	return &MomentumAgent{
		id:           id,
		fastPeriod:   params.Int("fast_period", 12),
		slowPeriod:   params.Int("slow_period", 26),
		signalPeriod: params.Int("signal_period", 9),
		rocPeriod:    params.Int("roc_period", 10),
		logger:       config.NewAgentLogger(id, string(StrategyMomentum)),
	}
}

func (a *MomentumAgent) ID() string         { return a.id }
func (a *MomentumAgent) Strategy() Strategy { return StrategyMomentum }

// Analyze reads the MACD histogram flip and the close-to-close rate of change.
func (a *MomentumAgent) Analyze(ctx context.Context, snapshot *market.Snapshot) (*Vote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	closes := snapshot.CloseSeries()
	macdValues, signalValues, err := computeMACD(closes, a.fastPeriod, a.slowPeriod, a.signalPeriod)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.id, err)
	}
	if len(macdValues) < 2 {
		return nil, fmt.Errorf("agent %s: MACD series too short", a.id)
	}

	curMACD := macdValues[len(macdValues)-1]
	curSignal := signalValues[len(signalValues)-1]
	curHist := curMACD - curSignal
	prevHist := macdValues[len(macdValues)-2] - signalValues[len(signalValues)-2]

	roc := 0.0
	if idx := len(closes) - 1 - a.rocPeriod; idx >= 0 && closes[idx] != 0 {
		roc = (closes[len(closes)-1] - closes[idx]) / closes[idx] * 100
	}

	vote := &Vote{
		AgentID: a.id,
		Indicators: map[string]float64{
			"macd":        curMACD,
			"macd_signal": curSignal,
			"histogram":   curHist,
			"roc":         roc,
		},
	}

	switch {
	case prevHist <= 0 && curHist > 0:
		vote.Signal = SignalBuy
		vote.Confidence = 0.8
		vote.Reason = "MACD bullish crossover"
		if roc > 0 {
			vote.Confidence = 0.9
			vote.Reason = fmt.Sprintf("MACD bullish crossover, ROC +%.2f%% confirms", roc)
		}
	case prevHist >= 0 && curHist < 0:
		vote.Signal = SignalSell
		vote.Confidence = 0.8
		vote.Reason = "MACD bearish crossover"
		if roc < 0 {
			vote.Confidence = 0.9
			vote.Reason = fmt.Sprintf("MACD bearish crossover, ROC %.2f%% confirms", roc)
		}
	case curHist > 0 && roc > 0:
		vote.Signal = SignalBuy
		vote.Confidence = 0.6
		vote.Reason = fmt.Sprintf("Positive momentum: histogram %.4f, ROC +%.2f%%", curHist, roc)
	case curHist < 0 && roc < 0:
		vote.Signal = SignalSell
		vote.Confidence = 0.6
		vote.Reason = fmt.Sprintf("Negative momentum: histogram %.4f, ROC %.2f%%", curHist, roc)
	default:
		vote.Signal = SignalHold
		vote.Confidence = 0.4
		vote.Reason = "MACD and ROC disagree"
	}

	vote.Confidence = clampConfidence(vote.Confidence)

	a.logger.Debug().
		Str("symbol", snapshot.Symbol).
		Float64("histogram", curHist).
		Float64("roc", roc).
		Str("signal", string(vote.Signal)).
		Float64("confidence", vote.Confidence).
		Msg("Momentum vote")

	return vote, nil
}
