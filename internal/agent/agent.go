// Package agent defines the analysis port the consensus engine queries and
// the built-in strategy agents behind it. Agents are pure analyzers: they
// read a snapshot and emit one vote, they never touch orders or capital.
package agent

import (
	"context"
	"fmt"

	"github.com/valortrade/valor/internal/market"
)

// Signal is the direction an agent votes for.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Strategy identifies a built-in analysis style.
type Strategy string

const (
	StrategyScalping      Strategy = "SCALPING"
	StrategyTrend         Strategy = "TREND"
	StrategyMeanReversion Strategy = "MEAN_REVERSION"
	StrategyMomentum      Strategy = "MOMENTUM"
	StrategyBreakout      Strategy = "BREAKOUT"
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyScalping, StrategyTrend, StrategyMeanReversion, StrategyMomentum, StrategyBreakout:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy: %s", s)
}

// Vote is one agent's opinion on one snapshot.
type Vote struct {
	AgentID    string             `json:"agent_id"`
	Signal     Signal             `json:"signal"`
	Confidence float64            `json:"confidence"` // [0, 1]
	Reason     string             `json:"reason"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Agent is the analysis port.
type Agent interface {
	ID() string
	Strategy() Strategy
	Analyze(ctx context.Context, snapshot *market.Snapshot) (*Vote, error)
}

// clampConfidence keeps confidences inside [0, 1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Params is the free-form per-agent tuning block from configuration.
type Params map[string]float64

// Int reads an integer parameter with a default.
func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok && v > 0 {
		return int(v)
	}
	return def
}

// Float reads a float parameter with a default.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}
