package agent

import (
	"fmt"

	"github.com/valortrade/valor/internal/config"
)

// Entry couples a built agent with its registry metadata. The consensus
// engine consumes entries; weights live there afterwards.
type Entry struct {
	Agent   Agent
	Group   string
	Weight  float64
	Enabled bool
}

// Build constructs one agent from its registry entry.
func Build(cfg config.AgentConfig) (Agent, error) {
	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", cfg.ID, err)
	}

	params := Params(cfg.Params)
	switch strategy {
	case StrategyScalping:
		return NewScalpingAgent(cfg.ID, params), nil
	case StrategyTrend:
		return NewTrendAgent(cfg.ID, params), nil
	case StrategyMeanReversion:
		return NewMeanReversionAgent(cfg.ID, params), nil
	case StrategyMomentum:
		return NewMomentumAgent(cfg.ID, params), nil
	case StrategyBreakout:
		return NewBreakoutAgent(cfg.ID, params), nil
	}
	return nil, fmt.Errorf("agent %s: unhandled strategy %s", cfg.ID, strategy)
}

// BuildRegistry constructs the full agent zoo from configuration, resolving
// group-default weights. Order is preserved.
func BuildRegistry(configs []config.AgentConfig) ([]Entry, error) {
	seen := make(map[string]bool, len(configs))
	entries := make([]Entry, 0, len(configs))

	for _, cfg := range configs {
		if cfg.ID == "" {
			return nil, fmt.Errorf("agent registry entry without id")
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("duplicate agent id: %s", cfg.ID)
		}
		seen[cfg.ID] = true

		built, err := Build(cfg)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Agent:   built,
			Group:   cfg.Group,
			Weight:  cfg.EffectiveWeight(),
			Enabled: cfg.Enabled,
		})
	}
	return entries, nil
}
