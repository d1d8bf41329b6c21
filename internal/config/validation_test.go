package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getValidConfig returns a valid configuration for testing
func getValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "Valor",
			Version:     "1.0.0",
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "console",
		},
		Trading: TradingConfig{
			Mode:                   "paper",
			Symbols:                []string{"BTCUSDT", "ETHUSDT"},
			MaxRiskPerTradePct:     10.0,
			MaxExposurePct:         50.0,
			MaxConcurrentPositions: 3,
			ScanInterval:           30000000000, // 30s
			MinPositionSize:        1.0,
			MaxLossPct:             0.03,
		},
		Cascade: CascadeConfig{
			ValorBase: 1000.0,
			Slots:     10,
		},
		Consensus: ConsensusConfig{
			Threshold:       0.65,
			MinAgentsVoting: 2,
			MinConfidence:   0.70,
			AgentTimeout:    5000000000,
			HistorySize:     1000,
		},
		Fees: FeesConfig{
			SafetyBufferPct: 0.001,
		},
		Venues: map[string]VenueConfig{
			"binance": {
				APIKey:      "test_api_key",
				SecretKey:   "test_secret_key",
				Testnet:     true,
				RateLimitMS: 100,
				TakerFee:    0.001,
				MakerFee:    0.001,
			},
		},
		Agents: []AgentConfig{
			{ID: "scalper-1", Group: GroupPrimary, Strategy: "SCALPING", Enabled: true},
			{ID: "trend-1", Group: GroupPrimary, Strategy: "TREND", Enabled: true},
		},
		Database: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "valor",
			SSLMode:  "disable",
			PoolSize: 10,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8081,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9100,
		},
	}
}

func TestValidateValidConfig(t *testing.T) {
	cfg := getValidConfig()
	err := cfg.Validate()
	assert.NoError(t, err, "Valid configuration should not produce errors")
}

func TestValidateTrading(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "invalid mode",
			modify: func(c *Config) {
				c.Trading.Mode = "dryrun"
			},
			expectError: "trading.mode",
		},
		{
			name: "no symbols",
			modify: func(c *Config) {
				c.Trading.Symbols = nil
			},
			expectError: "trading.symbols",
		},
		{
			name: "zero risk",
			modify: func(c *Config) {
				c.Trading.MaxRiskPerTradePct = 0
			},
			expectError: "trading.max_risk_per_trade_pct",
		},
		{
			name: "risk above 100",
			modify: func(c *Config) {
				c.Trading.MaxRiskPerTradePct = 150
			},
			expectError: "trading.max_risk_per_trade_pct",
		},
		{
			name: "zero scan interval",
			modify: func(c *Config) {
				c.Trading.ScanInterval = 0
			},
			expectError: "trading.scan_interval",
		},
		{
			name: "max loss not a fraction",
			modify: func(c *Config) {
				c.Trading.MaxLossPct = 3.0
			},
			expectError: "trading.max_loss_pct",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateCascade(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "zero valor base",
			modify: func(c *Config) {
				c.Cascade.ValorBase = 0
			},
			expectError: "cascade.valor_base",
		},
		{
			name: "negative valor base",
			modify: func(c *Config) {
				c.Cascade.ValorBase = -1000
			},
			expectError: "cascade.valor_base",
		},
		{
			name: "no slots",
			modify: func(c *Config) {
				c.Cascade.Slots = 0
			},
			expectError: "cascade.slots",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateConsensus(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		expectError string
	}{
		{
			name: "threshold above one",
			modify: func(c *Config) {
				c.Consensus.Threshold = 1.5
			},
			expectError: "consensus.threshold",
		},
		{
			name: "zero voters",
			modify: func(c *Config) {
				c.Consensus.MinAgentsVoting = 0
			},
			expectError: "consensus.min_agents_voting",
		},
		{
			name: "negative min confidence",
			modify: func(c *Config) {
				c.Consensus.MinConfidence = -0.1
			},
			expectError: "consensus.min_confidence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidateVenues(t *testing.T) {
	t.Run("no venues", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Venues = nil
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "venues")
	})

	t.Run("absurd taker fee", func(t *testing.T) {
		cfg := getValidConfig()
		v := cfg.Venues["binance"]
		v.TakerFee = 0.5
		cfg.Venues["binance"] = v
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "taker_fee")
	})

	t.Run("live mode requires credentials", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Trading.Mode = "live"
		v := cfg.Venues["binance"]
		v.APIKey = ""
		cfg.Venues["binance"] = v
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key")
	})

	t.Run("paper mode needs no credentials", func(t *testing.T) {
		cfg := getValidConfig()
		v := cfg.Venues["binance"]
		v.APIKey = ""
		v.SecretKey = ""
		cfg.Venues["binance"] = v
		err := cfg.Validate()
		assert.NoError(t, err)
	})
}

func TestValidateAgents(t *testing.T) {
	t.Run("duplicate id", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Agents = append(cfg.Agents, AgentConfig{ID: "scalper-1", Group: GroupPrimary, Strategy: "MOMENTUM"})
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Duplicate agent id")
	})

	t.Run("unknown strategy", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Agents[0].Strategy = "ARBITRAGE"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unknown strategy")
	})

	t.Run("negative weight", func(t *testing.T) {
		cfg := getValidConfig()
		cfg.Agents[0].Weight = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "weight")
	})
}

func TestValidateDatabaseOnlyWhenEnabled(t *testing.T) {
	cfg := getValidConfig()
	cfg.Database.Enabled = false
	cfg.Database.Host = ""
	cfg.Database.User = ""
	assert.NoError(t, cfg.Validate(), "disabled journal should skip database checks")

	cfg.Database.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")
	assert.Contains(t, err.Error(), "database.user")
}

func TestEffectiveWeight(t *testing.T) {
	tests := []struct {
		name     string
		agent    AgentConfig
		expected float64
	}{
		{"explicit weight wins", AgentConfig{Group: GroupWarmBackup, Weight: 2.0}, 2.0},
		{"primary default", AgentConfig{Group: GroupPrimary}, 1.0},
		{"orchestrator default", AgentConfig{Group: GroupOrchestrator}, 1.5},
		{"hot backup default", AgentConfig{Group: GroupHotBackup}, 0.8},
		{"warm backup default", AgentConfig{Group: GroupWarmBackup}, 0.6},
		{"unknown group falls back to primary", AgentConfig{Group: "observer"}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.agent.EffectiveWeight())
		})
	}
}
