package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig              `mapstructure:"app"`
	Trading   TradingConfig          `mapstructure:"trading"`
	Cascade   CascadeConfig          `mapstructure:"cascade"`
	Consensus ConsensusConfig        `mapstructure:"consensus"`
	Fees      FeesConfig             `mapstructure:"fees"`
	Venues    map[string]VenueConfig `mapstructure:"venues"`
	Agents    []AgentConfig          `mapstructure:"agents"`
	Database  DatabaseConfig         `mapstructure:"database"`
	Redis     RedisConfig            `mapstructure:"redis"`
	NATS      NATSConfig             `mapstructure:"nats"`
	API       APIConfig              `mapstructure:"api"`
	Metrics   MetricsConfig          `mapstructure:"metrics"`
	Telegram  TelegramConfig         `mapstructure:"telegram"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// TradingConfig contains trading loop settings
type TradingConfig struct {
	Mode                   string        `mapstructure:"mode"`    // "paper" or "live"
	Symbols                []string      `mapstructure:"symbols"` // ["BTCUSDT", "ETHUSDT"]
	MaxRiskPerTradePct     float64       `mapstructure:"max_risk_per_trade_pct"`
	MaxExposurePct         float64       `mapstructure:"max_exposure_pct"`
	MaxConcurrentPositions int           `mapstructure:"max_concurrent_positions"`
	ScanInterval           time.Duration `mapstructure:"scan_interval"`
	MinPositionSize        float64       `mapstructure:"min_position_size"` // quote units
	MaxLossPct             float64       `mapstructure:"max_loss_pct"`      // stop-loss budget before fees
}

// CascadeConfig contains slot ladder settings
type CascadeConfig struct {
	ValorBase       float64 `mapstructure:"valor_base"`
	Slots           int     `mapstructure:"slots"`
	EnableDowngrade bool    `mapstructure:"enable_downgrade"`
}

// ConsensusConfig contains voting settings
type ConsensusConfig struct {
	Threshold       float64       `mapstructure:"threshold"`
	MinAgentsVoting int           `mapstructure:"min_agents_voting"`
	MinConfidence   float64       `mapstructure:"min_confidence"`
	AgentTimeout    time.Duration `mapstructure:"agent_timeout"`
	HistorySize     int           `mapstructure:"history_size"`
}

// FeesConfig contains fee model settings shared across venues
type FeesConfig struct {
	SafetyBufferPct float64 `mapstructure:"safety_buffer_pct"` // added on top of round-trip fees
}

// VenueConfig contains per-venue settings
type VenueConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	SecretKey   string  `mapstructure:"secret_key"`
	Testnet     bool    `mapstructure:"testnet"`
	RateLimitMS int     `mapstructure:"rate_limit_ms"`
	TakerFee    float64 `mapstructure:"taker_fee"` // e.g. 0.001 = 0.1%
	MakerFee    float64 `mapstructure:"maker_fee"`
}

// AgentConfig describes one entry of the agent registry
type AgentConfig struct {
	ID       string             `mapstructure:"id"`
	Group    string             `mapstructure:"group"` // primary, orchestrator, hot_backup, warm_backup
	Weight   float64            `mapstructure:"weight"`
	Strategy string             `mapstructure:"strategy"` // SCALPING, TREND, MEAN_REVERSION, MOMENTUM, BREAKOUT
	Enabled  bool               `mapstructure:"enabled"`
	Params   map[string]float64 `mapstructure:"params"`
}

// DatabaseConfig contains PostgreSQL journal settings
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis price cache settings
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS event bus settings
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TelegramConfig contains trade notification settings
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Group weight defaults applied when an agent entry carries no explicit weight.
const (
	GroupPrimary      = "primary"
	GroupOrchestrator = "orchestrator"
	GroupHotBackup    = "hot_backup"
	GroupWarmBackup   = "warm_backup"
)

// EffectiveWeight resolves the voting weight for an agent entry. Explicit
// weights win; otherwise the group default applies.
func (a *AgentConfig) EffectiveWeight() float64 {
	if a.Weight > 0 {
		return a.Weight
	}
	switch a.Group {
	case GroupOrchestrator:
		return 1.5
	case GroupHotBackup:
		return 0.8
	case GroupWarmBackup:
		return 0.6
	default:
		return 1.0
	}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("VALOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "Valor")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Trading defaults
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("trading.max_risk_per_trade_pct", 10.0)
	v.SetDefault("trading.max_exposure_pct", 50.0)
	v.SetDefault("trading.max_concurrent_positions", 3)
	v.SetDefault("trading.scan_interval", 30*time.Second)
	v.SetDefault("trading.min_position_size", 1.0)
	v.SetDefault("trading.max_loss_pct", 0.03)

	// Cascade defaults
	v.SetDefault("cascade.valor_base", 1000.0)
	v.SetDefault("cascade.slots", 10)
	v.SetDefault("cascade.enable_downgrade", false)

	// Consensus defaults
	v.SetDefault("consensus.threshold", 0.65)
	v.SetDefault("consensus.min_agents_voting", 2)
	v.SetDefault("consensus.min_confidence", 0.70)
	v.SetDefault("consensus.agent_timeout", 5*time.Second)
	v.SetDefault("consensus.history_size", 1000)

	// Fee defaults
	v.SetDefault("fees.safety_buffer_pct", 0.001)

	// Venue fee defaults (Binance-like structure)
	v.SetDefault("venues.binance.taker_fee", 0.001) // 0.1% taker fee
	v.SetDefault("venues.binance.maker_fee", 0.001) // 0.1% maker fee
	v.SetDefault("venues.binance.rate_limit_ms", 100)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "valor")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9100)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
