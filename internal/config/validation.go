package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// ValidStrategies enumerates the built-in agent strategies.
var ValidStrategies = []string{"SCALPING", "TREND", "MEAN_REVERSION", "MOMENTUM", "BREAKOUT"}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateTrading()...)
	errors = append(errors, c.validateCascade()...)
	errors = append(errors, c.validateConsensus()...)
	errors = append(errors, c.validateVenues()...)
	errors = append(errors, c.validateAgents()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateAPI()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.Environment != "" {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors

	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		errors = append(errors, ValidationError{
			Field:   "trading.mode",
			Message: fmt.Sprintf("Invalid mode '%s'. Must be 'paper' or 'live'", c.Trading.Mode),
		})
	}

	if len(c.Trading.Symbols) == 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.symbols",
			Message: "At least one trading symbol is required",
		})
	}

	if c.Trading.MaxRiskPerTradePct <= 0 || c.Trading.MaxRiskPerTradePct > 100 {
		errors = append(errors, ValidationError{
			Field:   "trading.max_risk_per_trade_pct",
			Message: fmt.Sprintf("Invalid risk %.2f. Must be in (0, 100]", c.Trading.MaxRiskPerTradePct),
		})
	}

	if c.Trading.MaxConcurrentPositions < 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.max_concurrent_positions",
			Message: "Must allow at least one concurrent position",
		})
	}

	if c.Trading.ScanInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.scan_interval",
			Message: "Scan interval must be positive",
		})
	}

	if c.Trading.MaxLossPct <= 0 || c.Trading.MaxLossPct >= 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.max_loss_pct",
			Message: fmt.Sprintf("Invalid max loss %.4f. Must be a fraction in (0, 1)", c.Trading.MaxLossPct),
		})
	}

	return errors
}

func (c *Config) validateCascade() ValidationErrors {
	var errors ValidationErrors

	if c.Cascade.ValorBase <= 0 {
		errors = append(errors, ValidationError{
			Field:   "cascade.valor_base",
			Message: "Valor Base must be positive",
		})
	}

	if c.Cascade.Slots < 1 {
		errors = append(errors, ValidationError{
			Field:   "cascade.slots",
			Message: "At least one slot is required",
		})
	}

	return errors
}

func (c *Config) validateConsensus() ValidationErrors {
	var errors ValidationErrors

	if c.Consensus.Threshold <= 0 || c.Consensus.Threshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "consensus.threshold",
			Message: fmt.Sprintf("Invalid threshold %.2f. Must be in (0, 1]", c.Consensus.Threshold),
		})
	}

	if c.Consensus.MinAgentsVoting < 1 {
		errors = append(errors, ValidationError{
			Field:   "consensus.min_agents_voting",
			Message: "At least one voting agent is required",
		})
	}

	if c.Consensus.MinConfidence < 0 || c.Consensus.MinConfidence > 1 {
		errors = append(errors, ValidationError{
			Field:   "consensus.min_confidence",
			Message: fmt.Sprintf("Invalid min confidence %.2f. Must be in [0, 1]", c.Consensus.MinConfidence),
		})
	}

	return errors
}

func (c *Config) validateVenues() ValidationErrors {
	var errors ValidationErrors

	if len(c.Venues) == 0 {
		errors = append(errors, ValidationError{
			Field:   "venues",
			Message: "At least one venue is required",
		})
	}

	for name, venue := range c.Venues {
		if venue.TakerFee < 0 || venue.TakerFee > 0.1 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("venues.%s.taker_fee", name),
				Message: fmt.Sprintf("Invalid taker fee %.4f. Must be in [0, 0.1]", venue.TakerFee),
			})
		}
		if venue.MakerFee < 0 || venue.MakerFee > 0.1 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("venues.%s.maker_fee", name),
				Message: fmt.Sprintf("Invalid maker fee %.4f. Must be in [0, 0.1]", venue.MakerFee),
			})
		}
		// Live mode needs credentials for every real venue
		if c.Trading.Mode == "live" && venue.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("venues.%s.api_key", name),
				Message: "API key is required in live mode",
			})
		}
	}

	return errors
}

func (c *Config) validateAgents() ValidationErrors {
	var errors ValidationErrors

	seen := make(map[string]bool)
	for i, agent := range c.Agents {
		if agent.ID == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("agents[%d].id", i),
				Message: "Agent id is required",
			})
			continue
		}
		if seen[agent.ID] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("agents[%d].id", i),
				Message: fmt.Sprintf("Duplicate agent id '%s'", agent.ID),
			})
		}
		seen[agent.ID] = true

		valid := false
		for _, s := range ValidStrategies {
			if agent.Strategy == s {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("agents[%d].strategy", i),
				Message: fmt.Sprintf("Unknown strategy '%s'. Must be one of: %v", agent.Strategy, ValidStrategies),
			})
		}

		if agent.Weight < 0 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("agents[%d].weight", i),
				Message: "Weight must not be negative",
			})
		}
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if !c.Database.Enabled {
		return errors
	}

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required when the journal is enabled",
		})
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Database.Port),
		})
	}

	if c.Database.User == "" {
		errors = append(errors, ValidationError{
			Field:   "database.user",
			Message: "Database user is required when the journal is enabled",
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required when the journal is enabled",
		})
	}

	if c.Database.Password == "" && c.App.Environment == "production" {
		errors = append(errors, ValidationError{
			Field:   "database.password",
			Message: "Database password is required in production",
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port < 1 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.API.Port),
		})
	}

	if c.Metrics.Enabled && c.Metrics.Port == c.API.Port {
		errors = append(errors, ValidationError{
			Field:   "metrics.port",
			Message: "Metrics port must differ from the API port",
		})
	}

	return errors
}
