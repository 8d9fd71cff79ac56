// Package config defines the pool engine's configuration and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/boxmeout/pool-engine/internal/cpmm"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by AMM_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	NATS     NATSConfig     `toml:"nats"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the trading parameters.
type EngineConfig struct {
	// FeeBps is the trading fee in basis points (max 1000).
	FeeBps uint32 `toml:"fee_bps"`

	// MaxLiquidityCap bounds a pool's total liquidity, as a decimal
	// string. Empty or "0" means uncapped.
	MaxLiquidityCap string `toml:"max_liquidity_cap"`

	// MinLiquidityFloorBps is the fraction of current liquidity that
	// must survive any withdrawal.
	MinLiquidityFloorBps uint32 `toml:"min_liquidity_floor_bps"`

	// DevFaucet mints collateral to any trader on demand. Never enable
	// outside local development.
	DevFaucet bool `toml:"dev_faucet"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port   int    `toml:"port"`
	APIKey string `toml:"api_key"` // empty disables auth on mutating routes
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig holds the optional read-through cache parameters.
type RedisConfig struct {
	URL        string `toml:"url"` // empty disables caching
	TTLSeconds int    `toml:"ttl_seconds"`
}

// NATSConfig holds the optional event publishing parameters.
type NATSConfig struct {
	URL string `toml:"url"` // empty disables event publishing
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			FeeBps:               cpmm.DefaultFeeBps,
			MinLiquidityFloorBps: 100,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Redis: RedisConfig{
			TTLSeconds: 30,
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Engine.FeeBps > cpmm.MaxFeeBps {
		errs = append(errs, fmt.Sprintf("engine: fee_bps must not exceed %d, got %d", cpmm.MaxFeeBps, c.Engine.FeeBps))
	}
	if c.Engine.MinLiquidityFloorBps >= cpmm.BpsDenominator {
		errs = append(errs, fmt.Sprintf("engine: min_liquidity_floor_bps must be below %d, got %d", cpmm.BpsDenominator, c.Engine.MinLiquidityFloorBps))
	}
	if _, err := c.LiquidityCap(); err != nil {
		errs = append(errs, "engine: max_liquidity_cap must be a base-10 unsigned integer")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if c.Redis.URL != "" && c.Redis.TTLSeconds <= 0 {
		errs = append(errs, "redis: ttl_seconds must be >= 1 when redis is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LiquidityCap parses Engine.MaxLiquidityCap. Nil means uncapped.
func (c *Config) LiquidityCap() (*uint256.Int, error) {
	s := strings.TrimSpace(c.Engine.MaxLiquidityCap)
	if s == "" || s == "0" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, err
	}
	return v, nil
}
