package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (skipped if path is empty or
// missing), merges it on top of the built-in defaults, applies AMM_*
// environment variable overrides, and returns the final Config. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AMM_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setUint32(&cfg.Engine.FeeBps, "AMM_ENGINE_FEE_BPS")
	setStr(&cfg.Engine.MaxLiquidityCap, "AMM_ENGINE_MAX_LIQUIDITY_CAP")
	setUint32(&cfg.Engine.MinLiquidityFloorBps, "AMM_ENGINE_MIN_LIQUIDITY_FLOOR_BPS")
	setBool(&cfg.Engine.DevFaucet, "AMM_ENGINE_DEV_FAUCET")

	setInt(&cfg.Server.Port, "AMM_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "AMM_SERVER_API_KEY")

	setStr(&cfg.Database.URL, "AMM_DATABASE_URL")
	setStr(&cfg.Database.URL, "DATABASE_URL") // compatibility alias

	setStr(&cfg.Redis.URL, "AMM_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL") // compatibility alias
	setInt(&cfg.Redis.TTLSeconds, "AMM_REDIS_TTL_SECONDS")

	setStr(&cfg.NATS.URL, "AMM_NATS_URL")

	setStr(&cfg.LogLevel, "AMM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
