package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/boro-labs/borod/internal/assets"
)

// Config represents the complete application configuration
type Config struct {
	Chain    ChainConfig    `mapstructure:"chain"`
	Prices   PricesConfig   `mapstructure:"prices"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Server   ServerConfig   `mapstructure:"server"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ChainConfig holds RPC endpoint, account, and polling configuration
type ChainConfig struct {
	RPCURL      string `mapstructure:"rpc_url"`
	ChainID     uint64 `mapstructure:"chain_id"`
	Account     string `mapstructure:"account"`
	PrivateKey  string `mapstructure:"private_key"`
	GraphAPIURL string `mapstructure:"graph_api_url"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
	// ReReadDelay is the pause before the follow-up read after a confirmed
	// transaction, giving the RPC node time to index the new state.
	ReReadDelay time.Duration `mapstructure:"re_read_delay"`
	Assets      []string      `mapstructure:"assets"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PricesConfig holds spot price source configuration
type PricesConfig struct {
	APIURL       string        `mapstructure:"api_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// EngineConfig holds risk policy configuration
type EngineConfig struct {
	WarningRatio   float64       `mapstructure:"warning_ratio"`
	DangerRatio    float64       `mapstructure:"danger_ratio"`
	ZeroDebtWindow time.Duration `mapstructure:"zero_debt_window"`
	// FallbackMaxLTV is used when market discovery returns no liquidation
	// threshold.
	FallbackMaxLTV float64 `mapstructure:"fallback_max_ltv"`
}

// ServerConfig holds the HTTP API configuration
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Enabled    bool   `mapstructure:"enabled"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken      string        `mapstructure:"bot_token"`
	ChatID        string        `mapstructure:"chat_id"`
	AlertCooldown time.Duration `mapstructure:"alert_cooldown"`
	Enabled       bool          `mapstructure:"enabled"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path"`
	HistoryCap int    `mapstructure:"history_cap"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("BOROD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Chain defaults
	v.SetDefault("chain.rpc_url", "https://mainnet.base.org")
	v.SetDefault("chain.chain_id", 8453)
	v.SetDefault("chain.graph_api_url", "https://blue-api.morpho.org/graphql")
	v.SetDefault("chain.poll_interval", "6s")
	v.SetDefault("chain.re_read_delay", "4s")
	v.SetDefault("chain.assets", []string{"cbBTC"})
	v.SetDefault("chain.timeout", "30s")

	// Prices defaults
	v.SetDefault("prices.api_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("prices.poll_interval", "30s")
	v.SetDefault("prices.timeout", "15s")

	// Engine defaults
	v.SetDefault("engine.warning_ratio", 0.75)
	v.SetDefault("engine.danger_ratio", 0.90)
	v.SetDefault("engine.zero_debt_window", "15s")
	v.SetDefault("engine.fallback_max_ltv", 0.86)

	// Server defaults
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.enabled", true)

	// Telegram defaults
	v.SetDefault("telegram.alert_cooldown", "30m")
	v.SetDefault("telegram.enabled", false)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/borod.db")
	v.SetDefault("storage.history_cap", 1000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Chain config
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	if c.Chain.Account == "" && c.Chain.PrivateKey == "" {
		return fmt.Errorf("one of chain.account or chain.private_key is required")
	}
	if c.Chain.GraphAPIURL == "" {
		return fmt.Errorf("chain.graph_api_url is required")
	}
	if c.Chain.PollInterval < time.Second {
		return fmt.Errorf("chain.poll_interval must be at least 1 second")
	}
	if c.Chain.ReReadDelay < 0 {
		return fmt.Errorf("chain.re_read_delay must not be negative")
	}
	if len(c.Chain.Assets) == 0 {
		return fmt.Errorf("chain.assets must contain at least one asset")
	}
	for _, sym := range c.Chain.Assets {
		if _, err := assets.Parse(sym); err != nil {
			return fmt.Errorf("chain.assets: %w", err)
		}
	}

	// Validate Prices config
	if c.Prices.APIURL == "" {
		return fmt.Errorf("prices.api_url is required")
	}
	if c.Prices.PollInterval < time.Second {
		return fmt.Errorf("prices.poll_interval must be at least 1 second")
	}

	// Validate Engine config
	if c.Engine.WarningRatio <= 0 || c.Engine.WarningRatio >= 1 {
		return fmt.Errorf("engine.warning_ratio must be between 0 and 1")
	}
	if c.Engine.DangerRatio <= c.Engine.WarningRatio || c.Engine.DangerRatio >= 1 {
		return fmt.Errorf("engine.danger_ratio must be between warning_ratio and 1")
	}
	if c.Engine.ZeroDebtWindow < 0 {
		return fmt.Errorf("engine.zero_debt_window must not be negative")
	}
	if c.Engine.FallbackMaxLTV <= 0 || c.Engine.FallbackMaxLTV > 1 {
		return fmt.Errorf("engine.fallback_max_ltv must be in (0, 1]")
	}

	// Validate Server config
	if c.Server.Enabled && c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required when server is enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.HistoryCap < 1 {
		return fmt.Errorf("storage.history_cap must be at least 1")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
