// Package config loads the service configuration from a JSON or YAML file,
// a .env file and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"structure-engine/internal/api"
	"structure-engine/internal/cache"
	"structure-engine/internal/engine"
	"structure-engine/internal/feed"
	"structure-engine/internal/journal"
	"structure-engine/internal/logging"
	"structure-engine/internal/market"
	"structure-engine/internal/risk"
	"structure-engine/internal/scheduler"
)

// Feed modes.
const (
	FeedBinance = "binance"
	FeedMock    = "mock"
)

// Trigger modes.
const (
	TriggerCron   = "cron"
	TriggerStream = "stream"
)

type Config struct {
	Engine      engine.Config       `json:"engine" yaml:"engine"`
	Risk        RiskConfig          `json:"risk" yaml:"risk"`
	Instruments []market.Instrument `json:"instruments" yaml:"instruments"`
	Feed        FeedConfig          `json:"feed" yaml:"feed"`
	Watch       []scheduler.Watch   `json:"watch" yaml:"watch"`
	Redis       cache.RedisConfig   `json:"redis" yaml:"redis"`
	Database    journal.Config      `json:"database" yaml:"database"`
	Server      api.ServerConfig    `json:"server" yaml:"server"`
	Logging     logging.Config      `json:"logging" yaml:"logging"`
}

// RiskConfig holds sizing defaults and the stop/target planners.
type RiskConfig struct {
	Sizer  risk.Config        `json:"sizer" yaml:"sizer"`
	Stop   risk.StopPlanner   `json:"stop" yaml:"stop"`
	Target risk.TargetPlanner `json:"target" yaml:"target"`
}

// FeedConfig selects and configures the bar source.
type FeedConfig struct {
	Mode      string          `json:"mode" yaml:"mode"`       // binance or mock
	Trigger   string          `json:"trigger" yaml:"trigger"` // cron or stream
	REST      feed.RESTConfig `json:"rest" yaml:"rest"`
	StreamURL string          `json:"stream_url" yaml:"stream_url"`
	Limit     int             `json:"limit" yaml:"limit"`
	MockSeed  int64           `json:"mock_seed" yaml:"mock_seed"`
}

// Default returns the configuration used before any file or override.
func Default() *Config {
	return &Config{
		Engine: engine.DefaultConfig(),
		Risk: RiskConfig{
			Sizer: risk.Config{RiskPercent: 1, RewardRatio: 2, AllowMinVolumeOverride: true},
			Stop: risk.StopPlanner{
				Mode:              risk.StopStructure,
				StopPips:          20,
				FVGLookback:       100,
				MinFVGRatio:       0.5,
				LiquidityLookback: 20,
				MinLiquidityRatio: 0.5,
			},
			Target: risk.TargetPlanner{Mode: risk.TargetRatio, RewardRatio: 2, FractalWindow: 2, FractalLookback: 100},
		},
		Feed: FeedConfig{
			Mode:      FeedBinance,
			Trigger:   TriggerCron,
			REST:      feed.RESTConfig{BaseURL: "https://api.binance.com", RequestsPerSecond: 10, Burst: 10, Timeout: 10 * time.Second},
			StreamURL: "wss://stream.binance.com:9443",
			Limit:     500,
		},
		Redis:    cache.RedisConfig{Address: "localhost:6379", PoolSize: 10},
		Database: journal.Config{Host: "localhost", Port: 5432, User: "structure", Database: "structure", SSLMode: "disable", MaxConns: 10},
		Server:   api.ServerConfig{Port: 8080, Host: "0.0.0.0", FetchLimit: 500},
		Logging:  logging.Config{Level: "info", Output: "stdout", JSONFormat: true},
	}
}

// Load reads .env, then path (if it exists), then the environment, and validates the result.
// An empty path means defaults plus environment.
func Load(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(file, cfg)
	default:
		err = json.Unmarshal(file, cfg)
	}
	if err != nil {
		return fmt.Errorf("error parsing config file %s: %w", filename, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) error {
	cfg.Engine.PivotStrength = getEnvIntOrDefault("STRUCTURE_PIVOT_STRENGTH", cfg.Engine.PivotStrength)
	cfg.Risk.Sizer.RiskPercent = getEnvFloatOrDefault("STRUCTURE_RISK_PERCENT", cfg.Risk.Sizer.RiskPercent)
	cfg.Risk.Sizer.RewardRatio = getEnvFloatOrDefault("STRUCTURE_REWARD_RATIO", cfg.Risk.Sizer.RewardRatio)
	cfg.Risk.Sizer.AllowMinVolumeOverride = getEnvBoolOrDefault("STRUCTURE_ALLOW_MIN_VOLUME", cfg.Risk.Sizer.AllowMinVolumeOverride)
	if raw := os.Getenv("STRUCTURE_WATCH"); raw != "" {
		watches, err := ParseWatchList(raw)
		if err != nil {
			return err
		}
		cfg.Watch = watches
	}

	cfg.Feed.Mode = getEnvOrDefault("STRUCTURE_FEED_MODE", cfg.Feed.Mode)
	cfg.Feed.Trigger = getEnvOrDefault("STRUCTURE_FEED_TRIGGER", cfg.Feed.Trigger)
	cfg.Feed.REST.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.Feed.REST.BaseURL)
	cfg.Feed.StreamURL = getEnvOrDefault("BINANCE_WS_URL", cfg.Feed.StreamURL)

	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	cfg.Database.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Server.JWTSecret)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)
	cfg.Logging.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.Logging.IncludeFile)
	return nil
}

// ParseWatchList parses "BTCUSDT:15m,1h;ETHUSDT:4h".
func ParseWatchList(raw string) ([]scheduler.Watch, error) {
	var out []scheduler.Watch
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		symbol, tfs, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(symbol) == "" {
			return nil, fmt.Errorf("watch entry %q: want SYMBOL:tf[,tf...]", entry)
		}
		w := scheduler.Watch{Symbol: strings.ToUpper(strings.TrimSpace(symbol))}
		for _, s := range strings.Split(tfs, ",") {
			tf, err := market.ParseTimeframe(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("watch entry %q: %w", entry, err)
			}
			w.Timeframes = append(w.Timeframes, tf)
		}
		out = append(out, w)
	}
	return out, nil
}

// Validate checks cross-section consistency.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if !(c.Risk.Sizer.RiskPercent > 0) || c.Risk.Sizer.RiskPercent > 100 {
		return fmt.Errorf("risk: risk_percent must be in (0, 100], got %.4f", c.Risk.Sizer.RiskPercent)
	}
	if c.Risk.Sizer.RewardRatio < 0 {
		return fmt.Errorf("risk: reward_ratio must not be negative")
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, in := range c.Instruments {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("instruments: %w", err)
		}
		sym := strings.ToUpper(in.Symbol)
		if seen[sym] {
			return fmt.Errorf("instruments: duplicate symbol %s", sym)
		}
		seen[sym] = true
	}
	switch c.Feed.Mode {
	case FeedBinance, FeedMock:
	default:
		return fmt.Errorf("feed: unknown mode %q", c.Feed.Mode)
	}
	switch c.Feed.Trigger {
	case TriggerCron, TriggerStream:
	default:
		return fmt.Errorf("feed: unknown trigger %q", c.Feed.Trigger)
	}
	if c.Feed.Limit <= 0 {
		return fmt.Errorf("feed: limit must be positive")
	}
	for _, w := range c.Watch {
		if w.Symbol == "" || len(w.Timeframes) == 0 {
			return fmt.Errorf("watch: entries need a symbol and at least one timeframe")
		}
		for _, tf := range w.Timeframes {
			if _, err := scheduler.CronSpec(tf); err != nil {
				return fmt.Errorf("watch %s: %w", w.Symbol, err)
			}
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	return nil
}

// InstrumentMap indexes instruments by upper-case symbol.
func (c *Config) InstrumentMap() map[string]market.Instrument {
	out := make(map[string]market.Instrument, len(c.Instruments))
	for _, in := range c.Instruments {
		out[strings.ToUpper(in.Symbol)] = in
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
