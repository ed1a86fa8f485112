// Package config centralises runtime configuration for the gateway core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credentials captures the identity used for the trading-channel handshake.
type Credentials struct {
	BrokerID string `yaml:"broker_id"`
	UserID   string `yaml:"user_id"`
	Password string `yaml:"password"`
	AppID    string `yaml:"app_id"`
	AuthCode string `yaml:"auth_code"`
}

// ReconnectPolicy bounds the exponential backoff applied after an
// unexpected disconnect.
type ReconnectPolicy struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

// AuthPolicy bounds the login handshake retries.
type AuthPolicy struct {
	StepTimeout time.Duration `yaml:"step_timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// SubscriptionPolicy bounds market-data subscription retries and pacing.
type SubscriptionPolicy struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// QueryPolicy configures per-request timeout and per-kind cache TTLs.
type QueryPolicy struct {
	Timeout       time.Duration `yaml:"timeout"`
	AccountTTL    time.Duration `yaml:"account_ttl"`
	PositionsTTL  time.Duration `yaml:"positions_ttl"`
	OrdersTTL     time.Duration `yaml:"orders_ttl"`
	TradesTTL     time.Duration `yaml:"trades_ttl"`
	SettlementTTL time.Duration `yaml:"settlement_ttl"`
}

// BusPolicy sizes the per-listener event queues.
type BusPolicy struct {
	QueueSize int `yaml:"queue_size"`
}

// Gateway is the resolved configuration handed to the client at construction.
type Gateway struct {
	MarketDataFronts []string           `yaml:"market_data_fronts"`
	TraderFronts     []string           `yaml:"trader_fronts"`
	Credentials      Credentials        `yaml:"credentials"`
	ConnectTimeout   time.Duration      `yaml:"connect_timeout"`
	Reconnect        ReconnectPolicy    `yaml:"reconnect"`
	Auth             AuthPolicy         `yaml:"auth"`
	Subscription     SubscriptionPolicy `yaml:"subscription"`
	Query            QueryPolicy        `yaml:"query"`
	Bus              BusPolicy          `yaml:"bus"`
}

// Default returns the default gateway configuration.
func Default() Gateway {
	return Gateway{
		MarketDataFronts: nil,
		TraderFronts:     nil,
		Credentials:      Credentials{},
		ConnectTimeout:   30 * time.Second,
		Reconnect: ReconnectPolicy{
			InitialInterval: 1 * time.Second,
			Multiplier:      2.0,
			MaxInterval:     60 * time.Second,
			MaxAttempts:     10,
		},
		Auth: AuthPolicy{
			StepTimeout: 10 * time.Second,
			MaxRetries:  3,
		},
		Subscription: SubscriptionPolicy{
			MaxAttempts:   3,
			RatePerSecond: 50,
			Burst:         10,
		},
		Query: QueryPolicy{
			Timeout:       30 * time.Second,
			AccountTTL:    60 * time.Second,
			PositionsTTL:  60 * time.Second,
			OrdersTTL:     300 * time.Second,
			TradesTTL:     300 * time.Second,
			SettlementTTL: 300 * time.Second,
		},
		Bus: BusPolicy{QueueSize: 256},
	}
}

// Load reads a YAML file over the defaults and applies env overrides.
func Load(path string) (Gateway, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// FromEnv loads configuration from defaults plus environment overrides.
func FromEnv() Gateway {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Gateway) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("CTPGATE_MD_FRONTS")); v != "" {
		c.MarketDataFronts = splitFronts(v)
	}
	if v := strings.TrimSpace(os.Getenv("CTPGATE_TRADER_FRONTS")); v != "" {
		c.TraderFronts = splitFronts(v)
	}
	if v := strings.TrimSpace(os.Getenv("CTPGATE_BROKER_ID")); v != "" {
		c.Credentials.BrokerID = v
	}
	if v := strings.TrimSpace(os.Getenv("CTPGATE_USER_ID")); v != "" {
		c.Credentials.UserID = v
	}
	if v := os.Getenv("CTPGATE_PASSWORD"); v != "" {
		c.Credentials.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("CTPGATE_APP_ID")); v != "" {
		c.Credentials.AppID = v
	}
	if v := os.Getenv("CTPGATE_AUTH_CODE"); v != "" {
		c.Credentials.AuthCode = v
	}
	if v := strings.TrimSpace(os.Getenv("CTPGATE_RECONNECT_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Reconnect.MaxAttempts = n
		}
	}
}

func splitFronts(v string) []string {
	parts := strings.Split(v, ",")
	fronts := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			fronts = append(fronts, trimmed)
		}
	}
	return fronts
}

// Validate checks the configuration for values the client cannot run with.
func (c Gateway) Validate() error {
	if len(c.MarketDataFronts) == 0 && len(c.TraderFronts) == 0 {
		return fmt.Errorf("config: at least one front address required")
	}
	if c.Credentials.BrokerID == "" {
		return fmt.Errorf("config: broker_id required")
	}
	if c.Credentials.UserID == "" {
		return fmt.Errorf("config: user_id required")
	}
	if c.Reconnect.InitialInterval <= 0 {
		return fmt.Errorf("config: reconnect.initial_interval must be positive")
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("config: reconnect.multiplier must be >= 1")
	}
	if c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
		return fmt.Errorf("config: reconnect.max_interval must be >= initial_interval")
	}
	if c.Auth.StepTimeout <= 0 {
		return fmt.Errorf("config: auth.step_timeout must be positive")
	}
	if c.Subscription.MaxAttempts <= 0 {
		return fmt.Errorf("config: subscription.max_attempts must be positive")
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("config: query.timeout must be positive")
	}
	if c.Bus.QueueSize <= 0 {
		return fmt.Errorf("config: bus.queue_size must be positive")
	}
	return nil
}
