// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/didac-crst/mockexchange-api/pkg/logging"
)

// Config represents the complete configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Loops    LoopsConfig    `yaml:"loops"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains the HTTP adapter settings
type ServerConfig struct {
	Addr           string  `yaml:"addr"`
	APIKey         Secret  `yaml:"api_key"`
	TestEnv        bool    `yaml:"test_env"` // disables auth; local/test only
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
	EnableWS       bool    `yaml:"enable_ws"`
}

// StoreConfig contains the key-value store settings
type StoreConfig struct {
	RedisURL              string `yaml:"redis_url"`
	LockTTLSec            int    `yaml:"lock_ttl_sec"`
	RetryMaxAttempts      int    `yaml:"retry_max_attempts"`
	RetryInitialBackoffMs int    `yaml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int    `yaml:"retry_max_backoff_ms"`
}

// LockTTL returns the advisory-lock expiry as a duration
func (s StoreConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLSec) * time.Second
}

// RetryInitialBackoff returns the first retry delay as a duration
func (s StoreConfig) RetryInitialBackoff() time.Duration {
	return time.Duration(s.RetryInitialBackoffMs) * time.Millisecond
}

// RetryMaxBackoff returns the retry delay ceiling as a duration
func (s StoreConfig) RetryMaxBackoff() time.Duration {
	return time.Duration(s.RetryMaxBackoffMs) * time.Millisecond
}

// ExchangeConfig contains the matching and fee parameters
type ExchangeConfig struct {
	CommissionRate              float64 `yaml:"commission_rate"`
	CashAsset                   string  `yaml:"cash_asset"`
	MinTimeAnswerOrderMarketSec float64 `yaml:"min_time_answer_order_market_sec"`
	MaxTimeAnswerOrderMarketSec float64 `yaml:"max_time_answer_order_market_sec"`
	SigmaFillMarketOrder        float64 `yaml:"sigma_fill_market_order"`
	StaleTickerMaxAgeSec        float64 `yaml:"stale_ticker_max_age_sec"` // 0 disables the staleness check
}

// MinAnswerTime returns the lower latency bound for market orders
func (e ExchangeConfig) MinAnswerTime() time.Duration {
	return time.Duration(e.MinTimeAnswerOrderMarketSec * float64(time.Second))
}

// MaxAnswerTime returns the upper latency bound for market orders
func (e ExchangeConfig) MaxAnswerTime() time.Duration {
	return time.Duration(e.MaxTimeAnswerOrderMarketSec * float64(time.Second))
}

// StaleTickerMaxAge returns the ticker staleness horizon; zero means off
func (e ExchangeConfig) StaleTickerMaxAge() time.Duration {
	return time.Duration(e.StaleTickerMaxAgeSec * float64(time.Second))
}

// LoopsConfig contains the background loop intervals
type LoopsConfig struct {
	TickLoopSec         int `yaml:"tick_loop_sec"`
	PruneEveryMin       int `yaml:"prune_every_min"`       // 0 disables
	StaleAfterH         int `yaml:"stale_after_h"`         // terminal-order deletion threshold
	ExpireAfterH        int `yaml:"expire_after_h"`        // OPEN-order expiry threshold
	SanityCheckEveryMin int `yaml:"sanity_check_every_min"` // 0 disables
	LeaderTTLSec        int `yaml:"leader_ttl_sec"`
}

// TickInterval returns the limit-settlement loop period
func (l LoopsConfig) TickInterval() time.Duration {
	return time.Duration(l.TickLoopSec) * time.Second
}

// PruneInterval returns the prune loop period; zero disables the loop
func (l LoopsConfig) PruneInterval() time.Duration {
	return time.Duration(l.PruneEveryMin) * time.Minute
}

// SanityInterval returns the consistency-check period; zero disables the loop
func (l LoopsConfig) SanityInterval() time.Duration {
	return time.Duration(l.SanityCheckEveryMin) * time.Minute
}

// StaleAfter returns how long terminal orders are kept
func (l LoopsConfig) StaleAfter() time.Duration {
	return time.Duration(l.StaleAfterH) * time.Hour
}

// ExpireAfter returns how long OPEN orders may live
func (l LoopsConfig) ExpireAfter() time.Duration {
	return time.Duration(l.ExpireAfterH) * time.Hour
}

// LeaderTTL returns the leader-election key expiry
func (l LoopsConfig) LeaderTTL() time.Duration {
	return time.Duration(l.LeaderTTLSec) * time.Second
}

// AlertsConfig contains the webhook channels for sanity-check alerts
type AlertsConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file over the defaults, with
// environment variable expansion and the documented env overrides applied.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnvOverrides applies the environment variables the service documents.
// Set variables win over both defaults and file values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.Server.APIKey = Secret(v)
	}
	if v, ok := lookupBool("TEST_ENV"); ok {
		c.Server.TestEnv = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v, ok := lookupFloat("COMMISSION"); ok {
		c.Exchange.CommissionRate = v
	}
	if v := os.Getenv("CASH_ASSET"); v != "" {
		c.Exchange.CashAsset = v
	}
	if v, ok := lookupFloat("MIN_TIME_ANSWER_ORDER_MARKET"); ok {
		c.Exchange.MinTimeAnswerOrderMarketSec = v
	}
	if v, ok := lookupFloat("MAX_TIME_ANSWER_ORDER_MARKET"); ok {
		c.Exchange.MaxTimeAnswerOrderMarketSec = v
	}
	if v, ok := lookupFloat("SIGMA_FILL_MARKET_ORDER"); ok {
		c.Exchange.SigmaFillMarketOrder = v
	}
	if v, ok := lookupInt("TICK_LOOP_SEC"); ok {
		c.Loops.TickLoopSec = v
	}
	if v, ok := lookupInt("PRUNE_EVERY_MIN"); ok {
		c.Loops.PruneEveryMin = v
	}
	if v, ok := lookupInt("STALE_AFTER_H"); ok {
		c.Loops.StaleAfterH = v
	}
	if v, ok := lookupInt("EXPIRE_AFTER_H"); ok {
		c.Loops.ExpireAfterH = v
	}
	if v, ok := lookupInt("SANITY_CHECK_EVERY_MIN"); ok {
		c.Loops.SanityCheckEveryMin = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Alerts.SlackWebhookURL = Secret(v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Alerts.TelegramBotToken = Secret(v)
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Alerts.TelegramChatID = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateServer(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStore(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateExchange(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateLoops(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateLog(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Addr == "" {
		return ValidationError{
			Field:   "server.addr",
			Message: "listen address is required",
		}
	}
	if c.Server.RateLimitRPS <= 0 {
		return ValidationError{
			Field:   "server.rate_limit_rps",
			Value:   c.Server.RateLimitRPS,
			Message: "must be positive",
		}
	}
	if c.Server.RateLimitBurst <= 0 {
		return ValidationError{
			Field:   "server.rate_limit_burst",
			Value:   c.Server.RateLimitBurst,
			Message: "must be positive",
		}
	}
	if !c.Server.TestEnv && c.Server.APIKey == "" {
		return ValidationError{
			Field:   "server.api_key",
			Message: "api key is required unless test_env is set",
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.RedisURL == "" {
		return ValidationError{
			Field:   "store.redis_url",
			Message: "store URL is required",
		}
	}
	if c.Store.LockTTLSec <= 0 {
		return ValidationError{
			Field:   "store.lock_ttl_sec",
			Value:   c.Store.LockTTLSec,
			Message: "must be positive",
		}
	}
	if c.Store.RetryMaxAttempts < 1 {
		return ValidationError{
			Field:   "store.retry_max_attempts",
			Value:   c.Store.RetryMaxAttempts,
			Message: "must be at least 1",
		}
	}
	if c.Store.RetryMaxBackoffMs < c.Store.RetryInitialBackoffMs {
		return ValidationError{
			Field:   "store.retry_max_backoff_ms",
			Value:   c.Store.RetryMaxBackoffMs,
			Message: "must be at least retry_initial_backoff_ms",
		}
	}
	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.CommissionRate < 0 || c.Exchange.CommissionRate >= 1 {
		return ValidationError{
			Field:   "exchange.commission_rate",
			Value:   c.Exchange.CommissionRate,
			Message: "must be in [0, 1)",
		}
	}
	if c.Exchange.CashAsset == "" {
		return ValidationError{
			Field:   "exchange.cash_asset",
			Message: "cash asset is required",
		}
	}
	if c.Exchange.MinTimeAnswerOrderMarketSec < 0 {
		return ValidationError{
			Field:   "exchange.min_time_answer_order_market_sec",
			Value:   c.Exchange.MinTimeAnswerOrderMarketSec,
			Message: "must not be negative",
		}
	}
	if c.Exchange.MaxTimeAnswerOrderMarketSec < c.Exchange.MinTimeAnswerOrderMarketSec {
		return ValidationError{
			Field:   "exchange.max_time_answer_order_market_sec",
			Value:   c.Exchange.MaxTimeAnswerOrderMarketSec,
			Message: "must be at least the minimum answer time",
		}
	}
	if c.Exchange.SigmaFillMarketOrder < 0 {
		return ValidationError{
			Field:   "exchange.sigma_fill_market_order",
			Value:   c.Exchange.SigmaFillMarketOrder,
			Message: "must not be negative",
		}
	}
	if c.Exchange.StaleTickerMaxAgeSec < 0 {
		return ValidationError{
			Field:   "exchange.stale_ticker_max_age_sec",
			Value:   c.Exchange.StaleTickerMaxAgeSec,
			Message: "must not be negative",
		}
	}
	return nil
}

func (c *Config) validateLoops() error {
	if c.Loops.TickLoopSec < 1 {
		return ValidationError{
			Field:   "loops.tick_loop_sec",
			Value:   c.Loops.TickLoopSec,
			Message: "must be at least 1",
		}
	}
	if c.Loops.PruneEveryMin < 0 {
		return ValidationError{
			Field:   "loops.prune_every_min",
			Value:   c.Loops.PruneEveryMin,
			Message: "must not be negative (0 disables)",
		}
	}
	if c.Loops.SanityCheckEveryMin < 0 {
		return ValidationError{
			Field:   "loops.sanity_check_every_min",
			Value:   c.Loops.SanityCheckEveryMin,
			Message: "must not be negative (0 disables)",
		}
	}
	if c.Loops.StaleAfterH < 0 {
		return ValidationError{
			Field:   "loops.stale_after_h",
			Value:   c.Loops.StaleAfterH,
			Message: "must not be negative",
		}
	}
	if c.Loops.ExpireAfterH < 0 {
		return ValidationError{
			Field:   "loops.expire_after_h",
			Value:   c.Loops.ExpireAfterH,
			Message: "must not be negative",
		}
	}
	if c.Loops.LeaderTTLSec < 1 {
		return ValidationError{
			Field:   "loops.leader_ttl_sec",
			Value:   c.Loops.LeaderTTLSec,
			Message: "must be at least 1",
		}
	}
	return nil
}

func (c *Config) validateLog() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: "must be one of: DEBUG, INFO, WARN, ERROR, FATAL",
		}
	}
	return nil
}

// String returns a string representation of the configuration; Secret
// fields redact themselves.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if name, def, ok := strings.Cut(key, ":-"); ok {
			if v := os.Getenv(name); v != "" {
				return v
			}
			return def
		}
		return os.Getenv(key)
	})
}

func lookupBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true, true
	default:
		return false, true
	}
}

func lookupFloat(key string) (float64, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func lookupInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DefaultConfig returns the documented defaults; tests start from here.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8000",
			TestEnv:        false,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
			EnableWS:       true,
		},
		Store: StoreConfig{
			RedisURL:              "redis://localhost:6379/0",
			LockTTLSec:            10,
			RetryMaxAttempts:      4,
			RetryInitialBackoffMs: 50,
			RetryMaxBackoffMs:     1000,
		},
		Exchange: ExchangeConfig{
			CommissionRate:              0.00075,
			CashAsset:                   "USDT",
			MinTimeAnswerOrderMarketSec: 3,
			MaxTimeAnswerOrderMarketSec: 5,
			SigmaFillMarketOrder:        0.1,
			StaleTickerMaxAgeSec:        0,
		},
		Loops: LoopsConfig{
			TickLoopSec:         30,
			PruneEveryMin:       60,
			StaleAfterH:         24,
			ExpireAfterH:        24,
			SanityCheckEveryMin: 5,
			LeaderTTLSec:        30,
		},
		Log: LogConfig{
			Level: "INFO",
		},
	}
}
