// Package config provides configuration management for the screener and monitor.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // environment.timezone must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/putspread_sentinel/internal/broker"
	"github.com/eddiefleurent/putspread_sentinel/internal/models"
	"github.com/eddiefleurent/putspread_sentinel/internal/monitor"
	"github.com/eddiefleurent/putspread_sentinel/internal/retry"
	"github.com/eddiefleurent/putspread_sentinel/internal/strategy"
)

// Defaults applied by normalize when a field is left unset.
const (
	defaultSymbol             = "SPY"
	defaultTimezone           = "America/New_York"
	defaultRequestTimeout     = "10s"
	defaultHistoryInterval    = "daily"
	defaultHistoryLookback    = 120
	defaultMaxParallelFetches = 4
	defaultPositionsPath      = "open_positions.json"
	defaultServerAddr         = ":8080"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Screener    ScreenerConfig    `yaml:"screener"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Notify      NotifyConfig      `yaml:"notify"`
	Storage     StorageConfig     `yaml:"storage"`
	Journal     JournalConfig     `yaml:"journal"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`     // sandbox | production
	Timezone string `yaml:"timezone"` // zone used to decide "today", e.g. "America/New_York"
}

// BrokerConfig defines market data API settings.
type BrokerConfig struct {
	Provider           string        `yaml:"provider"`
	APIKey             string        `yaml:"api_key"`
	APIEndpoint        string        `yaml:"api_endpoint"`
	RequestTimeout     string        `yaml:"request_timeout"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	Retry              RetryConfig   `yaml:"retry"`
	CircuitBreaker     BreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig configures retries of transient provider errors.
type RetryConfig struct {
	MaxRetries     *int   `yaml:"max_retries"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
}

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	Enabled     *bool   `yaml:"enabled"`
	MaxRequests uint32  `yaml:"max_requests"`
	Interval    string  `yaml:"interval"`
	Timeout     string  `yaml:"timeout"`
	MinRequests uint32  `yaml:"min_requests"`
	FailureRate float64 `yaml:"failure_rate"`
}

// ScreenerConfig defines the entry gates and spread construction parameters.
type ScreenerConfig struct {
	Symbol             string           `yaml:"symbol"`
	HistoryInterval    string           `yaml:"history_interval"`
	HistoryLookback    int              `yaml:"history_lookback_days"`
	RSI                RangeConfig      `yaml:"rsi"`
	Volatility         VolatilityConfig `yaml:"volatility"`
	DTERange           []int            `yaml:"dte_range"`
	Spread             SpreadConfig     `yaml:"spread"`
	MaxParallelFetches int              `yaml:"max_parallel_fetches"`
}

// RangeConfig is an inclusive numeric range.
type RangeConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// VolatilityConfig defines the volatility index gate.
type VolatilityConfig struct {
	Enabled *bool   `yaml:"enabled"`
	Symbol  string  `yaml:"symbol"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

// SpreadConfig defines how candidate spreads are built.
type SpreadConfig struct {
	OptionType string    `yaml:"option_type"`
	DeltaRange []float64 `yaml:"delta_range"` // [min, max], e.g. [-0.28, -0.22]
	Width      float64   `yaml:"width"`
	MinCredit  float64   `yaml:"min_credit"`
}

// MonitorConfig defines the exit rules for open positions.
type MonitorConfig struct {
	DeltaDrift DeltaDriftConfig `yaml:"delta_drift"`
	Profit     RuleConfig       `yaml:"profit"`
	Loss       RuleConfig       `yaml:"loss"`
}

// DeltaDriftConfig defines the short-leg delta warning band.
type DeltaDriftConfig struct {
	Enabled *bool     `yaml:"enabled"`
	Range   []float64 `yaml:"range"` // inclusive [min, max], e.g. [-0.40, -0.35]
}

// RuleConfig is a P&L percent threshold rule.
type RuleConfig struct {
	Enabled *bool    `yaml:"enabled"`
	Percent *float64 `yaml:"percent"`
}

// NotifyConfig defines where alerts go.
type NotifyConfig struct {
	Console  bool           `yaml:"console"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig defines the Telegram Bot API sink.
type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotToken    string `yaml:"bot_token"`
	ChatID      string `yaml:"chat_id"`
	APIEndpoint string `yaml:"api_endpoint"`
	Timeout     string `yaml:"timeout"`
}

// StorageConfig defines where open positions are read from.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// JournalConfig defines the run journal. An empty DSN disables it.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig defines log level, format and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ServerConfig defines the status server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
// A .env file next to the config file, then one in the working directory,
// is loaded first; variables already set in the environment win.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(configPath), ".env"), ".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func loadDotEnv(paths ...string) error {
	seen := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Validate fills defaults and checks that all values are valid and consistent.
// Credentials are checked separately by RequireCredentials.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	if c.Environment.Mode != "sandbox" && c.Environment.Mode != "production" {
		return fmt.Errorf("environment.mode must be 'sandbox' or 'production'")
	}
	if _, err := time.LoadLocation(c.Environment.Timezone); err != nil {
		return fmt.Errorf("environment.timezone invalid: %w", err)
	}

	// Broker validation
	if c.Broker.Provider != "tradier" {
		return fmt.Errorf("broker.provider must be 'tradier'")
	}
	if c.Broker.RateLimitPerMinute < 0 {
		return fmt.Errorf("broker.rate_limit_per_minute must be >= 0")
	}
	if *c.Broker.Retry.MaxRetries < 0 {
		return fmt.Errorf("broker.retry.max_retries must be >= 0")
	}
	for name, v := range map[string]string{
		"broker.request_timeout":          c.Broker.RequestTimeout,
		"broker.retry.initial_backoff":    c.Broker.Retry.InitialBackoff,
		"broker.retry.max_backoff":        c.Broker.Retry.MaxBackoff,
		"broker.circuit_breaker.interval": c.Broker.CircuitBreaker.Interval,
		"broker.circuit_breaker.timeout":  c.Broker.CircuitBreaker.Timeout,
		"notify.telegram.timeout":         c.Notify.Telegram.Timeout,
	} {
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			return fmt.Errorf("%s invalid: %q", name, v)
		}
	}
	if r := c.Broker.CircuitBreaker.FailureRate; r <= 0 || r > 1 {
		return fmt.Errorf("broker.circuit_breaker.failure_rate must be in (0,1]")
	}

	// Screener validation
	s := c.Screener
	if s.HistoryLookback < 60 {
		return fmt.Errorf("screener.history_lookback_days must be >= 60 to cover 30 trading days")
	}
	if s.RSI.Min < 0 || s.RSI.Max > 100 || s.RSI.Min > s.RSI.Max {
		return fmt.Errorf("screener.rsi must satisfy 0 <= min <= max <= 100")
	}
	if s.Volatility.Symbol == "" || s.Volatility.Min > s.Volatility.Max {
		return fmt.Errorf("screener.volatility requires a symbol and min <= max")
	}
	// DTE range must be [min,max] with non-negative ints and min <= max
	if len(s.DTERange) != 2 || s.DTERange[0] < 0 || s.DTERange[0] > s.DTERange[1] {
		return fmt.Errorf("screener.dte_range must be [min,max] with non-negative values and min <= max")
	}
	if !models.OptionType(s.Spread.OptionType).Valid() {
		return fmt.Errorf("screener.spread.option_type must be 'put' or 'call'")
	}
	if len(s.Spread.DeltaRange) != 2 || s.Spread.DeltaRange[0] >= s.Spread.DeltaRange[1] ||
		s.Spread.DeltaRange[0] < -1 || s.Spread.DeltaRange[1] > 1 {
		return fmt.Errorf("screener.spread.delta_range must be [min,max] within [-1,1] with min < max")
	}
	if s.Spread.Width <= 0 {
		return fmt.Errorf("screener.spread.width must be > 0")
	}
	if s.Spread.MinCredit <= 0 || s.Spread.MinCredit >= s.Spread.Width {
		return fmt.Errorf("screener.spread.min_credit must be in (0, width)")
	}
	if s.MaxParallelFetches < 1 {
		return fmt.Errorf("screener.max_parallel_fetches must be >= 1")
	}

	// Monitor validation
	m := c.Monitor
	if len(m.DeltaDrift.Range) != 2 || m.DeltaDrift.Range[0] > m.DeltaDrift.Range[1] {
		return fmt.Errorf("monitor.delta_drift.range must be [min,max] with min <= max")
	}
	if *m.Profit.Percent <= 0 {
		return fmt.Errorf("monitor.profit.percent must be > 0")
	}
	if *m.Loss.Percent >= 0 {
		return fmt.Errorf("monitor.loss.percent must be < 0")
	}

	// Notify validation
	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled")
		}
	}

	// Logging validation
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json'")
	}

	return nil
}

// RequireCredentials checks the secrets needed to talk to the live provider.
// Dry runs skip it.
func (c *Config) RequireCredentials() error {
	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	return nil
}

// IsSandbox returns true if the provider sandbox is configured.
func (c *Config) IsSandbox() bool {
	return c.Environment.Mode == "sandbox"
}

// Location returns the configured zone, falling back to a fixed Eastern
// offset on hosts without zone data.
func (c *Config) Location() *time.Location {
	tz := c.Environment.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Final fallback to DST-agnostic FixedZone
		loc = time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// Today returns the calendar date of now in the configured zone.
func (c *Config) Today(now time.Time) time.Time {
	local := now.In(c.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// RequestTimeout returns the per-call provider timeout.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Broker.RequestTimeout, 10*time.Second)
}

// CallTimeout returns the deadline for one provider call including retries.
// Each HTTP attempt is still bounded by RequestTimeout.
func (c *Config) CallTimeout() time.Duration {
	return c.RetrySettings().CallBudget(c.RequestTimeout())
}

// TelegramTimeout returns the Telegram HTTP client timeout.
func (c *Config) TelegramTimeout() time.Duration {
	return parseDuration(c.Notify.Telegram.Timeout, 10*time.Second)
}

// BreakerEnabled reports whether provider calls go through a circuit breaker.
func (c *Config) BreakerEnabled() bool {
	return boolOr(c.Broker.CircuitBreaker.Enabled, true)
}

// RetrySettings converts the retry section.
func (c *Config) RetrySettings() retry.Config {
	d := retry.DefaultConfig
	return retry.Config{
		MaxRetries:     *c.Broker.Retry.MaxRetries,
		InitialBackoff: parseDuration(c.Broker.Retry.InitialBackoff, d.InitialBackoff),
		MaxBackoff:     parseDuration(c.Broker.Retry.MaxBackoff, d.MaxBackoff),
	}
}

// BreakerSettings converts the circuit breaker section.
func (c *Config) BreakerSettings() broker.CircuitBreakerSettings {
	cb := c.Broker.CircuitBreaker
	return broker.CircuitBreakerSettings{
		MaxRequests:  cb.MaxRequests,
		Interval:     parseDuration(cb.Interval, 60*time.Second),
		Timeout:      parseDuration(cb.Timeout, 30*time.Second),
		MinRequests:  cb.MinRequests,
		FailureRatio: cb.FailureRate,
	}
}

// StrategyConfig converts the screener section.
func (c *Config) StrategyConfig() strategy.Config {
	s := c.Screener
	return strategy.Config{
		Symbol:          s.Symbol,
		HistoryInterval: s.HistoryInterval,
		HistoryLookback: s.HistoryLookback,
		RSIMin:          s.RSI.Min,
		RSIMax:          s.RSI.Max,
		Volatility: strategy.VolatilityConfig{
			Enabled: boolOr(s.Volatility.Enabled, true),
			Symbol:  s.Volatility.Symbol,
			Min:     s.Volatility.Min,
			Max:     s.Volatility.Max,
		},
		MinDTE: s.DTERange[0],
		MaxDTE: s.DTERange[1],
		Spread: strategy.SpreadParams{
			OptionType: models.OptionType(s.Spread.OptionType),
			DeltaMin:   s.Spread.DeltaRange[0],
			DeltaMax:   s.Spread.DeltaRange[1],
			Width:      s.Spread.Width,
			MinCredit:  s.Spread.MinCredit,
		},
		MaxParallelFetches: s.MaxParallelFetches,
		RequestTimeout:     c.CallTimeout(),
	}
}

// MonitorConfig converts the monitor section.
func (c *Config) MonitorConfig() monitor.Config {
	m := c.Monitor
	return monitor.Config{
		Policy: monitor.Policy{
			DeltaDrift: monitor.DeltaBand{
				Enabled: boolOr(m.DeltaDrift.Enabled, true),
				Min:     m.DeltaDrift.Range[0],
				Max:     m.DeltaDrift.Range[1],
			},
			Profit: monitor.Rule{Enabled: boolOr(m.Profit.Enabled, true), Threshold: *m.Profit.Percent},
			Loss:   monitor.Rule{Enabled: boolOr(m.Loss.Enabled, true), Threshold: *m.Loss.Percent},
		},
		RequestTimeout: c.CallTimeout(),
	}
}

// normalize sets default values for unset fields
func (c *Config) normalize() {
	sd := strategy.DefaultConfig()
	md := monitor.DefaultPolicy()
	rd := retry.DefaultConfig

	setString(&c.Environment.Mode, "sandbox")
	setString(&c.Environment.Timezone, defaultTimezone)

	setString(&c.Broker.Provider, "tradier")
	setString(&c.Broker.RequestTimeout, defaultRequestTimeout)
	if c.Broker.Retry.MaxRetries == nil {
		n := rd.MaxRetries
		c.Broker.Retry.MaxRetries = &n
	}
	setString(&c.Broker.Retry.InitialBackoff, rd.InitialBackoff.String())
	setString(&c.Broker.Retry.MaxBackoff, rd.MaxBackoff.String())
	cb := &c.Broker.CircuitBreaker
	setString(&cb.Interval, "60s")
	setString(&cb.Timeout, "30s")
	if cb.MaxRequests == 0 {
		cb.MaxRequests = 3
	}
	if cb.MinRequests == 0 {
		cb.MinRequests = 5
	}
	if cb.FailureRate == 0 {
		cb.FailureRate = 0.6
	}

	s := &c.Screener
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	setString(&s.Symbol, defaultSymbol)
	setString(&s.HistoryInterval, defaultHistoryInterval)
	if s.HistoryLookback == 0 {
		s.HistoryLookback = defaultHistoryLookback
	}
	if s.RSI == (RangeConfig{}) {
		s.RSI = RangeConfig{Min: sd.RSIMin, Max: sd.RSIMax}
	}
	setString(&s.Volatility.Symbol, sd.Volatility.Symbol)
	if s.Volatility.Min == 0 && s.Volatility.Max == 0 {
		s.Volatility.Min, s.Volatility.Max = sd.Volatility.Min, sd.Volatility.Max
	}
	if len(s.DTERange) == 0 {
		s.DTERange = []int{sd.MinDTE, sd.MaxDTE}
	}
	s.Spread.OptionType = strings.ToLower(strings.TrimSpace(s.Spread.OptionType))
	setString(&s.Spread.OptionType, string(sd.Spread.OptionType))
	if len(s.Spread.DeltaRange) == 0 {
		s.Spread.DeltaRange = []float64{sd.Spread.DeltaMin, sd.Spread.DeltaMax}
	}
	if s.Spread.Width == 0 {
		s.Spread.Width = sd.Spread.Width
	}
	if s.Spread.MinCredit == 0 {
		s.Spread.MinCredit = sd.Spread.MinCredit
	}
	if s.MaxParallelFetches == 0 {
		s.MaxParallelFetches = defaultMaxParallelFetches
	}

	if len(c.Monitor.DeltaDrift.Range) == 0 {
		c.Monitor.DeltaDrift.Range = []float64{md.DeltaDrift.Min, md.DeltaDrift.Max}
	}
	if c.Monitor.Profit.Percent == nil {
		v := md.Profit.Threshold
		c.Monitor.Profit.Percent = &v
	}
	if c.Monitor.Loss.Percent == nil {
		v := md.Loss.Threshold
		c.Monitor.Loss.Percent = &v
	}

	setString(&c.Notify.Telegram.Timeout, "10s")
	setString(&c.Storage.Path, defaultPositionsPath)

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "text")
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 30
	}

	setString(&c.Server.Addr, defaultServerAddr)
}

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
