package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for autotrader.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Logging Logging       `yaml:"logging"`
	Trading TradingConfig `yaml:"trading"`
	Alerts  AlertsConfig  `yaml:"alerts"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration for the control plane.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines the symbols, risk budget, and execution parameters
// of the trading loop.
type TradingConfig struct {
	Symbols      []string `yaml:"symbols"`
	Strategy     string   `yaml:"strategy"`
	RiskPerTrade float64  `yaml:"risk_per_trade"`
	StopLossPct  float64  `yaml:"stop_loss_pct"`
	LossLimit    float64  `yaml:"loss_limit"`
	MarketOpen   string   `yaml:"market_open"`
	MarketClose  string   `yaml:"market_close"`
	Timezone     string   `yaml:"timezone"`
	PaperMode    bool     `yaml:"paper_mode"`

	// Broker selects the execution backend: "alpaca" or "simulator".
	Broker string `yaml:"broker"`
	// DataSource selects the bar source: "alpaca" or "store".
	DataSource string `yaml:"data_source"`

	// SimulatorCash is the starting cash of the simulator broker.
	SimulatorCash float64 `yaml:"simulator_cash"`

	BarLimit      int           `yaml:"bar_limit"`
	Workers       int           `yaml:"workers"`
	BrokerTimeout time.Duration `yaml:"broker_timeout"`
	CycleInterval time.Duration `yaml:"cycle_interval"`
}

// AlertsConfig configures operator notifications.
type AlertsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	BufferSize int    `yaml:"buffer_size"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alerts.WebhookURL = v
	}

	if v := os.Getenv("AUTOTRADER_SYMBOLS"); v != "" {
		var symbols []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, strings.ToUpper(s))
			}
		}
		cfg.Trading.Symbols = symbols
	}

	// The SDK's own APCA_* names win over ours.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	t := &cfg.Trading
	if t.Strategy == "" {
		t.Strategy = "trend-momentum"
	}
	if t.MarketOpen == "" {
		t.MarketOpen = "09:30"
	}
	if t.MarketClose == "" {
		t.MarketClose = "16:00"
	}
	if t.Timezone == "" {
		t.Timezone = "America/New_York"
	}
	if t.Broker == "" {
		t.Broker = "alpaca"
	}
	if t.DataSource == "" {
		t.DataSource = "alpaca"
	}
	if t.SimulatorCash == 0 {
		t.SimulatorCash = 100000
	}
	if t.BarLimit == 0 {
		t.BarLimit = 100
	}
	if t.Workers == 0 {
		t.Workers = 4
	}
	if t.BrokerTimeout == 0 {
		t.BrokerTimeout = 5 * time.Second
	}
	if t.CycleInterval == 0 {
		t.CycleInterval = 5 * time.Minute
	}
	for i, s := range t.Symbols {
		t.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Alpaca.RateLimitPerMin == 0 {
		cfg.Alpaca.RateLimitPerMin = 200
	}
	if cfg.Alerts.BufferSize == 0 {
		cfg.Alerts.BufferSize = 64
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/autotrader.db"
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks that the trading configuration is internally consistent.
func (c *Config) Validate() error {
	t := c.Trading
	var errs []error

	if len(t.Symbols) == 0 {
		errs = append(errs, errors.New("trading.symbols must not be empty"))
	}
	seen := make(map[string]bool, len(t.Symbols))
	for _, s := range t.Symbols {
		if s == "" {
			errs = append(errs, errors.New("trading.symbols contains an empty symbol"))
		} else if seen[s] {
			errs = append(errs, fmt.Errorf("trading.symbols lists %s twice", s))
		}
		seen[s] = true
	}
	if !fraction(t.RiskPerTrade) {
		errs = append(errs, fmt.Errorf("trading.risk_per_trade must be in (0,1), got %v", t.RiskPerTrade))
	}
	if !fraction(t.StopLossPct) {
		errs = append(errs, fmt.Errorf("trading.stop_loss_pct must be in (0,1), got %v", t.StopLossPct))
	}
	if !fraction(t.LossLimit) {
		errs = append(errs, fmt.Errorf("trading.loss_limit must be in (0,1), got %v", t.LossLimit))
	}

	open, errOpen := time.Parse("15:04", t.MarketOpen)
	if errOpen != nil {
		errs = append(errs, fmt.Errorf("trading.market_open %q: want HH:MM", t.MarketOpen))
	}
	closeT, errClose := time.Parse("15:04", t.MarketClose)
	if errClose != nil {
		errs = append(errs, fmt.Errorf("trading.market_close %q: want HH:MM", t.MarketClose))
	}
	if errOpen == nil && errClose == nil && !open.Before(closeT) {
		errs = append(errs, fmt.Errorf("trading.market_open %s must be before market_close %s", t.MarketOpen, t.MarketClose))
	}
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("trading.timezone %q: %w", t.Timezone, err))
	}

	switch t.Broker {
	case "alpaca", "simulator":
	default:
		errs = append(errs, fmt.Errorf("trading.broker %q: want alpaca or simulator", t.Broker))
	}
	switch t.DataSource {
	case "alpaca", "store":
	default:
		errs = append(errs, fmt.Errorf("trading.data_source %q: want alpaca or store", t.DataSource))
	}
	if t.Workers < 1 {
		errs = append(errs, fmt.Errorf("trading.workers must be positive, got %d", t.Workers))
	}
	if t.BarLimit < 50 {
		errs = append(errs, fmt.Errorf("trading.bar_limit must be at least 50, got %d", t.BarLimit))
	}

	return errors.Join(errs...)
}

func fraction(v float64) bool {
	return v > 0 && v < 1
}
