// FILE: config.go
// Package main – Runtime configuration model and loader.
//
// Configuration flows in three layers, later layers winning:
//   1) struct defaults
//   2) an optional YAML file (-config flag, default config.yaml)
//   3) environment variables (hydrated from .env by loadBotEnv)
//
// Account credentials are env-only (ACCOUNT_N_NAME / ACCOUNT_N_ACCESS_KEY /
// ACCOUNT_N_SECRET_KEY) so they never live next to tunables in the YAML file.
//
// Typical flow (see main.go):
//   loadBotEnv()
//   cfg, err := loadConfig(path)

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MAType selects how moving averages are computed for the signal filters.
type MAType string

const (
	MASimple      MAType = "sma"
	MAExponential MAType = "ema"
)

// AccountConfig is one exchange identity; exactly one live loop owns it.
type AccountConfig struct {
	Name      string `yaml:"name"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Config holds all runtime knobs for trading and operations.
type Config struct {
	// Universe
	Symbols   []string `yaml:"symbols"`    // e.g. ["BTC","ETH"]
	RefSymbol string   `yaml:"ref_symbol"` // market filter symbol, default BTC

	// Signal
	MAShort    int     `yaml:"ma_short"`    // exit MA period
	RefMA      int     `yaml:"ref_ma"`      // entry filter MA period
	NoiseRatio float64 `yaml:"noise_ratio"` // breakout range fraction
	MAKind     MAType  `yaml:"ma_type"`     // sma | ema

	// Trading day
	Timezone     string `yaml:"timezone"`      // default Asia/Seoul
	BoundaryHour int    `yaml:"boundary_hour"` // daily candle reset, default 9

	// Execution
	FeeRate       float64 `yaml:"fee_rate"`        // venue taker fee, default 0.0005
	MinOrderKRW   float64 `yaml:"min_order_krw"`   // venue minimum notional
	LateEntryPct  float64 `yaml:"late_entry_pct"`  // max |price/target-1|*100
	SafetyFactor  float64 `yaml:"safety_factor"`   // cash clamp, default 0.99
	OrderDelayMS  int     `yaml:"order_delay_ms"`  // pause between buys
	PollInterval  int     `yaml:"poll_interval_s"` // loop cadence, default 1
	DryRun        bool    `yaml:"dry_run"`
	PaperEquity   float64 `yaml:"paper_equity"` // starting cash in dry-run
	BuyCooldownS  int     `yaml:"buy_cooldown_s"`
	PendingExpirS int     `yaml:"pending_expiry_s"`

	// Rate limits (calls per second, shared across accounts per category)
	OrderRate float64 `yaml:"order_rate"`
	QuoteRate float64 `yaml:"quote_rate"`

	// Retry
	RetryAttempts int     `yaml:"retry_attempts"`
	RetryBaseMS   int     `yaml:"retry_base_ms"`
	TimeoutS      int     `yaml:"timeout_s"` // per outbound call

	// Ops
	Port         int    `yaml:"port"`
	DataDir      string `yaml:"data_dir"` // per-account state/trade files
	Heartbeat    string `yaml:"heartbeat_file"`
	HeartbeatSec int    `yaml:"heartbeat_s"`
	ReportHour   int    `yaml:"report_hour"`
	UseFeed      bool   `yaml:"use_feed"` // websocket ticker cache
	FeedFreshS   int    `yaml:"feed_fresh_s"`

	// Alerting
	Telegram struct {
		BotToken  string `yaml:"bot_token"`
		ChatID    string `yaml:"chat_id"`
		Enabled   bool   `yaml:"enabled"`
		CooldownS int    `yaml:"error_cooldown_s"`
	} `yaml:"telegram"`

	Accounts []AccountConfig `yaml:"accounts"`
}

func defaultConfig() Config {
	cfg := Config{
		Symbols:       []string{"BTC", "ETH"},
		RefSymbol:     "BTC",
		MAShort:       5,
		RefMA:         20,
		NoiseRatio:    0.5,
		MAKind:        MASimple,
		Timezone:      "Asia/Seoul",
		BoundaryHour:  9,
		FeeRate:       0.0005,
		MinOrderKRW:   5000,
		LateEntryPct:  1.0,
		SafetyFactor:  0.99,
		OrderDelayMS:  200,
		PollInterval:  1,
		DryRun:        true,
		PaperEquity:   1_000_000,
		BuyCooldownS:  300,
		PendingExpirS: 1800,
		OrderRate:     8,  // Upbit order budget with margin (10/s hard limit)
		QuoteRate:     25, // quotation budget with margin (30/s hard limit)
		RetryAttempts: 3,
		RetryBaseMS:   500,
		TimeoutS:      10,
		Port:          8080,
		DataDir:       "logs",
		Heartbeat:     "logs/.heartbeat",
		HeartbeatSec:  30,
		ReportHour:    9,
		UseFeed:       false,
		FeedFreshS:    5,
	}
	cfg.Telegram.CooldownS = 300
	return cfg
}

// loadConfig builds the runtime Config from defaults, an optional YAML file,
// and env overrides, then validates it.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// YAML file is optional; env can carry everything.
		default:
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	loadAccountsFromEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := getEnv("SYMBOLS", ""); v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, strings.ToUpper(s))
			}
		}
		cfg.Symbols = out
	}
	cfg.RefSymbol = strings.ToUpper(getEnv("REF_SYMBOL", cfg.RefSymbol))
	cfg.MAShort = getEnvInt("MA_SHORT", cfg.MAShort)
	cfg.RefMA = getEnvInt("REF_MA", cfg.RefMA)
	cfg.NoiseRatio = getEnvFloat("NOISE_RATIO", cfg.NoiseRatio)
	cfg.MAKind = MAType(strings.ToLower(getEnv("MA_TYPE", string(cfg.MAKind))))
	cfg.Timezone = getEnv("TIMEZONE", cfg.Timezone)
	cfg.BoundaryHour = getEnvInt("BOUNDARY_HOUR", cfg.BoundaryHour)
	cfg.FeeRate = getEnvFloat("FEE_RATE", cfg.FeeRate)
	cfg.MinOrderKRW = getEnvFloat("MIN_ORDER_KRW", cfg.MinOrderKRW)
	cfg.LateEntryPct = getEnvFloat("LATE_ENTRY_PCT", cfg.LateEntryPct)
	cfg.SafetyFactor = getEnvFloat("SAFETY_FACTOR", cfg.SafetyFactor)
	cfg.PollInterval = getEnvInt("POLL_INTERVAL_SEC", cfg.PollInterval)
	cfg.DryRun = getEnvBool("DRY_RUN", cfg.DryRun)
	cfg.PaperEquity = getEnvFloat("PAPER_EQUITY", cfg.PaperEquity)
	cfg.OrderRate = getEnvFloat("ORDER_RATE", cfg.OrderRate)
	cfg.QuoteRate = getEnvFloat("QUOTE_RATE", cfg.QuoteRate)
	cfg.RetryAttempts = getEnvInt("RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.Heartbeat = getEnv("HEARTBEAT_FILE", cfg.Heartbeat)
	cfg.ReportHour = getEnvInt("REPORT_HOUR", cfg.ReportHour)
	cfg.UseFeed = getEnvBool("USE_FEED", cfg.UseFeed)
	cfg.Telegram.BotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.Telegram.BotToken)
	cfg.Telegram.ChatID = getEnv("TELEGRAM_CHAT_ID", cfg.Telegram.ChatID)
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		cfg.Telegram.Enabled = true
	}
}

// loadAccountsFromEnv appends accounts declared as ACCOUNT_N_NAME /
// ACCOUNT_N_ACCESS_KEY / ACCOUNT_N_SECRET_KEY, stopping at the first gap.
func loadAccountsFromEnv(cfg *Config) {
	for i := 1; ; i++ {
		name := getEnv(fmt.Sprintf("ACCOUNT_%d_NAME", i), "")
		key := getEnv(fmt.Sprintf("ACCOUNT_%d_ACCESS_KEY", i), "")
		secret := getEnv(fmt.Sprintf("ACCOUNT_%d_SECRET_KEY", i), "")
		if name == "" || key == "" || secret == "" {
			return
		}
		cfg.Accounts = append(cfg.Accounts, AccountConfig{Name: name, AccessKey: key, SecretKey: secret})
	}
}

func (c *Config) validate() error {
	var errs []string
	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols cannot be empty")
	}
	if c.MAShort < 1 {
		errs = append(errs, fmt.Sprintf("ma_short must be >= 1, got %d", c.MAShort))
	}
	if c.RefMA < 1 {
		errs = append(errs, fmt.Sprintf("ref_ma must be >= 1, got %d", c.RefMA))
	}
	if c.NoiseRatio <= 0 || c.NoiseRatio > 1 {
		errs = append(errs, fmt.Sprintf("noise_ratio must be in (0,1], got %g", c.NoiseRatio))
	}
	if c.MAKind != MASimple && c.MAKind != MAExponential {
		errs = append(errs, fmt.Sprintf("ma_type must be sma or ema, got %q", c.MAKind))
	}
	if c.SafetyFactor <= 0 || c.SafetyFactor >= 1 {
		errs = append(errs, fmt.Sprintf("safety_factor must be in (0,1), got %g", c.SafetyFactor))
	}
	if c.OrderRate <= 0 || c.QuoteRate <= 0 {
		errs = append(errs, "rate budgets must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q: %v", c.Timezone, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location resolves the configured timezone. validate() guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) OrderDelay() time.Duration {
	return time.Duration(c.OrderDelayMS) * time.Millisecond
}

func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMS) * time.Millisecond
}

func (c *Config) CallTimeout() time.Duration {
	if c.TimeoutS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutS) * time.Second
}
