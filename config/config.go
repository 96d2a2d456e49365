// Package config loads engine configuration from a YAML file or CLI flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/m4rkovic/crypto-trade/internal/domain"
)

// Run modes for the stale-quote branch of the detector.
const (
	RunModeConservative = "conservative"
	RunModePermissive   = "permissive"
)

// Supported venue names.
const (
	VenueBinance     = "binance"
	VenueOkx         = "okx"
	VenueBybit       = "bybit"
	VenueHyperliquid = "hyperliquid"
)

// Config is the fully parsed engine configuration.
type Config struct {
	Venues      []string
	Instruments []domain.Pair

	TargetNotional decimal.Decimal
	MinNotional    decimal.Decimal

	MinSpreadBps decimal.Decimal
	// MaxSpreadBps is the anomaly ceiling: spreads above it are treated as
	// corrupt feed data and discarded.
	MaxSpreadBps decimal.Decimal
	SlippageBps  decimal.Decimal
	// TakerFeeBps per venue; venues absent from the map use DefaultTakerFeeBps.
	TakerFeeBps map[string]decimal.Decimal

	MaxQuoteAge            time.Duration
	MaxDailyDrawdown       decimal.Decimal
	MaxTradeExposure       decimal.Decimal
	MaxConsecutiveFailures int

	Cooldown       time.Duration
	SyncInterval   time.Duration
	ReconnectDelay time.Duration

	RunMode        string
	Simulation     bool
	UnwindLossRate decimal.Decimal

	WebAddr     string
	TradeLogDir string
}

// configTmp mirrors the YAML document with string-typed numeric fields so that
// decimals are parsed explicitly with per-field errors.
type configTmp struct {
	Venues      []string `yaml:"venues"`
	Instruments []string `yaml:"instruments"`

	TargetNotional string `yaml:"target_notional"`
	MinNotional    string `yaml:"min_notional,omitempty"`

	MinSpreadBps string            `yaml:"min_spread_bps,omitempty"`
	MaxSpreadBps string            `yaml:"max_spread_bps,omitempty"`
	SlippageBps  string            `yaml:"slippage_bps,omitempty"`
	TakerFeeBps  map[string]string `yaml:"taker_fee_bps,omitempty"`

	MaxQuoteAge            time.Duration `yaml:"max_quote_age,omitempty"`
	MaxDailyDrawdown       string        `yaml:"max_daily_drawdown,omitempty"`
	MaxTradeExposure       string        `yaml:"max_trade_exposure,omitempty"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures,omitempty"`

	Cooldown       time.Duration `yaml:"cooldown,omitempty"`
	SyncInterval   time.Duration `yaml:"sync_interval,omitempty"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay,omitempty"`

	RunMode        string `yaml:"run_mode,omitempty"`
	Simulation     bool   `yaml:"simulation,omitempty"`
	UnwindLossRate string `yaml:"unwind_loss_rate,omitempty"`

	WebAddr     string `yaml:"web_addr,omitempty"`
	TradeLogDir string `yaml:"trade_log_dir,omitempty"`
}

// Defaults applied when the YAML omits a field.
var (
	defaultMinNotional    = decimal.NewFromInt(10)
	defaultMinSpreadBps   = decimal.NewFromInt(20)
	defaultMaxSpreadBps   = decimal.NewFromInt(500)
	defaultSlippageBps    = decimal.NewFromInt(5)
	defaultTakerFeeBps    = decimal.NewFromInt(10)
	defaultDrawdown       = decimal.NewFromInt(100)
	defaultExposure       = decimal.NewFromInt(1000)
	defaultUnwindLossRate = decimal.NewFromFloat(0.02)
)

const (
	defaultMaxQuoteAge    = 2 * time.Second
	defaultMaxFailures    = 3
	defaultCooldown       = 5 * time.Second
	defaultSyncInterval   = 60 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// DefaultTakerFeeBps returns the taker fee for a venue, falling back to the
// 10 bps default when the venue is not configured.
func (c *Config) DefaultTakerFeeBps(venue string) decimal.Decimal {
	if fee, ok := c.TakerFeeBps[venue]; ok {
		return fee
	}
	return defaultTakerFeeBps
}

// Get loads configuration from --config yaml, falling back to CLI flags.
func Get() (*Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	venuesFlag := flag.String("venues", "binance,bybit", "comma-separated venues")
	instrumentsFlag := flag.String("instruments", "BTC_USDT", "comma-separated pairs, example: BTC_USDT,ETH_USDT")
	notionalFlag := flag.String("notional", "100", "target notional per trade in quote currency")
	simulationFlag := flag.Bool("simulation", false, "simulate fills instead of placing orders")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	venues, err := parseVenues(strings.Split(*venuesFlag, ","))
	if err != nil {
		return nil, err
	}
	instruments, err := parseInstruments(strings.Split(*instrumentsFlag, ","))
	if err != nil {
		return nil, err
	}
	notional, err := decimal.NewFromString(*notionalFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid --notional provided, --notional=%s", *notionalFlag)
	}

	cfg := defaults()
	cfg.Venues = venues
	cfg.Instruments = instruments
	cfg.TargetNotional = notional
	cfg.Simulation = *simulationFlag
	return cfg, cfg.validate()
}

func defaults() *Config {
	return &Config{
		MinNotional:            defaultMinNotional,
		MinSpreadBps:           defaultMinSpreadBps,
		MaxSpreadBps:           defaultMaxSpreadBps,
		SlippageBps:            defaultSlippageBps,
		TakerFeeBps:            map[string]decimal.Decimal{},
		MaxQuoteAge:            defaultMaxQuoteAge,
		MaxDailyDrawdown:       defaultDrawdown,
		MaxTradeExposure:       defaultExposure,
		MaxConsecutiveFailures: defaultMaxFailures,
		Cooldown:               defaultCooldown,
		SyncInterval:           defaultSyncInterval,
		ReconnectDelay:         defaultReconnectDelay,
		RunMode:                RunModeConservative,
		UnwindLossRate:         defaultUnwindLossRate,
		TradeLogDir:            "./wal/trades",
	}
}

func getYaml(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmp configTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return nil, err
	}

	cfg := defaults()

	cfg.Venues, err = parseVenues(tmp.Venues)
	if err != nil {
		return nil, err
	}
	cfg.Instruments, err = parseInstruments(tmp.Instruments)
	if err != nil {
		return nil, err
	}

	if cfg.TargetNotional, err = decimal.NewFromString(tmp.TargetNotional); err != nil {
		return nil, fmt.Errorf("incorrect 'target_notional' param in yaml config: %w", err)
	}

	if err := parseOptionalDecimal(&cfg.MinNotional, tmp.MinNotional, "min_notional"); err != nil {
		return nil, err
	}
	if err := parseOptionalDecimal(&cfg.MinSpreadBps, tmp.MinSpreadBps, "min_spread_bps"); err != nil {
		return nil, err
	}
	if err := parseOptionalDecimal(&cfg.MaxSpreadBps, tmp.MaxSpreadBps, "max_spread_bps"); err != nil {
		return nil, err
	}
	if err := parseOptionalDecimal(&cfg.SlippageBps, tmp.SlippageBps, "slippage_bps"); err != nil {
		return nil, err
	}
	if err := parseOptionalDecimal(&cfg.MaxDailyDrawdown, tmp.MaxDailyDrawdown, "max_daily_drawdown"); err != nil {
		return nil, err
	}
	if err := parseOptionalDecimal(&cfg.MaxTradeExposure, tmp.MaxTradeExposure, "max_trade_exposure"); err != nil {
		return nil, err
	}
	if err := parseOptionalDecimal(&cfg.UnwindLossRate, tmp.UnwindLossRate, "unwind_loss_rate"); err != nil {
		return nil, err
	}

	for venue, fee := range tmp.TakerFeeBps {
		d, err := decimal.NewFromString(fee)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'taker_fee_bps.%s' param in yaml config: %w", venue, err)
		}
		cfg.TakerFeeBps[venue] = d
	}

	if tmp.MaxQuoteAge > 0 {
		cfg.MaxQuoteAge = tmp.MaxQuoteAge
	}
	if tmp.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = tmp.MaxConsecutiveFailures
	}
	if tmp.Cooldown > 0 {
		cfg.Cooldown = tmp.Cooldown
	}
	if tmp.SyncInterval > 0 {
		cfg.SyncInterval = tmp.SyncInterval
	}
	if tmp.ReconnectDelay > 0 {
		cfg.ReconnectDelay = tmp.ReconnectDelay
	}
	if tmp.RunMode != "" {
		cfg.RunMode = tmp.RunMode
	}
	if tmp.WebAddr != "" {
		cfg.WebAddr = tmp.WebAddr
	}
	if tmp.TradeLogDir != "" {
		cfg.TradeLogDir = tmp.TradeLogDir
	}
	cfg.Simulation = tmp.Simulation

	return cfg, cfg.validate()
}

func parseOptionalDecimal(dst *decimal.Decimal, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("incorrect '%s' param in yaml config: %w", field, err)
	}
	*dst = d
	return nil
}

func parseVenues(raw []string) ([]string, error) {
	var venues []string
	for _, v := range raw {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "" {
			continue
		}
		switch v {
		case VenueBinance, VenueOkx, VenueBybit, VenueHyperliquid:
			venues = append(venues, v)
		default:
			return nil, fmt.Errorf("unsupported venue %q", v)
		}
	}
	if len(venues) < 2 {
		return nil, fmt.Errorf("need at least 2 venues for arbitrage, got %d", len(venues))
	}
	return venues, nil
}

func parseInstruments(raw []string) ([]domain.Pair, error) {
	var pairs []domain.Pair
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		pair, err := domain.PairFromString(s)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'instruments' param: %w", err)
		}
		pairs = append(pairs, pair)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no instruments configured")
	}
	return pairs, nil
}

func (c *Config) validate() error {
	if c.RunMode != RunModeConservative && c.RunMode != RunModePermissive {
		return fmt.Errorf("invalid run_mode %q, expected %s or %s", c.RunMode, RunModeConservative, RunModePermissive)
	}
	if c.TargetNotional.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("target_notional must be positive, got %s", c.TargetNotional.String())
	}
	if c.MinSpreadBps.GreaterThanOrEqual(c.MaxSpreadBps) {
		return fmt.Errorf("min_spread_bps %s must be below max_spread_bps %s",
			c.MinSpreadBps.String(), c.MaxSpreadBps.String())
	}
	return nil
}
