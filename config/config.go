// Package config loads the desk configuration from a YAML file or CLI flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"gopkg.in/yaml.v3"
)

// TokenEnv overrides the wallet bearer token from the file or flags.
const TokenEnv = "FXDESK_WALLET_TOKEN"

const (
	ProviderBinance     = "binance"
	ProviderBybit       = "bybit"
	ProviderHyperliquid = "hyperliquid"
)

// Config fully parsed settings.
type Config struct {
	Provider       string
	Account        string
	Symbols        []string
	InitialBalance decimal.Decimal
	Leverage       int
	Instruments    domain.Instruments
	Wallet         WalletConfig
	Strategy       StrategyConfig
	StateDir       string
	Dashboard      DashboardConfig
}

// WalletConfig remote wallet service settings. An empty BaseURL disables sync.
type WalletConfig struct {
	BaseURL      string
	UserID       string
	Token        string
	SyncInterval time.Duration
}

// StrategyConfig moving average crossover settings.
type StrategyConfig struct {
	ID             string
	Enabled        bool
	ShortWindow    int
	LongWindow     int
	Lot            decimal.Decimal
	UpperThreshold decimal.Decimal
	LowerThreshold decimal.Decimal
	BracketPercent decimal.Decimal
	BufferSize     int
}

// DashboardConfig HTTP surface settings. Empty Addr disables it.
type DashboardConfig struct {
	Addr       string
	TLSDomains []string
	CertDir    string
}

// ConfigTmp raw YAML shape. Numbers are strings so decimals keep precision.
type ConfigTmp struct {
	Provider       string          `yaml:"provider"`
	Account        string          `yaml:"account,omitempty"`
	Symbols        []string        `yaml:"symbols"`
	InitialBalance string          `yaml:"initial_balance,omitempty"`
	LeverageStr    string          `yaml:"leverage,omitempty"`
	Instruments    []InstrumentTmp `yaml:"instruments,omitempty"`
	Wallet         WalletTmp       `yaml:"wallet,omitempty"`
	Strategy       StrategyTmp     `yaml:"strategy,omitempty"`
	StateDir       string          `yaml:"state_dir,omitempty"`
	Dashboard      DashboardTmp    `yaml:"dashboard,omitempty"`
}

type InstrumentTmp struct {
	Symbol       string `yaml:"symbol"`
	ContractSize string `yaml:"contract_size,omitempty"`
	MinLot       string `yaml:"min_lot,omitempty"`
	MaxLot       string `yaml:"max_lot,omitempty"`
	LotStep      string `yaml:"lot_step,omitempty"`
}

type WalletTmp struct {
	BaseURL      string        `yaml:"base_url,omitempty"`
	UserID       string        `yaml:"user_id,omitempty"`
	Token        string        `yaml:"token,omitempty"`
	SyncInterval time.Duration `yaml:"sync_interval,omitempty"`
}

type StrategyTmp struct {
	ID                string `yaml:"id,omitempty"`
	Enabled           bool   `yaml:"enabled"`
	ShortWindowStr    string `yaml:"short_window,omitempty"`
	LongWindowStr     string `yaml:"long_window,omitempty"`
	Lot               string `yaml:"lot,omitempty"`
	UpperThresholdStr string `yaml:"upper_threshold,omitempty"`
	LowerThresholdStr string `yaml:"lower_threshold,omitempty"`
	BracketPercentStr string `yaml:"bracket_percent,omitempty"`
	BufferSizeStr     string `yaml:"buffer_size,omitempty"`
}

type DashboardTmp struct {
	Addr       string   `yaml:"addr,omitempty"`
	TLSDomains []string `yaml:"tls_domains,omitempty"`
	CertDir    string   `yaml:"cert_dir,omitempty"`
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}

	return tmp.Parse()
}

// Parse converts raw values, applying defaults and the token env override.
func (c ConfigTmp) Parse() (Config, error) {
	conf := Config{
		Provider:  strings.ToLower(strings.TrimSpace(c.Provider)),
		Account:   strings.TrimSpace(c.Account),
		StateDir:  c.StateDir,
		Dashboard: DashboardConfig{Addr: c.Dashboard.Addr, TLSDomains: c.Dashboard.TLSDomains, CertDir: c.Dashboard.CertDir},
	}

	if conf.Provider == "" {
		conf.Provider = ProviderBinance
	}
	switch conf.Provider {
	case ProviderBinance, ProviderBybit, ProviderHyperliquid:
	default:
		return Config{}, fmt.Errorf("unsupported provider %q (binance, bybit or hyperliquid)", c.Provider)
	}
	if conf.Account == "" {
		conf.Account = "default"
	}
	if conf.StateDir == "" {
		conf.StateDir = "./state"
	}
	if conf.Dashboard.CertDir == "" {
		conf.Dashboard.CertDir = "./certs"
	}

	for _, s := range c.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			conf.Symbols = append(conf.Symbols, s)
		}
	}
	if len(conf.Symbols) == 0 {
		return Config{}, errors.New("at least one symbol is required")
	}

	var err error
	if conf.InitialBalance, err = decimalOr(c.InitialBalance, decimal.NewFromInt(10000), "initial_balance"); err != nil {
		return Config{}, err
	}
	if conf.InitialBalance.IsNegative() {
		return Config{}, fmt.Errorf("incorrect 'initial_balance' param: must not be negative")
	}
	if conf.Leverage, err = intOr(c.LeverageStr, 100, "leverage"); err != nil {
		return Config{}, err
	}

	if conf.Instruments, err = parseInstruments(c.Instruments); err != nil {
		return Config{}, err
	}

	conf.Wallet = WalletConfig{
		BaseURL:      strings.TrimRight(strings.TrimSpace(c.Wallet.BaseURL), "/"),
		UserID:       strings.TrimSpace(c.Wallet.UserID),
		Token:        c.Wallet.Token,
		SyncInterval: c.Wallet.SyncInterval,
	}
	if token := os.Getenv(TokenEnv); token != "" {
		conf.Wallet.Token = token
	}
	if conf.Wallet.SyncInterval <= 0 {
		conf.Wallet.SyncInterval = 10 * time.Second
	}

	if conf.Strategy, err = c.Strategy.parse(); err != nil {
		return Config{}, err
	}

	return conf, nil
}

func (s StrategyTmp) parse() (StrategyConfig, error) {
	out := StrategyConfig{ID: strings.TrimSpace(s.ID), Enabled: s.Enabled}
	if out.ID == "" {
		out.ID = "sma_cross"
	}

	var err error
	if out.ShortWindow, err = intOr(s.ShortWindowStr, 7, "strategy.short_window"); err != nil {
		return StrategyConfig{}, err
	}
	if out.LongWindow, err = intOr(s.LongWindowStr, 30, "strategy.long_window"); err != nil {
		return StrategyConfig{}, err
	}
	if out.ShortWindow >= out.LongWindow {
		return StrategyConfig{}, fmt.Errorf("incorrect 'strategy.short_window' param: must be less than long_window (%d)", out.LongWindow)
	}
	if out.BufferSize, err = intOr(s.BufferSizeStr, 500, "strategy.buffer_size"); err != nil {
		return StrategyConfig{}, err
	}
	if out.BufferSize < out.LongWindow {
		return StrategyConfig{}, fmt.Errorf("incorrect 'strategy.buffer_size' param: must hold at least long_window (%d) samples", out.LongWindow)
	}
	if out.Lot, err = positiveDecimalOr(s.Lot, decimal.RequireFromString("0.01"), "strategy.lot"); err != nil {
		return StrategyConfig{}, err
	}
	if out.UpperThreshold, err = positiveDecimalOr(s.UpperThresholdStr, decimal.RequireFromString("1.0002"), "strategy.upper_threshold"); err != nil {
		return StrategyConfig{}, err
	}
	if out.LowerThreshold, err = positiveDecimalOr(s.LowerThresholdStr, decimal.RequireFromString("0.9998"), "strategy.lower_threshold"); err != nil {
		return StrategyConfig{}, err
	}
	if out.BracketPercent, err = positiveDecimalOr(s.BracketPercentStr, decimal.NewFromInt(2), "strategy.bracket_percent"); err != nil {
		return StrategyConfig{}, err
	}

	return out, nil
}

func parseInstruments(list []InstrumentTmp) (domain.Instruments, error) {
	if len(list) == 0 {
		return nil, nil
	}

	out := make([]domain.Instrument, 0, len(list))
	for _, raw := range list {
		symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
		if symbol == "" {
			return nil, errors.New("instrument symbol cannot be empty")
		}

		inst := domain.Instrument{Symbol: symbol}
		var err error
		if inst.ContractSize, err = positiveDecimalOr(raw.ContractSize, decimal.NewFromInt(domain.DefaultContractSize), symbol+".contract_size"); err != nil {
			return nil, err
		}
		if inst.MinLot, err = decimalOr(raw.MinLot, decimal.Zero, symbol+".min_lot"); err != nil {
			return nil, err
		}
		if inst.MaxLot, err = decimalOr(raw.MaxLot, decimal.Zero, symbol+".max_lot"); err != nil {
			return nil, err
		}
		if inst.LotStep, err = decimalOr(raw.LotStep, decimal.Zero, symbol+".lot_step"); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}

	return domain.NewInstruments(out), nil
}

func decimalOr(raw string, def decimal.Decimal, field string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("incorrect '%s' param (must be a decimal), error: %w", field, err)
	}
	return d, nil
}

func positiveDecimalOr(raw string, def decimal.Decimal, field string) (decimal.Decimal, error) {
	d, err := decimalOr(raw, def, field)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("incorrect '%s' param: must be positive, got %s", field, d.String())
	}
	return d, nil
}

func intOr(raw string, def int, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("incorrect '%s' param (must be an integer), error: %w", field, err)
	}
	if v < 1 {
		return 0, fmt.Errorf("incorrect '%s' param: must be at least 1, got %d", field, v)
	}
	return v, nil
}

// Load reads a YAML config file.
func Load(path string) (Config, error) {
	return getYaml(path)
}
