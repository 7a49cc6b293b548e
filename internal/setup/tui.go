// Package setup runs the interactive wizard that writes a YAML config.
package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/config"
	"github.com/vadiminshakov/fxdesk/internal/services/marketdata"
	"gopkg.in/yaml.v3"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// answers everything the wizard asks.
type answers struct {
	provider     string
	symbols      string
	balance      string
	leverage     string
	walletURL    string
	userID       string
	syncInterval string
	strategyOn   bool
	lot          string
	addr         string
}

func defaults() answers {
	return answers{
		provider:     config.ProviderBinance,
		symbols:      "EURUSD",
		balance:      "10000",
		leverage:     "100",
		syncInterval: "10s",
		lot:          "0.01",
		addr:         ":8080",
	}
}

func screen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("FXDESK CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the wizard and saves the result to path.
func RunTUI(path string) error {
	a := defaults()
	var confirm bool

	screen("STEP 1: MARKET DATA")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Prices come from a public exchange feed.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Market data provider").
				Options(
					huh.NewOption("Binance (websocket)", config.ProviderBinance),
					huh.NewOption("Bybit (polling)", config.ProviderBybit),
					huh.NewOption("Hyperliquid (polling, crypto only)", config.ProviderHyperliquid),
				).
				Value(&a.provider),
			huh.NewInput().
				Title("Symbols").
				Description(symbolsHint()).
				Value(&a.symbols).
				Validate(validateSymbols),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 2: ACCOUNT")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Initial balance").
				Value(&a.balance).
				Validate(validatePositive),
			huh.NewInput().
				Title("Leverage").
				Value(&a.leverage).
				Validate(validatePositive),
			huh.NewInput().
				Title("Wallet service URL").
				Description("Leave empty to keep the wallet local").
				Value(&a.walletURL),
			huh.NewInput().
				Title("Wallet user id").
				Description("Optional, used for the unauthenticated balance endpoint").
				Value(&a.userID),
			huh.NewInput().
				Title("Wallet sync interval").
				Description("Duration string (e.g. 10s, 1m)").
				Value(&a.syncInterval).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 3: STRATEGY")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Subscribe the moving average crossover strategy?").
				Value(&a.strategyOn),
			huh.NewInput().
				Title("Lot size per entry").
				Value(&a.lot).
				Validate(validatePositive),
			huh.NewInput().
				Title("Dashboard address").
				Description("Leave empty to disable the HTTP dashboard").
				Value(&a.addr),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Provider: %s\nSymbols: %s\nBalance: %s\nWallet: %s\nStrategy: %t\n",
		a.provider, a.symbols, a.balance, orNone(a.walletURL), a.strategyOn,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New("setup cancelled by user")
	}

	if err := save(path, a); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\nConfiguration saved to %s\nStarting desk...", path)))
	time.Sleep(1500 * time.Millisecond)
	return nil
}

func build(a answers) (config.ConfigTmp, error) {
	interval, err := time.ParseDuration(a.syncInterval)
	if err != nil {
		return config.ConfigTmp{}, errors.Wrap(err, "invalid sync interval")
	}

	tmp := config.ConfigTmp{
		Provider:       a.provider,
		Symbols:        splitSymbols(a.symbols),
		InitialBalance: a.balance,
		LeverageStr:    a.leverage,
		Wallet: config.WalletTmp{
			BaseURL:      a.walletURL,
			UserID:       a.userID,
			SyncInterval: interval,
		},
		Strategy:  config.StrategyTmp{Enabled: a.strategyOn, Lot: a.lot},
		Dashboard: config.DashboardTmp{Addr: a.addr},
	}

	// reject anything the loader would reject
	if _, err := tmp.Parse(); err != nil {
		return config.ConfigTmp{}, err
	}

	return tmp, nil
}

func save(path string, a answers) error {
	tmp, err := build(a)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}

	return nil
}

func symbolsHint() string {
	return "Comma separated. Mapped symbols: " + strings.Join(marketdata.SupportedSymbols(), ", ")
}

func validateSymbols(s string) error {
	symbols := splitSymbols(s)
	if len(symbols) == 0 {
		return errors.New("at least one symbol is required")
	}
	for _, sym := range symbols {
		if _, ok := marketdata.NormalizeSymbol(sym); !ok {
			return fmt.Errorf("no live feed for %s", sym)
		}
	}
	return nil
}

func validatePositive(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return errors.New("must be a valid number")
	}
	if !d.IsPositive() {
		return errors.New("must be positive")
	}
	return nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
