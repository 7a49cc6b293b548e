package config

import (
	"flag"
	"os"
	"strings"
	"time"
)

// Options command line switches that are not part of Config.
type Options struct {
	ConfigPath string
	Setup      bool
}

// Get parses os.Args.
func Get() (Config, Options, error) {
	return Parse(flag.CommandLine, os.Args[1:])
}

// Parse reads flags from args. With --config the YAML file wins over every
// other flag. With --setup no config is built.
func Parse(fs *flag.FlagSet, args []string) (Config, Options, error) {
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "path to yaml config")
	fs.BoolVar(&opts.Setup, "setup", false, "run the interactive config wizard")

	provider := fs.String("provider", ProviderBinance, "market data provider: binance, bybit or hyperliquid")
	account := fs.String("account", "default", "account name used for the local ledger")
	symbols := fs.String("symbols", "EURUSD", "comma separated symbols, example: EURUSD,BTCUSD")
	balance := fs.String("balance", "10000", "initial balance when no ledger exists")
	leverage := fs.String("leverage", "100", "account leverage")
	walletURL := fs.String("wallet-url", "", "wallet service base URL, empty disables sync")
	userID := fs.String("user-id", "", "wallet user id for the balance endpoint")
	syncInterval := fs.Duration("wallet-interval", 10*time.Second, "wallet sync interval")
	strategyOn := fs.Bool("strategy", false, "subscribe the sma_cross strategy on start")
	lot := fs.String("lot", "0.01", "strategy lot size")
	stateDir := fs.String("state-dir", "./state", "directory for ledger, journals and subscriptions")
	addr := fs.String("addr", ":8080", "dashboard listen address, empty disables it")
	tlsDomains := fs.String("tls-domains", "", "comma separated domains for automatic TLS")

	if err := fs.Parse(args); err != nil {
		return Config{}, opts, err
	}

	if opts.Setup {
		return Config{}, opts, nil
	}
	if opts.ConfigPath != "" {
		conf, err := getYaml(opts.ConfigPath)
		return conf, opts, err
	}

	tmp := ConfigTmp{
		Provider:       *provider,
		Account:        *account,
		Symbols:        splitList(*symbols),
		InitialBalance: *balance,
		LeverageStr:    *leverage,
		Wallet: WalletTmp{
			BaseURL:      *walletURL,
			UserID:       *userID,
			SyncInterval: *syncInterval,
		},
		Strategy: StrategyTmp{Enabled: *strategyOn, Lot: *lot},
		StateDir: *stateDir,
		Dashboard: DashboardTmp{
			Addr:       *addr,
			TLSDomains: splitList(*tlsDomains),
		},
	}

	conf, err := tmp.Parse()
	return conf, opts, err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
