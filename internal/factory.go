package internal

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fxdesk/config"
	"github.com/vadiminshakov/fxdesk/internal/clients"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/events"
	"github.com/vadiminshakov/fxdesk/internal/services/marketdata"
	"github.com/vadiminshakov/fxdesk/internal/services/pricefeed"
	"github.com/vadiminshakov/fxdesk/internal/services/strategy"
	"github.com/vadiminshakov/fxdesk/internal/services/trading"
	"github.com/vadiminshakov/fxdesk/internal/services/wallet"
	"github.com/vadiminshakov/fxdesk/internal/storage/journal"
	"github.com/vadiminshakov/fxdesk/internal/storage/ledger"
	"github.com/vadiminshakov/fxdesk/internal/storage/subscriptions"
	"github.com/vadiminshakov/fxdesk/internal/web"
)

const (
	chartInterval = domain.Interval1m
	chartBars     = 200
)

// NewDesk builds a desk for the configured market data provider.
func NewDesk(conf config.Config, logger *zap.Logger) (*Desk, error) {
	client, err := newVendorClient(conf.Provider)
	if err != nil {
		return nil, err
	}
	provider, err := newMarketDataProvider(client, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create market data provider")
	}

	return newDesk(conf, provider, logger)
}

func newDesk(conf config.Config, provider marketdata.Provider, logger *zap.Logger) (*Desk, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("account", conf.Account), zap.String("provider", provider.Name()))

	d := &Desk{
		conf:      conf,
		logger:    logger,
		provider:  provider,
		tradeBus:  events.NewBroadcaster[domain.TradeEvent](64),
		walletBus: events.NewBroadcaster[domain.WalletSnapshotRecord](16),
		pollers:   make(map[string]*marketdata.BarPoller),
	}

	var err error
	if d.ledger, err = ledger.NewStore(filepath.Join(conf.StateDir, "ledger"), conf.Account); err != nil {
		return nil, errors.Wrap(err, "failed to open ledger")
	}
	if d.trades, err = journal.NewWALStore[domain.TradeEvent](filepath.Join(conf.StateDir, "journal", "trades"), "trade_"); err != nil {
		return nil, errors.Wrap(err, "failed to open trade journal")
	}
	if d.wallets, err = journal.NewWALStore[domain.WalletSnapshot](filepath.Join(conf.StateDir, "journal", "wallet"), "wallet_"); err != nil {
		_ = d.trades.Close()
		return nil, errors.Wrap(err, "failed to open wallet journal")
	}
	if d.subs, err = subscriptions.Open(filepath.Join(conf.StateDir, "subscriptions.json")); err != nil {
		d.closeJournals()
		return nil, errors.Wrap(err, "failed to load subscriptions")
	}

	d.store = trading.NewStore(
		trading.Config{
			InitialBalance: conf.InitialBalance,
			Leverage:       conf.Leverage,
			Instruments:    instrumentTable(conf, provider),
		},
		logger,
		trading.WithAccountSource(d.ledger),
		trading.WithPersister(d.ledger),
		trading.WithJournal(d.trades),
		trading.WithTradeHook(d.tradeBus.Publish),
	)

	rule := strategy.SMACross{
		Short: conf.Strategy.ShortWindow,
		Long:  conf.Strategy.LongWindow,
		Upper: conf.Strategy.UpperThreshold,
		Lower: conf.Strategy.LowerThreshold,
	}
	if err := rule.Validate(); err != nil {
		d.closeJournals()
		return nil, errors.Wrap(err, "invalid strategy settings")
	}
	d.engine = strategy.NewEngine(
		strategy.Config{
			Lot:            conf.Strategy.Lot,
			BracketPercent: conf.Strategy.BracketPercent,
			BufferSize:     conf.Strategy.BufferSize,
		},
		rule, d.store, d.store, d.subs, logger,
	)

	d.feed = pricefeed.NewFeed(provider, logger)
	d.session = NewSession(d.feed, d.store, d.engine, logger)

	if conf.Wallet.BaseURL != "" {
		d.sync = wallet.NewSynchronizer(
			clients.NewWalletClient(conf.Wallet.BaseURL, conf.Wallet.Token),
			d.store,
			logger,
			wallet.WithInterval(conf.Wallet.SyncInterval),
			wallet.WithUserID(func() string { return conf.Wallet.UserID }),
			wallet.WithJournal(d.wallets),
			wallet.WithPublisher(d.walletBus),
		)
	}

	for _, symbol := range conf.Symbols {
		vendor, ok := provider.NormalizeSymbol(symbol)
		if !ok {
			continue
		}
		d.pollers[symbol] = marketdata.NewBarPoller(provider, vendor, chartInterval, chartBars, 0, nil, logger)
	}

	if conf.Dashboard.Addr != "" {
		caches := make(map[string]web.BarCache, len(d.pollers))
		for symbol, p := range d.pollers {
			caches[symbol] = p
		}
		d.server = web.NewServer(conf.Dashboard.Addr, web.Deps{
			Desk:             d.store,
			Ticks:            d.feed,
			Bars:             provider,
			Strategies:       d.subs,
			WalletJournal:    d.wallets,
			TradeJournal:     d.trades,
			WalletUpdates:    d.walletBus,
			TradeUpdates:     d.tradeBus,
			Symbols:          d.session.Symbols,
			BarCaches:        caches,
			BarCacheInterval: chartInterval,
		}, logger)
	}

	return d, nil
}

// instrumentTable limits trading to configured instruments and the symbols the
// provider can feed. Configured entries keep their contract size and limits.
func instrumentTable(conf config.Config, provider marketdata.Provider) domain.Instruments {
	table := make(domain.Instruments, len(conf.Instruments)+len(conf.Symbols))
	for symbol, inst := range conf.Instruments {
		table[symbol] = inst
	}
	for _, raw := range conf.Symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if _, ok := table[symbol]; ok {
			continue
		}
		if _, ok := provider.NormalizeSymbol(symbol); !ok {
			continue
		}
		table[symbol] = domain.Instrument{
			Symbol:       symbol,
			ContractSize: decimal.NewFromInt(domain.DefaultContractSize),
		}
	}

	return table
}

func (d *Desk) closeJournals() {
	if err := d.trades.Close(); err != nil {
		d.logger.Warn("failed to close trade journal", zap.Error(err))
	}
	if err := d.wallets.Close(); err != nil {
		d.logger.Warn("failed to close wallet journal", zap.Error(err))
	}
}
