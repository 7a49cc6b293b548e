package internal

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/fxdesk/config"
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

// Desk one trading account: live prices, positions, wallet sync and dashboard.
type Desk struct {
	conf   config.Config
	logger *zap.Logger

	provider marketdata.Provider
	feed     *pricefeed.Feed
	store    *trading.Store
	engine   *strategy.Engine
	session  *Session
	sync     *wallet.Synchronizer
	pollers  map[string]*marketdata.BarPoller
	server   *web.Server

	ledger  *ledger.Store
	trades  *journal.WALStore[domain.TradeEvent]
	wallets *journal.WALStore[domain.WalletSnapshot]
	subs    *subscriptions.Store

	tradeBus  *events.Broadcaster[domain.TradeEvent]
	walletBus *events.Broadcaster[domain.WalletSnapshotRecord]

	closeOnce sync.Once
}

// Store exposes the trading state.
func (d *Desk) Store() *trading.Store { return d.store }

// Session exposes the symbol routing.
func (d *Desk) Session() *Session { return d.session }

// Run restores state, watches the configured symbols and blocks until ctx is
// done or a component fails. Everything is released on return.
func (d *Desk) Run(ctx context.Context) error {
	defer d.Close()

	if err := d.store.LoadPositions(ctx); err != nil {
		return errors.Wrap(err, "failed to restore positions")
	}

	if d.conf.Strategy.Enabled && !d.subs.IsSubscribed(d.conf.Strategy.ID) {
		if err := d.subs.Subscribe(d.conf.Strategy.ID); err != nil {
			return errors.Wrap(err, "failed to subscribe strategy")
		}
	}

	watched := 0
	for _, symbol := range d.conf.Symbols {
		if err := d.session.Watch(ctx, symbol); err != nil {
			d.logger.Error("symbol not watched", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		watched++
	}
	if watched == 0 {
		return errors.New("no symbol could be watched")
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, p := range d.pollers {
		p.Start(ctx)
	}

	if d.sync != nil {
		g.Go(func() error { return d.sync.Run(ctx) })
	}

	if d.server != nil {
		g.Go(func() error {
			if len(d.conf.Dashboard.TLSDomains) > 0 {
				return d.server.StartWithAutoTLS(ctx, d.conf.Dashboard.TLSDomains, d.conf.Dashboard.CertDir)
			}
			return d.server.Start(ctx)
		})
	}

	d.logger.Info("desk started",
		zap.Strings("symbols", d.session.Symbols()),
		zap.String("balance", d.store.Balance().String()),
		zap.Int("open_positions", len(d.store.OpenPositions())),
	)

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	d.logger.Info("desk stopped")
	return nil
}

// Close releases streams, pollers and journals. Safe to call more than once.
func (d *Desk) Close() {
	d.closeOnce.Do(func() {
		d.session.Close()
		d.feed.Close()
		for _, p := range d.pollers {
			p.Stop()
		}
		if d.sync != nil {
			d.sync.Stop()
		}
		d.tradeBus.Close()
		d.walletBus.Close()
		d.closeJournals()
	})
}
