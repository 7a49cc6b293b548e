// Package pricefeed keeps the latest bid/ask per symbol and notifies listeners on every tick.
package pricefeed

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/services/marketdata"
	"go.uber.org/zap"
)

// ErrClosed returned by Subscribe after Close.
var ErrClosed = errors.New("price feed closed")

// TickerSource subset of marketdata.Provider the feed needs.
type TickerSource interface {
	NormalizeSymbol(symbol string) (string, bool)
	ConnectTicker(ctx context.Context, vendorSymbol string, onTick marketdata.TickHandler) (marketdata.Stream, error)
}

// Listener receives ticks for one symbol.
type Listener func(tick domain.Tick)

type subscription struct {
	vendor string
	refs   int
	stream marketdata.Stream
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Feed live symbol -> tick map. One instance per process, passed to consumers.
type Feed struct {
	source TickerSource
	logger *zap.Logger

	// subMu guards subscriptions and may be held while dialing.
	subMu  sync.Mutex
	subs   map[string]*subscription
	closed bool

	mu        sync.RWMutex
	ticks     map[string]domain.Tick
	listeners map[string][]listenerEntry
	nextID    uint64

	// dispatchMu makes deliveries one at a time across all symbols.
	dispatchMu sync.Mutex
}

// NewFeed creates a feed backed by source.
func NewFeed(source TickerSource, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Feed{
		source:    source,
		logger:    logger.With(zap.String("component", "pricefeed")),
		subs:      make(map[string]*subscription),
		ticks:     make(map[string]domain.Tick),
		listeners: make(map[string][]listenerEntry),
	}
}

func key(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Subscribe acquires a live stream for symbol. The first acquire opens the
// vendor stream, later ones share it. The returned release is idempotent and
// the last release closes the stream.
func (f *Feed) Subscribe(ctx context.Context, symbol string) (func(), error) {
	k := key(symbol)

	f.subMu.Lock()
	defer f.subMu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	sub, ok := f.subs[k]
	if !ok {
		vendor, supported := f.source.NormalizeSymbol(k)
		if !supported {
			return nil, domain.Validationf("no live feed available for %s", symbol)
		}

		stream, err := f.source.ConnectTicker(ctx, vendor, func(bid, ask decimal.Decimal, ts time.Time) {
			f.Publish(k, bid, ask, ts)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "connect ticker for %s", symbol)
		}

		sub = &subscription{vendor: vendor, stream: stream}
		f.subs[k] = sub
		f.logger.Info("symbol subscribed", zap.String("symbol", k), zap.String("vendor_symbol", vendor))
	}
	sub.refs++

	var once sync.Once
	return func() {
		once.Do(func() { f.release(k, sub) })
	}, nil
}

func (f *Feed) release(k string, sub *subscription) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	current, ok := f.subs[k]
	if !ok || current != sub {
		return
	}

	sub.refs--
	if sub.refs > 0 {
		return
	}

	delete(f.subs, k)
	if err := sub.stream.Close(); err != nil {
		f.logger.Warn("failed to close stream", zap.String("symbol", k), zap.Error(err))
	}
	f.logger.Info("symbol released", zap.String("symbol", k))
}

// AddListener registers fn for symbol. Listeners run in registration order.
// The returned remove is idempotent.
func (f *Feed) AddListener(symbol string, fn Listener) func() {
	k := key(symbol)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners[k] = append(f.listeners[k], listenerEntry{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()

			entries := f.listeners[k]
			for i, e := range entries {
				if e.id == id {
					f.listeners[k] = append(entries[:i:i], entries[i+1:]...)
					break
				}
			}
			if len(f.listeners[k]) == 0 {
				delete(f.listeners, k)
			}
		})
	}
}

// Tick returns the last tick for symbol.
func (f *Feed) Tick(symbol string) (domain.Tick, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	t, ok := f.ticks[key(symbol)]
	return t, ok
}

// Publish stores a tick and notifies listeners. Non-positive prices are dropped.
func (f *Feed) Publish(symbol string, bid, ask decimal.Decimal, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	tick := domain.Tick{Symbol: key(symbol), Bid: bid, Ask: ask, Timestamp: ts}
	if err := tick.Validate(); err != nil {
		f.logger.Debug("dropping tick", zap.String("symbol", tick.Symbol), zap.Error(err))
		return
	}

	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	f.mu.Lock()
	f.ticks[tick.Symbol] = tick
	entries := append([]listenerEntry(nil), f.listeners[tick.Symbol]...)
	f.mu.Unlock()

	for _, e := range entries {
		f.notify(e.fn, tick)
	}
}

func (f *Feed) notify(fn Listener, tick domain.Tick) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("tick listener panicked", zap.String("symbol", tick.Symbol), zap.Any("panic", r))
		}
	}()
	fn(tick)
}

// Symbols returns the symbols with an active stream.
func (f *Feed) Symbols() []string {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	out := make([]string, 0, len(f.subs))
	for k := range f.subs {
		out = append(out, k)
	}
	return out
}

// Close releases every stream. Safe to call more than once.
func (f *Feed) Close() {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	if f.closed {
		return
	}
	f.closed = true

	for k, sub := range f.subs {
		if err := sub.stream.Close(); err != nil {
			f.logger.Warn("failed to close stream", zap.String("symbol", k), zap.Error(err))
		}
		delete(f.subs, k)
	}
}
