package internal

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/services/pricefeed"
	"go.uber.org/zap"
)

type tickFeed interface {
	Subscribe(ctx context.Context, symbol string) (func(), error)
	AddListener(symbol string, fn pricefeed.Listener) func()
}

type marker interface {
	MarkToMarket(symbol string, tick domain.Tick)
}

type tickConsumer interface {
	OnTick(tick domain.Tick)
}

type watch struct {
	release func()
	remove  func()
}

// Session routes every tick of a watched symbol through mark-to-market and
// then the strategy, in that order.
type Session struct {
	feed     tickFeed
	store    marker
	strategy tickConsumer
	logger   *zap.Logger

	mu      sync.Mutex
	watches map[string]watch
	closed  bool
}

// NewSession creates a session. strategy may be nil.
func NewSession(feed tickFeed, store marker, strategy tickConsumer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		feed:     feed,
		store:    store,
		strategy: strategy,
		logger:   logger.With(zap.String("component", "session")),
		watches:  make(map[string]watch),
	}
}

// Watch subscribes symbol on the feed. Watching a symbol twice is a no-op.
func (s *Session) Watch(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return domain.Validationf("symbol is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("session closed")
	}
	if _, ok := s.watches[symbol]; ok {
		return nil
	}

	release, err := s.feed.Subscribe(ctx, symbol)
	if err != nil {
		return errors.Wrapf(err, "watch %s", symbol)
	}
	remove := s.feed.AddListener(symbol, s.onTick(symbol))

	s.watches[symbol] = watch{release: release, remove: remove}
	s.logger.Info("watching symbol", zap.String("symbol", symbol))

	return nil
}

func (s *Session) onTick(symbol string) pricefeed.Listener {
	return func(tick domain.Tick) {
		s.store.MarkToMarket(symbol, tick)
		if s.strategy != nil {
			s.strategy.OnTick(tick)
		}
	}
}

// Unwatch removes the listener and releases the feed subscription.
func (s *Session) Unwatch(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	s.mu.Lock()
	w, ok := s.watches[symbol]
	delete(s.watches, symbol)
	s.mu.Unlock()

	if !ok {
		return
	}
	w.remove()
	w.release()
	s.logger.Info("stopped watching symbol", zap.String("symbol", symbol))
}

// Symbols returns the watched symbols, sorted.
func (s *Session) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.watches))
	for symbol := range s.watches {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Close unwatches everything. Later Watch calls fail.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	watches := s.watches
	s.watches = make(map[string]watch)
	s.mu.Unlock()

	for _, w := range watches {
		w.remove()
		w.release()
	}
}
