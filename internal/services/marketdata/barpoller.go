package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/vadiminshakov/fxdesk/internal/domain"
	"go.uber.org/zap"
)

const defaultBarPollInterval = 30 * time.Second

// BarFetcher subset of Provider used by BarPoller.
type BarFetcher interface {
	FetchBars(ctx context.Context, vendorSymbol string, interval domain.Interval, limit int) ([]domain.Bar, error)
}

// BarPoller refreshes a bar series on a timer. A failed refresh keeps the
// last good bars.
type BarPoller struct {
	fetcher  BarFetcher
	symbol   string
	interval domain.Interval
	limit    int
	every    time.Duration
	onUpdate func([]domain.Bar)
	logger   *zap.Logger

	mu      sync.RWMutex
	bars    []domain.Bar
	lastErr error

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewBarPoller creates a poller. onUpdate may be nil.
func NewBarPoller(
	fetcher BarFetcher,
	vendorSymbol string,
	interval domain.Interval,
	limit int,
	every time.Duration,
	onUpdate func([]domain.Bar),
	logger *zap.Logger,
) *BarPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if every <= 0 {
		every = defaultBarPollInterval
	}

	return &BarPoller{
		fetcher:  fetcher,
		symbol:   vendorSymbol,
		interval: interval,
		limit:    limit,
		every:    every,
		onUpdate: onUpdate,
		logger:   logger.With(zap.String("symbol", vendorSymbol), zap.String("interval", string(interval))),
		done:     make(chan struct{}),
	}
}

// Start launches the refresh loop. The first refresh happens immediately.
func (p *BarPoller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.run(ctx)
	})
}

func (p *BarPoller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.every)
	defer ticker.Stop()

	p.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// Refresh fetches once and returns the bars now held.
func (p *BarPoller) Refresh(ctx context.Context) []domain.Bar {
	bars, err := p.fetcher.FetchBars(ctx, p.symbol, p.interval, p.limit)

	p.mu.Lock()
	if err != nil || len(bars) == 0 {
		p.lastErr = err
		held := p.bars
		p.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			p.logger.Warn("bar refresh failed, keeping last bars", zap.Error(err))
		}
		return held
	}
	p.bars = bars
	p.lastErr = nil
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(bars)
	}

	return bars
}

// Bars returns the last good series.
func (p *BarPoller) Bars() []domain.Bar {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.Bar, len(p.bars))
	copy(out, p.bars)
	return out
}

// LastError returns the error of the most recent refresh, nil after a success.
func (p *BarPoller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Stop halts the loop and waits for it. Safe to call more than once or before Start.
func (p *BarPoller) Stop() {
	p.stopOnce.Do(func() {
		started := false
		p.startOnce.Do(func() {})
		if p.cancel != nil {
			started = true
			p.cancel()
		}
		if started {
			<-p.done
		}
	})
}
