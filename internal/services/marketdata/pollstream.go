package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/vadiminshakov/fxdesk/internal/domain"
	"go.uber.org/zap"
)

// pollStream calls fn on a fixed interval until Close. Used for venues
// where only REST is wired.
type pollStream struct {
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func startPolling(interval time.Duration, fn func(ctx context.Context)) *pollStream {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pollStream{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		fn(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	return p
}

// Close stops polling and waits for an in-flight call to finish.
func (p *pollStream) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		<-p.done
	})
	return nil
}

// startBarPolling polls the two most recent bars. The latest bar is reported
// when it changes; when it rolls over, the previous bar is reported as final.
func startBarPolling(interval time.Duration, fetch func(ctx context.Context) ([]domain.Bar, error), onBar BarHandler, logger *zap.Logger) *pollStream {
	var (
		mu   sync.Mutex
		last domain.Bar
	)

	return startPolling(interval, func(ctx context.Context) {
		bars, err := fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("bar poll failed", zap.Error(err))
			}
			return
		}
		if len(bars) == 0 {
			return
		}

		mu.Lock()
		defer mu.Unlock()

		latest := bars[len(bars)-1]
		if len(bars) > 1 && last.OpenTime.Equal(bars[len(bars)-2].OpenTime) {
			// previous bar rolled over; report its final values
			onBar(bars[len(bars)-2], true)
		}
		if latest.OpenTime.Equal(last.OpenTime) && latest.Close.Equal(last.Close) && latest.Volume.Equal(last.Volume) {
			return
		}
		last = latest
		onBar(latest, false)
	})
}
