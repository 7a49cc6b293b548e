package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/pkg/retrier"
	"go.uber.org/zap"
)

const (
	bybitMaxPerRequest   = 200
	bybitMaxBars         = 1000
	bybitTickerPoll      = time.Second
	bybitBarPoll         = 5 * time.Second
	bybitRequestInterval = 100 * time.Millisecond
)

// BybitProvider market data from the Bybit V5 public REST API. Live data is polled.
type BybitProvider struct {
	client  *bybit.Client
	retrier *retrier.Retrier
	logger  *zap.Logger

	tickerPoll time.Duration
	barPoll    time.Duration
}

// NewBybitProvider creates a provider backed by client.
func NewBybitProvider(client *bybit.Client, logger *zap.Logger) *BybitProvider {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BybitProvider{
		client: client,
		retrier: retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(200*time.Millisecond),
		),
		logger:     logger.With(zap.String("provider", "bybit")),
		tickerPoll: bybitTickerPoll,
		barPoll:    bybitBarPoll,
	}
}

// Name returns the vendor name.
func (p *BybitProvider) Name() string {
	return "bybit"
}

// NormalizeSymbol maps a platform symbol to a Bybit spot symbol.
func (p *BybitProvider) NormalizeSymbol(symbol string) (string, bool) {
	return NormalizeSymbol(symbol)
}

// ConnectTicker polls the spot ticker for best bid/ask.
func (p *BybitProvider) ConnectTicker(ctx context.Context, vendorSymbol string, onTick TickHandler) (Stream, error) {
	// first fetch surfaces unknown symbols to the caller
	bid, ask, err := p.bestBidAsk(ctx, vendorSymbol)
	if err != nil {
		return nil, err
	}
	onTick(bid, ask, time.Now())

	logger := p.logger.With(zap.String("symbol", vendorSymbol))
	return startPolling(p.tickerPoll, func(ctx context.Context) {
		bid, ask, err := p.bestBidAsk(ctx, vendorSymbol)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("ticker poll failed", zap.Error(err))
			}
			return
		}
		onTick(bid, ask, time.Now())
	}), nil
}

func (p *BybitProvider) bestBidAsk(ctx context.Context, vendorSymbol string) (decimal.Decimal, decimal.Decimal, error) {
	symbol := bybit.SymbolV5(vendorSymbol)

	result, err := retrier.DoWithData(p.retrier, ctx, func(context.Context) (*bybit.V5GetTickersResponse, error) {
		return p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   &symbol,
		})
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, errors.Wrapf(domain.ErrTransport, "bybit tickers %s: %v", vendorSymbol, err)
	}
	if result == nil || result.Result.Spot == nil || len(result.Result.Spot.List) == 0 {
		return decimal.Zero, decimal.Zero, errors.Wrapf(domain.ErrTransport, "bybit API returned empty ticker for %s", vendorSymbol)
	}

	item := result.Result.Spot.List[0]
	bid, okBid := parsePrice(item.Bid1Price)
	ask, okAsk := parsePrice(item.Ask1Price)
	if !okBid || !okAsk {
		return decimal.Zero, decimal.Zero, errors.Wrapf(domain.ErrTransport, "bybit ticker for %s has no quotes", vendorSymbol)
	}

	return bid, ask, nil
}

// FetchBars fetches klines in batches of 200 and returns them oldest first.
func (p *BybitProvider) FetchBars(ctx context.Context, vendorSymbol string, interval domain.Interval, limit int) ([]domain.Bar, error) {
	if limit <= 0 || limit > bybitMaxBars {
		limit = bybitMaxBars
	}

	bybitInterval, err := convertIntervalToBybit(string(interval))
	if err != nil {
		return nil, errors.Wrapf(domain.ErrFetch, "invalid interval %s: %v", interval, err)
	}

	symbol := bybit.SymbolV5(vendorSymbol)

	var items []bybit.V5GetKlineItem
	var end *int64
	remaining := limit

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(domain.ErrFetch, "fetch klines for %s: %v", vendorSymbol, err)
		}

		batchSize := remaining
		if batchSize > bybitMaxPerRequest {
			batchSize = bybitMaxPerRequest
		}

		result, err := p.client.V5().Market().GetKline(bybit.V5GetKlineParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   symbol,
			Interval: bybit.Interval(bybitInterval),
			End:      end,
			Limit:    &batchSize,
		})
		if err != nil {
			return nil, errors.Wrapf(domain.ErrFetch, "fetch klines from Bybit for %s: %v", vendorSymbol, err)
		}
		if result == nil {
			return nil, errors.Wrapf(domain.ErrFetch, "empty result from Bybit API for %s", vendorSymbol)
		}

		batch := result.Result.List
		if len(batch) == 0 {
			break
		}
		// bybit returns newest first; each batch continues further back
		items = append(items, batch...)

		if len(batch) < batchSize {
			break
		}
		remaining -= len(batch)

		oldest, err := parseTimestamp(batch[len(batch)-1].StartTime)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrFetch, "kline start time for %s: %v", vendorSymbol, err)
		}
		next := oldest.UnixMilli() - 1
		end = &next

		if remaining > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrapf(domain.ErrFetch, "fetch klines for %s: %v", vendorSymbol, ctx.Err())
			case <-time.After(bybitRequestInterval):
			}
		}
	}

	if len(items) == 0 {
		return nil, errors.Wrapf(domain.ErrFetch, "no kline data returned from Bybit for %s", vendorSymbol)
	}

	return barsFromBybit(items, interval)
}

// barsFromBybit converts newest-first items into oldest-first bars.
func barsFromBybit(items []bybit.V5GetKlineItem, interval domain.Interval) ([]domain.Bar, error) {
	bars := make([]domain.Bar, len(items))
	for i, k := range items {
		openTime, err := parseTimestamp(k.StartTime)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrFetch, "parse start time at index %d: %v", i, err)
		}
		closeMs := openTime.Add(interval.Duration()).UnixMilli() - 1

		bar, err := buildBar(openTime.UnixMilli(), closeMs, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrFetch, "kline at index %d: %v", i, err)
		}
		bars[len(items)-1-i] = bar
	}

	return bars, nil
}

// ConnectBarStream polls the most recent kline and reports it when it changes.
func (p *BybitProvider) ConnectBarStream(_ context.Context, vendorSymbol string, interval domain.Interval, onBar BarHandler) (Stream, error) {
	if _, err := convertIntervalToBybit(string(interval)); err != nil {
		return nil, domain.Validationf("unsupported interval %q", interval)
	}
	logger := p.logger.With(zap.String("symbol", vendorSymbol), zap.String("interval", string(interval)))

	return startBarPolling(p.barPoll, func(ctx context.Context) ([]domain.Bar, error) {
		return p.FetchBars(ctx, vendorSymbol, interval, 2)
	}, onBar, logger), nil
}

// convertIntervalToBybit converts standard interval format to Bybit format.
// Standard format: "1m", "5m", "15m", "1h", "4h", "1d", etc.
// Bybit format: "1", "5", "15", "60", "240", "D", etc.
func convertIntervalToBybit(interval string) (string, error) {
	if len(interval) < 2 {
		return "", fmt.Errorf("invalid interval format: %s", interval)
	}

	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid interval number: %s", interval)
	}

	switch unit {
	case 'm':
		return strconv.Itoa(n), nil
	case 'h':
		return strconv.Itoa(n * 60), nil
	case 'd', 'D':
		return "D", nil
	case 'w', 'W':
		return "W", nil
	default:
		return "", fmt.Errorf("unsupported interval unit: %c", unit)
	}
}

// parseTimestamp converts Bybit timestamp string (milliseconds) to time.Time.
func parseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	msec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse timestamp: %s", ts)
	}

	return time.UnixMilli(msec), nil
}
