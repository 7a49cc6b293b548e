package marketdata

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"go.uber.org/zap"
)

const (
	hyperliquidMaxBars    = 5000
	hyperliquidTickerPoll = time.Second
	hyperliquidBarPoll    = 5 * time.Second
)

// HyperliquidCandle candle fields read from the info endpoint.
type HyperliquidCandle struct {
	TimeOpen  int64
	TimeClose int64
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
}

// HyperliquidInfo public info endpoints of Hyperliquid.
type HyperliquidInfo interface {
	// AllMids returns mid prices keyed by coin ("BTC").
	AllMids(ctx context.Context) (map[string]string, error)
	Candles(ctx context.Context, coin, interval string, startMs, endMs int64) ([]HyperliquidCandle, error)
}

// fiat and tokenized gold have no Hyperliquid perp
var hyperliquidUnlisted = map[string]struct{}{
	"EUR":  {},
	"GBP":  {},
	"AUD":  {},
	"PAXG": {},
}

// HyperliquidProvider market data from the Hyperliquid info API. Quotes are
// mids, so ticks carry bid == ask.
type HyperliquidProvider struct {
	info   HyperliquidInfo
	logger *zap.Logger
	now    func() time.Time

	tickerPoll time.Duration
	barPoll    time.Duration
}

// NewHyperliquidProvider creates a provider backed by info.
func NewHyperliquidProvider(info HyperliquidInfo, logger *zap.Logger) *HyperliquidProvider {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HyperliquidProvider{
		info:       info,
		logger:     logger.With(zap.String("provider", "hyperliquid")),
		now:        time.Now,
		tickerPoll: hyperliquidTickerPoll,
		barPoll:    hyperliquidBarPoll,
	}
}

// Name returns the vendor name.
func (p *HyperliquidProvider) Name() string {
	return "hyperliquid"
}

// NormalizeSymbol maps a platform symbol to a Hyperliquid coin (BTCUSD -> BTC).
func (p *HyperliquidProvider) NormalizeSymbol(symbol string) (string, bool) {
	vendor, ok := NormalizeSymbol(symbol)
	if !ok {
		return "", false
	}

	coin := strings.TrimSuffix(vendor, "USDT")
	if _, unlisted := hyperliquidUnlisted[coin]; unlisted {
		return "", false
	}

	return coin, true
}

func (p *HyperliquidProvider) mid(ctx context.Context, coin string) (string, error) {
	mids, err := p.info.AllMids(ctx)
	if err != nil {
		return "", errors.Wrapf(domain.ErrTransport, "hyperliquid mids: %v", err)
	}

	mid, ok := mids[coin]
	if !ok || mid == "" {
		return "", errors.Wrapf(domain.ErrTransport, "hyperliquid returned no mid for %s", coin)
	}

	return mid, nil
}

// ConnectTicker polls all mids and reports the one for coin.
func (p *HyperliquidProvider) ConnectTicker(ctx context.Context, coin string, onTick TickHandler) (Stream, error) {
	// first fetch surfaces unknown coins to the caller
	if _, err := p.mid(ctx, coin); err != nil {
		return nil, err
	}

	logger := p.logger.With(zap.String("symbol", coin))
	return startPolling(p.tickerPoll, func(ctx context.Context) {
		raw, err := p.mid(ctx, coin)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("mid poll failed", zap.Error(err))
			}
			return
		}

		mid, ok := parsePrice(raw)
		if !ok {
			logger.Debug("skipping malformed mid", zap.String("mid", raw))
			return
		}
		onTick(mid, mid, p.now())
	}), nil
}

// FetchBars requests a candle snapshot covering limit bars back from now.
func (p *HyperliquidProvider) FetchBars(ctx context.Context, coin string, interval domain.Interval, limit int) ([]domain.Bar, error) {
	if !interval.IsValid() {
		return nil, errors.Wrapf(domain.ErrFetch, "unsupported interval %q", interval)
	}
	if limit <= 0 || limit > hyperliquidMaxBars {
		limit = hyperliquidMaxBars
	}

	endMs := p.now().UnixMilli()
	// two extra bars of slack for the open bar and rounding
	startMs := endMs - int64(limit+2)*interval.Duration().Milliseconds()

	candles, err := p.info.Candles(ctx, coin, string(interval), startMs, endMs)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrFetch, "fetch candles from Hyperliquid for %s: %v", coin, err)
	}
	if len(candles) == 0 {
		return nil, errors.Wrapf(domain.ErrFetch, "no candles from Hyperliquid for %s %s", coin, interval)
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	bars := make([]domain.Bar, 0, len(candles))
	for i, c := range candles {
		bar, err := buildBar(c.TimeOpen, c.TimeClose, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrFetch, "candle %d for %s: %v", i, coin, err)
		}
		bars = append(bars, bar)
	}

	return bars, nil
}

// ConnectBarStream polls the latest candles and reports changes.
func (p *HyperliquidProvider) ConnectBarStream(_ context.Context, coin string, interval domain.Interval, onBar BarHandler) (Stream, error) {
	if !interval.IsValid() {
		return nil, domain.Validationf("unsupported interval %q", interval)
	}
	logger := p.logger.With(zap.String("symbol", coin), zap.String("interval", string(interval)))

	return startBarPolling(p.barPoll, func(ctx context.Context) ([]domain.Bar, error) {
		return p.FetchBars(ctx, coin, interval, 2)
	}, onBar, logger), nil
}
