package marketdata

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/pkg/retrier"
	"go.uber.org/zap"
)

// DefaultBinanceStreamURL public market stream endpoint.
const DefaultBinanceStreamURL = "wss://stream.binance.com:9443/ws"

const binanceMaxKlines = 1000

// bookTickerMessage <symbol>@bookTicker payload. T is only sent by some venues.
// The quantity fields are declared so encoding/json, which matches keys
// case-insensitively, cannot put B/A into the price fields.
type bookTickerMessage struct {
	Bid    string `json:"b"`
	BidQty string `json:"B"`
	Ask    string `json:"a"`
	AskQty string `json:"A"`
	Time   int64  `json:"T"`
}

// BinanceProvider market data from the Binance public API. No keys required.
type BinanceProvider struct {
	client    *binance.Client
	streamURL string
	backoff   *retrier.Retrier
	logger    *zap.Logger
}

// BinanceOption configures a BinanceProvider.
type BinanceOption func(*BinanceProvider)

// WithBinanceStreamURL overrides the websocket base url.
func WithBinanceStreamURL(url string) BinanceOption {
	return func(p *BinanceProvider) {
		p.streamURL = strings.TrimRight(url, "/")
	}
}

// WithBinanceBackoff overrides the reconnect backoff.
func WithBinanceBackoff(r *retrier.Retrier) BinanceOption {
	return func(p *BinanceProvider) {
		p.backoff = r
	}
}

// NewBinanceProvider creates a provider backed by client.
func NewBinanceProvider(client *binance.Client, logger *zap.Logger, opts ...BinanceOption) *BinanceProvider {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &BinanceProvider{
		client:    client,
		streamURL: DefaultBinanceStreamURL,
		backoff: retrier.New(
			retrier.WithInitialInterval(500*time.Millisecond),
			retrier.WithMaxInterval(30*time.Second),
		),
		logger: logger.With(zap.String("provider", "binance")),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Name returns the vendor name.
func (p *BinanceProvider) Name() string {
	return "binance"
}

// NormalizeSymbol maps a platform symbol to a Binance spot symbol.
func (p *BinanceProvider) NormalizeSymbol(symbol string) (string, bool) {
	return NormalizeSymbol(symbol)
}

// ConnectTicker subscribes to the best bid/ask stream of vendorSymbol.
func (p *BinanceProvider) ConnectTicker(ctx context.Context, vendorSymbol string, onTick TickHandler) (Stream, error) {
	url := p.streamURL + "/" + strings.ToLower(vendorSymbol) + "@bookTicker"
	logger := p.logger.With(zap.String("symbol", vendorSymbol))

	handle := func(payload []byte) {
		bid, ask, ts, ok := parseBookTicker(payload)
		if !ok {
			logger.Debug("skipping malformed book ticker", zap.ByteString("payload", payload))
			return
		}
		onTick(bid, ask, ts)
	}

	return dialStream(ctx, url, p.backoff, handle, logger)
}

func parseBookTicker(payload []byte) (bid, ask decimal.Decimal, ts time.Time, ok bool) {
	var msg bookTickerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return decimal.Zero, decimal.Zero, time.Time{}, false
	}

	bid, okBid := parsePrice(msg.Bid)
	ask, okAsk := parsePrice(msg.Ask)
	if !okBid || !okAsk {
		return decimal.Zero, decimal.Zero, time.Time{}, false
	}

	return bid, ask, parseMillis(msg.Time), true
}

// FetchBars fetches klines from Binance.
func (p *BinanceProvider) FetchBars(ctx context.Context, vendorSymbol string, interval domain.Interval, limit int) ([]domain.Bar, error) {
	if !interval.IsValid() {
		return nil, errors.Wrapf(domain.ErrFetch, "unsupported interval %q", interval)
	}
	if limit <= 0 || limit > binanceMaxKlines {
		limit = binanceMaxKlines
	}

	klines, err := p.client.NewKlinesService().
		Symbol(vendorSymbol).
		Interval(string(interval)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrFetch, "fetch klines from Binance for %s: %v", vendorSymbol, err)
	}

	bars := make([]domain.Bar, 0, len(klines))
	for i, k := range klines {
		bar, err := barFromKline(k)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrFetch, "kline %d for %s: %v", i, vendorSymbol, err)
		}
		bars = append(bars, bar)
	}

	return bars, nil
}

func barFromKline(k *binance.Kline) (domain.Bar, error) {
	return buildBar(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
}

func buildBar(openMs, closeMs int64, open, high, low, closePrice, volume string) (domain.Bar, error) {
	values := make([]decimal.Decimal, 5)
	for i, raw := range []string{open, high, low, closePrice, volume} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Bar{}, errors.Wrapf(err, "parse %q", raw)
		}
		values[i] = v
	}

	return domain.Bar{
		OpenTime:  time.UnixMilli(openMs),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		CloseTime: time.UnixMilli(closeMs),
	}, nil
}

// ConnectBarStream subscribes to the kline stream of vendorSymbol.
func (p *BinanceProvider) ConnectBarStream(_ context.Context, vendorSymbol string, interval domain.Interval, onBar BarHandler) (Stream, error) {
	if !interval.IsValid() {
		return nil, domain.Validationf("unsupported interval %q", interval)
	}
	logger := p.logger.With(zap.String("symbol", vendorSymbol), zap.String("interval", string(interval)))

	handler := func(event *binance.WsKlineEvent) {
		k := event.Kline
		bar, err := buildBar(k.StartTime, k.EndTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			logger.Debug("skipping malformed kline", zap.Error(err))
			return
		}
		onBar(bar, k.IsFinal)
	}
	errHandler := func(err error) {
		logger.Warn("kline stream error", zap.Error(err))
	}

	doneC, stopC, err := binance.WsKlineServe(vendorSymbol, string(interval), handler, errHandler)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrTransport, "kline stream %s: %v", vendorSymbol, err)
	}

	return &binanceKlineStream{doneC: doneC, stopC: stopC}, nil
}

type binanceKlineStream struct {
	doneC     chan struct{}
	stopC     chan struct{}
	closeOnce sync.Once
}

func (s *binanceKlineStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopC)
		<-s.doneC
	})
	return nil
}
