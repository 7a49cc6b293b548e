package marketdata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/fxdesk/internal/domain"
)

type fakeHyperliquid struct {
	mu      sync.Mutex
	mids    map[string]string
	candles []HyperliquidCandle
	err     error

	gotCoin     string
	gotInterval string
	gotStart    int64
	gotEnd      int64
}

func (f *fakeHyperliquid) AllMids(context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(f.mids))
	for k, v := range f.mids {
		out[k] = v
	}
	return out, nil
}

func (f *fakeHyperliquid) Candles(_ context.Context, coin, interval string, startMs, endMs int64) ([]HyperliquidCandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotCoin, f.gotInterval, f.gotStart, f.gotEnd = coin, interval, startMs, endMs
	if f.err != nil {
		return nil, f.err
	}
	return append([]HyperliquidCandle(nil), f.candles...), nil
}

func (f *fakeHyperliquid) setMid(coin, mid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mids[coin] = mid
}

func hlCandle(openMs int64, closePrice string) HyperliquidCandle {
	return HyperliquidCandle{
		TimeOpen:  openMs,
		TimeClose: openMs + 59_999,
		Open:      "100",
		High:      "110",
		Low:       "90",
		Close:     closePrice,
		Volume:    "12.5",
	}
}

func TestHyperliquidProvider_NormalizeSymbol(t *testing.T) {
	p := NewHyperliquidProvider(&fakeHyperliquid{}, nil)

	tests := []struct {
		in   string
		coin string
		ok   bool
	}{
		{in: "BTCUSD", coin: "BTC", ok: true},
		{in: "ethusd", coin: "ETH", ok: true},
		{in: "SOLUSD", coin: "SOL", ok: true},
		{in: "EURUSD", ok: false},
		{in: "XAUUSD", ok: false},
		{in: "USDJPY", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			coin, ok := p.NormalizeSymbol(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.coin, coin)
		})
	}
}

func TestHyperliquidProvider_FetchBars(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	fake := &fakeHyperliquid{candles: []HyperliquidCandle{
		hlCandle(now.UnixMilli()-180_000, "101"),
		hlCandle(now.UnixMilli()-120_000, "102"),
		hlCandle(now.UnixMilli()-60_000, "103"),
	}}
	p := NewHyperliquidProvider(fake, nil)
	p.now = func() time.Time { return now }

	bars, err := p.FetchBars(context.Background(), "BTC", domain.Interval1m, 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "BTC", fake.gotCoin)
	assert.Equal(t, "1m", fake.gotInterval)
	assert.Equal(t, now.UnixMilli(), fake.gotEnd)
	assert.Equal(t, now.UnixMilli()-4*60_000, fake.gotStart)

	assert.True(t, bars[0].Close.Equal(decimal.RequireFromString("102")))
	assert.True(t, bars[1].Close.Equal(decimal.RequireFromString("103")))
	assert.True(t, now.Add(-time.Minute).Equal(bars[1].OpenTime))
	assert.True(t, bars[1].Volume.Equal(decimal.RequireFromString("12.5")))
}

func TestHyperliquidProvider_FetchBarsErrors(t *testing.T) {
	fake := &fakeHyperliquid{err: errors.New("502 bad gateway")}
	p := NewHyperliquidProvider(fake, nil)

	_, err := p.FetchBars(context.Background(), "BTC", domain.Interval1m, 10)
	assert.ErrorIs(t, err, domain.ErrFetch)

	fake.err = nil
	_, err = p.FetchBars(context.Background(), "BTC", domain.Interval1m, 10)
	assert.ErrorIs(t, err, domain.ErrFetch, "empty snapshot")

	fake.candles = []HyperliquidCandle{{TimeOpen: 1, TimeClose: 2, Open: "x"}}
	_, err = p.FetchBars(context.Background(), "BTC", domain.Interval1m, 10)
	assert.ErrorIs(t, err, domain.ErrFetch)

	_, err = p.FetchBars(context.Background(), "BTC", domain.Interval("7m"), 10)
	assert.ErrorIs(t, err, domain.ErrFetch)
}

func TestHyperliquidProvider_ConnectTicker(t *testing.T) {
	fake := &fakeHyperliquid{mids: map[string]string{"BTC": "37000.5", "ETH": "2000"}}
	p := NewHyperliquidProvider(fake, nil)
	p.tickerPoll = 10 * time.Millisecond

	ticks := make(chan [2]decimal.Decimal, 16)
	stream, err := p.ConnectTicker(context.Background(), "BTC", func(bid, ask decimal.Decimal, _ time.Time) {
		ticks <- [2]decimal.Decimal{bid, ask}
	})
	require.NoError(t, err)
	defer stream.Close()

	first := <-ticks
	assert.True(t, first[0].Equal(decimal.RequireFromString("37000.5")))
	assert.True(t, first[0].Equal(first[1]), "mid quotes have no spread")

	fake.setMid("BTC", "37010")
	require.Eventually(t, func() bool {
		select {
		case tick := <-ticks:
			return tick[0].Equal(decimal.RequireFromString("37010"))
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
}

func TestHyperliquidProvider_ConnectTickerUnknownCoin(t *testing.T) {
	p := NewHyperliquidProvider(&fakeHyperliquid{mids: map[string]string{"BTC": "1"}}, nil)

	_, err := p.ConnectTicker(context.Background(), "DOGE", func(decimal.Decimal, decimal.Decimal, time.Time) {})
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestHyperliquidProvider_ConnectBarStream(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	fake := &fakeHyperliquid{candles: []HyperliquidCandle{
		hlCandle(now.UnixMilli()-60_000, "101"),
		hlCandle(now.UnixMilli(), "102"),
	}}
	p := NewHyperliquidProvider(fake, nil)
	p.now = func() time.Time { return now }
	p.barPoll = 10 * time.Millisecond

	type update struct {
		bar   domain.Bar
		final bool
	}
	updates := make(chan update, 16)
	stream, err := p.ConnectBarStream(context.Background(), "BTC", domain.Interval1m, func(bar domain.Bar, final bool) {
		updates <- update{bar, final}
	})
	require.NoError(t, err)
	defer stream.Close()

	first := <-updates
	assert.False(t, first.final)
	assert.True(t, first.bar.Close.Equal(decimal.RequireFromString("102")))

	// next bar opens; the one before it is reported final
	fake.mu.Lock()
	fake.candles = []HyperliquidCandle{hlCandle(now.UnixMilli(), "105"), hlCandle(now.UnixMilli()+60_000, "106")}
	fake.mu.Unlock()

	var final domain.Bar
	require.Eventually(t, func() bool {
		select {
		case u := <-updates:
			if u.final {
				final = u.bar
				return true
			}
		default:
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.True(t, final.Close.Equal(decimal.RequireFromString("105")))

	_, err = p.ConnectBarStream(context.Background(), "BTC", domain.Interval("2s"), func(domain.Bar, bool) {})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
