package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/events"
	"github.com/vadiminshakov/fxdesk/internal/services/marketdata"
	"github.com/vadiminshakov/fxdesk/internal/services/trading"
	"github.com/vadiminshakov/fxdesk/internal/storage/journal"
	"github.com/vadiminshakov/fxdesk/internal/storage/subscriptions"
)

type fakeTicks map[string]domain.Tick

func (f fakeTicks) Tick(symbol string) (domain.Tick, bool) {
	t, ok := f[strings.ToUpper(symbol)]
	return t, ok
}

type fakeStream struct{}

func (fakeStream) Close() error { return nil }

type fakeBars struct {
	bars []domain.Bar
	err  error
}

func (f *fakeBars) NormalizeSymbol(symbol string) (string, bool) {
	return marketdata.NormalizeSymbol(symbol)
}

func (f *fakeBars) FetchBars(_ context.Context, _ string, _ domain.Interval, limit int) ([]domain.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.bars) {
		return f.bars[len(f.bars)-limit:], nil
	}
	return f.bars, nil
}

func (f *fakeBars) ConnectBarStream(_ context.Context, _ string, _ domain.Interval, onBar marketdata.BarHandler) (marketdata.Stream, error) {
	go onBar(f.bars[len(f.bars)-1], true)
	return fakeStream{}, nil
}

type fixture struct {
	srv    *httptest.Server
	store  *trading.Store
	trades *journal.WALStore[domain.TradeEvent]
	subs   *subscriptions.Store
	bars   *fakeBars
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	trades, err := journal.NewWALStore[domain.TradeEvent](t.TempDir(), "trade_")
	require.NoError(t, err)
	t.Cleanup(func() { _ = trades.Close() })

	wallets, err := journal.NewWALStore[domain.WalletSnapshot](t.TempDir(), "wallet_")
	require.NoError(t, err)
	t.Cleanup(func() { _ = wallets.Close() })

	tradeBus := events.NewBroadcaster[domain.TradeEvent](8)
	store := trading.NewStore(
		trading.Config{InitialBalance: decimal.NewFromInt(10000)},
		nil,
		trading.WithJournal(trades),
		trading.WithTradeHook(tradeBus.Publish),
	)

	subs, err := subscriptions.Open("")
	require.NoError(t, err)
	require.NoError(t, subs.Set("sma_cross", false))

	bars := &fakeBars{}
	for i := 0; i < 30; i++ {
		price := decimal.NewFromInt(int64(100 + i))
		bars.bars = append(bars.bars, domain.Bar{
			OpenTime: time.Unix(int64(i*60), 0), Open: price, High: price, Low: price, Close: price,
		})
	}

	ticks := fakeTicks{"EURUSD": {
		Symbol: "EURUSD", Bid: decimal.RequireFromString("1.2000"), Ask: decimal.RequireFromString("1.2002"), Timestamp: time.Now(),
	}}

	s := NewServer(":0", Deps{
		Desk:          store,
		Ticks:         ticks,
		Bars:          bars,
		Strategies:    subs,
		WalletJournal: wallets,
		TradeJournal:  trades,
		TradeUpdates:  tradeBus,
		Symbols:       func() []string { return []string{"EURUSD"} },
	}, nil)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, store: store, trades: trades, subs: subs, bars: bars}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf strings.Builder
	_, _ = bufio.NewReader(resp.Body).WriteTo(&buf)
	return resp, []byte(buf.String())
}

func TestServer_OrderLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/orders",
		`{"symbol":"eurusd","side":"buy","lot":"0.1","price":"1.1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var pos domain.Position
	require.NoError(t, json.Unmarshal(body, &pos))
	assert.Equal(t, "EURUSD", pos.Symbol)
	assert.Equal(t, domain.SideBuy, pos.Side)

	resp, body = f.do(t, http.MethodPatch, "/positions/"+pos.ID, `{"stop_loss":"1.05","take_profit":"1.2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodGet, "/positions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var positions positionsResponse
	require.NoError(t, json.Unmarshal(body, &positions))
	require.Len(t, positions.Open, 1)
	assert.True(t, decimal.RequireFromString("1.05").Equal(positions.Open[0].StopLoss))
	assert.Empty(t, positions.Closed)

	resp, _ = f.do(t, http.MethodPost, "/positions/"+pos.ID+"/close", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/positions/"+pos.ID+"/close", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_OrderValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"zero lot", `{"symbol":"EURUSD","side":"BUY","lot":"0","price":"1.1"}`},
		{"bad side", `{"symbol":"EURUSD","side":"HOLD","lot":"1","price":"1.1"}`},
		{"unknown field", `{"symbol":"EURUSD","side":"BUY","lot":"1","qty":"1"}`},
		{"not json", `lot=1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, "/orders", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, f.store.OpenPositions())
}

func TestServer_PendingOrders(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/orders",
		`{"symbol":"EURUSD","side":"BUY","type":"limit","lot":"1","price":"1.05"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var order domain.PendingOrder
	require.NoError(t, json.Unmarshal(body, &order))

	resp, body = f.do(t, http.MethodGet, "/orders/pending", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), order.ID)

	resp, _ = f.do(t, http.MethodDelete, "/orders/"+order.ID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, f.store.PendingOrders())
}

func TestServer_WalletAndIndex(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/wallet", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var wallet domain.WalletSnapshot
	require.NoError(t, json.Unmarshal(body, &wallet))
	assert.True(t, decimal.NewFromInt(10000).Equal(wallet.Balance))

	resp, body = f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "10000.00")
	assert.Contains(t, string(body), "EURUSD")

	resp, _ = f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Tick(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/ticks/eurusd", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Bid decimal.Decimal `json:"bid"`
		Mid decimal.Decimal `json:"mid"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.True(t, decimal.RequireFromString("1.2001").Equal(got.Mid))

	resp, _ = f.do(t, http.MethodGet, "/ticks/GBPUSD", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Bars(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/bars?symbol=BTCUSD&interval=1h&limit=10&sma=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got barsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, domain.Interval1h, got.Interval)
	assert.Len(t, got.Bars, 10)
	assert.Len(t, got.SMA, 6)

	resp, _ = f.do(t, http.MethodGet, "/bars?symbol=USDJPY", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/bars?symbol=EURUSD&interval=7m", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/bars?symbol=EURUSD&limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.bars.err = errors.Wrap(domain.ErrFetch, "vendor down")
	resp, _ = f.do(t, http.MethodGet, "/bars?symbol=EURUSD", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestServer_BarsOverlays(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/bars?symbol=BTCUSD&interval=1h&limit=10&ema=5&rsi=3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got barsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Empty(t, got.SMA)
	require.Len(t, got.EMA, 6)
	require.Len(t, got.RSI, 7)
	// closes rise by one per bar, so the EMA lags the last close and RSI is pinned
	last := got.Bars[len(got.Bars)-1].Close
	assert.True(t, got.EMA[5].LessThan(last))
	assert.True(t, got.EMA[5].GreaterThan(got.EMA[0]))
	assert.True(t, got.RSI[6].Equal(decimal.NewFromInt(100)))

	// too few bars omits the series
	resp, body = f.do(t, http.MethodGet, "/bars?symbol=BTCUSD&limit=3&ema=20", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = barsResponse{}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Empty(t, got.EMA)

	resp, _ = f.do(t, http.MethodGet, "/bars?symbol=BTCUSD&rsi=0", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/bars?symbol=BTCUSD&ema=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Strategies(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/strategies/sma_cross", `{"subscribed":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, f.subs.IsSubscribed("sma_cross"))

	resp, body = f.do(t, http.MethodGet, "/strategies", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var views []strategyView
	require.NoError(t, json.Unmarshal(body, &views))
	assert.Equal(t, []strategyView{{ID: "sma_cross", Subscribed: true}}, views)

	resp, _ = f.do(t, http.MethodPut, "/strategies/sma_cross", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// readEvent reads SSE lines until an event with the given name has its data line.
func readEvent(t *testing.T, r *bufio.Reader, name string) string {
	t.Helper()
	matched := false
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "event: "+name:
			matched = true
		case matched && strings.HasPrefix(line, "data: "):
			return strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestServer_TradeStream(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.OpenMarketOrder(domain.OrderIntent{
		Symbol: "EURUSD", Side: domain.SideBuy, Lot: decimal.NewFromInt(1), Price: decimal.RequireFromString("1.1"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/trades/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	reader := bufio.NewReader(resp.Body)

	var ev domain.TradeEvent
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, reader, "trade")), &ev))
	assert.Equal(t, domain.TradeOpened, ev.Action)

	// a live close is pushed without waiting for the poll
	_, err = f.store.ClosePosition(ev.ID)
	require.NoError(t, err)

	require.NoError(t, json.Unmarshal([]byte(readEvent(t, reader, "trade")), &ev))
	assert.Equal(t, domain.TradeClosed, ev.Action)
}

func TestServer_WalletStreamResumesAfterLastEventID(t *testing.T) {
	wallets, err := journal.NewWALStore[domain.WalletSnapshot](t.TempDir(), "wallet_")
	require.NoError(t, err)
	defer wallets.Close()

	for _, b := range []int64{1, 2, 3} {
		_, err := wallets.Append("wallet", domain.NewWalletSnapshot(decimal.NewFromInt(b), nil, nil, nil, time.Now()))
		require.NoError(t, err)
	}

	srv := httptest.NewServer(NewServer(":0", Deps{WalletJournal: wallets}, nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/wallet/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "2")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap domain.WalletSnapshot
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, bufio.NewReader(resp.Body), "wallet")), &snap))
	assert.True(t, decimal.NewFromInt(3).Equal(snap.Balance))
}

func TestServer_BarStream(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/bars/stream?symbol=BTCUSD", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var ev barEvent
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, bufio.NewReader(resp.Body), "bar")), &ev))
	assert.True(t, ev.Final)
	assert.True(t, decimal.NewFromInt(129).Equal(ev.Close))
}

func TestServer_Unavailable(t *testing.T) {
	srv := httptest.NewServer(NewServer(":0", Deps{}, nil).Handler())
	defer srv.Close()

	for _, path := range []string{"/wallet", "/positions", "/strategies", "/wallet/stream", "/trades/stream", "/bars?symbol=EURUSD"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, uint64(7), parseLastEventID("7", "9"))
	assert.Equal(t, uint64(9), parseLastEventID("", "9"))
	assert.Equal(t, uint64(0), parseLastEventID("x", ""))
}

type fakeBarCache struct {
	bars []domain.Bar
	err  error
}

func (c fakeBarCache) Bars() []domain.Bar { return c.bars }

func (c fakeBarCache) LastError() error { return c.err }

func TestServer_BarsFromCache(t *testing.T) {
	cached := []domain.Bar{{OpenTime: time.Unix(0, 0), Close: decimal.NewFromInt(7)}, {OpenTime: time.Unix(60, 0), Close: decimal.NewFromInt(8)}}
	live := &fakeBars{bars: []domain.Bar{{OpenTime: time.Unix(60, 0), Close: decimal.NewFromInt(9)}}}
	cache := &fakeBarCache{bars: cached}

	s := NewServer(":0", Deps{
		Bars:             live,
		BarCaches:        map[string]BarCache{"EURUSD": cache},
		BarCacheInterval: domain.Interval1m,
	}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	lastClose := func() decimal.Decimal {
		resp, err := http.Get(srv.URL + "/bars?symbol=EURUSD&interval=1m&limit=1")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got barsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		require.Len(t, got.Bars, 1)
		return got.Bars[0].Close
	}

	assert.True(t, lastClose().Equal(decimal.NewFromInt(8)))

	// a failing poller holds stale bars; the live feed answers instead
	cache.err = errors.Wrap(domain.ErrFetch, "vendor down")
	assert.True(t, lastClose().Equal(decimal.NewFromInt(9)))
}
