package pricefeed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/services/marketdata"
)

type fakeStream struct {
	closed int32
}

func (s *fakeStream) Close() error {
	atomic.AddInt32(&s.closed, 1)
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	connects map[string]int
	handlers map[string]marketdata.TickHandler
	streams  map[string]*fakeStream
	fail     error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		connects: make(map[string]int),
		handlers: make(map[string]marketdata.TickHandler),
		streams:  make(map[string]*fakeStream),
	}
}

func (s *fakeSource) NormalizeSymbol(symbol string) (string, bool) {
	switch symbol {
	case "EURUSD":
		return "EURUSDT", true
	case "BTCUSD":
		return "BTCUSDT", true
	}
	return "", false
}

func (s *fakeSource) ConnectTicker(_ context.Context, vendor string, onTick marketdata.TickHandler) (marketdata.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	s.connects[vendor]++
	s.handlers[vendor] = onTick
	st := &fakeStream{}
	s.streams[vendor] = st
	return st, nil
}

func (s *fakeSource) push(vendor, bid, ask string) {
	s.mu.Lock()
	h := s.handlers[vendor]
	s.mu.Unlock()
	h(decimal.RequireFromString(bid), decimal.RequireFromString(ask), time.Now())
}

func TestFeed_SubscribeIsReferenceCounted(t *testing.T) {
	src := newFakeSource()
	feed := NewFeed(src, nil)

	release1, err := feed.Subscribe(context.Background(), "EURUSD")
	require.NoError(t, err)
	release2, err := feed.Subscribe(context.Background(), "eurusd")
	require.NoError(t, err)

	assert.Equal(t, 1, src.connects["EURUSDT"])
	assert.Equal(t, []string{"EURUSD"}, feed.Symbols())

	release1()
	release1()
	assert.Equal(t, int32(0), atomic.LoadInt32(&src.streams["EURUSDT"].closed))

	release2()
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.streams["EURUSDT"].closed))
	assert.Empty(t, feed.Symbols())

	// a fresh acquire reconnects
	release3, err := feed.Subscribe(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 2, src.connects["EURUSDT"])
	release3()
}

func TestFeed_SubscribeUnsupportedSymbol(t *testing.T) {
	feed := NewFeed(newFakeSource(), nil)

	_, err := feed.Subscribe(context.Background(), "USDJPY")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "no live feed available")
}

func TestFeed_SubscribeTransportFailure(t *testing.T) {
	src := newFakeSource()
	src.fail = errors.Wrap(domain.ErrTransport, "dial refused")
	feed := NewFeed(src, nil)

	_, err := feed.Subscribe(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Empty(t, feed.Symbols())
}

func TestFeed_PublishNotifiesListenersInOrder(t *testing.T) {
	src := newFakeSource()
	feed := NewFeed(src, nil)

	release, err := feed.Subscribe(context.Background(), "EURUSD")
	require.NoError(t, err)
	defer release()

	var calls []string
	feed.AddListener("EURUSD", func(tick domain.Tick) { calls = append(calls, "first:"+tick.Bid.String()) })
	remove := feed.AddListener("EURUSD", func(tick domain.Tick) { calls = append(calls, "second:"+tick.Bid.String()) })
	feed.AddListener("BTCUSD", func(domain.Tick) { calls = append(calls, "other") })

	src.push("EURUSDT", "1.2", "1.2002")

	tick, ok := feed.Tick("EURUSD")
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("1.2001").Equal(tick.Mid()))
	assert.Equal(t, []string{"first:1.2", "second:1.2"}, calls)

	remove()
	remove()
	src.push("EURUSDT", "1.3", "1.3")
	assert.Equal(t, []string{"first:1.2", "second:1.2", "first:1.3"}, calls)
}

func TestFeed_PublishDropsInvalidTicks(t *testing.T) {
	feed := NewFeed(newFakeSource(), nil)

	called := false
	feed.AddListener("EURUSD", func(domain.Tick) { called = true })

	feed.Publish("EURUSD", decimal.Zero, decimal.NewFromInt(1), time.Now())
	feed.Publish("EURUSD", decimal.NewFromInt(1), decimal.NewFromInt(-1), time.Now())

	_, ok := feed.Tick("EURUSD")
	assert.False(t, ok)
	assert.False(t, called)
}

func TestFeed_DispatchIsSerialized(t *testing.T) {
	feed := NewFeed(newFakeSource(), nil)

	var inFlight, maxInFlight, delivered int32
	listener := func(domain.Tick) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&delivered, 1)
	}
	feed.AddListener("EURUSD", listener)
	feed.AddListener("BTCUSD", listener)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			symbol := "EURUSD"
			if i%2 == 0 {
				symbol = "BTCUSD"
			}
			feed.Publish(symbol, decimal.NewFromInt(1), decimal.NewFromInt(2), time.Now())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), atomic.LoadInt32(&delivered))
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestFeed_ListenerPanicDoesNotStopDelivery(t *testing.T) {
	feed := NewFeed(newFakeSource(), nil)

	reached := false
	feed.AddListener("EURUSD", func(domain.Tick) { panic("boom") })
	feed.AddListener("EURUSD", func(domain.Tick) { reached = true })

	feed.Publish("EURUSD", decimal.NewFromInt(1), decimal.NewFromInt(1), time.Now())
	assert.True(t, reached)
}

func TestFeed_CloseIsIdempotent(t *testing.T) {
	src := newFakeSource()
	feed := NewFeed(src, nil)

	release, err := feed.Subscribe(context.Background(), "EURUSD")
	require.NoError(t, err)
	_, err = feed.Subscribe(context.Background(), "BTCUSD")
	require.NoError(t, err)

	feed.Close()
	feed.Close()
	release()

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.streams["EURUSDT"].closed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.streams["BTCUSDT"].closed))

	_, err = feed.Subscribe(context.Background(), "EURUSD")
	assert.ErrorIs(t, err, ErrClosed)
}
