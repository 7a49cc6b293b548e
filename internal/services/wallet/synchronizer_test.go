package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/fxdesk/internal/clients"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/events"
	"github.com/vadiminshakov/fxdesk/internal/storage/journal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu    sync.Mutex
	snaps []domain.WalletSnapshot
}

func (r *recordingSink) ApplyWalletSnapshot(snap domain.WalletSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

type walletServer struct {
	balanceBody string
	accountBody string
	balanceHits int32
	accountHits int32
	failAll     atomic.Bool
}

func (w *walletServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if w.failAll.Load() {
			rw.WriteHeader(http.StatusBadGateway)
			return
		}
		switch {
		case r.URL.Path == "/account":
			atomic.AddInt32(&w.accountHits, 1)
			assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
			if w.accountBody == "" {
				rw.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = rw.Write([]byte(w.accountBody))
		case r.URL.Path == "/balance/u1":
			atomic.AddInt32(&w.balanceHits, 1)
			if w.balanceBody == "" {
				rw.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = rw.Write([]byte(w.balanceBody))
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestSynchronizer_BalanceEndpointWins(t *testing.T) {
	ws := &walletServer{balanceBody: `{"balance":"1000.50"}`, accountBody: `{"balance":"1"}`}
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	sink := &recordingSink{}
	s := NewSynchronizer(clients.NewWalletClient(srv.URL, "token"), sink, nil,
		WithUserID(func() string { return "u1" }))

	snap, err := s.SyncOnce(context.Background())
	require.NoError(t, err)

	want := decimal.RequireFromString("1000.50")
	assert.True(t, want.Equal(snap.Balance))
	assert.True(t, want.Equal(snap.Equity))
	assert.True(t, want.Equal(snap.FreeMargin))
	assert.True(t, snap.MarginUsed.IsZero())
	assert.Equal(t, int32(0), atomic.LoadInt32(&ws.accountHits))
	assert.Equal(t, 1, sink.count())
}

func TestSynchronizer_FallsBackToAccount(t *testing.T) {
	ws := &walletServer{accountBody: `{"balance":500,"equity":"510","margin":"20","freeMargin":490}`}
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	s := NewSynchronizer(clients.NewWalletClient(srv.URL, "token"), nil, nil,
		WithUserID(func() string { return "u1" }))

	snap, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Equity.Equal(decimal.NewFromInt(510)))
	assert.True(t, snap.MarginUsed.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ws.balanceHits))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ws.accountHits))
}

func TestSynchronizer_SkipsBalanceWithoutUserID(t *testing.T) {
	ws := &walletServer{balanceBody: `{"balance":"9"}`, accountBody: `{"balance":"7"}`}
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	s := NewSynchronizer(clients.NewWalletClient(srv.URL, "token"), nil, nil)

	snap, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, int32(0), atomic.LoadInt32(&ws.balanceHits))
}

func TestSynchronizer_BothFailKeepsLastSnapshot(t *testing.T) {
	ws := &walletServer{balanceBody: `{"balance":"1000.50","equity":"1001"}`}
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	sink := &recordingSink{}
	s := NewSynchronizer(clients.NewWalletClient(srv.URL, "token"), sink, nil,
		WithUserID(func() string { return "u1" }))

	first, err := s.SyncOnce(context.Background())
	require.NoError(t, err)

	ws.failAll.Store(true)
	_, err = s.SyncOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)

	s.mu.RLock()
	after := s.snapshot
	s.mu.RUnlock()
	assert.Equal(t, first, after)
	assert.Equal(t, 1, sink.count())
}

func TestSynchronizer_JournalsAndPublishes(t *testing.T) {
	ws := &walletServer{accountBody: `{"balance":"42"}`}
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	store, err := journal.NewWALStore[domain.WalletSnapshot](t.TempDir(), "wallet_")
	require.NoError(t, err)
	defer store.Close()

	bus := events.NewBroadcaster[domain.WalletSnapshotRecord](4)
	ch := bus.Subscribe()

	s := NewSynchronizer(clients.NewWalletClient(srv.URL, "token"), nil, nil,
		WithJournal(store), WithPublisher(bus))

	_, err = s.SyncOnce(context.Background())
	require.NoError(t, err)

	rec := <-ch
	assert.Equal(t, uint64(1), rec.Index)
	assert.True(t, rec.Snapshot.Balance.Equal(decimal.NewFromInt(42)))

	records, err := store.After(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Value.Balance.Equal(decimal.NewFromInt(42)))
}

func TestSynchronizer_RunAndStop(t *testing.T) {
	ws := &walletServer{accountBody: `{"balance":"1"}`}
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	sink := &recordingSink{}
	s := NewSynchronizer(clients.NewWalletClient(srv.URL, "token"), sink, nil,
		WithInterval(10*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return sink.count() >= 2 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestSynchronizer_StopBeforeRun(t *testing.T) {
	s := NewSynchronizer(clients.NewWalletClient("http://127.0.0.1:1", "token"), nil, nil)
	s.Stop()

	err := s.Run(context.Background())
	assert.Error(t, err)
}

func TestSynchronizer_LogsOnlyChangedFigures(t *testing.T) {
	ws := &walletServer{accountBody: `{"balance":"100"}`}
	srv := httptest.NewServer(ws.handler(t))
	defer srv.Close()

	core, logs := observer.New(zap.InfoLevel)
	s := NewSynchronizer(clients.NewWalletClient(srv.URL, "token"), nil, zap.New(core))

	for i := 0; i < 3; i++ {
		_, err := s.SyncOnce(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, logs.FilterMessage("wallet figures changed").Len())

	ws.accountBody = `{"balance":"120"}`
	_, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, logs.FilterMessage("wallet figures changed").Len())
}
