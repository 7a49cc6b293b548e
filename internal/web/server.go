// Package web serves the desk dashboard: JSON endpoints for the account and
// orders plus SSE streams for wallet snapshots, trades and live bars.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/events"
	"github.com/vadiminshakov/fxdesk/internal/services/marketdata"
	"github.com/vadiminshakov/fxdesk/internal/storage/journal"
	"github.com/vadiminshakov/fxdesk/pkg/indicators"
	"go.uber.org/zap"
)

const (
	journalPollInterval = 2 * time.Second
	heartbeatInterval   = 30 * time.Second
	defaultBarLimit     = 100
	maxBarLimit         = 1000
)

type tradingDesk interface {
	Wallet() domain.WalletSnapshot
	OpenPositions() []domain.Position
	ClosedPositions() []domain.Position
	PendingOrders() []domain.PendingOrder
	OpenMarketOrder(intent domain.OrderIntent) (domain.Position, error)
	PlacePendingOrder(intent domain.OrderIntent) (domain.PendingOrder, error)
	ClosePosition(id string) (domain.Position, error)
	CancelPendingOrder(id string) (domain.PendingOrder, error)
	ModifyPosition(id string, stopLoss, takeProfit decimal.Decimal) (domain.Position, error)
}

type tickReader interface {
	Tick(symbol string) (domain.Tick, bool)
}

type barSource interface {
	NormalizeSymbol(symbol string) (string, bool)
	FetchBars(ctx context.Context, vendorSymbol string, interval domain.Interval, limit int) ([]domain.Bar, error)
	ConnectBarStream(ctx context.Context, vendorSymbol string, interval domain.Interval, onBar marketdata.BarHandler) (marketdata.Stream, error)
}

type strategySet interface {
	All() map[string]bool
	Set(id string, subscribed bool) error
}

type walletJournal interface {
	After(index uint64) ([]journal.Record[domain.WalletSnapshot], error)
}

type tradeJournal interface {
	After(index uint64) ([]journal.Record[domain.TradeEvent], error)
}

// BarCache recent bars for one symbol, normally a marketdata.BarPoller.
type BarCache interface {
	Bars() []domain.Bar
	// LastError non-nil while the cache is serving stale bars.
	LastError() error
}

// Deps collaborators behind the endpoints. Nil members disable their routes
// with 503.
type Deps struct {
	Desk          tradingDesk
	Ticks         tickReader
	Bars          barSource
	Strategies    strategySet
	WalletJournal walletJournal
	TradeJournal  tradeJournal
	WalletUpdates *events.Broadcaster[domain.WalletSnapshotRecord]
	TradeUpdates  *events.Broadcaster[domain.TradeEvent]
	Symbols       func() []string

	// BarCaches serves /bars from a poller when symbol and interval match.
	BarCaches        map[string]BarCache
	BarCacheInterval domain.Interval
}

// Server exposes HTTP endpoints serving the status page, JSON and SSE streams.
type Server struct {
	Addr   string
	deps   Deps
	logger *zap.Logger
}

// NewServer creates a new web server instance.
func NewServer(addr string, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, deps: deps, logger: logger.With(zap.String("component", "web"))}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /wallet", s.handleWallet)
	mux.HandleFunc("GET /wallet/stream", s.handleWalletStream)
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("POST /positions/{id}/close", s.handleClosePosition)
	mux.HandleFunc("PATCH /positions/{id}", s.handleModifyPosition)
	mux.HandleFunc("POST /orders", s.handlePlaceOrder)
	mux.HandleFunc("GET /orders/pending", s.handlePendingOrders)
	mux.HandleFunc("DELETE /orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("GET /ticks/{symbol}", s.handleTick)
	mux.HandleFunc("GET /bars", s.handleBars)
	mux.HandleFunc("GET /bars/stream", s.handleBarStream)
	mux.HandleFunc("GET /strategies", s.handleStrategies)
	mux.HandleFunc("PUT /strategies/{id}", s.handleSetStrategy)
	mux.HandleFunc("GET /trades/stream", s.handleTradeStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("dashboard listening", zap.String("addr", s.Addr))
	return s.serve(ctx, server, server.ListenAndServe)
}

// serve blocks in listen until srv fails or ctx is cancelled, then shuts srv down.
func (s *Server) serve(ctx context.Context, srv *http.Server, listen func() error) error {
	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		select {
		case <-stopped:
			return
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}()

	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	var symbols []string
	if s.deps.Symbols != nil {
		symbols = s.deps.Symbols()
	}

	var wallet domain.WalletSnapshot
	open := 0
	if s.deps.Desk != nil {
		wallet = s.deps.Desk.Wallet()
		open = len(s.deps.Desk.OpenPositions())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, indexHTML,
		strings.Join(symbols, ", "),
		wallet.Balance.StringFixed(2),
		wallet.Equity.StringFixed(2),
		wallet.MarginUsed.StringFixed(2),
		wallet.FreeMargin.StringFixed(2),
		open,
	)
}

func (s *Server) handleWallet(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Desk == nil {
		unavailable(w, "trading store")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Desk.Wallet())
}

type positionsResponse struct {
	Open   []domain.Position `json:"open"`
	Closed []domain.Position `json:"closed"`
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Desk == nil {
		unavailable(w, "trading store")
		return
	}
	writeJSON(w, http.StatusOK, positionsResponse{
		Open:   nonNil(s.deps.Desk.OpenPositions()),
		Closed: nonNil(s.deps.Desk.ClosedPositions()),
	})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	if s.deps.Desk == nil {
		unavailable(w, "trading store")
		return
	}
	pos, err := s.deps.Desk.ClosePosition(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type bracketRequest struct {
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
}

func (s *Server) handleModifyPosition(w http.ResponseWriter, r *http.Request) {
	if s.deps.Desk == nil {
		unavailable(w, "trading store")
		return
	}
	var req bracketRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	pos, err := s.deps.Desk.ModifyPosition(r.PathValue("id"), req.StopLoss, req.TakeProfit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type orderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Type       string          `json:"type"`
	Lot        decimal.Decimal `json:"lot"`
	Price      decimal.Decimal `json:"price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
}

func (req orderRequest) intent() (domain.OrderIntent, error) {
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		return domain.OrderIntent{}, err
	}
	return domain.OrderIntent{
		Symbol:     strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:       side,
		Type:       domain.OrderType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Lot:        req.Lot,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	}, nil
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Desk == nil {
		unavailable(w, "trading store")
		return
	}
	var req orderRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	intent, err := req.intent()
	if err != nil {
		s.writeError(w, err)
		return
	}

	if intent.IsPending() {
		order, err := s.deps.Desk.PlacePendingOrder(intent)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, order)
		return
	}

	pos, err := s.deps.Desk.OpenMarketOrder(intent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

func (s *Server) handlePendingOrders(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Desk == nil {
		unavailable(w, "trading store")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(s.deps.Desk.PendingOrders()))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Desk == nil {
		unavailable(w, "trading store")
		return
	}
	order, err := s.deps.Desk.CancelPendingOrder(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ticks == nil {
		unavailable(w, "price feed")
		return
	}
	symbol := r.PathValue("symbol")
	tick, ok := s.deps.Ticks.Tick(symbol)
	if !ok {
		s.writeError(w, domain.NotFoundf("no tick for %s", symbol))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		domain.Tick
		Mid decimal.Decimal `json:"mid"`
	}{tick, tick.Mid()})
}

type barsResponse struct {
	Symbol   string            `json:"symbol"`
	Interval domain.Interval   `json:"interval"`
	Bars     []domain.Bar      `json:"bars"`
	SMA      []decimal.Decimal `json:"sma,omitempty"`
	EMA      []decimal.Decimal `json:"ema,omitempty"`
	RSI      []decimal.Decimal `json:"rsi,omitempty"`
}

// handleBars serves GET /bars?symbol=EURUSD&interval=1m&limit=100 with
// optional sma, ema and rsi periods computed over the closes.
func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bars == nil {
		unavailable(w, "market data")
		return
	}

	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	vendor, ok := s.deps.Bars.NormalizeSymbol(symbol)
	if !ok {
		s.writeError(w, domain.Validationf("unsupported symbol %q", q.Get("symbol")))
		return
	}

	interval := domain.Interval1m
	if raw := q.Get("interval"); raw != "" {
		parsed, err := domain.ParseInterval(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		interval = parsed
	}

	limit, err := queryInt(q.Get("limit"), defaultBarLimit)
	if err != nil || limit > maxBarLimit {
		s.writeError(w, domain.Validationf("limit must be between 1 and %d", maxBarLimit))
		return
	}

	bars := s.cachedBars(symbol, interval, limit)
	if bars == nil {
		bars, err = s.deps.Bars.FetchBars(r.Context(), vendor, interval, limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	resp := barsResponse{Symbol: symbol, Interval: interval, Bars: nonNil(bars)}

	overlays := []struct {
		name    string
		compute func([]decimal.Decimal, int) ([]decimal.Decimal, error)
		out     *[]decimal.Decimal
	}{
		{name: "sma", compute: indicators.SMA, out: &resp.SMA},
		{name: "ema", compute: indicators.EMA, out: &resp.EMA},
		{name: "rsi", compute: indicators.RSI, out: &resp.RSI},
	}

	var closes []decimal.Decimal
	for _, o := range overlays {
		raw := q.Get(o.name)
		if raw == "" {
			continue
		}
		period, err := queryInt(raw, 0)
		if err != nil {
			s.writeError(w, domain.Validationf("%s must be a positive integer", o.name))
			return
		}
		if closes == nil {
			closes = make([]decimal.Decimal, len(bars))
			for i, b := range bars {
				closes[i] = b.Close
			}
		}
		// too few bars just omits the series
		if series, err := o.compute(closes, period); err == nil {
			*o.out = series
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cachedBars(symbol string, interval domain.Interval, limit int) []domain.Bar {
	if interval != s.deps.BarCacheInterval {
		return nil
	}
	cache, ok := s.deps.BarCaches[symbol]
	if !ok || cache.LastError() != nil {
		return nil
	}
	bars := cache.Bars()
	if len(bars) < limit {
		return nil
	}
	return bars[len(bars)-limit:]
}

type strategyView struct {
	ID         string `json:"id"`
	Subscribed bool   `json:"subscribed"`
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Strategies == nil {
		unavailable(w, "strategies")
		return
	}
	writeJSON(w, http.StatusOK, strategyViews(s.deps.Strategies.All()))
}

func (s *Server) handleSetStrategy(w http.ResponseWriter, r *http.Request) {
	if s.deps.Strategies == nil {
		unavailable(w, "strategies")
		return
	}
	var req struct {
		Subscribed *bool `json:"subscribed"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Subscribed == nil {
		s.writeError(w, domain.Validationf("subscribed is required"))
		return
	}

	id := r.PathValue("id")
	if err := s.deps.Strategies.Set(id, *req.Subscribed); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strategyView{ID: id, Subscribed: *req.Subscribed})
}

func strategyViews(all map[string]bool) []strategyView {
	out := make([]strategyView, 0, len(all))
	for id, on := range all {
		out = append(out, strategyView{ID: id, Subscribed: on})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Validationf("invalid request body: %v", err)
	}
	return nil
}

func queryInt(raw string, def int) (int, error) {
	if raw == "" {
		if def < 1 {
			return 0, errors.New("value is required")
		}
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < 1 {
		return 0, errors.Errorf("must be positive, got %d", v)
	}
	return v, nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrFetch), errors.Is(err, domain.ErrTransport):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func unavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: what + " not available"})
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>fxdesk</title>
  <style>
    body { font-family: 'Space Mono', monospace; margin: 2rem; color: #111; }
    table { border-collapse: collapse; }
    td { padding: .25rem 1rem; border-bottom: 1px solid #ddd; }
  </style>
</head>
<body>
  <h1>fxdesk</h1>
  <table>
    <tr><td>Symbols</td><td>%s</td></tr>
    <tr><td>Balance</td><td>%s</td></tr>
    <tr><td>Equity</td><td>%s</td></tr>
    <tr><td>Margin used</td><td>%s</td></tr>
    <tr><td>Free margin</td><td>%s</td></tr>
    <tr><td>Open positions</td><td>%d</td></tr>
  </table>
  <p>
    <a href="/wallet">wallet</a> &middot;
    <a href="/positions">positions</a> &middot;
    <a href="/strategies">strategies</a> &middot;
    <a href="/wallet/stream">wallet stream</a> &middot;
    <a href="/trades/stream">trade stream</a>
  </p>
</body>
</html>
`
