// Package trading is the authority for positions, pending orders and the wallet.
// All position mutations go through Store.
package trading

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/internal/storage/ledger"
	"go.uber.org/zap"
)

const defaultLeverage = 100

// AccountSource supplies positions and wallet figures on startup.
type AccountSource interface {
	LoadPositions(ctx context.Context) (domain.AccountSnapshot, error)
}

// Persister saves the full trading state.
type Persister interface {
	Save(state ledger.State) error
}

// Journal appends trade events.
type Journal interface {
	Append(key string, event domain.TradeEvent) (uint64, error)
}

// Config trading parameters.
type Config struct {
	InitialBalance decimal.Decimal
	Leverage       int
	Instruments    domain.Instruments
}

// Option configures optional collaborators.
type Option func(*Store)

// WithAccountSource sets the source used by LoadPositions.
func WithAccountSource(src AccountSource) Option {
	return func(s *Store) { s.source = src }
}

// WithPersister saves state after every mutation.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithJournal appends every trade event to j.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithTradeHook calls fn for every trade event while the store lock is held.
// fn must not call back into the store.
func WithTradeHook(fn func(domain.TradeEvent)) Option {
	return func(s *Store) { s.onTrade = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides uuid ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// Store in-memory trading state.
type Store struct {
	mu sync.RWMutex

	open       []*domain.Position
	closed     []domain.Position
	pending    []domain.PendingOrder
	marks      map[string]decimal.Decimal
	balance    decimal.Decimal
	marginUsed decimal.Decimal

	leverage    decimal.Decimal
	instruments domain.Instruments

	source    AccountSource
	persister Persister
	journal   Journal
	onTrade   func(domain.TradeEvent)
	now       func() time.Time
	newID     func() string
	logger    *zap.Logger
}

// NewStore creates a store with cfg.InitialBalance and no positions.
func NewStore(cfg Config, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	leverage := cfg.Leverage
	if leverage < 1 {
		leverage = defaultLeverage
	}

	s := &Store{
		marks:       make(map[string]decimal.Decimal),
		balance:     cfg.InitialBalance,
		marginUsed:  decimal.Zero,
		leverage:    decimal.NewFromInt(int64(leverage)),
		instruments: cfg.Instruments,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      logger.With(zap.String("component", "trading")),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func normSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// OpenMarketOrder opens a position at the intent price, or at the last marked
// mid when the intent carries none. Nothing changes on error.
func (s *Store) OpenMarketOrder(intent domain.OrderIntent) (domain.Position, error) {
	intent.Symbol = normSymbol(intent.Symbol)
	if err := intent.Validate(); err != nil {
		return domain.Position{}, err
	}
	if intent.IsPending() {
		return domain.Position{}, domain.Validationf("%s orders must be placed as pending orders", intent.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := intent.Price
	if !entry.IsPositive() {
		mark, ok := s.marks[intent.Symbol]
		if !ok {
			return domain.Position{}, domain.Validationf("no price available for %s", intent.Symbol)
		}
		entry = mark
	}

	pos, err := s.openLocked(intent, entry)
	if err != nil {
		return domain.Position{}, err
	}
	s.persistLocked()

	return pos.Clone(), nil
}

func (s *Store) openLocked(intent domain.OrderIntent, entry decimal.Decimal) (*domain.Position, error) {
	inst, err := s.instruments.Lookup(intent.Symbol)
	if err != nil {
		return nil, err
	}
	if err := inst.CheckLot(intent.Lot); err != nil {
		return nil, err
	}

	pos, err := domain.NewPosition(s.newID(), intent, entry, s.now())
	if err != nil {
		return nil, err
	}
	pos.Margin = pos.Notional(inst.ContractSize).Div(s.leverage)

	s.open = append(s.open, pos)
	s.marginUsed = s.marginUsed.Add(pos.Margin)

	s.logger.Info("position opened",
		zap.String("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", pos.Side.String()),
		zap.String("lot", pos.LotSize.String()),
		zap.String("entry", pos.EntryPrice.String()),
		zap.String("margin", pos.Margin.String()))
	s.recordLocked(domain.TradeEvent{
		Action:    domain.TradeOpened,
		ID:        pos.ID,
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Lot:       pos.LotSize,
		Price:     pos.EntryPrice,
		PnL:       decimal.Zero,
		Timestamp: pos.OpenTime,
	})

	return pos, nil
}

// ClosePosition closes an OPEN position at its current price and realizes its pnl.
func (s *Store) ClosePosition(id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.closeLocked(id, domain.CloseReasonManual)
	if err != nil {
		return domain.Position{}, err
	}
	s.persistLocked()

	return pos, nil
}

func (s *Store) closeLocked(id string, reason domain.CloseReason) (domain.Position, error) {
	idx := -1
	for i, p := range s.open {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Position{}, domain.NotFoundf("open position %q", id)
	}

	pos := s.open[idx]
	if mark, ok := s.marks[pos.Symbol]; ok {
		pos.Mark(mark, s.instruments.ContractSize(pos.Symbol))
	}
	pos.Close(s.now(), reason)

	s.balance = s.balance.Add(pos.PnL)
	s.marginUsed = s.marginUsed.Sub(pos.Margin)
	if s.marginUsed.IsNegative() {
		s.marginUsed = decimal.Zero
	}

	s.open = append(s.open[:idx:idx], s.open[idx+1:]...)
	closed := pos.Clone()
	s.closed = append(s.closed, closed)

	s.logger.Info("position closed",
		zap.String("id", pos.ID),
		zap.String("symbol", pos.Symbol),
		zap.String("reason", string(reason)),
		zap.String("price", pos.CurrentPrice.String()),
		zap.String("pnl", pos.PnL.String()),
		zap.String("balance", s.balance.String()))
	s.recordLocked(domain.TradeEvent{
		Action:    domain.TradeClosed,
		ID:        pos.ID,
		Symbol:    pos.Symbol,
		Side:      pos.Side,
		Lot:       pos.LotSize,
		Price:     pos.CurrentPrice,
		PnL:       pos.PnL,
		Reason:    reason,
		Timestamp: *pos.CloseTime,
	})

	return closed, nil
}

// MarkToMarket reprices open positions on symbol at the tick mid, closes those
// whose stop loss or take profit is hit, then fills triggered pending orders.
func (s *Store) MarkToMarket(symbol string, tick domain.Tick) {
	symbol = normSymbol(symbol)
	if err := tick.Validate(); err != nil {
		s.logger.Debug("ignoring invalid tick", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	price := tick.Mid()
	contract := s.instruments.ContractSize(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.marks[symbol] = price

	var hits []string
	var reasons []domain.CloseReason
	for _, p := range s.open {
		if p.Symbol != symbol {
			continue
		}
		p.Mark(price, contract)
		if reason, hit := p.BracketHit(price); hit {
			hits = append(hits, p.ID)
			reasons = append(reasons, reason)
		}
	}

	changed := false
	for i, id := range hits {
		if _, err := s.closeLocked(id, reasons[i]); err != nil {
			s.logger.Warn("auto-close failed", zap.String("id", id), zap.Error(err))
			continue
		}
		changed = true
	}

	if s.fillPendingLocked(symbol, price) {
		changed = true
	}
	if changed {
		s.persistLocked()
	}
}

func (s *Store) fillPendingLocked(symbol string, price decimal.Decimal) bool {
	filled := false
	remaining := s.pending[:0:0]

	for _, order := range s.pending {
		if order.Intent.Symbol != symbol || !order.Triggered(price) {
			remaining = append(remaining, order)
			continue
		}

		if _, err := s.openLocked(order.Intent, order.Intent.Price); err != nil {
			// an order that can no longer open is dropped from the book
			s.logger.Warn("pending order fill failed", zap.String("id", order.ID), zap.Error(err))
		} else {
			s.logger.Info("pending order filled", zap.String("id", order.ID), zap.String("price", order.Intent.Price.String()))
		}
		filled = true
	}

	s.pending = remaining
	return filled
}

// PlacePendingOrder books a LIMIT or STOP intent.
func (s *Store) PlacePendingOrder(intent domain.OrderIntent) (domain.PendingOrder, error) {
	intent.Symbol = normSymbol(intent.Symbol)
	if err := intent.Validate(); err != nil {
		return domain.PendingOrder{}, err
	}
	if !intent.IsPending() {
		return domain.PendingOrder{}, domain.Validationf("pending order type must be LIMIT or STOP, got %q", intent.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inst, err := s.instruments.Lookup(intent.Symbol)
	if err != nil {
		return domain.PendingOrder{}, err
	}
	if err := inst.CheckLot(intent.Lot); err != nil {
		return domain.PendingOrder{}, err
	}

	order := domain.PendingOrder{ID: s.newID(), Intent: intent, CreatedAt: s.now()}
	s.pending = append(s.pending, order)

	s.recordLocked(domain.TradeEvent{
		Action:    domain.TradePendingPlaced,
		ID:        order.ID,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Lot:       intent.Lot,
		Price:     intent.Price,
		PnL:       decimal.Zero,
		Timestamp: order.CreatedAt,
	})
	s.persistLocked()

	return order, nil
}

// CancelPendingOrder removes a pending order from the book.
func (s *Store) CancelPendingOrder(id string) (domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, order := range s.pending {
		if order.ID != id {
			continue
		}
		s.pending = append(s.pending[:i:i], s.pending[i+1:]...)

		s.recordLocked(domain.TradeEvent{
			Action:    domain.TradePendingCancelled,
			ID:        order.ID,
			Symbol:    order.Intent.Symbol,
			Side:      order.Intent.Side,
			Lot:       order.Intent.Lot,
			Price:     order.Intent.Price,
			PnL:       decimal.Zero,
			Timestamp: s.now(),
		})
		s.persistLocked()

		return order, nil
	}

	return domain.PendingOrder{}, domain.NotFoundf("pending order %q", id)
}

// PendingOrders returns the pending book in placement order.
func (s *Store) PendingOrders() []domain.PendingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PendingOrder, len(s.pending))
	copy(out, s.pending)
	return out
}

// ModifyPosition replaces the brackets of an OPEN position. Zero clears a bracket.
func (s *Store) ModifyPosition(id string, stopLoss, takeProfit decimal.Decimal) (domain.Position, error) {
	if stopLoss.IsNegative() || takeProfit.IsNegative() {
		return domain.Position{}, domain.Validationf("stop loss and take profit must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.open {
		if p.ID != id {
			continue
		}
		p.StopLoss = stopLoss
		p.TakeProfit = takeProfit

		s.recordLocked(domain.TradeEvent{
			Action:    domain.TradeModified,
			ID:        p.ID,
			Symbol:    p.Symbol,
			Side:      p.Side,
			Lot:       p.LotSize,
			Price:     p.CurrentPrice,
			PnL:       p.PnL,
			Timestamp: s.now(),
		})
		s.persistLocked()

		return p.Clone(), nil
	}

	return domain.Position{}, domain.NotFoundf("open position %q", id)
}

// LoadPositions hydrates the store from the account source. The open set is
// replaced by id, closed history is kept and extended. Calling it again with
// the same source data leaves the store unchanged.
func (s *Store) LoadPositions(ctx context.Context) error {
	if s.source == nil {
		return nil
	}

	snap, err := s.source.LoadPositions(ctx)
	if err != nil {
		return errors.Wrap(err, "load positions")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// marks seen since start are newer than persisted ones
	for symbol, mark := range snap.Marks {
		symbol = normSymbol(symbol)
		if _, live := s.marks[symbol]; live || !mark.IsPositive() {
			continue
		}
		s.marks[symbol] = mark
	}

	seen := make(map[string]struct{}, len(snap.Open))
	open := make([]*domain.Position, 0, len(snap.Open))
	margin := decimal.Zero
	for i := range snap.Open {
		p := snap.Open[i]
		if p.ID == "" || !p.Side.IsValid() || !p.LotSize.IsPositive() || !p.EntryPrice.IsPositive() {
			s.logger.Warn("skipping invalid position from account source", zap.String("id", p.ID))
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}

		p.Status = domain.PositionOpen
		p.CloseTime = nil
		p.CloseReason = ""
		symbol := normSymbol(p.Symbol)
		p.Symbol = symbol
		if mark, ok := s.marks[symbol]; ok {
			p.Mark(mark, s.instruments.ContractSize(symbol))
		}
		margin = margin.Add(p.Margin)
		open = append(open, &p)
	}
	s.open = open

	known := make(map[string]struct{}, len(s.closed))
	for _, p := range s.closed {
		known[p.ID] = struct{}{}
	}
	for _, p := range snap.Closed {
		if _, ok := known[p.ID]; ok {
			continue
		}
		s.closed = append(s.closed, p)
	}

	if snap.Pending != nil {
		s.pending = append([]domain.PendingOrder(nil), snap.Pending...)
	}
	if snap.Balance != nil {
		s.balance = *snap.Balance
	}
	if snap.MarginUsed != nil {
		s.marginUsed = *snap.MarginUsed
	} else {
		s.marginUsed = margin
	}

	s.logger.Info("positions loaded",
		zap.Int("open", len(s.open)),
		zap.Int("closed", len(s.closed)),
		zap.Int("pending", len(s.pending)),
		zap.String("balance", s.balance.String()))

	return nil
}

// ApplyWalletSnapshot replaces balance and margin with the remote figures.
func (s *Store) ApplyWalletSnapshot(snap domain.WalletSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balance = snap.Balance
	s.marginUsed = snap.MarginUsed
	s.persistLocked()
}

// OpenPositions returns OPEN positions in opening order.
func (s *Store) OpenPositions() []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Position, 0, len(s.open))
	for _, p := range s.open {
		out = append(out, p.Clone())
	}
	return out
}

// ClosedPositions returns closed history, oldest first.
func (s *Store) ClosedPositions() []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Position, 0, len(s.closed))
	for _, p := range s.closed {
		out = append(out, p.Clone())
	}
	return out
}

// Position looks a position up by id, open or closed.
func (s *Store) Position(id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.open {
		if p.ID == id {
			return p.Clone(), nil
		}
	}
	for i := range s.closed {
		if s.closed[i].ID == id {
			return s.closed[i].Clone(), nil
		}
	}

	return domain.Position{}, domain.NotFoundf("position %q", id)
}

// HasOpenPosition reports whether symbol has an OPEN position.
func (s *Store) HasOpenPosition(symbol string) bool {
	symbol = normSymbol(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.open {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}

// Balance realized account balance.
func (s *Store) Balance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// MarginUsed collateral locked by open positions.
func (s *Store) MarginUsed() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marginUsed
}

// Equity balance plus floating pnl of open positions.
func (s *Store) Equity() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.equityLocked()
}

// FreeMargin equity minus used margin.
func (s *Store) FreeMargin() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.equityLocked().Sub(s.marginUsed)
}

// Wallet returns balance, equity and margin figures taken under one lock.
func (s *Store) Wallet() domain.WalletSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	equity := s.equityLocked()
	return domain.WalletSnapshot{
		Balance:    s.balance,
		Equity:     equity,
		MarginUsed: s.marginUsed,
		FreeMargin: equity.Sub(s.marginUsed),
		UpdatedAt:  s.now(),
	}
}

func (s *Store) equityLocked() decimal.Decimal {
	equity := s.balance
	for _, p := range s.open {
		equity = equity.Add(p.PnL)
	}
	return equity
}

func (s *Store) recordLocked(event domain.TradeEvent) {
	if s.journal != nil {
		if _, err := s.journal.Append(event.ID, event); err != nil {
			s.logger.Warn("failed to journal trade event", zap.String("id", event.ID), zap.Error(err))
		}
	}
	if s.onTrade != nil {
		s.onTrade(event)
	}
}

func (s *Store) persistLocked() {
	if s.persister == nil {
		return
	}

	state := ledger.State{
		Balance:    s.balance,
		MarginUsed: s.marginUsed,
		Open:       make([]domain.Position, 0, len(s.open)),
		Closed:     append([]domain.Position(nil), s.closed...),
		Pending:    append([]domain.PendingOrder(nil), s.pending...),
		Marks:      make(map[string]decimal.Decimal, len(s.marks)),
		SavedAt:    s.now(),
	}
	for _, p := range s.open {
		state.Open = append(state.Open, p.Clone())
	}
	for k, v := range s.marks {
		state.Marks[k] = v
	}

	if err := s.persister.Save(state); err != nil {
		s.logger.Warn("failed to persist trading state", zap.Error(err))
	}
}
