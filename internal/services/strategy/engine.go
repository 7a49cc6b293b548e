// Package strategy turns ticks into entry orders.
package strategy

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"go.uber.org/zap"
)

type orderPlacer interface {
	OpenMarketOrder(intent domain.OrderIntent) (domain.Position, error)
}

type positionReader interface {
	HasOpenPosition(symbol string) bool
}

type gate interface {
	AnyActive() bool
}

// Config engine parameters. Zero values take defaults.
type Config struct {
	Lot decimal.Decimal
	// BracketPercent distance of SL and TP from the reference price.
	BracketPercent decimal.Decimal
	BufferSize     int
}

func (c Config) withDefaults() Config {
	if !c.Lot.IsPositive() {
		c.Lot = decimal.RequireFromString("0.01")
	}
	if !c.BracketPercent.IsPositive() {
		c.BracketPercent = decimal.NewFromInt(2)
	}
	if c.BufferSize < 1 {
		c.BufferSize = DefaultBufferSize
	}
	return c
}

// Engine evaluates a SignalRule per symbol and opens at most one position per
// symbol while some strategy is subscribed.
type Engine struct {
	cfg       Config
	rule      SignalRule
	orders    orderPlacer
	positions positionReader
	gate      gate
	logger    *zap.Logger

	mu      sync.Mutex
	windows map[string]*RollingWindow
}

// NewEngine creates an engine. A nil rule means NewSMACross.
func NewEngine(cfg Config, rule SignalRule, orders orderPlacer, positions positionReader, gate gate, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rule == nil {
		rule = NewSMACross()
	}

	return &Engine{
		cfg:       cfg.withDefaults(),
		rule:      rule,
		orders:    orders,
		positions: positions,
		gate:      gate,
		logger:    logger.With(zap.String("component", "strategy"), zap.String("rule", rule.Name())),
		windows:   make(map[string]*RollingWindow),
	}
}

// OnTick records the tick mid and places an entry when the rule fires.
// Order failures are logged and dropped.
func (e *Engine) OnTick(tick domain.Tick) {
	symbol := strings.ToUpper(tick.Symbol)
	ref := tick.Mid()

	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.windows[symbol]
	if !ok {
		w = NewRollingWindow(e.cfg.BufferSize)
		e.windows[symbol] = w
	}
	w.Push(ref)

	if e.positions.HasOpenPosition(symbol) {
		return
	}
	if e.gate != nil && !e.gate.AnyActive() {
		return
	}

	signal, err := e.rule.Evaluate(w.Values())
	if err != nil {
		e.logger.Warn("rule evaluation failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	side, ok := signal.Side()
	if !ok {
		return
	}

	intent := e.intent(symbol, side, ref)
	pos, err := e.orders.OpenMarketOrder(intent)
	if err != nil {
		e.logger.Warn("entry order rejected",
			zap.String("symbol", symbol),
			zap.String("side", side.String()),
			zap.Error(err),
		)
		return
	}

	e.logger.Info("entry opened",
		zap.String("symbol", symbol),
		zap.String("signal", signal.String()),
		zap.String("position_id", pos.ID),
		zap.String("price", ref.String()),
	)
}

func (e *Engine) intent(symbol string, side domain.Side, ref decimal.Decimal) domain.OrderIntent {
	pct := e.cfg.BracketPercent.Div(decimal.NewFromInt(100))
	below := ref.Mul(decimal.NewFromInt(1).Sub(pct))
	above := ref.Mul(decimal.NewFromInt(1).Add(pct))

	intent := domain.OrderIntent{
		Symbol: symbol,
		Side:   side,
		Type:   domain.OrderTypeMarket,
		Lot:    e.cfg.Lot,
		Price:  ref,
	}
	if side == domain.SideBuy {
		intent.StopLoss, intent.TakeProfit = below, above
	} else {
		intent.StopLoss, intent.TakeProfit = above, below
	}

	return intent
}

// Samples number of buffered prices for symbol.
func (e *Engine) Samples(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.windows[strings.ToUpper(symbol)]; ok {
		return w.Len()
	}
	return 0
}
