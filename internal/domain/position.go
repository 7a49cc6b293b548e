package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// CloseReason why a position was closed.
type CloseReason string

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
)

// Position an open or closed trade owned by the trading state store.
// Zero StopLoss/TakeProfit mean the bracket is not set.
type Position struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	LotSize      decimal.Decimal `json:"lot_size"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	TakeProfit   decimal.Decimal `json:"take_profit"`
	PnL          decimal.Decimal `json:"pnl"`
	Swap         decimal.Decimal `json:"swap"`
	Commission   decimal.Decimal `json:"commission"`
	Margin       decimal.Decimal `json:"margin"`
	Status       PositionStatus  `json:"status"`
	OpenTime     time.Time       `json:"open_time"`
	CloseTime    *time.Time      `json:"close_time,omitempty"`
	CloseReason  CloseReason     `json:"close_reason,omitempty"`
}

// NewPosition constructs an OPEN position from a validated intent at the given entry price.
func NewPosition(id string, intent OrderIntent, entryPrice decimal.Decimal, openTime time.Time) (*Position, error) {
	if id == "" {
		return nil, Validationf("position id is required")
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if !entryPrice.IsPositive() {
		return nil, Validationf("entry price must be positive, got %s", entryPrice.String())
	}

	return &Position{
		ID:           id,
		Symbol:       intent.Symbol,
		Side:         intent.Side,
		LotSize:      intent.Lot,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		StopLoss:     intent.StopLoss,
		TakeProfit:   intent.TakeProfit,
		PnL:          decimal.Zero,
		Swap:         decimal.Zero,
		Commission:   decimal.Zero,
		Margin:       decimal.Zero,
		Status:       PositionOpen,
		OpenTime:     openTime,
	}, nil
}

// IsOpen returns true while the position is OPEN.
func (p *Position) IsOpen() bool {
	return p != nil && p.Status == PositionOpen
}

// PnLAt calculates profit and loss for the given price:
// (price - entry) * lot * direction * contractSize.
func (p *Position) PnLAt(price, contractSize decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Mul(p.LotSize).Mul(p.Side.Direction()).Mul(contractSize)
}

// Mark updates current price and floating pnl. Closed positions are left as is.
func (p *Position) Mark(price, contractSize decimal.Decimal) {
	if !p.IsOpen() {
		return
	}
	p.CurrentPrice = price
	p.PnL = p.PnLAt(price, contractSize)
}

// Notional returns entry * lot * contractSize.
func (p *Position) Notional(contractSize decimal.Decimal) decimal.Decimal {
	return p.EntryPrice.Mul(p.LotSize).Mul(contractSize)
}

// BracketHit checks stop loss first, then take profit, against price.
func (p *Position) BracketHit(price decimal.Decimal) (CloseReason, bool) {
	if !p.IsOpen() {
		return "", false
	}

	switch p.Side {
	case SideBuy:
		if p.StopLoss.IsPositive() && price.LessThanOrEqual(p.StopLoss) {
			return CloseReasonStopLoss, true
		}
		if p.TakeProfit.IsPositive() && price.GreaterThanOrEqual(p.TakeProfit) {
			return CloseReasonTakeProfit, true
		}
	case SideSell:
		if p.StopLoss.IsPositive() && price.GreaterThanOrEqual(p.StopLoss) {
			return CloseReasonStopLoss, true
		}
		if p.TakeProfit.IsPositive() && price.LessThanOrEqual(p.TakeProfit) {
			return CloseReasonTakeProfit, true
		}
	}

	return "", false
}

// Close marks the position CLOSED. The caller realizes PnL.
func (p *Position) Close(at time.Time, reason CloseReason) {
	p.Status = PositionClosed
	p.CloseTime = &at
	p.CloseReason = reason
}

// Clone returns a detached copy safe to hand out of the store.
func (p *Position) Clone() Position {
	clone := *p
	if p.CloseTime != nil {
		t := *p.CloseTime
		clone.CloseTime = &t
	}
	return clone
}
