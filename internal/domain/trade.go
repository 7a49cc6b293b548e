package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction what happened to a position or pending order.
type TradeAction string

const (
	TradeOpened           TradeAction = "opened"
	TradeClosed           TradeAction = "closed"
	TradeModified         TradeAction = "modified"
	TradePendingPlaced    TradeAction = "pending_placed"
	TradePendingCancelled TradeAction = "pending_cancelled"
)

// TradeEvent journal entry emitted by the trading state store.
type TradeEvent struct {
	Action    TradeAction     `json:"action"`
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Lot       decimal.Decimal `json:"lot"`
	Price     decimal.Decimal `json:"price"`
	PnL       decimal.Decimal `json:"pnl"`
	Reason    CloseReason     `json:"reason,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// String returns a human-readable string representation.
func (t TradeEvent) String() string {
	return fmt.Sprintf("%s %s %s %s lot: %s price: %s", t.Action, t.ID, t.Symbol, t.Side, t.Lot.String(), t.Price.String())
}

// TradeEventRecord bundles an event with its journal index.
type TradeEventRecord struct {
	Index uint64
	Event TradeEvent
}
