package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

var (
	plusOne  = decimal.NewFromInt(1)
	minusOne = decimal.NewFromInt(-1)
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", Validationf("unknown side %q", s)
	}
}

// IsValid checks if the side is BUY or SELL.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// Direction is +1 for BUY and -1 for SELL.
func (s Side) Direction() decimal.Decimal {
	if s == SideSell {
		return minusOne
	}
	return plusOne
}

// String returns the string representation.
func (s Side) String() string {
	return string(s)
}

// OrderType how an intent is executed.
type OrderType string

const (
	// OrderTypeMarket executes immediately at the reference price.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit rests until price reaches the limit in the trader's favour.
	OrderTypeLimit OrderType = "LIMIT"
	// OrderTypeStop rests until price breaks through the stop level.
	OrderTypeStop OrderType = "STOP"
)

// IsValid checks if the order type is known. Empty means market.
func (t OrderType) IsValid() bool {
	switch t {
	case "", OrderTypeMarket, OrderTypeLimit, OrderTypeStop:
		return true
	}
	return false
}

// OrderIntent transient command consumed to produce a Position.
// Zero StopLoss/TakeProfit mean "not set".
type OrderIntent struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Type       OrderType       `json:"type,omitempty"`
	Lot        decimal.Decimal `json:"lot"`
	Price      decimal.Decimal `json:"price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
}

// Validate checks the intent independent of market state.
func (i OrderIntent) Validate() error {
	if strings.TrimSpace(i.Symbol) == "" {
		return Validationf("symbol is required")
	}
	if !i.Side.IsValid() {
		return Validationf("unknown side %q", i.Side)
	}
	if !i.Type.IsValid() {
		return Validationf("unknown order type %q", i.Type)
	}
	if !i.Lot.IsPositive() {
		return Validationf("lot must be positive, got %s", i.Lot.String())
	}
	if i.Price.IsNegative() {
		return Validationf("price must not be negative, got %s", i.Price.String())
	}
	if i.StopLoss.IsNegative() || i.TakeProfit.IsNegative() {
		return Validationf("stop loss and take profit must not be negative")
	}
	if i.IsPending() && !i.Price.IsPositive() {
		return Validationf("%s order requires a positive price", i.Type)
	}

	return nil
}

// IsPending reports whether the intent rests in the pending book.
func (i OrderIntent) IsPending() bool {
	return i.Type == OrderTypeLimit || i.Type == OrderTypeStop
}

// PendingOrder a LIMIT or STOP intent waiting for its trigger price.
type PendingOrder struct {
	ID        string      `json:"id"`
	Intent    OrderIntent `json:"intent"`
	CreatedAt time.Time   `json:"created_at"`
}

// Triggered reports whether the order fills at the given price.
func (o PendingOrder) Triggered(price decimal.Decimal) bool {
	level := o.Intent.Price
	switch o.Intent.Type {
	case OrderTypeLimit:
		if o.Intent.Side == SideBuy {
			return price.LessThanOrEqual(level)
		}
		return price.GreaterThanOrEqual(level)
	case OrderTypeStop:
		if o.Intent.Side == SideBuy {
			return price.GreaterThanOrEqual(level)
		}
		return price.LessThanOrEqual(level)
	}
	return false
}
