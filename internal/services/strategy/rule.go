package strategy

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/internal/domain"
	"github.com/vadiminshakov/fxdesk/pkg/indicators"
)

// Signal what a rule wants to do on the current sample.
type Signal int

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "none"
	}
}

// Side maps the signal to an order side.
func (s Signal) Side() (domain.Side, bool) {
	switch s {
	case SignalBuy:
		return domain.SideBuy, true
	case SignalSell:
		return domain.SideSell, true
	default:
		return "", false
	}
}

// SignalRule decides an entry from a price history, oldest first.
type SignalRule interface {
	Name() string
	Evaluate(prices []decimal.Decimal) (Signal, error)
}

// SMACross compares a short and a long simple moving average.
type SMACross struct {
	Short int
	Long  int
	// Upper and Lower are multipliers applied to the long average.
	Upper decimal.Decimal
	Lower decimal.Decimal
}

// NewSMACross returns the 7/30 rule with 1.0002/0.9998 thresholds.
func NewSMACross() SMACross {
	return SMACross{
		Short: 7,
		Long:  30,
		Upper: decimal.RequireFromString("1.0002"),
		Lower: decimal.RequireFromString("0.9998"),
	}
}

func (r SMACross) Name() string { return "sma_cross" }

// Validate checks window sizes and thresholds.
func (r SMACross) Validate() error {
	if r.Short < 1 || r.Long < 1 {
		return errors.Errorf("sma windows must be positive, got %d/%d", r.Short, r.Long)
	}
	if r.Short >= r.Long {
		return errors.Errorf("short window %d must be less than long window %d", r.Short, r.Long)
	}
	if !r.Upper.IsPositive() || !r.Lower.IsPositive() || r.Lower.GreaterThan(r.Upper) {
		return errors.Errorf("invalid thresholds %s/%s", r.Lower, r.Upper)
	}
	return nil
}

// Evaluate returns SignalNone until there are Long samples.
func (r SMACross) Evaluate(prices []decimal.Decimal) (Signal, error) {
	if len(prices) < r.Long {
		return SignalNone, nil
	}

	short, err := indicators.LastSMA(prices, r.Short)
	if err != nil {
		return SignalNone, errors.Wrap(err, "short sma")
	}
	long, err := indicators.LastSMA(prices, r.Long)
	if err != nil {
		return SignalNone, errors.Wrap(err, "long sma")
	}

	switch {
	case short.GreaterThan(long.Mul(r.Upper)):
		return SignalBuy, nil
	case short.LessThan(long.Mul(r.Lower)):
		return SignalSell, nil
	default:
		return SignalNone, nil
	}
}
