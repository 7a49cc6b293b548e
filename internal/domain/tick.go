package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// Tick one bid/ask observation for a symbol.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"ts"`
}

// Mid returns (bid+ask)/2. Entry, mark-to-market and strategy all price off mid.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(two)
}

// Validate checks the tick carries a symbol and strictly positive prices.
func (t Tick) Validate() error {
	if t.Symbol == "" {
		return Validationf("tick symbol is empty")
	}
	if !t.Bid.IsPositive() {
		return Validationf("tick bid must be positive, got %s", t.Bid.String())
	}
	if !t.Ask.IsPositive() {
		return Validationf("tick ask must be positive, got %s", t.Ask.String())
	}

	return nil
}
