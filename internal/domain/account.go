package domain

import "github.com/shopspring/decimal"

// AccountSnapshot positions and wallet figures supplied by an account source.
// Nil Balance/MarginUsed mean the source does not track them. Marks are the
// last mids per symbol.
type AccountSnapshot struct {
	Open       []Position                 `json:"open"`
	Closed     []Position                 `json:"closed,omitempty"`
	Pending    []PendingOrder             `json:"pending,omitempty"`
	Balance    *decimal.Decimal           `json:"balance,omitempty"`
	MarginUsed *decimal.Decimal           `json:"margin_used,omitempty"`
	Marks      map[string]decimal.Decimal `json:"marks,omitempty"`
}
