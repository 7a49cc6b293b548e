package strategy

import "github.com/shopspring/decimal"

// DefaultBufferSize samples kept per symbol.
const DefaultBufferSize = 500

// RollingWindow keeps the most recent values up to a fixed capacity.
type RollingWindow struct {
	values []decimal.Decimal
	limit  int
}

// NewRollingWindow creates a window holding at most limit values.
func NewRollingWindow(limit int) *RollingWindow {
	if limit < 1 {
		limit = DefaultBufferSize
	}
	return &RollingWindow{values: make([]decimal.Decimal, 0, limit), limit: limit}
}

// Push appends v, evicting the oldest value when full.
func (w *RollingWindow) Push(v decimal.Decimal) {
	if len(w.values) == w.limit {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.limit-1]
	}
	w.values = append(w.values, v)
}

// Len number of stored values.
func (w *RollingWindow) Len() int { return len(w.values) }

// Values returns a copy, oldest first.
func (w *RollingWindow) Values() []decimal.Decimal {
	return append([]decimal.Decimal(nil), w.values...)
}
