// Package marketdata adapts vendor streaming and REST sources into ticks and bars.
package marketdata

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/fxdesk/internal/domain"
)

// TickHandler receives a parsed bid/ask pair from a live stream.
type TickHandler func(bid, ask decimal.Decimal, ts time.Time)

// BarHandler receives a bar update; final is true once the bar is closed.
type BarHandler func(bar domain.Bar, final bool)

// Stream live vendor subscription. Close is idempotent.
type Stream interface {
	Close() error
}

// Provider normalizes a market data vendor.
type Provider interface {
	// Name vendor name used in logs and config.
	Name() string
	// NormalizeSymbol maps a platform symbol to the vendor's spelling.
	NormalizeSymbol(symbol string) (string, bool)
	// ConnectTicker opens a live bid/ask stream for a vendor symbol.
	ConnectTicker(ctx context.Context, vendorSymbol string, onTick TickHandler) (Stream, error)
	// FetchBars returns up to limit historical bars ordered oldest to newest.
	FetchBars(ctx context.Context, vendorSymbol string, interval domain.Interval, limit int) ([]domain.Bar, error)
	// ConnectBarStream opens a live bar stream for a vendor symbol.
	ConnectBarStream(ctx context.Context, vendorSymbol string, interval domain.Interval, onBar BarHandler) (Stream, error)
}

// parsePrice parses a vendor price string, rejecting empty and non-finite values.
func parsePrice(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}

	return v, true
}

// parseMillis converts a millisecond timestamp; zero falls back to now.
func parseMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
