package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Interval bar aggregation period.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval3m:  3 * time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
}

// ParseInterval accepts the canonical spellings plus upper-case day/week ("1D", "1W").
func ParseInterval(s string) (Interval, error) {
	v := strings.TrimSpace(s)
	if v == "1D" || v == "1W" {
		v = strings.ToLower(v)
	}
	iv := Interval(v)
	if _, ok := intervalDurations[iv]; !ok {
		return "", Validationf("unsupported interval %q", s)
	}
	return iv, nil
}

// Duration returns the wall-clock length of the interval.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// IsValid checks if the interval is supported.
func (i Interval) IsValid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Bar single OHLCV candle.
type Bar struct {
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	CloseTime time.Time       `json:"close_time"`
}
