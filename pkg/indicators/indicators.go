// Package indicators provides moving averages and RSI over price series.
package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrNotEnoughData returned when the series is shorter than the period needs.
var ErrNotEnoughData = errors.New("not enough data points")

// SMA calculates the Simple Moving Average. The result has one value per
// full window, oldest first.
func SMA(values []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if err := checkPeriod(len(values), period, period); err != nil {
		return nil, err
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	out := helper.ChanToSlice(sma.Compute(helper.SliceToChan(decimalsToFloat64(values))))

	return float64ToDecimals(out), nil
}

// LastSMA returns the average of the last period values.
func LastSMA(values []decimal.Decimal, period int) (decimal.Decimal, error) {
	if err := checkPeriod(len(values), period, period); err != nil {
		return decimal.Zero, err
	}

	out, err := SMA(values[len(values)-period:], period)
	if err != nil {
		return decimal.Zero, err
	}

	return out[len(out)-1], nil
}

// EMA calculates the Exponential Moving Average for the given period.
func EMA(values []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if err := checkPeriod(len(values), period, period); err != nil {
		return nil, err
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	out := helper.ChanToSlice(ema.Compute(helper.SliceToChan(decimalsToFloat64(values))))

	return float64ToDecimals(out), nil
}

// RSI calculates the Relative Strength Index for the given period.
func RSI(values []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if err := checkPeriod(len(values), period, period+1); err != nil {
		return nil, err
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(decimalsToFloat64(values))))
	for i, v := range out {
		// no gains and no losses over the window
		if math.IsNaN(v) {
			out[i] = 50
		}
	}

	return float64ToDecimals(out), nil
}

func checkPeriod(n, period, need int) error {
	if period < 1 {
		return errors.Errorf("period must be positive, got %d", period)
	}
	if n < need {
		return errors.Wrapf(ErrNotEnoughData, "need %d, got %d", need, n)
	}
	return nil
}

func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			// NewFromFloat panics on non-finite input
			continue
		}
		result[i] = decimal.NewFromFloat(f)
	}
	return result
}
