package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstruments_Lookup(t *testing.T) {
	empty := Instruments{}
	inst, err := empty.Lookup("ANY")
	require.NoError(t, err)
	assert.True(t, inst.ContractSize.Equal(decimal.NewFromInt(DefaultContractSize)))

	table := NewInstruments([]Instrument{
		{Symbol: "eurusd", MinLot: d("0.01"), MaxLot: d("50"), LotStep: d("0.01")},
		{Symbol: "XAUUSD", ContractSize: d("100")},
	})

	inst, err = table.Lookup("EURUSD")
	require.NoError(t, err)
	assert.True(t, inst.ContractSize.Equal(decimal.NewFromInt(DefaultContractSize)))
	assert.True(t, table.ContractSize("XAUUSD").Equal(d("100")))

	_, err = table.Lookup("GBPJPY")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestInstrument_CheckLot(t *testing.T) {
	inst := Instrument{Symbol: "EURUSD", MinLot: d("0.01"), MaxLot: d("50"), LotStep: d("0.01")}

	assert.NoError(t, inst.CheckLot(d("0.05")))
	assert.ErrorIs(t, inst.CheckLot(d("0.001")), ErrValidation)
	assert.ErrorIs(t, inst.CheckLot(d("51")), ErrValidation)
	assert.ErrorIs(t, inst.CheckLot(d("0.015")), ErrValidation)
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in       string
		expected Interval
		wantErr  bool
	}{
		{in: "1m", expected: Interval1m},
		{in: "4h", expected: Interval4h},
		{in: "1D", expected: Interval1d},
		{in: "1W", expected: Interval1w},
		{in: "2h", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			iv, err := ParseInterval(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, iv)
		})
	}

	assert.Equal(t, 15*time.Minute, Interval15m.Duration())
}

func TestNewWalletSnapshot_Defaults(t *testing.T) {
	now := time.Now()
	snap := NewWalletSnapshot(d("1000"), nil, nil, nil, now)

	assert.True(t, snap.Equity.Equal(d("1000")))
	assert.True(t, snap.FreeMargin.Equal(d("1000")))
	assert.True(t, snap.MarginUsed.IsZero())

	eq, margin := d("1010"), d("20")
	snap = NewWalletSnapshot(d("1000"), &eq, &margin, nil, now)
	assert.True(t, snap.Equity.Equal(d("1010")))
	assert.True(t, snap.MarginUsed.Equal(d("20")))
	assert.True(t, snap.FreeMargin.Equal(d("1000")))

	assert.True(t, snap.SameFigures(snap))
	assert.False(t, snap.SameFigures(NewWalletSnapshot(d("1000"), nil, nil, nil, now)))
}
