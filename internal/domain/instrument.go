// Package domain defines core data structures used throughout the trading engine.
package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultContractSize units per standard lot.
const DefaultContractSize = 100000

// Instrument tradable symbol parameters.
type Instrument struct {
	Symbol       string          `yaml:"symbol" json:"symbol"`
	ContractSize decimal.Decimal `yaml:"-" json:"contract_size"`
	MinLot       decimal.Decimal `yaml:"-" json:"min_lot"`
	MaxLot       decimal.Decimal `yaml:"-" json:"max_lot"`
	LotStep      decimal.Decimal `yaml:"-" json:"lot_step"`
}

// CheckLot validates lot against the instrument limits. Zero limits are ignored.
func (i Instrument) CheckLot(lot decimal.Decimal) error {
	if i.MinLot.IsPositive() && lot.LessThan(i.MinLot) {
		return Validationf("%s lot %s below minimum %s", i.Symbol, lot.String(), i.MinLot.String())
	}
	if i.MaxLot.IsPositive() && lot.GreaterThan(i.MaxLot) {
		return Validationf("%s lot %s above maximum %s", i.Symbol, lot.String(), i.MaxLot.String())
	}
	if i.LotStep.IsPositive() && !lot.Mod(i.LotStep).IsZero() {
		return Validationf("%s lot %s is not a multiple of %s", i.Symbol, lot.String(), i.LotStep.String())
	}

	return nil
}

// Instruments table keyed by upper-case symbol. An empty table accepts any symbol
// with the default contract size.
type Instruments map[string]Instrument

// NewInstruments builds a table from a list.
func NewInstruments(list []Instrument) Instruments {
	table := make(Instruments, len(list))
	for _, inst := range list {
		table[strings.ToUpper(inst.Symbol)] = inst
	}
	return table
}

// Lookup returns the instrument for symbol.
func (t Instruments) Lookup(symbol string) (Instrument, error) {
	if len(t) == 0 {
		return Instrument{Symbol: symbol, ContractSize: decimal.NewFromInt(DefaultContractSize)}, nil
	}

	inst, ok := t[strings.ToUpper(symbol)]
	if !ok {
		return Instrument{}, Validationf("unknown instrument %q", symbol)
	}
	if !inst.ContractSize.IsPositive() {
		inst.ContractSize = decimal.NewFromInt(DefaultContractSize)
	}

	return inst, nil
}

// ContractSize returns the contract size for symbol, falling back to the default.
func (t Instruments) ContractSize(symbol string) decimal.Decimal {
	inst, err := t.Lookup(symbol)
	if err != nil {
		return decimal.NewFromInt(DefaultContractSize)
	}
	return inst.ContractSize
}
