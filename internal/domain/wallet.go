package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletSnapshot account figures as reported by the wallet service.
type WalletSnapshot struct {
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	MarginUsed decimal.Decimal `json:"margin_used"`
	FreeMargin decimal.Decimal `json:"free_margin"`
	UpdatedAt  time.Time       `json:"ts"`
}

// NewWalletSnapshot creates a snapshot, defaulting equity and free margin to balance
// when the service omitted them.
func NewWalletSnapshot(balance decimal.Decimal, equity, marginUsed, freeMargin *decimal.Decimal, at time.Time) WalletSnapshot {
	snap := WalletSnapshot{
		Balance:    balance,
		Equity:     balance,
		MarginUsed: decimal.Zero,
		FreeMargin: balance,
		UpdatedAt:  at,
	}
	if equity != nil {
		snap.Equity = *equity
	}
	if marginUsed != nil {
		snap.MarginUsed = *marginUsed
	}
	if freeMargin != nil {
		snap.FreeMargin = *freeMargin
	}

	return snap
}

// SameFigures compares the monetary fields, ignoring the timestamp.
func (w WalletSnapshot) SameFigures(other WalletSnapshot) bool {
	return w.Balance.Equal(other.Balance) &&
		w.Equity.Equal(other.Equity) &&
		w.MarginUsed.Equal(other.MarginUsed) &&
		w.FreeMargin.Equal(other.FreeMargin)
}

// WalletSnapshotRecord bundles a snapshot with its journal index.
type WalletSnapshotRecord struct {
	Index    uint64
	Snapshot WalletSnapshot
}
