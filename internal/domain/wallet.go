package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the per-user projection of the ledger. It is created once and
// only ever changed by applying ledger deltas.
type Wallet struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	TotalBalance decimal.Decimal `json:"total_balance"`
	LockedAmount decimal.Decimal `json:"locked_amount"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Balance is a read-only snapshot of a wallet.
type Balance struct {
	UserID    string          `json:"user_id"`
	Total     decimal.Decimal `json:"total"`
	Locked    decimal.Decimal `json:"locked"`
	Available decimal.Decimal `json:"available"`
	Version   int64           `json:"version"`
}

// Delta is the signed effect of one ledger entry on a wallet.
type Delta struct {
	Total  decimal.Decimal
	Locked decimal.Decimal
}

func NewWallet(id, userID string, now time.Time) *Wallet {
	return &Wallet{
		ID:           id,
		UserID:       userID,
		TotalBalance: decimal.Zero,
		LockedAmount: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (w *Wallet) Available() decimal.Decimal {
	return w.TotalBalance.Sub(w.LockedAmount)
}

func (w *Wallet) Balance() Balance {
	return Balance{
		UserID:    w.UserID,
		Total:     w.TotalBalance,
		Locked:    w.LockedAmount,
		Available: w.Available(),
		Version:   w.Version,
	}
}

// ApplyDelta moves the wallet by d. It leaves the wallet untouched and
// returns ErrOverUnlock or ErrInsufficientFunds if the result would break
// 0 <= locked <= total.
func (w *Wallet) ApplyDelta(d Delta, now time.Time) error {
	total := w.TotalBalance.Add(d.Total)
	locked := w.LockedAmount.Add(d.Locked)

	if locked.IsNegative() {
		return ErrOverUnlock
	}
	if total.IsNegative() || locked.GreaterThan(total) {
		return ErrInsufficientFunds
	}

	w.TotalBalance = total
	w.LockedAmount = locked
	w.UpdatedAt = now
	return nil
}

// Consistent reports whether the projection satisfies its invariant.
func (w *Wallet) Consistent() bool {
	return !w.LockedAmount.IsNegative() && !w.LockedAmount.GreaterThan(w.TotalBalance)
}
