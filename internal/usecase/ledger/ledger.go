package ledger

import (
	"context"
	"fmt"
	"time"

	"savings-service/internal/domain"
	"savings-service/internal/repository"
	"savings-service/pkg/utils"

	"github.com/shopspring/decimal"
)

// Entry is an intent to move Amount (always positive) under Kind. The sign of
// the stored transaction follows from the kind.
type Entry struct {
	Kind        domain.TransactionKind
	Amount      decimal.Decimal
	ReferenceID string
	Description string
}

// Ledger is the append-only transaction log. Append is its only write.
type Ledger struct {
	store repository.Store
	newID func() string
	now   func() time.Time
}

func New(store repository.Store) *Ledger {
	return &Ledger{
		store: store,
		newID: func() string { return utils.GenerateTxID("txn") },
		now:   time.Now,
	}
}

// WithClock overrides the timestamp source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Append records e against w inside tx and moves w by the entry's delta. The
// wallet row and the entry are written in the same transaction. If the delta
// would break 0 <= locked <= total the append fails with ErrConflict and
// neither w nor the store is touched.
func (l *Ledger) Append(ctx context.Context, tx repository.Tx, w *domain.Wallet, e Entry) (*domain.Transaction, error) {
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("unknown transaction kind %q: %w", e.Kind, domain.ErrInvalidInput)
	}
	if err := domain.ValidateAmount(e.Amount); err != nil {
		return nil, err
	}

	now := l.now().UTC()
	delta := e.Kind.Effect(e.Amount)

	next := *w
	if err := next.ApplyDelta(delta, now); err != nil {
		return nil, fmt.Errorf("append %s to wallet %s (%v): %w", e.Kind, w.ID, err, domain.ErrConflict)
	}

	t := &domain.Transaction{
		ID:          l.newID(),
		WalletID:    w.ID,
		UserID:      w.UserID,
		Kind:        e.Kind,
		Amount:      delta.Total,
		LockedDelta: delta.Locked,
		ReferenceID: e.ReferenceID,
		Description: e.Description,
		CreatedAt:   now,
	}

	if err := tx.AppendTransaction(ctx, t); err != nil {
		return nil, err
	}
	if err := tx.UpdateWallet(ctx, &next); err != nil {
		return nil, err
	}

	*w = next
	return t, nil
}

// History returns a page of userID's entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit, offset int) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := l.store.Snapshot(ctx, func(r repository.Reader) error {
		w, err := r.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		out, err = r.ListTransactions(ctx, w.ID, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Report compares a wallet projection against a replay of its ledger.
type Report struct {
	UserID         string          `json:"user_id"`
	WalletID       string          `json:"wallet_id"`
	Entries        int             `json:"entries"`
	Total          decimal.Decimal `json:"total"`
	Locked         decimal.Decimal `json:"locked"`
	ReplayedTotal  decimal.Decimal `json:"replayed_total"`
	ReplayedLocked decimal.Decimal `json:"replayed_locked"`
	// FirstViolation is the first entry after which the running balance
	// broke 0 <= locked <= total.
	FirstViolation string `json:"first_violation,omitempty"`
	Consistent     bool   `json:"consistent"`
}

// Replay folds every entry of walletID from zero.
func Replay(ctx context.Context, r repository.Reader, walletID string) (domain.Delta, int, string, error) {
	sum := domain.Delta{Total: decimal.Zero, Locked: decimal.Zero}
	n := 0
	violation := ""

	err := r.ScanTransactions(ctx, walletID, func(t *domain.Transaction) error {
		sum.Total = sum.Total.Add(t.Amount)
		sum.Locked = sum.Locked.Add(t.LockedDelta)
		n++
		if violation == "" && (sum.Locked.IsNegative() || sum.Locked.GreaterThan(sum.Total)) {
			violation = t.ID
		}
		return nil
	})
	return sum, n, violation, err
}

// Verify replays userID's ledger inside one snapshot and compares it with the
// stored wallet.
func (l *Ledger) Verify(ctx context.Context, userID string) (*Report, error) {
	var rep *Report
	err := l.store.Snapshot(ctx, func(r repository.Reader) error {
		w, err := r.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		sum, n, violation, err := Replay(ctx, r, w.ID)
		if err != nil {
			return err
		}
		rep = &Report{
			UserID:         w.UserID,
			WalletID:       w.ID,
			Entries:        n,
			Total:          w.TotalBalance,
			Locked:         w.LockedAmount,
			ReplayedTotal:  sum.Total,
			ReplayedLocked: sum.Locked,
			FirstViolation: violation,
		}
		rep.Consistent = violation == "" &&
			sum.Total.Equal(w.TotalBalance) &&
			sum.Locked.Equal(w.LockedAmount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}
