package ledger

import (
	"context"
	"testing"
	"time"

	"savings-service/internal/domain"
	"savings-service/internal/repository"
	"savings-service/internal/repository/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.InTx(context.Background(), func(tx repository.Tx) error {
		return tx.CreateWallet(context.Background(), domain.NewWallet("w1", "u1", time.Now()))
	}))
	return New(store), store
}

func appendEntry(t *testing.T, l *Ledger, store *memory.Store, e Entry) error {
	t.Helper()
	ctx := context.Background()
	return store.InTx(ctx, func(tx repository.Tx) error {
		w, err := tx.GetWallet(ctx, "u1")
		if err != nil {
			return err
		}
		_, err = l.Append(ctx, tx, w, e)
		return err
	})
}

func TestAppendMovesWalletAndRecordsEntry(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()

	require.NoError(t, appendEntry(t, l, store, Entry{Kind: domain.KindDeposit, Amount: dec("100")}))
	require.NoError(t, appendEntry(t, l, store, Entry{Kind: domain.KindGoalContribution, Amount: dec("60"), ReferenceID: "goal-a"}))

	_ = store.Snapshot(ctx, func(r repository.Reader) error {
		w, err := r.GetWallet(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, dec("100").Equal(w.TotalBalance))
		assert.True(t, dec("60").Equal(w.LockedAmount))
		assert.Equal(t, int64(2), w.Version)
		return nil
	})

	history, err := l.History(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.KindGoalContribution, history[0].Kind)
	assert.True(t, history[0].Amount.IsZero())
	assert.True(t, dec("60").Equal(history[0].LockedDelta))
	assert.Equal(t, "goal-a", history[0].ReferenceID)
	assert.Greater(t, history[0].ID, history[1].ID)
}

func TestAppendRejectsInvariantBreakAsConflict(t *testing.T) {
	l, store := newLedger(t)
	require.NoError(t, appendEntry(t, l, store, Entry{Kind: domain.KindDeposit, Amount: dec("10")}))

	err := appendEntry(t, l, store, Entry{Kind: domain.KindWithdrawal, Amount: dec("11")})
	assert.ErrorIs(t, err, domain.ErrConflict)

	err = appendEntry(t, l, store, Entry{Kind: domain.KindGroupWithdrawal, Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrConflict)

	history, err := l.History(context.Background(), "u1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAppendValidatesEntry(t *testing.T) {
	l, store := newLedger(t)

	assert.ErrorIs(t, appendEntry(t, l, store, Entry{Kind: domain.KindDeposit, Amount: dec("0")}), domain.ErrInvalidAmount)
	assert.ErrorIs(t, appendEntry(t, l, store, Entry{Kind: domain.KindDeposit, Amount: dec("-5")}), domain.ErrInvalidAmount)
	assert.ErrorIs(t, appendEntry(t, l, store, Entry{Kind: "refund", Amount: dec("5")}), domain.ErrInvalidInput)
}

func TestVerifyReplaysToProjection(t *testing.T) {
	l, store := newLedger(t)

	steps := []Entry{
		{Kind: domain.KindDeposit, Amount: dec("100")},
		{Kind: domain.KindGoalContribution, Amount: dec("60")},
		{Kind: domain.KindGroupContribution, Amount: dec("25.50")},
		{Kind: domain.KindGoalWithdrawal, Amount: dec("60")},
		{Kind: domain.KindWithdrawal, Amount: dec("30")},
		{Kind: domain.KindGroupWithdrawal, Amount: dec("5.50")},
	}
	for _, e := range steps {
		require.NoError(t, appendEntry(t, l, store, e))
	}

	rep, err := l.Verify(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, rep.Consistent)
	assert.Equal(t, 6, rep.Entries)
	assert.True(t, dec("70").Equal(rep.ReplayedTotal))
	assert.True(t, dec("20").Equal(rep.ReplayedLocked))
	assert.Empty(t, rep.FirstViolation)
}

func TestVerifyDetectsDrift(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()
	require.NoError(t, appendEntry(t, l, store, Entry{Kind: domain.KindDeposit, Amount: dec("50")}))

	// Move the projection without a ledger entry.
	require.NoError(t, store.InTx(ctx, func(tx repository.Tx) error {
		w, _ := tx.GetWallet(ctx, "u1")
		w.TotalBalance = dec("80")
		return tx.UpdateWallet(ctx, w)
	}))

	rep, err := l.Verify(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rep.Consistent)
	assert.True(t, dec("50").Equal(rep.ReplayedTotal))
	assert.True(t, dec("80").Equal(rep.Total))
}

func TestHistoryUnknownWallet(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.History(context.Background(), "nobody", 10, 0)
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}
