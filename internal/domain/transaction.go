package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindDeposit           TransactionKind = "deposit"
	KindWithdrawal        TransactionKind = "withdrawal"
	KindGoalContribution  TransactionKind = "goal_contribution"
	KindGoalWithdrawal    TransactionKind = "goal_withdrawal"
	KindGroupContribution TransactionKind = "group_contribution"
	KindGroupWithdrawal   TransactionKind = "group_withdrawal"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal,
		KindGoalContribution, KindGoalWithdrawal,
		KindGroupContribution, KindGroupWithdrawal:
		return true
	}
	return false
}

// Effect returns the wallet delta of moving amount under this kind.
// Deposits and withdrawals move total_balance; contributions move only
// locked_amount.
func (k TransactionKind) Effect(amount decimal.Decimal) Delta {
	switch k {
	case KindDeposit:
		return Delta{Total: amount, Locked: decimal.Zero}
	case KindWithdrawal:
		return Delta{Total: amount.Neg(), Locked: decimal.Zero}
	case KindGoalContribution, KindGroupContribution:
		return Delta{Total: decimal.Zero, Locked: amount}
	case KindGoalWithdrawal, KindGroupWithdrawal:
		return Delta{Total: decimal.Zero, Locked: amount.Neg()}
	}
	return Delta{Total: decimal.Zero, Locked: decimal.Zero}
}

// Transaction is an immutable ledger entry. Amount is the signed change to
// total_balance and LockedDelta the signed change to locked_amount.
type Transaction struct {
	ID          string          `json:"id"`
	WalletID    string          `json:"wallet_id"`
	UserID      string          `json:"user_id"`
	Kind        TransactionKind `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	LockedDelta decimal.Decimal `json:"locked_delta"`
	ReferenceID string          `json:"reference_id,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (t *Transaction) Delta() Delta {
	return Delta{Total: t.Amount, Locked: t.LockedDelta}
}
