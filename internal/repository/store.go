package repository

import (
	"context"
	"time"

	"savings-service/internal/domain"
)

// Store is the persistence boundary. Every ledger append, wallet update and
// goal/group counter change made inside one InTx call commits as a unit.
type Store interface {
	// InTx runs fn in a read-write transaction. Reads made through tx lock the
	// rows they return until the transaction ends.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Snapshot runs fn against a consistent read-only view.
	Snapshot(ctx context.Context, fn func(r Reader) error) error

	Ping(ctx context.Context) error
}

type Reader interface {
	GetWallet(ctx context.Context, userID string) (*domain.Wallet, error)

	// ListTransactions pages through a wallet's entries newest first.
	ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]*domain.Transaction, error)

	// ScanTransactions visits every entry of a wallet oldest first.
	ScanTransactions(ctx context.Context, walletID string, fn func(*domain.Transaction) error) error

	GetGoal(ctx context.Context, goalID string) (*domain.Goal, error)
	ListGoals(ctx context.Context, ownerID string) ([]*domain.Goal, error)

	// GetGroup returns the group with its members and ban list.
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)
	// ListMemberGroups returns every group userID belongs to, oldest
	// membership first.
	ListMemberGroups(ctx context.Context, userID string) ([]*domain.Group, error)
	// ListGroupTransactions pages through the group contributions and
	// withdrawals of every member, newest first.
	ListGroupTransactions(ctx context.Context, groupID string, limit, offset int) ([]*domain.Transaction, error)
}

type Tx interface {
	Reader

	CreateWallet(ctx context.Context, w *domain.Wallet) error
	// UpdateWallet persists w if its stored version still equals w.Version,
	// then bumps w.Version. A stale version fails with domain.ErrConflict.
	UpdateWallet(ctx context.Context, w *domain.Wallet) error

	// AppendTransaction is the only write the ledger table accepts.
	AppendTransaction(ctx context.Context, t *domain.Transaction) error

	CreateGoal(ctx context.Context, g *domain.Goal) error
	UpdateGoal(ctx context.Context, g *domain.Goal) error

	CreateGroup(ctx context.Context, g *domain.Group) error
	UpdateGroup(ctx context.Context, g *domain.Group) error
	PutMember(ctx context.Context, groupID string, m *domain.Member) error
	DeleteMember(ctx context.Context, groupID, userID string) error
	PutBan(ctx context.Context, groupID, userID string, until time.Time) error
	DeleteBan(ctx context.Context, groupID, userID string) error
}
