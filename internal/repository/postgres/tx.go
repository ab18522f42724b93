package postgres

import (
	"context"
	"errors"
	"time"

	"savings-service/internal/domain"

	"github.com/jackc/pgx/v5"
)

type pgTx struct {
	tx        pgx.Tx
	forUpdate bool
}

func (t *pgTx) lockClause() string {
	if t.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

// ===============================
// Wallets
// ===============================

func (t *pgTx) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	query := `
		SELECT id, user_id, total_balance, locked_amount, version, created_at, updated_at
		FROM wallets
		WHERE user_id = $1` + t.lockClause()

	var w domain.Wallet
	err := t.tx.QueryRow(ctx, query, userID).Scan(
		&w.ID,
		&w.UserID,
		&w.TotalBalance,
		&w.LockedAmount,
		&w.Version,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, classify("get wallet", err)
	}
	return &w, nil
}

func (t *pgTx) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	query := `
		INSERT INTO wallets (id, user_id, total_balance, locked_amount, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := t.tx.Exec(ctx, query,
		w.ID, w.UserID, w.TotalBalance, w.LockedAmount, w.Version, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrWalletExists
		}
		return classify("create wallet", err)
	}
	return nil
}

func (t *pgTx) UpdateWallet(ctx context.Context, w *domain.Wallet) error {
	query := `
		UPDATE wallets
		SET total_balance = $1,
			locked_amount = $2,
			version = version + 1,
			updated_at = $3
		WHERE user_id = $4 AND version = $5`

	tag, err := t.tx.Exec(ctx, query,
		w.TotalBalance, w.LockedAmount, w.UpdatedAt, w.UserID, w.Version)
	if err != nil {
		return classify("update wallet", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	w.Version++
	return nil
}

// ===============================
// Ledger
// ===============================

const transactionColumns = `id, wallet_id, user_id, kind, amount, locked_delta, reference_id, description, created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var e domain.Transaction
	err := row.Scan(
		&e.ID,
		&e.WalletID,
		&e.UserID,
		&e.Kind,
		&e.Amount,
		&e.LockedDelta,
		&e.ReferenceID,
		&e.Description,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, e *domain.Transaction) error {
	query := `INSERT INTO wallet_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.tx.Exec(ctx, query,
		e.ID, e.WalletID, e.UserID, string(e.Kind), e.Amount, e.LockedDelta,
		e.ReferenceID, e.Description, e.CreatedAt)
	return classify("append transaction", err)
}

func (t *pgTx) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`

	var lim interface{}
	if limit > 0 {
		lim = limit
	}

	rows, err := t.tx.Query(ctx, query, walletID, lim, offset)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	defer rows.Close()

	out := make([]*domain.Transaction, 0)
	for rows.Next() {
		e, err := scanTransaction(rows)
		if err != nil {
			return nil, classify("list transactions", err)
		}
		out = append(out, e)
	}
	return out, classify("list transactions", rows.Err())
}

func (t *pgTx) ScanTransactions(ctx context.Context, walletID string, fn func(*domain.Transaction) error) error {
	query := `SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY id ASC`

	rows, err := t.tx.Query(ctx, query, walletID)
	if err != nil {
		return classify("scan transactions", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanTransaction(rows)
		if err != nil {
			return classify("scan transactions", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return classify("scan transactions", rows.Err())
}

// ===============================
// Goals
// ===============================

const goalColumns = `id, owner_id, name, target, locked, status, created_at, updated_at`

func scanGoal(row pgx.Row) (*domain.Goal, error) {
	var g domain.Goal
	err := row.Scan(&g.ID, &g.OwnerID, &g.Name, &g.Target, &g.Locked, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (t *pgTx) GetGoal(ctx context.Context, goalID string) (*domain.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals WHERE id = $1` + t.lockClause()

	g, err := scanGoal(t.tx.QueryRow(ctx, query, goalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGoalNotFound
		}
		return nil, classify("get goal", err)
	}
	return g, nil
}

func (t *pgTx) ListGoals(ctx context.Context, ownerID string) ([]*domain.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals WHERE owner_id = $1 ORDER BY created_at`

	rows, err := t.tx.Query(ctx, query, ownerID)
	if err != nil {
		return nil, classify("list goals", err)
	}
	defer rows.Close()

	var goals []*domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, classify("list goals", err)
		}
		goals = append(goals, g)
	}
	return goals, classify("list goals", rows.Err())
}

func (t *pgTx) CreateGoal(ctx context.Context, g *domain.Goal) error {
	query := `INSERT INTO goals (` + goalColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := t.tx.Exec(ctx, query,
		g.ID, g.OwnerID, g.Name, g.Target, g.Locked, string(g.Status), g.CreatedAt, g.UpdatedAt)
	return classify("create goal", err)
}

func (t *pgTx) UpdateGoal(ctx context.Context, g *domain.Goal) error {
	query := `UPDATE goals SET locked = $1, status = $2, updated_at = $3 WHERE id = $4`
	tag, err := t.tx.Exec(ctx, query, g.Locked, string(g.Status), g.UpdatedAt, g.ID)
	if err != nil {
		return classify("update goal", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGoalNotFound
	}
	return nil
}

// ===============================
// Groups
// ===============================

func (t *pgTx) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	query := `
		SELECT id, name, target, status, created_by, created_at, updated_at
		FROM savings_groups
		WHERE id = $1` + t.lockClause()

	var g domain.Group
	err := t.tx.QueryRow(ctx, query, groupID).Scan(
		&g.ID, &g.Name, &g.Target, &g.Status, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, classify("get group", err)
	}

	members, err := t.tx.Query(ctx, `
		SELECT user_id, role, contributed, joined_at
		FROM group_members
		WHERE group_id = $1
		ORDER BY joined_at, user_id`, groupID)
	if err != nil {
		return nil, classify("get group members", err)
	}
	defer members.Close()
	for members.Next() {
		var m domain.Member
		if err := members.Scan(&m.UserID, &m.Role, &m.Contributed, &m.JoinedAt); err != nil {
			return nil, classify("get group members", err)
		}
		g.Members = append(g.Members, &m)
	}
	if err := members.Err(); err != nil {
		return nil, classify("get group members", err)
	}

	bans, err := t.tx.Query(ctx, `SELECT user_id, expires_at FROM group_bans WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, classify("get group bans", err)
	}
	defer bans.Close()
	g.Bans = make(map[string]time.Time)
	for bans.Next() {
		var userID string
		var until time.Time
		if err := bans.Scan(&userID, &until); err != nil {
			return nil, classify("get group bans", err)
		}
		g.Bans[userID] = until
	}
	if err := bans.Err(); err != nil {
		return nil, classify("get group bans", err)
	}

	return &g, nil
}

func (t *pgTx) ListMemberGroups(ctx context.Context, userID string) ([]*domain.Group, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT group_id
		FROM group_members
		WHERE user_id = $1
		ORDER BY joined_at, group_id`, userID)
	if err != nil {
		return nil, classify("list member groups", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, classify("list member groups", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify("list member groups", err)
	}

	groups := make([]*domain.Group, 0, len(ids))
	for _, id := range ids {
		g, err := t.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (t *pgTx) ListGroupTransactions(ctx context.Context, groupID string, limit, offset int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE reference_id = $1 AND kind IN ($2, $3)
		ORDER BY id DESC
		LIMIT $4 OFFSET $5`

	var lim interface{}
	if limit > 0 {
		lim = limit
	}

	rows, err := t.tx.Query(ctx, query, groupID,
		string(domain.KindGroupContribution), string(domain.KindGroupWithdrawal), lim, offset)
	if err != nil {
		return nil, classify("list group transactions", err)
	}
	defer rows.Close()

	out := make([]*domain.Transaction, 0)
	for rows.Next() {
		e, err := scanTransaction(rows)
		if err != nil {
			return nil, classify("list group transactions", err)
		}
		out = append(out, e)
	}
	return out, classify("list group transactions", rows.Err())
}

func (t *pgTx) CreateGroup(ctx context.Context, g *domain.Group) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO savings_groups (id, name, target, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID, g.Name, g.Target, string(g.Status), g.CreatedBy, g.CreatedAt, g.UpdatedAt)
	for _, m := range g.Members {
		batch.Queue(`
			INSERT INTO group_members (group_id, user_id, role, contributed, joined_at)
			VALUES ($1, $2, $3, $4, $5)`,
			g.ID, m.UserID, string(m.Role), m.Contributed, m.JoinedAt)
	}

	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return classify("create group", err)
		}
	}
	return nil
}

func (t *pgTx) UpdateGroup(ctx context.Context, g *domain.Group) error {
	query := `UPDATE savings_groups SET name = $1, target = $2, status = $3, updated_at = $4 WHERE id = $5`
	tag, err := t.tx.Exec(ctx, query, g.Name, g.Target, string(g.Status), g.UpdatedAt, g.ID)
	if err != nil {
		return classify("update group", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

func (t *pgTx) PutMember(ctx context.Context, groupID string, m *domain.Member) error {
	query := `
		INSERT INTO group_members (group_id, user_id, role, contributed, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, user_id)
		DO UPDATE SET role = EXCLUDED.role, contributed = EXCLUDED.contributed`
	_, err := t.tx.Exec(ctx, query, groupID, m.UserID, string(m.Role), m.Contributed, m.JoinedAt)
	return classify("put member", err)
}

func (t *pgTx) DeleteMember(ctx context.Context, groupID, userID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return classify("delete member", err)
}

func (t *pgTx) PutBan(ctx context.Context, groupID, userID string, until time.Time) error {
	query := `
		INSERT INTO group_bans (group_id, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`
	_, err := t.tx.Exec(ctx, query, groupID, userID, until)
	return classify("put ban", err)
}

func (t *pgTx) DeleteBan(ctx context.Context, groupID, userID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM group_bans WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return classify("delete ban", err)
}
