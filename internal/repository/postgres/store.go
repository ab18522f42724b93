package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"savings-service/internal/domain"
	"savings-service/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

var _ repository.Store = (*Store)(nil)

// EnsureSchema creates missing tables. It is idempotent and never alters
// existing ones.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema, pgx.QueryExecModeSimpleProtocol); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// InTx runs fn at READ COMMITTED. Row reads take FOR UPDATE locks, so two
// transactions touching the same wallet or group run one after the other.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback(context.Background())

	if err := fn(&pgTx{tx: tx, forUpdate: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

// Snapshot reads at REPEATABLE READ so every query in fn sees the same
// committed state.
func (s *Store) Snapshot(ctx context.Context, fn func(r repository.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return classify("snapshot", err)
	}
	defer tx.Rollback(context.Background())

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return classify("snapshot", tx.Commit(ctx))
}

// classify maps driver errors onto the domain taxonomy: serialization and
// deadlock failures are conflicts, timeouts are transient, the rest fatal.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%s: %w", op, domain.ErrConflict)
		case "57014":
			return domain.NewPersistenceError(op, err, true)
		}
		return domain.NewPersistenceError(op, err, false)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return domain.NewPersistenceError(op, err, true)
	}
	return domain.NewPersistenceError(op, err, false)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
