// Package lock moves funds between a wallet's available and locked balances.
// The Manager is the only writer of wallet balances: every mutation re-reads
// the wallet under its row lock, validates, appends one ledger entry and
// updates the projection in a single transaction.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"savings-service/internal/domain"
	"savings-service/internal/repository"
	"savings-service/internal/usecase/group"
	"savings-service/internal/usecase/ledger"
	"savings-service/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	MaxRetries          int
	RetryBackoff        time.Duration
	AppendTimeout       time.Duration
	MinDeposit          decimal.Decimal
	MinWithdrawal       decimal.Decimal
	LowBalanceThreshold decimal.Decimal
}

type EventPublisher interface {
	Publish(ctx context.Context, e *domain.Event) error
}

type BalanceObserver interface {
	BalanceChanged(ctx context.Context, b domain.Balance)
}

type MilestoneNotifier interface {
	Notify(ctx context.Context, v *group.BalanceView) error
}

// Result is the committed outcome of a balance operation.
type Result struct {
	Balance     domain.Balance      `json:"balance"`
	Transaction *domain.Transaction `json:"transaction"`
}

type Manager struct {
	store      repository.Store
	ledger     *ledger.Ledger
	deriver    *group.Deriver
	cfg        Config
	events     EventPublisher
	observer   BalanceObserver
	milestones MilestoneNotifier
	groups     GroupLocker
	logger     *zap.Logger
	now        func() time.Time
}

func NewManager(store repository.Store, ldg *ledger.Ledger, deriver *group.Deriver, cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Manager{
		store:   store,
		ledger:  ldg,
		deriver: deriver,
		cfg:     cfg,
		groups:  NewLocalGroupLocker(),
		logger:  logger,
		now:     time.Now,
	}
}

func (m *Manager) WithPublisher(p EventPublisher) *Manager {
	m.events = p
	return m
}

// WithBalanceObserver registers a callback for every committed balance.
func (m *Manager) WithBalanceObserver(o BalanceObserver) *Manager {
	m.observer = o
	return m
}

func (m *Manager) WithMilestoneNotifier(n MilestoneNotifier) *Manager {
	m.milestones = n
	return m
}

func (m *Manager) WithGroupLocker(l GroupLocker) *Manager {
	m.groups = l
	return m
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// change is what a committed operation hands to the post-commit steps.
type change struct {
	tx        *domain.Transaction
	balance   domain.Balance
	available decimal.Decimal // before the operation
	goalID    string
	groupID   string
}

// ===============================
// Wallet funding
// ===============================

func (m *Manager) Deposit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*Result, error) {
	if err := checkAmount(amount, m.cfg.MinDeposit); err != nil {
		return nil, err
	}
	return m.mutate(ctx, "deposit", func(ctx context.Context, tx repository.Tx, c *change) error {
		w, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		return m.append(ctx, tx, w, c, ledger.Entry{
			Kind:        domain.KindDeposit,
			Amount:      amount,
			ReferenceID: reference,
			Description: "deposit",
		})
	})
}

func (m *Manager) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, reference string) (*Result, error) {
	if err := checkAmount(amount, m.cfg.MinWithdrawal); err != nil {
		return nil, err
	}
	return m.mutate(ctx, "withdraw", func(ctx context.Context, tx repository.Tx, c *change) error {
		w, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		if w.Available().LessThan(amount) {
			return domain.ErrInsufficientFunds
		}
		return m.append(ctx, tx, w, c, ledger.Entry{
			Kind:        domain.KindWithdrawal,
			Amount:      amount,
			ReferenceID: reference,
			Description: "withdrawal",
		})
	})
}

// ===============================
// Goals
// ===============================

// LockForGoal moves amount from userID's available balance into goalID.
func (m *Manager) LockForGoal(ctx context.Context, userID, goalID string, amount decimal.Decimal) (*Result, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	return m.mutate(ctx, "lock_goal", func(ctx context.Context, tx repository.Tx, c *change) error {
		g, err := ownedGoal(ctx, tx, userID, goalID)
		if err != nil {
			return err
		}
		w, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		if w.Available().LessThan(amount) {
			return domain.ErrInsufficientFunds
		}
		if err := g.Contribute(amount, m.now().UTC()); err != nil {
			return err
		}
		c.goalID = goalID
		if err := m.append(ctx, tx, w, c, ledger.Entry{
			Kind:        domain.KindGoalContribution,
			Amount:      amount,
			ReferenceID: goalID,
			Description: "contribution to " + g.Name,
		}); err != nil {
			return err
		}
		return tx.UpdateGoal(ctx, g)
	})
}

// UnlockFromGoal releases amount from goalID back to the available balance.
func (m *Manager) UnlockFromGoal(ctx context.Context, userID, goalID string, amount decimal.Decimal) (*Result, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	return m.mutate(ctx, "unlock_goal", func(ctx context.Context, tx repository.Tx, c *change) error {
		g, err := ownedGoal(ctx, tx, userID, goalID)
		if err != nil {
			return err
		}
		w, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(w.LockedAmount) {
			return domain.ErrOverUnlock
		}
		if err := g.Withdraw(amount, m.now().UTC()); err != nil {
			return err
		}
		c.goalID = goalID
		if err := m.append(ctx, tx, w, c, ledger.Entry{
			Kind:        domain.KindGoalWithdrawal,
			Amount:      amount,
			ReferenceID: goalID,
			Description: "withdrawal from " + g.Name,
		}); err != nil {
			return err
		}
		return tx.UpdateGoal(ctx, g)
	})
}

func ownedGoal(ctx context.Context, tx repository.Tx, userID, goalID string) (*domain.Goal, error) {
	g, err := tx.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if g.OwnerID != userID {
		return nil, domain.ErrGoalNotFound
	}
	return g, nil
}

// ===============================
// Groups
// ===============================

// LockForGroup moves amount from userID's available balance into their
// contribution to groupID. The group row is locked before the wallet.
func (m *Manager) LockForGroup(ctx context.Context, userID, groupID string, amount decimal.Decimal) (*Result, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	res, err := m.mutate(ctx, "lock_group", func(ctx context.Context, tx repository.Tx, c *change) error {
		now := m.now().UTC()
		g, mem, err := memberOf(ctx, tx, userID, groupID, now)
		if err != nil {
			return err
		}
		if g.Status == domain.GroupClosed {
			return domain.ErrGroupInactive
		}
		if len(g.Members) < domain.MinContributingMembers {
			return domain.ErrGroupTooSmall
		}
		if !domain.DeriveBalance(g, now).LessThan(g.Target) {
			return domain.ErrGroupTargetReached
		}

		w, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		if w.Available().LessThan(amount) {
			return domain.ErrInsufficientFunds
		}

		c.groupID = groupID
		if err := m.append(ctx, tx, w, c, ledger.Entry{
			Kind:        domain.KindGroupContribution,
			Amount:      amount,
			ReferenceID: groupID,
			Description: "contribution to " + g.Name,
		}); err != nil {
			return err
		}

		mem.Contributed = mem.Contributed.Add(amount)
		if err := tx.PutMember(ctx, groupID, mem); err != nil {
			return err
		}
		return syncGroupStatus(ctx, tx, g, now)
	})
	if err != nil {
		return nil, err
	}
	m.checkMilestones(ctx, groupID)
	return res, nil
}

// UnlockFromGroup returns amount of userID's contribution to their available
// balance. Banned members cannot unlock until the ban expires.
func (m *Manager) UnlockFromGroup(ctx context.Context, userID, groupID string, amount decimal.Decimal) (*Result, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	res, err := m.mutate(ctx, "unlock_group", func(ctx context.Context, tx repository.Tx, c *change) error {
		now := m.now().UTC()
		g, mem, err := memberOf(ctx, tx, userID, groupID, now)
		if err != nil {
			return err
		}
		if amount.GreaterThan(mem.Contributed) {
			return domain.ErrOverUnlock
		}

		w, err := tx.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(w.LockedAmount) {
			return domain.ErrOverUnlock
		}

		c.groupID = groupID
		if err := m.append(ctx, tx, w, c, ledger.Entry{
			Kind:        domain.KindGroupWithdrawal,
			Amount:      amount,
			ReferenceID: groupID,
			Description: "withdrawal from " + g.Name,
		}); err != nil {
			return err
		}

		mem.Contributed = mem.Contributed.Sub(amount)
		if err := tx.PutMember(ctx, groupID, mem); err != nil {
			return err
		}
		return syncGroupStatus(ctx, tx, g, now)
	})
	if err != nil {
		return nil, err
	}
	m.checkMilestones(ctx, groupID)
	return res, nil
}

// memberOf loads the group under lock and returns userID's seat. A member
// with an unexpired ban is refused.
func memberOf(ctx context.Context, tx repository.Tx, userID, groupID string, now time.Time) (*domain.Group, *domain.Member, error) {
	g, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	mem, ok := g.Member(userID)
	if !ok {
		return nil, nil, domain.ErrNotMember
	}
	if until, banned := g.BannedUntil(userID, now); banned {
		return nil, nil, fmt.Errorf("banned until %s: %w", until.Format(time.RFC3339), domain.ErrMembershipBanned)
	}
	return g, mem, nil
}

// syncGroupStatus flips an open group between active and completed to match
// its derived balance. Closed groups are left alone.
func syncGroupStatus(ctx context.Context, tx repository.Tx, g *domain.Group, now time.Time) error {
	if g.Status == domain.GroupClosed {
		return nil
	}
	status := domain.GroupActive
	if !domain.DeriveBalance(g, now).LessThan(g.Target) {
		status = domain.GroupCompleted
	}
	if status == g.Status {
		return nil
	}
	g.Status = status
	g.UpdatedAt = now
	return tx.UpdateGroup(ctx, g)
}

// checkMilestones re-derives the group under its milestone lock and hands
// the view to the notifier. The mutation has already committed, so failures
// here are logged, not returned.
func (m *Manager) checkMilestones(ctx context.Context, groupID string) {
	if m.milestones == nil || m.deriver == nil {
		return
	}
	unlock, err := m.groups.LockGroup(ctx, groupID)
	if err != nil {
		m.logger.Warn("skipping milestone check, group lock unavailable",
			zap.String("group_id", groupID), zap.Error(err))
		return
	}
	defer unlock()

	view, err := m.deriver.View(ctx, groupID)
	if err != nil {
		m.logger.Warn("milestone check failed to derive balance", zap.String("group_id", groupID), zap.Error(err))
		return
	}
	if err := m.milestones.Notify(ctx, view); err != nil {
		m.logger.Warn("milestone notification failed", zap.String("group_id", groupID), zap.Error(err))
	}
}

// ===============================
// Transaction plumbing
// ===============================

func checkAmount(amount, min decimal.Decimal) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	if amount.LessThan(min) {
		return fmt.Errorf("minimum is %s: %w", min.String(), domain.ErrBelowMinimum)
	}
	return nil
}

func (m *Manager) append(ctx context.Context, tx repository.Tx, w *domain.Wallet, c *change, e ledger.Entry) error {
	c.available = w.Available()
	t, err := m.ledger.Append(ctx, tx, w, e)
	if err != nil {
		return err
	}
	c.tx = t
	c.balance = w.Balance()
	return nil
}

// mutate runs fn in a transaction, retrying write conflicts with exponential
// backoff, then runs the post-commit steps.
func (m *Manager) mutate(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx, c *change) error) (*Result, error) {
	start := time.Now()
	var c change
	var err error

	for attempt := 0; ; attempt++ {
		c = change{}
		err = m.attempt(ctx, op, func(ctx context.Context, tx repository.Tx) error {
			return fn(ctx, tx, &c)
		})
		if err == nil || !errors.Is(err, domain.ErrConflict) || attempt >= m.cfg.MaxRetries {
			break
		}

		conflictRetries.WithLabelValues(op).Inc()
		m.logger.Debug("write conflict, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if werr := sleep(ctx, m.cfg.RetryBackoff*time.Duration(1<<attempt)); werr != nil {
			err = domain.NewPersistenceError(op, werr, true)
			break
		}
	}

	observe(op, start, err)
	if err != nil {
		if errors.Is(err, domain.ErrPersistence) {
			m.logger.Error("balance operation failed",
				zap.String("operation", op),
				zap.Bool("transient", domain.IsTransient(err)),
				zap.Error(err))
		}
		return nil, err
	}

	m.afterCommit(ctx, &c)
	return &Result{Balance: c.balance, Transaction: c.tx}, nil
}

// attempt is one transaction bounded by AppendTimeout. A timeout surfaces as
// a transient persistence error.
func (m *Manager) attempt(ctx context.Context, op string, fn func(ctx context.Context, tx repository.Tx) error) error {
	actx := ctx
	if m.cfg.AppendTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, m.cfg.AppendTimeout)
		defer cancel()
	}

	err := m.store.InTx(actx, func(tx repository.Tx) error {
		return fn(actx, tx)
	})
	if err != nil && !errors.Is(err, domain.ErrPersistence) &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return domain.NewPersistenceError(op, err, true)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Manager) afterCommit(ctx context.Context, c *change) {
	if c.tx == nil {
		return
	}
	if m.observer != nil {
		m.observer.BalanceChanged(ctx, c.balance)
	}

	amount := c.tx.Amount.Abs()
	if amount.IsZero() {
		amount = c.tx.LockedDelta.Abs()
	}
	balance := c.balance
	m.publish(ctx, &domain.Event{
		Type:          domain.EventForKind(c.tx.Kind),
		UserID:        c.tx.UserID,
		GoalID:        c.goalID,
		GroupID:       c.groupID,
		TransactionID: c.tx.ID,
		Amount:        &amount,
		Balance:       &balance,
	})

	threshold := m.cfg.LowBalanceThreshold
	if threshold.IsPositive() &&
		!c.available.LessThan(threshold) &&
		c.balance.Available.LessThan(threshold) {
		m.publish(ctx, &domain.Event{
			Type:     domain.EventLowBalance,
			UserID:   c.tx.UserID,
			Balance:  &balance,
			Metadata: map[string]interface{}{"threshold": threshold.String()},
		})
	}
}

func (m *Manager) publish(ctx context.Context, e *domain.Event) {
	if m.events == nil {
		return
	}
	e.ID = utils.GenerateTxID("evt")
	e.OccurredAt = m.now().UTC()
	if err := m.events.Publish(ctx, e); err != nil {
		m.logger.Warn("failed to publish balance event",
			zap.String("type", string(e.Type)),
			zap.String("user_id", e.UserID),
			zap.Error(err))
	}
}
