package goal

import (
	"context"
	"strings"
	"time"

	"savings-service/internal/domain"
	"savings-service/internal/repository"
	"savings-service/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service creates and reads individual goals. Funding a goal is the lock
// manager's job.
type Service struct {
	store  repository.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store repository.Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

func (s *Service) Create(ctx context.Context, ownerID, name string, target decimal.Decimal) (*domain.Goal, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidInput
	}
	if err := domain.ValidateAmount(target); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	g := &domain.Goal{
		ID:        utils.NewEntityID(),
		OwnerID:   ownerID,
		Name:      name,
		Target:    target,
		Locked:    decimal.Zero,
		Status:    domain.GoalActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetWallet(ctx, ownerID); err != nil {
			return err
		}
		return tx.CreateGoal(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("goal created", zap.String("goal_id", g.ID), zap.String("owner", ownerID))
	return g, nil
}

// Get returns goalID if ownerID owns it. Goals of other users look missing.
func (s *Service) Get(ctx context.Context, ownerID, goalID string) (*domain.Goal, error) {
	var g *domain.Goal
	err := s.store.Snapshot(ctx, func(r repository.Reader) error {
		var err error
		g, err = r.GetGoal(ctx, goalID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if g.OwnerID != ownerID {
		return nil, domain.ErrGoalNotFound
	}
	return g, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]*domain.Goal, error) {
	var goals []*domain.Goal
	err := s.store.Snapshot(ctx, func(r repository.Reader) error {
		var err error
		goals, err = r.ListGoals(ctx, ownerID)
		return err
	})
	return goals, err
}
