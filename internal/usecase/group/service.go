package group

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

type Config struct {
	MaxMembers     int
	MaxAdmins      int
	RemoveCooldown time.Duration
}

type EventPublisher interface {
	Publish(ctx context.Context, e *domain.Event) error
}

// Service manages group membership, roles and bans. It never touches wallet
// balances; contributions go through the lock manager.
type Service struct {
	store  repository.Store
	cfg    Config
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store repository.Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = domain.DefaultMaxGroupMembers
	}
	if cfg.MaxAdmins <= 0 {
		cfg.MaxAdmins = domain.DefaultMaxGroupAdmins
	}
	return &Service{store: store, cfg: cfg, logger: logger, now: time.Now}
}

func (s *Service) WithPublisher(p EventPublisher) *Service {
	s.events = p
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create starts a group with founderID as its first admin.
func (s *Service) Create(ctx context.Context, founderID, name string, target decimal.Decimal) (*domain.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidInput
	}
	if err := domain.ValidateAmount(target); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	g := &domain.Group{
		ID:        utils.NewEntityID(),
		Name:      name,
		Target:    target,
		Status:    domain.GroupActive,
		CreatedBy: founderID,
		Members: []*domain.Member{{
			UserID:      founderID,
			Role:        domain.RoleAdmin,
			Contributed: decimal.Zero,
			JoinedAt:    now,
		}},
		Bans:      map[string]time.Time{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.CreateGroup(ctx, g)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group created",
		zap.String("group_id", g.ID),
		zap.String("founder", founderID),
		zap.String("target", target.String()))
	return g, nil
}

func (s *Service) Get(ctx context.Context, groupID string) (*domain.Group, error) {
	var g *domain.Group
	err := s.store.Snapshot(ctx, func(r repository.Reader) error {
		var err error
		g, err = r.GetGroup(ctx, groupID)
		return err
	})
	return g, err
}

// ListForUser returns the groups userID is a member of.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*domain.Group, error) {
	var groups []*domain.Group
	err := s.store.Snapshot(ctx, func(r repository.Reader) error {
		var err error
		groups, err = r.ListMemberGroups(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// Transactions pages through the group's ledger entries. Only members may
// read them.
func (s *Service) Transactions(ctx context.Context, actorID, groupID string, limit, offset int) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	err := s.store.Snapshot(ctx, func(r repository.Reader) error {
		g, err := r.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if _, ok := g.Member(actorID); !ok {
			return domain.ErrNotMember
		}
		out, err = r.ListGroupTransactions(ctx, groupID, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mutate loads the group under lock, checks that actorID is an admin and
// runs fn in the same transaction.
func (s *Service) mutate(ctx context.Context, actorID, groupID string, fn func(tx repository.Tx, g *domain.Group, now time.Time) error) error {
	return s.store.InTx(ctx, func(tx repository.Tx) error {
		g, err := tx.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if !g.IsAdmin(actorID) {
			return domain.ErrNotGroupAdmin
		}
		return fn(tx, g, s.now().UTC())
	})
}

// AddMember admits userID. Users with an unexpired ban are refused.
func (s *Service) AddMember(ctx context.Context, actorID, groupID, userID string) error {
	err := s.mutate(ctx, actorID, groupID, func(tx repository.Tx, g *domain.Group, now time.Time) error {
		if g.Status == domain.GroupClosed {
			return domain.ErrGroupInactive
		}
		if _, ok := g.Member(userID); ok {
			return domain.ErrAlreadyMember
		}
		if g.IsBanned(userID, now) {
			return domain.ErrMembershipBanned
		}
		if len(g.Members) >= s.cfg.MaxMembers {
			return domain.ErrGroupFull
		}
		return tx.PutMember(ctx, groupID, &domain.Member{
			UserID:      userID,
			Role:        domain.RoleMember,
			Contributed: decimal.Zero,
			JoinedAt:    now,
		})
	})
	if err != nil {
		return err
	}

	s.publish(ctx, &domain.Event{Type: domain.EventGroupMemberAdded, GroupID: groupID, UserID: userID})
	return nil
}

// RemoveMember drops userID from the group and bars them from rejoining for
// the configured cooldown. Members may remove themselves; removing anyone
// else needs an admin. Admins and members with locked funds stay.
func (s *Service) RemoveMember(ctx context.Context, actorID, groupID, userID string) error {
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		g, err := tx.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if actorID != userID && !g.IsAdmin(actorID) {
			return domain.ErrNotGroupAdmin
		}
		m, ok := g.Member(userID)
		if !ok {
			return domain.ErrNotMember
		}
		if m.Role == domain.RoleAdmin {
			return domain.ErrCannotRemoveAdmin
		}
		if !m.Contributed.IsZero() {
			return domain.ErrActiveContribution
		}
		if err := tx.DeleteMember(ctx, groupID, userID); err != nil {
			return err
		}
		if s.cfg.RemoveCooldown > 0 {
			return tx.PutBan(ctx, groupID, userID, s.now().UTC().Add(s.cfg.RemoveCooldown))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, &domain.Event{Type: domain.EventGroupMemberRemoved, GroupID: groupID, UserID: userID})
	return nil
}

func (s *Service) PromoteAdmin(ctx context.Context, actorID, groupID, userID string) error {
	return s.mutate(ctx, actorID, groupID, func(tx repository.Tx, g *domain.Group, now time.Time) error {
		m, ok := g.Member(userID)
		if !ok {
			return domain.ErrNotMember
		}
		if m.Role == domain.RoleAdmin {
			return nil
		}
		if g.AdminCount() >= s.cfg.MaxAdmins {
			return domain.ErrAdminLimit
		}
		m.Role = domain.RoleAdmin
		return tx.PutMember(ctx, groupID, m)
	})
}

// Ban bars userID until the given time. A banned member keeps their seat, but
// their contributions drop out of the derived balance and they cannot lock
// or unlock group funds until the ban expires.
func (s *Service) Ban(ctx context.Context, actorID, groupID, userID string, until time.Time) error {
	err := s.mutate(ctx, actorID, groupID, func(tx repository.Tx, g *domain.Group, now time.Time) error {
		if !until.After(now) {
			return domain.ErrInvalidInput
		}
		if g.IsAdmin(userID) {
			return domain.ErrCannotRemoveAdmin
		}
		return tx.PutBan(ctx, groupID, userID, until.UTC())
	})
	if err != nil {
		return err
	}

	s.publish(ctx, &domain.Event{
		Type:     domain.EventGroupMemberBanned,
		GroupID:  groupID,
		UserID:   userID,
		Metadata: map[string]interface{}{"expires_at": until.UTC()},
	})
	return nil
}

func (s *Service) Unban(ctx context.Context, actorID, groupID, userID string) error {
	return s.mutate(ctx, actorID, groupID, func(tx repository.Tx, g *domain.Group, now time.Time) error {
		return tx.DeleteBan(ctx, groupID, userID)
	})
}

// Close archives the group once every contribution has been withdrawn.
func (s *Service) Close(ctx context.Context, actorID, groupID string) error {
	err := s.mutate(ctx, actorID, groupID, func(tx repository.Tx, g *domain.Group, now time.Time) error {
		if g.Status == domain.GroupClosed {
			return nil
		}
		for _, m := range g.Members {
			if !m.Contributed.IsZero() {
				return domain.ErrActiveContribution
			}
		}
		g.Status = domain.GroupClosed
		g.UpdatedAt = now
		return tx.UpdateGroup(ctx, g)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, &domain.Event{Type: domain.EventGroupClosed, GroupID: groupID})
	return nil
}

func (s *Service) publish(ctx context.Context, e *domain.Event) {
	if s.events == nil {
		return
	}
	e.ID = utils.GenerateTxID("evt")
	e.OccurredAt = s.now().UTC()
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish group event",
			zap.String("type", string(e.Type)),
			zap.String("group_id", e.GroupID),
			zap.Error(err))
	}
}
