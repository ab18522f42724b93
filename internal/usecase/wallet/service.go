package wallet

import (
	"context"
	"encoding/json"
	"time"

	"savings-service/internal/domain"
	"savings-service/internal/repository"
	"savings-service/internal/usecase/ledger"
	"savings-service/pkg/utils"

	"go.uber.org/zap"
)

// Service is the read side of the wallet aggregate. Balance mutations go
// through the lock manager; this service opens wallets and serves reads.
type Service struct {
	store    repository.Store
	ledger   *ledger.Ledger
	cache    BalanceCache
	cacheTTL time.Duration
	Notifier *Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func New(store repository.Store, ldg *ledger.Ledger, notifier *Notifier, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		ledger:   ldg,
		Notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithCache enables the Redis balance cache.
func (s *Service) WithCache(c BalanceCache, ttl time.Duration) *Service {
	s.cache = c
	s.cacheTTL = ttl
	return s
}

// Open creates userID's wallet. A wallet is created once per user.
func (s *Service) Open(ctx context.Context, userID string) (*domain.Wallet, error) {
	w := domain.NewWallet(utils.NewEntityID(), userID, s.now().UTC())
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		return tx.CreateWallet(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("wallet opened", zap.String("user_id", userID), zap.String("wallet_id", w.ID))
	return w, nil
}

// GetBalance returns a committed snapshot of userID's wallet, from the cache
// when one is present.
func (s *Service) GetBalance(ctx context.Context, userID string) (*domain.Balance, error) {
	if b := s.cachedBalance(ctx, userID); b != nil {
		return b, nil
	}

	var b domain.Balance
	err := s.store.Snapshot(ctx, func(r repository.Reader) error {
		w, err := r.GetWallet(ctx, userID)
		if err != nil {
			return err
		}
		b = w.Balance()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.storeBalance(ctx, b)
	return &b, nil
}

func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]*domain.Transaction, error) {
	return s.ledger.History(ctx, userID, limit, offset)
}

func (s *Service) Verify(ctx context.Context, userID string) (*ledger.Report, error) {
	rep, err := s.ledger.Verify(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !rep.Consistent {
		s.logger.Error("ledger replay mismatch",
			zap.String("user_id", userID),
			zap.String("total", rep.Total.String()),
			zap.String("replayed_total", rep.ReplayedTotal.String()),
			zap.String("locked", rep.Locked.String()),
			zap.String("replayed_locked", rep.ReplayedLocked.String()),
			zap.String("first_violation", rep.FirstViolation))
	}
	return rep, nil
}

// BalanceChanged is called after a committed mutation. It refreshes the
// cache and pushes the snapshot to the user's open connections.
func (s *Service) BalanceChanged(ctx context.Context, b domain.Balance) {
	s.storeBalance(ctx, b)
	if s.Notifier != nil {
		s.Notifier.NotifyBalance(b.UserID, b)
	}
}

func (s *Service) cachedBalance(ctx context.Context, userID string) *domain.Balance {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.GetBalance(ctx, userID)
	if err != nil {
		s.logger.Warn("balance cache read failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if data == nil {
		return nil
	}
	var b domain.Balance
	if err := json.Unmarshal(data, &b); err != nil {
		s.logger.Warn("discarding corrupt balance cache entry", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return &b
}

func (s *Service) storeBalance(ctx context.Context, b domain.Balance) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return
	}
	if _, err := s.cache.SetBalanceIfNewer(ctx, b.UserID, b.Version, payload, s.cacheTTL); err != nil {
		s.logger.Warn("balance cache write failed", zap.String("user_id", b.UserID), zap.Error(err))
	}
}
