package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"savings-service/internal/config"
	"savings-service/internal/handler"
	"savings-service/internal/pub"
	"savings-service/internal/repository"
	"savings-service/internal/repository/memory"
	"savings-service/internal/repository/postgres"
	"savings-service/internal/router"
	"savings-service/internal/usecase/goal"
	"savings-service/internal/usecase/group"
	"savings-service/internal/usecase/ledger"
	"savings-service/internal/usecase/lock"
	"savings-service/internal/usecase/wallet"
	"savings-service/pkg/cache"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Server struct {
	httpServer *http.Server
	db         *pgxpool.Pool
	cache      *cache.CacheService
	kafka      *kafka.Writer
	logger     *zap.Logger
}

func New(cfg config.AppConfig, logger *zap.Logger) (*Server, error) {
	s := &Server{logger: logger}

	store, err := s.openStore(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		c, err := cache.NewCacheService(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, logger)
		if err != nil {
			s.close()
			return nil, err
		}
		s.cache = c
	}
	if len(cfg.KafkaBrokers) > 0 {
		s.kafka = pub.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	}

	ldg := ledger.New(store)
	deriver := group.NewDeriver(store)
	notifier := wallet.NewNotifier(logger)

	walletUC := wallet.New(store, ldg, notifier, logger)
	goalUC := goal.NewService(store, logger)
	events := s.publisher(cfg, notifier)
	groupUC := group.NewService(store, group.Config{
		MaxMembers:     cfg.MaxGroupMembers,
		MaxAdmins:      cfg.MaxGroupAdmins,
		RemoveCooldown: cfg.RemoveMemberCooldown,
	}, logger).WithPublisher(events)

	var dedupe pub.Deduper = pub.NewMemoryDeduper()
	if s.cache != nil {
		walletUC.WithCache(s.cache, cfg.BalanceCacheTTL)
		dedupe = pub.NewRedisDeduper(s.cache, 0)
	}

	locks := lock.NewManager(store, ldg, deriver, lock.Config{
		MaxRetries:          cfg.LockMaxRetries,
		RetryBackoff:        cfg.LockRetryBackoff,
		AppendTimeout:       cfg.AppendTimeout,
		MinDeposit:          cfg.MinDepositAmount,
		MinWithdrawal:       cfg.MinWithdrawalAmount,
		LowBalanceThreshold: cfg.MinBalanceThreshold,
	}, logger).
		WithPublisher(events).
		WithBalanceObserver(walletUC).
		WithMilestoneNotifier(pub.NewMilestoneNotifier(events, dedupe, logger))
	if s.cache != nil {
		locks.WithGroupLocker(lock.NewRedisGroupLocker(s.cache, cfg.GroupLockTTL, logger))
	}

	opts := router.Options{
		Health: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return err
			}
			if s.cache != nil {
				return s.cache.Ping(ctx)
			}
			return nil
		},
	}
	if s.cache != nil {
		opts.Idempotency = s.cache
	}

	r := router.SetupRoutes(router.Handlers{
		Wallet: handler.NewWalletHandler(walletUC, locks, logger),
		Goal:   handler.NewGoalHandler(goalUC, locks, logger),
		Group:  handler.NewGroupHandler(groupUC, deriver, locks, logger),
		WS:     handler.WalletWSHandler(walletUC, logger),
	}, opts, logger)

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s, nil
}

func (s *Server) openStore(cfg config.AppConfig) (repository.Store, error) {
	switch cfg.StorageDriver {
	case "memory":
		s.logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	case "postgres":
		db, err := config.ConnectDB(cfg)
		if err != nil {
			return nil, err
		}
		s.db = db
		store := postgres.New(db)
		if cfg.DBAutoSchema {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := store.EnsureSchema(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("apply schema: %w", err)
			}
			s.logger.Info("database schema ensured")
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}

// publisher fans events out to every configured sink. WebSocket push is
// always on; Kafka and Redis join when configured.
func (s *Server) publisher(cfg config.AppConfig, notifier *wallet.Notifier) pub.Publisher {
	sinks := pub.Multi{pub.NewWSPublisher(notifier)}
	if s.kafka != nil {
		sinks = append(sinks, pub.NewKafkaPublisher(s.kafka, s.logger))
	}
	if s.cache != nil {
		sinks = append(sinks, pub.NewRedisPublisher(s.cache, cfg.EventChannel, s.logger))
	}
	if s.kafka == nil && s.cache == nil {
		sinks = append(sinks, pub.NewLogPublisher(s.logger))
	}
	return sinks
}

func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) close() {
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}
}
