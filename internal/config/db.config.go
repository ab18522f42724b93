package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectDB opens the pool, retrying with exponential backoff while the
// database comes up.
func ConnectDB(cfg AppConfig) (*pgxpool.Pool, error) {
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName,
	)

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MinConns = int32(cfg.DBMinConns)
	poolConfig.MaxConnLifetime = cfg.DBMaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.DBMaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	maxRetries := 5
	delay := 2 * time.Second

	for i := 1; i <= maxRetries; i++ {
		log.Printf("[DB] Attempt %d/%d: connecting to %s:%s/%s", i, maxRetries, cfg.DBHost, cfg.DBPort, cfg.DBName)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		dbpool, err2 := pgxpool.NewWithConfig(ctx, poolConfig)
		if err2 == nil {
			if err2 = dbpool.Ping(ctx); err2 == nil {
				cancel()
				log.Printf("[DB] Connected (max_conns=%d min_conns=%d)", poolConfig.MaxConns, poolConfig.MinConns)
				return dbpool, nil
			}
			dbpool.Close()
		}
		cancel()
		err = err2

		log.Printf("[DB] Connection failed: %v", err)
		if i < maxRetries {
			log.Printf("[DB] Retrying in %s...", delay)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to DB after %d attempts: %w", maxRetries, err)
}
