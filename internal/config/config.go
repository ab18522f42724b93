package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AppConfig struct {
	HTTPAddr      string
	Env           string
	StorageDriver string

	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBMaxConns        int
	DBMinConns        int
	DBMaxConnLifetime time.Duration
	DBMaxConnIdleTime time.Duration
	DBAutoSchema      bool

	RedisAddr string
	RedisPass string
	RedisDB   int

	KafkaBrokers []string // empty disables Kafka
	KafkaTopic   string
	EventChannel string

	LockMaxRetries   int
	LockRetryBackoff time.Duration
	AppendTimeout    time.Duration
	BalanceCacheTTL  time.Duration
	GroupLockTTL     time.Duration

	MinDepositAmount    decimal.Decimal
	MinWithdrawalAmount decimal.Decimal
	MinBalanceThreshold decimal.Decimal

	MaxGroupMembers      int
	MaxGroupAdmins       int
	RemoveMemberCooldown time.Duration
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8030"),
		Env:           getEnv("APP_ENV", "production"),
		StorageDriver: getEnv("STORAGE_DRIVER", "postgres"),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "savings"),
		DBMaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
		DBMinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
		DBMaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
		DBMaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
		DBAutoSchema:      getEnvAsBool("DB_AUTO_SCHEMA", false),

		RedisAddr: getEnv("REDIS_ADDR", ""),
		RedisPass: getEnv("REDIS_PASS", ""),
		RedisDB:   getEnvAsInt("REDIS_DB", 0),

		KafkaBrokers: parseCSVEnv("KAFKA_BROKERS", ""),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "savings-events"),
		EventChannel: getEnv("EVENT_CHANNEL", "savings:events"),

		LockMaxRetries:   getEnvAsInt("LOCK_MAX_RETRIES", 3),
		LockRetryBackoff: getEnvAsDuration("LOCK_RETRY_BACKOFF", 20*time.Millisecond),
		AppendTimeout:    getEnvAsDuration("APPEND_TIMEOUT", 5*time.Second),
		BalanceCacheTTL:  getEnvAsDuration("BALANCE_CACHE_TTL", 5*time.Minute),
		GroupLockTTL:     getEnvAsDuration("GROUP_LOCK_TTL", 10*time.Second),

		MinDepositAmount:    getEnvAsDecimal("MIN_WALLET_DEPOSIT_AMOUNT", decimal.NewFromInt(1)),
		MinWithdrawalAmount: getEnvAsDecimal("MIN_WALLET_WITHDRAWAL_AMOUNT", decimal.NewFromInt(1)),
		MinBalanceThreshold: getEnvAsDecimal("MIN_BALANCE_THRESHOLD", decimal.NewFromInt(10)),

		MaxGroupMembers:      getEnvAsInt("MAX_GROUP_MEMBERS", 7),
		MaxGroupAdmins:       getEnvAsInt("MAX_GROUP_ADMINS", 2),
		RemoveMemberCooldown: getEnvAsDuration("REMOVE_MEMBER_COOLDOWN", 7*24*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseCSVEnv(key, fallback string) []string {
	val := getEnv(key, fallback)
	var parts []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func getEnvAsInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return defaultVal
}
