// Package config loads service configuration from the environment, reading a
// .env file first when one exists.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/warp/budget-engine/budget"
)

type Config struct {
	Env  string
	Addr string

	DBPath string

	// DefaultVATRate is nil when BUDGET_DEFAULT_VAT_RATE is unset.
	DefaultVATRate *decimal.Decimal

	RealignInterval time.Duration
	QueueWorkers    int

	// RedisAddr selects the Redis lock; empty keeps locking in process.
	RedisAddr string
	LockTTL   time.Duration

	// KafkaBrokers enables event publishing when non-empty.
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads the configuration. files are optional .env files; with none,
// ".env" in the working directory is tried.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{
		Env:        getEnv("BUDGET_ENV", "development"),
		Addr:       getEnv("BUDGET_ADDR", ":8080"),
		DBPath:     getEnv("BUDGET_DB_PATH", "budget.db"),
		RedisAddr:  getEnv("REDIS_ADDR", ""),
		KafkaTopic: getEnv("KAFKA_TOPIC", "budget-events"),
	}

	var err error
	if raw := getEnv("BUDGET_DEFAULT_VAT_RATE", ""); raw != "" {
		rate, perr := decimal.NewFromString(raw)
		if perr != nil || rate.IsNegative() {
			return nil, fmt.Errorf("BUDGET_DEFAULT_VAT_RATE: invalid rate %q", raw)
		}
		cfg.DefaultVATRate = &rate
	}
	if cfg.RealignInterval, err = getDuration("BUDGET_REALIGN_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.LockTTL, err = getDuration("BUDGET_LOCK_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.QueueWorkers, err = getInt("BUDGET_QUEUE_WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.QueueWorkers < 1 {
		return nil, fmt.Errorf("BUDGET_QUEUE_WORKERS must be at least 1, got %d", cfg.QueueWorkers)
	}
	for _, b := range strings.Split(getEnv("KAFKA_BROKERS", ""), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}
	return cfg, nil
}

// Settings are the tenant-wide engine defaults derived from the config.
func (c *Config) Settings() budget.Settings {
	s := budget.DefaultSettings()
	s.DefaultVATRate = c.DefaultVATRate
	return s
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
