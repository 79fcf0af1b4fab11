package cache

import (
	"fmt"
	"time"

	appenrollment "github.com/academy/backend/internal/application/enrollment"
	"github.com/academy/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// CohortLockerFactory creates cohort lockers based on configuration
type CohortLockerFactory struct {
	redisConfig           config.RedisConfig
	ttl                   time.Duration
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// CohortLockerFactoryOption is a functional option for configuring the factory
type CohortLockerFactoryOption func(*CohortLockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) CohortLockerFactoryOption {
	return func(f *CohortLockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to an in-process lock when Redis is unavailable.
// Default is true (allow fallback)
func WithInMemoryFallback(allow bool) CohortLockerFactoryOption {
	return func(f *CohortLockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewCohortLockerFactory creates a new factory
func NewCohortLockerFactory(cfg config.RedisConfig, ttl time.Duration, opts ...CohortLockerFactoryOption) *CohortLockerFactory {
	f := &CohortLockerFactory{
		redisConfig:           cfg,
		ttl:                   ttl,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedisLocker creates a Redis-based cohort locker
func (f *CohortLockerFactory) CreateRedisLocker() (*RedisCohortLocker, error) {
	locker, err := NewRedisCohortLocker(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	}, f.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis cohort locker: %w", err)
	}
	return locker, nil
}

// CreateLocker returns a Redis locker when Redis is enabled and reachable.
// Otherwise it falls back to an in-process mutex if fallback is allowed.
// WARNING: the in-process lock does not serialize allocation across instances;
// the contracts unique indexes still reject duplicates, which then surface as
// allocation conflicts.
func (f *CohortLockerFactory) CreateLocker() (appenrollment.CohortLocker, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-process cohort lock")
		return appenrollment.NewMutexCohortLocker(), nil
	}

	locker, err := f.CreateRedisLocker()
	if err == nil {
		f.logger.Info("using Redis cohort lock", zap.String("addr", f.redisConfig.Addr()))
		return locker, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for cohort locking but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-process cohort lock. "+
		"Concurrent instances may race for the same contract number.",
		zap.Error(err),
	)
	return appenrollment.NewMutexCohortLocker(), nil
}
