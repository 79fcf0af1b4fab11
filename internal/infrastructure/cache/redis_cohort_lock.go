package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	appenrollment "github.com/academy/backend/internal/application/enrollment"
	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 10 * time.Second
	defaultRetryWait = 25 * time.Millisecond
	lockKeyPrefix    = "academy:lock:"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another instance is never released by us
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCohortLocker implements CohortLocker using Redis.
// This is suitable for distributed deployments where several server
// instances allocate contract numbers for the same cohort.
type RedisCohortLocker struct {
	client    *redis.Client
	ttl       time.Duration
	retryWait time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisCohortLocker creates a locker and verifies the connection
func NewRedisCohortLocker(cfg RedisConfig, ttl time.Duration) (*RedisCohortLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCohortLockerWithClient(client, ttl), nil
}

// NewRedisCohortLockerWithClient creates a locker with an existing Redis client
func NewRedisCohortLockerWithClient(client *redis.Client, ttl time.Duration) *RedisCohortLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisCohortLocker{
		client:    client,
		ttl:       ttl,
		retryWait: defaultRetryWait,
	}
}

// Lock polls SET NX until the cohort key is ours or ctx is done. The TTL
// bounds how long a crashed holder can block the cohort.
func (l *RedisCohortLocker) Lock(ctx context.Context, cohort enrollment.Cohort) (func(), error) {
	key := lockKeyPrefix + appenrollment.CohortLockKey(cohort)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire cohort lock: %w", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release with a fresh context: the caller's may already be cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}

// Close closes the Redis client
func (l *RedisCohortLocker) Close() error {
	return l.client.Close()
}

// GetClient returns the underlying Redis client (for health checks)
func (l *RedisCohortLocker) GetClient() *redis.Client {
	return l.client
}

var _ appenrollment.CohortLocker = (*RedisCohortLocker)(nil)
