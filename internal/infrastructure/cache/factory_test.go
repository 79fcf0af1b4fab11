package cache

import (
	"context"
	"testing"
	"time"

	appenrollment "github.com/academy/backend/internal/application/enrollment"
	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableRedis points at a port nothing listens on
var unreachableRedis = config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}

func TestCohortLockerFactory_CreateLocker(t *testing.T) {
	t.Run("redis disabled uses the in-process lock", func(t *testing.T) {
		locker, err := NewCohortLockerFactory(config.RedisConfig{}, time.Second).CreateLocker()
		require.NoError(t, err)
		assert.IsType(t, &appenrollment.MutexCohortLocker{}, locker)
	})

	t.Run("unreachable redis falls back", func(t *testing.T) {
		locker, err := NewCohortLockerFactory(unreachableRedis, time.Second).CreateLocker()
		require.NoError(t, err)
		assert.IsType(t, &appenrollment.MutexCohortLocker{}, locker)
	})

	t.Run("unreachable redis without fallback fails", func(t *testing.T) {
		_, err := NewCohortLockerFactory(unreachableRedis, time.Second, WithInMemoryFallback(false)).CreateLocker()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Redis required")
	})
}

func TestRedisCohortLocker_LockErrorsWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	locker := NewRedisCohortLockerWithClient(client, 0)
	t.Cleanup(func() { _ = locker.Close() })

	assert.Equal(t, defaultLockTTL, locker.ttl)

	cohort := enrollment.Cohort{GroupID: uuid.New(), BirthYear: 2020, ArchiveYear: 2025}
	unlock, err := locker.Lock(context.Background(), cohort)
	assert.Error(t, err)
	assert.Nil(t, unlock)
}
