package enrollment

import (
	"context"
	"fmt"
	"sync"

	"github.com/academy/backend/internal/domain/enrollment"
)

// CohortLocker serializes allocation inside one (group, birth year, archive year)
// cohort. The unique indexes on contracts remain the final guard; the lock only
// keeps concurrent allocators from racing for the same lowest free sequence.
type CohortLocker interface {
	// Lock blocks until the cohort is held or ctx is done. The returned function
	// releases the lock and is safe to call once.
	Lock(ctx context.Context, cohort enrollment.Cohort) (unlock func(), err error)
}

// CohortLockKey renders the key a distributed locker stores for the cohort
func CohortLockKey(cohort enrollment.Cohort) string {
	return fmt.Sprintf("cohort:%s:%d:%d", cohort.GroupID, cohort.BirthYear, cohort.ArchiveYear)
}

// MutexCohortLocker is the in-process fallback used when Redis is disabled.
// It only serializes allocators inside a single server process.
type MutexCohortLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMutexCohortLocker creates an empty in-process locker
func NewMutexCohortLocker() *MutexCohortLocker {
	return &MutexCohortLocker{locks: make(map[string]chan struct{})}
}

// Lock acquires the cohort slot, honoring ctx cancellation while waiting
func (l *MutexCohortLocker) Lock(ctx context.Context, cohort enrollment.Cohort) (func(), error) {
	key := CohortLockKey(cohort)

	l.mu.Lock()
	slot, ok := l.locks[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.locks[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}

var _ CohortLocker = (*MutexCohortLocker)(nil)
