package enrollment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/infrastructure/persistence"
	"github.com/academy/backend/tests/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MockCohortLocker is a mock implementation of CohortLocker
type MockCohortLocker struct {
	mock.Mock
}

func (m *MockCohortLocker) Lock(ctx context.Context, cohort enrollment.Cohort) (func(), error) {
	args := m.Called(ctx, cohort)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingMetrics) RecordAllocation(_ context.Context, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

type allocatorFixture struct {
	db      *gorm.DB
	service *AllocatorService
	group   *enrollment.Group
}

func newAllocatorFixture(t *testing.T, capacity int) *allocatorFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	svc := NewAllocatorService(
		persistence.NewGormGroupRepository(db),
		persistence.NewGormStudentRepository(db),
		persistence.NewGormContractRepository(db),
		nil,
		zap.NewNop(),
	)
	return &allocatorFixture{
		db:      db,
		service: svc,
		group:   testutil.SeedGroup(t, db, "A", 2020, capacity, 2025),
	}
}

func (f *allocatorFixture) allocate(t *testing.T, name, proposed string) (*ContractResponse, error) {
	t.Helper()
	student := testutil.SeedStudent(t, f.db, f.group, name, "")
	return f.service.AllocateContract(context.Background(), AllocateContractRequest{
		StudentID:      student.ID,
		GroupID:        f.group.ID,
		BirthYear:      2020,
		ArchiveYear:    2025,
		MonthlyFee:     decimal.NewFromInt(600000),
		StartDate:      testutil.Date(2025, 9, 1),
		EndDate:        testutil.Date(2026, 5, 31),
		ProposedNumber: proposed,
	})
}

func TestAllocatorService_CapacityScenario(t *testing.T) {
	f := newAllocatorFixture(t, 2)
	ctx := context.Background()

	first, err := f.allocate(t, "Ali", "")
	require.NoError(t, err)
	assert.Equal(t, "NA12020", first.ContractNumber)

	second, err := f.allocate(t, "Bek", "")
	require.NoError(t, err)
	assert.Equal(t, "NA22020", second.ContractNumber)

	_, err = f.service.NextAvailable(ctx, f.group.ID, 2020, 2025)
	assert.ErrorIs(t, err, ErrCohortFull)

	_, err = f.service.TerminateContract(ctx, first.ID, TerminateContractRequest{Reason: "moved away"})
	require.NoError(t, err)

	free, err := f.service.ListAvailable(ctx, f.group.ID, 2020, 2025)
	require.NoError(t, err)
	assert.Empty(t, free, "terminated numbers are never returned to the pool")

	_, err = f.allocate(t, "Cyrus", "")
	assert.ErrorIs(t, err, ErrCohortFull)
}

func TestAllocatorService_ListAvailable(t *testing.T) {
	f := newAllocatorFixture(t, 4)
	ctx := context.Background()

	_, err := f.allocate(t, "Ali", "NA32020")
	require.NoError(t, err)

	free, err := f.service.ListAvailable(ctx, f.group.ID, 2020, 2025)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, free)

	next, err := f.service.NextAvailable(ctx, f.group.ID, 2020, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Sequence)
	assert.Equal(t, "NA12020", next.ContractNumber)

	other, err := f.service.ListAvailable(ctx, f.group.ID, 2021, 2025)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, other, "other birth years are separate cohorts")

	_, err = f.service.ListAvailable(ctx, testutil.NewTestUUID("missing"), 2020, 2025)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAllocatorService_ValidateProposed(t *testing.T) {
	f := newAllocatorFixture(t, 3)
	ctx := context.Background()

	_, err := f.allocate(t, "Ali", "")
	require.NoError(t, err)

	tests := []struct {
		name       string
		number     string
		birthYear  int
		wantValid  bool
		wantSeq    int
		wantReason ValidationReason
	}{
		{name: "free number", number: "NA22020", birthYear: 2020, wantValid: true, wantSeq: 2},
		{name: "garbage", number: "hello", birthYear: 2020, wantReason: ReasonMalformed},
		{name: "missing sequence", number: "NA2020", birthYear: 2020, wantReason: ReasonMalformed},
		{name: "other group", number: "NB22020", birthYear: 2020, wantReason: ReasonIdentifierMismatch},
		{name: "other birth year", number: "NA22019", birthYear: 2020, wantReason: ReasonIdentifierMismatch},
		{name: "beyond capacity", number: "NA42020", birthYear: 2020, wantReason: ReasonOutOfRange},
		{name: "already issued", number: "NA12020", birthYear: 2020, wantReason: ReasonAlreadyUsed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.service.ValidateProposed(ctx, tt.number, f.group.ID, tt.birthYear, 2025)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, result.Valid)
			assert.NotEmpty(t, result.Message)
			if tt.wantValid {
				assert.Equal(t, tt.wantSeq, result.Sequence)
				return
			}
			assert.Equal(t, tt.wantReason, result.Reason)
			require.NotNil(t, result.NextAvailable)
			assert.Equal(t, "NA22020", *result.NextAvailable)
		})
	}

	t.Run("exhausted cohort", func(t *testing.T) {
		_, err := f.allocate(t, "Bek", "")
		require.NoError(t, err)
		_, err = f.allocate(t, "Cyrus", "")
		require.NoError(t, err)

		result, err := f.service.ValidateProposed(ctx, "NA22020", f.group.ID, 2020, 2025)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, ReasonExhausted, result.Reason)
		assert.Nil(t, result.NextAvailable)
	})
}

func TestAllocatorService_IsGroupFull(t *testing.T) {
	f := newAllocatorFixture(t, 2)
	ctx := context.Background()
	birthYear := 2020

	first, err := f.allocate(t, "Ali", "")
	require.NoError(t, err)
	_, err = f.allocate(t, "Bek", "")
	require.NoError(t, err)

	full, err := f.service.IsGroupFull(ctx, f.group.ID, 2025, nil)
	require.NoError(t, err)
	assert.True(t, full)

	_, err = f.service.TerminateContract(ctx, first.ID, TerminateContractRequest{Reason: "left"})
	require.NoError(t, err)

	full, err = f.service.IsGroupFull(ctx, f.group.ID, 2025, &birthYear)
	require.NoError(t, err)
	assert.True(t, full, "per birth year every issued number counts")

	full, err = f.service.IsGroupFull(ctx, f.group.ID, 2025, nil)
	require.NoError(t, err)
	assert.False(t, full, "overall only ACTIVE contracts count")

	full, err = f.service.IsGroupFull(ctx, testutil.NewTestUUID("missing"), 2025, nil)
	require.NoError(t, err)
	assert.True(t, full)
}

func TestAllocatorService_AllocateContract(t *testing.T) {
	t.Run("rejects a second active contract", func(t *testing.T) {
		f := newAllocatorFixture(t, 3)
		student := testutil.SeedStudent(t, f.db, f.group, "Ali", "")
		req := AllocateContractRequest{
			StudentID:   student.ID,
			GroupID:     f.group.ID,
			BirthYear:   2020,
			ArchiveYear: 2025,
			MonthlyFee:  decimal.NewFromInt(500000),
			StartDate:   testutil.Date(2025, 9, 1),
			EndDate:     testutil.Date(2026, 5, 31),
		}
		_, err := f.service.AllocateContract(context.Background(), req)
		require.NoError(t, err)

		_, err = f.service.AllocateContract(context.Background(), req)
		assert.ErrorIs(t, err, enrollment.ErrActiveContractExists)
	})

	t.Run("rejects an invalid proposed number", func(t *testing.T) {
		f := newAllocatorFixture(t, 3)
		metrics := &recordingMetrics{}
		f.service.SetMetrics(metrics)

		_, err := f.allocate(t, "Ali", "NA92020")
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_CONTRACT_NUMBER", domainErr.Code)
		assert.Equal(t, []string{"rejected"}, metrics.outcomes)
	})

	t.Run("surfaces lock failures", func(t *testing.T) {
		db := testutil.NewSQLiteDB(t)
		locker := new(MockCohortLocker)
		svc := NewAllocatorService(
			persistence.NewGormGroupRepository(db),
			persistence.NewGormStudentRepository(db),
			persistence.NewGormContractRepository(db),
			locker,
			zap.NewNop(),
		)
		group := testutil.SeedGroup(t, db, "A", 2020, 2, 2025)
		student := testutil.SeedStudent(t, db, group, "Ali", "")
		lockErr := errors.New("redis unavailable")
		locker.On("Lock", mock.Anything, enrollment.Cohort{GroupID: group.ID, BirthYear: 2020, ArchiveYear: 2025}).
			Return(nil, lockErr)

		_, err := svc.AllocateContract(context.Background(), AllocateContractRequest{
			StudentID:   student.ID,
			GroupID:     group.ID,
			BirthYear:   2020,
			ArchiveYear: 2025,
			MonthlyFee:  decimal.NewFromInt(1),
			StartDate:   testutil.Date(2025, 9, 1),
			EndDate:     testutil.Date(2026, 5, 31),
		})
		assert.ErrorIs(t, err, lockErr)
		locker.AssertExpectations(t)
	})

	t.Run("concurrent allocations never share a number", func(t *testing.T) {
		f := newAllocatorFixture(t, 3)
		const workers = 5

		students := make([]*enrollment.Student, workers)
		for i := range students {
			students[i] = testutil.SeedStudent(t, f.db, f.group, "Student", "")
		}

		var wg sync.WaitGroup
		results := make(chan *ContractResponse, workers)
		errs := make(chan error, workers)
		for _, s := range students {
			wg.Add(1)
			go func(studentID enrollment.Student) {
				defer wg.Done()
				resp, err := f.service.AllocateContract(context.Background(), AllocateContractRequest{
					StudentID:   studentID.ID,
					GroupID:     f.group.ID,
					BirthYear:   2020,
					ArchiveYear: 2025,
					MonthlyFee:  decimal.NewFromInt(1),
					StartDate:   testutil.Date(2025, 9, 1),
					EndDate:     testutil.Date(2026, 5, 31),
				})
				if err != nil {
					errs <- err
					return
				}
				results <- resp
			}(*s)
		}
		wg.Wait()
		close(results)
		close(errs)

		numbers := map[string]bool{}
		for r := range results {
			assert.False(t, numbers[r.ContractNumber], "duplicate %s", r.ContractNumber)
			numbers[r.ContractNumber] = true
		}
		assert.Len(t, numbers, 3)
		for err := range errs {
			assert.ErrorIs(t, err, ErrCohortFull)
		}
	})
}

func TestAllocatorService_Lifecycle(t *testing.T) {
	f := newAllocatorFixture(t, 3)
	ctx := context.Background()

	c, err := f.allocate(t, "Ali", "")
	require.NoError(t, err)

	expired, err := f.service.ExpireContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "expired", expired.Status)

	_, err = f.service.ExpireContract(ctx, c.ID)
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	archived, err := f.service.ArchiveContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "archived", archived.Status)
	assert.Equal(t, "NA12020", archived.ContractNumber)

	_, err = f.service.DeleteContract(ctx, c.ID)
	assert.ErrorIs(t, err, shared.ErrInvalidState, "archived is terminal")

	d, err := f.allocate(t, "Bek", "")
	require.NoError(t, err)
	deleted, err := f.service.DeleteContract(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "deleted", deleted.Status)

	free, err := f.service.ListAvailable(ctx, f.group.ID, 2020, 2025)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, free)
}

func TestAllocatorService_ArchiveYear(t *testing.T) {
	f := newAllocatorFixture(t, 3)
	ctx := context.Background()

	_, err := f.allocate(t, "Ali", "")
	require.NoError(t, err)
	_, err = f.allocate(t, "Bek", "")
	require.NoError(t, err)

	result, err := f.service.ArchiveYear(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Contracts)
	assert.Equal(t, int64(1), result.Groups)

	_, err = f.service.ArchiveYear(ctx, 0)
	assert.Error(t, err)
}

func TestAllocatorService_PaymentMonths(t *testing.T) {
	f := newAllocatorFixture(t, 3)
	ctx := context.Background()

	c, err := f.allocate(t, "Ali", "")
	require.NoError(t, err)

	months, err := f.service.PaymentMonths(ctx, c.ContractNumber)
	require.NoError(t, err)
	assert.Len(t, months.Months, 9)
	assert.Equal(t, 2025, months.Months[0].Year)
	assert.Equal(t, 9, months.Months[0].Month)

	at := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)
	_, err = f.service.TerminateContract(ctx, c.ID, TerminateContractRequest{Reason: "injury", TerminatedAt: &at})
	require.NoError(t, err)

	months, err = f.service.PaymentMonths(ctx, c.ContractNumber)
	require.NoError(t, err)
	assert.Len(t, months.Months, 3)
	assert.True(t, months.EffectiveEndDate.Equal(at))

	_, err = f.service.PaymentMonths(ctx, "NZ12020")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMutexCohortLocker(t *testing.T) {
	locker := NewMutexCohortLocker()
	cohort := enrollment.Cohort{GroupID: testutil.NewTestUUID("g"), BirthYear: 2020, ArchiveYear: 2025}

	unlock, err := locker.Lock(context.Background(), cohort)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, cohort)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other := cohort
	other.BirthYear = 2021
	unlockOther, err := locker.Lock(context.Background(), other)
	require.NoError(t, err, "different cohorts do not block each other")
	unlockOther()

	unlock()
	unlock()
	again, err := locker.Lock(context.Background(), cohort)
	require.NoError(t, err)
	again()
}
