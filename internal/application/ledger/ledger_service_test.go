package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/infrastructure/persistence"
	"github.com/academy/backend/tests/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ledgerFixture struct {
	db       *gorm.DB
	txRepo   *persistence.GormTransactionRepository
	service  *LedgerService
	debt     *DebtService
	group    *enrollment.Group
	student  *enrollment.Student
	contract *enrollment.Contract
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	txRepo := persistence.NewGormTransactionRepository(db)
	group := testutil.SeedGroup(t, db, "A", 2020, 10, 2025)
	student := testutil.SeedStudent(t, db, group, "Ali", "face-ali")
	contract := testutil.SeedContract(t, db, student, group, 1, "600000", testutil.Date(2025, 9, 1), testutil.Date(2026, 5, 31))

	return &ledgerFixture{
		db:      db,
		txRepo:  txRepo,
		service: NewLedgerService(persistence.NewGormLedgerScope(db), txRepo, zap.NewNop()),
		debt: NewDebtService(
			persistence.NewGormStudentRepository(db),
			persistence.NewGormContractRepository(db),
			txRepo,
			time.UTC,
			zap.NewNop(),
		),
		group:    group,
		student:  student,
		contract: contract,
	}
}

func (f *ledgerFixture) pay(t *testing.T, year int, months ...int) *TransactionResponse {
	t.Helper()
	resp, err := f.service.RecordManualPayment(context.Background(), RecordPaymentRequest{
		ContractID: f.contract.ID,
		Amount:     decimal.NewFromInt(600000).Mul(decimal.NewFromInt(int64(len(months)))),
		Source:     "cash",
		Year:       year,
		Months:     months,
	})
	require.NoError(t, err)
	return resp
}

type countingRecorder struct {
	calls map[string]int
}

func (c *countingRecorder) RecordPayment(_ context.Context, source, outcome string) {
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[source+":"+outcome]++
}

func TestLedgerService_RecordManualPayment(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	metrics := &countingRecorder{}
	f.service.SetMetrics(metrics)

	resp := f.pay(t, 2025, 9, 10)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, []int{9, 10}, resp.PaymentMonths)
	require.NotNil(t, resp.PaidAt)

	owner, err := f.txRepo.FindPeriodOwner(ctx, f.contract.ID, ymOf(2025, 10))
	require.NoError(t, err)
	assert.Equal(t, resp.ID, owner)

	t.Run("rejects a month that is already paid", func(t *testing.T) {
		_, err := f.service.RecordManualPayment(ctx, RecordPaymentRequest{
			ContractID: f.contract.ID,
			Amount:     decimal.NewFromInt(1200000),
			Source:     "bank",
			Year:       2025,
			Months:     []int{10, 11},
		})
		assert.ErrorIs(t, err, ErrPeriodAlreadyPaid)

		owner, err := f.txRepo.FindPeriodOwner(ctx, f.contract.ID, ymOf(2025, 11))
		require.NoError(t, err)
		assert.Equal(t, uuid0, owner, "rolled back insert leaves November unpaid")

		list, err := f.txRepo.List(ctx, ledger.TransactionFilter{ContractID: &f.contract.ID})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("rejects gateway sources", func(t *testing.T) {
		_, err := f.service.RecordManualPayment(ctx, RecordPaymentRequest{
			ContractID: f.contract.ID,
			Amount:     decimal.NewFromInt(600000),
			Source:     "payme",
			Year:       2025,
			Months:     []int{12},
		})
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_SOURCE", domainErr.Code)
	})

	t.Run("unknown contract", func(t *testing.T) {
		_, err := f.service.RecordManualPayment(ctx, RecordPaymentRequest{
			ContractID: testutil.NewTestUUID("nope"),
			Amount:     decimal.NewFromInt(1),
			Source:     "cash",
			Year:       2025,
			Months:     []int{12},
		})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	assert.Equal(t, 1, metrics.calls["cash:success"])
	assert.Equal(t, 1, metrics.calls["bank:rejected"])
}

func TestLedgerService_AssignUnassigned(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	unassigned, err := f.service.RecordUnassignedPayment(ctx, RecordUnassignedRequest{
		ExternalID: "bank-7781",
		Amount:     decimal.NewFromInt(600000),
		Source:     "bank",
		Comment:    "transfer without reference",
	})
	require.NoError(t, err)
	assert.Equal(t, "unassigned", unassigned.Status)

	_, err = f.service.RecordUnassignedPayment(ctx, RecordUnassignedRequest{
		ExternalID: "bank-7781",
		Amount:     decimal.NewFromInt(600000),
		Source:     "bank",
	})
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	assigned, err := f.service.AssignUnassigned(ctx, unassigned.ID, AssignPaymentRequest{
		ContractID: f.contract.ID,
		Year:       2025,
		Months:     []int{9},
	})
	require.NoError(t, err)
	assert.Equal(t, "success", assigned.Status)
	require.NotNil(t, assigned.StudentID)
	assert.Equal(t, f.student.ID, *assigned.StudentID)

	stored, err := f.service.GetTransaction(ctx, unassigned.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", stored.Status)
	assert.Equal(t, []int{9}, stored.PaymentMonths)

	_, err = f.service.AssignUnassigned(ctx, unassigned.ID, AssignPaymentRequest{
		ContractID: f.contract.ID,
		Year:       2025,
		Months:     []int{10},
	})
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	t.Run("conflicting month rolls the assignment back", func(t *testing.T) {
		other, err := f.service.RecordUnassignedPayment(ctx, RecordUnassignedRequest{
			Amount: decimal.NewFromInt(600000),
			Source: "cash",
		})
		require.NoError(t, err)

		_, err = f.service.AssignUnassigned(ctx, other.ID, AssignPaymentRequest{
			ContractID: f.contract.ID,
			Year:       2025,
			Months:     []int{9},
		})
		assert.ErrorIs(t, err, ErrPeriodAlreadyPaid)

		stored, err := f.service.GetTransaction(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, "unassigned", stored.Status)
	})
}

func TestLedgerService_CancelPayment(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	unassigned, err := f.service.RecordUnassignedPayment(ctx, RecordUnassignedRequest{
		Amount: decimal.NewFromInt(100),
		Source: "cash",
	})
	require.NoError(t, err)

	cancelled, err := f.service.CancelPayment(ctx, unassigned.ID, CancelPaymentRequest{})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "Cancelled by operator", cancelled.Comment)
	assert.NotNil(t, cancelled.CancelledAt)

	settled := f.pay(t, 2025, 9)
	_, err = f.service.CancelPayment(ctx, settled.ID, CancelPaymentRequest{Comment: "refund please"})
	assert.ErrorIs(t, err, shared.ErrInvalidState, "settled payments are not refundable here")

	_, err = f.service.CancelPayment(ctx, testutil.NewTestUUID("missing"), CancelPaymentRequest{})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
