package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/academy/backend/tests/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerFixture struct {
	repo     *GormTransactionRepository
	contract *enrollment.Contract
}

func newLedgerFixture(t *testing.T) ledgerFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	group := testutil.SeedGroup(t, db, "A", 2020, 2, 2024)
	student := testutil.SeedStudent(t, db, group, "Ali", "")
	contract := testutil.SeedContract(t, db, student, group, 1, "600000", testutil.Date(2024, 1, 1), testutil.Date(2024, 12, 31))
	return ledgerFixture{repo: NewGormTransactionRepository(db), contract: contract}
}

func pending(t *testing.T, externalID string, contract *enrollment.Contract, month int) *ledger.Transaction {
	t.Helper()
	tx, err := ledger.NewPendingTransaction(externalID, ledger.SourcePayme, decimal.NewFromInt(600000), contract,
		valueobject.YearMonth{Year: 2024, Month: month}, "")
	require.NoError(t, err)
	return tx
}

func TestGormTransactionRepository_CreateAndFind(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	tx := pending(t, "ext-1", f.contract, 3)
	require.NoError(t, f.repo.Create(ctx, tx))

	found, err := f.repo.FindByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, found.ID)
	assert.Equal(t, ledger.TransactionStatusPending, found.Status)
	assert.Equal(t, []int{3}, found.PaymentMonths)
	assert.Equal(t, 2024, found.PaymentYear)
	require.NotNil(t, found.ContractID)
	assert.Equal(t, f.contract.ID, *found.ContractID)

	locked, err := f.repo.FindByExternalIDForUpdate(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, locked.ID)

	_, err = f.repo.FindByExternalID(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	t.Run("duplicate external id is rejected", func(t *testing.T) {
		err := f.repo.Create(ctx, pending(t, "ext-1", f.contract, 4))
		assert.ErrorIs(t, err, ledger.ErrDuplicateExternalID)
	})
}

func TestGormTransactionRepository_Update(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	tx := pending(t, "ext-1", f.contract, 3)
	require.NoError(t, f.repo.Create(ctx, tx))

	require.NoError(t, tx.Cancel(3, "Cancelled by Payme: reason 3", time.Now()))
	require.NoError(t, f.repo.Update(ctx, tx))

	found, err := f.repo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TransactionStatusCancelled, found.Status)
	require.NotNil(t, found.CancelReason)
	assert.Equal(t, 3, *found.CancelReason)
	assert.NotNil(t, found.CancelledAt)

	unknown := pending(t, "ext-unknown", f.contract, 5)
	assert.ErrorIs(t, f.repo.Update(ctx, unknown), shared.ErrNotFound)
}

func TestGormTransactionRepository_ClaimPeriods(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	winner := pending(t, "ext-1", f.contract, 3)
	loser := pending(t, "ext-2", f.contract, 3)
	require.NoError(t, f.repo.Create(ctx, winner))
	require.NoError(t, f.repo.Create(ctx, loser))

	owner, err := f.repo.FindPeriodOwner(ctx, f.contract.ID, valueobject.YearMonth{Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, owner)

	require.NoError(t, f.repo.ClaimPeriods(ctx, winner))
	assert.ErrorIs(t, f.repo.ClaimPeriods(ctx, loser), ledger.ErrPeriodAlreadyPaid)

	owner, err = f.repo.FindPeriodOwner(ctx, f.contract.ID, valueobject.YearMonth{Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, winner.ID, owner)

	t.Run("partial overlap releases the months it took", func(t *testing.T) {
		manual, err := ledger.NewRecordedPayment(ledger.SourceCash, decimal.NewFromInt(1200000), f.contract, 2024, []int{2, 3}, "", time.Now())
		require.NoError(t, err)

		assert.ErrorIs(t, f.repo.ClaimPeriods(ctx, manual), ledger.ErrPeriodAlreadyPaid)

		owner, err := f.repo.FindPeriodOwner(ctx, f.contract.ID, valueobject.YearMonth{Year: 2024, Month: 2})
		require.NoError(t, err)
		assert.Equal(t, uuid.Nil, owner)
	})
}

func TestGormTransactionRepository_FindPendingForPeriod(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	march := pending(t, "ext-1", f.contract, 3)
	april := pending(t, "ext-2", f.contract, 4)
	require.NoError(t, f.repo.Create(ctx, march))
	require.NoError(t, f.repo.Create(ctx, april))

	found, err := f.repo.FindPendingForPeriod(ctx, f.contract.ID, valueobject.YearMonth{Year: 2024, Month: 3})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, march.ID, found[0].ID)

	none, err := f.repo.FindPendingForPeriod(ctx, f.contract.ID, valueobject.YearMonth{Year: 2025, Month: 3})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormTransactionRepository_SuccessfulAndList(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	paid := pending(t, "ext-1", f.contract, 1)
	open := pending(t, "ext-2", f.contract, 2)
	require.NoError(t, f.repo.Create(ctx, paid))
	require.NoError(t, f.repo.Create(ctx, open))
	require.NoError(t, paid.Perform(time.Now()))
	require.NoError(t, f.repo.Update(ctx, paid))

	byContract, err := f.repo.FindSuccessfulByContract(ctx, f.contract.ID)
	require.NoError(t, err)
	require.Len(t, byContract, 1)
	assert.Equal(t, paid.ID, byContract[0].ID)

	byStudent, err := f.repo.FindSuccessfulByStudents(ctx, []uuid.UUID{f.contract.StudentID})
	require.NoError(t, err)
	assert.Len(t, byStudent, 1)

	source := ledger.SourcePayme
	all, err := f.repo.List(ctx, ledger.TransactionFilter{Source: &source})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	status := ledger.TransactionStatusPending
	pendingOnly, err := f.repo.List(ctx, ledger.TransactionFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, pendingOnly, 1)
	assert.Equal(t, open.ID, pendingOnly[0].ID)
}

func TestGormTransactionRepository_ForUpdate_SQL(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := NewGormTransactionRepository(mockDB.DB)

	mockDB.Mock.ExpectQuery(`SELECT \* FROM "transactions" WHERE external_id = \$1 ORDER BY .* LIMIT .* FOR UPDATE`).
		WithArgs("ext-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByExternalIDForUpdate(context.Background(), "ext-1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	mockDB.ExpectationsWereMet(t)
}
