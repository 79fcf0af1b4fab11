package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/academy/backend/internal/application/gateway"
	appledger "github.com/academy/backend/internal/application/ledger"
	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/academy/backend/internal/infrastructure/persistence"
	"github.com/academy/backend/internal/infrastructure/persistence/models"
	"github.com/academy/backend/tests/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymePerformRace_OneSuccessPerMonth(t *testing.T) {
	tdb := NewTestDB(t)
	ctx := context.Background()

	group := testutil.SeedGroup(t, tdb.DB, "A", 2020, 10, 2025)
	student := testutil.SeedStudent(t, tdb.DB, group, "Ali", "face-ali")
	contract := testutil.SeedContract(t, tdb.DB, student, group, 1, "600", testutil.Date(2025, 9, 1), testutil.Date(2026, 5, 31))

	txRepo := persistence.NewGormTransactionRepository(tdb.DB)
	payme := gateway.NewPaymeService(gateway.PaymeConfig{Key: "k"},
		persistence.NewGormContractRepository(tdb.DB), txRepo, persistence.NewGormLedgerScope(tdb.DB), nil)

	october := valueobject.YearMonth{Year: 2025, Month: 10}
	const racers = 5
	ids := make([]string, racers)
	for i := range ids {
		ids[i] = fmt.Sprintf("race-%d", i)
		tx, err := ledger.NewPendingTransaction(ids[i], ledger.SourcePayme, decimal.NewFromInt(600), contract, october, "seeded")
		require.NoError(t, err)
		require.NoError(t, txRepo.Create(ctx, tx))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			result, rpcErr := payme.Perform(ctx, gateway.TransactionIDParams{ID: id})
			mu.Lock()
			defer mu.Unlock()
			if rpcErr != nil {
				assert.Equal(t, gateway.CodeCouldNotPerform, rpcErr.Code, rpcErr.Message)
				rejected++
				return
			}
			assert.Equal(t, gateway.StateSuccess, result.(*gateway.TransactionState).State)
			successes++
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, racers-1, rejected)

	var claims []models.PaidPeriodModel
	require.NoError(t, tdb.DB.Where("contract_id = ?", contract.ID).Find(&claims).Error)
	require.Len(t, claims, 1)
	assert.Equal(t, 10, claims[0].Month)

	payments, err := txRepo.FindSuccessfulByContract(ctx, contract.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, claims[0].TransactionID, payments[0].ID)

	var cancelled int64
	require.NoError(t, tdb.DB.Model(&models.TransactionModel{}).
		Where("status = ?", string(ledger.TransactionStatusCancelled)).Count(&cancelled).Error)
	assert.Equal(t, int64(racers-1), cancelled, "losers are cancelled and committed")
}

func TestManualPayments_OverlappingMonthsConflict(t *testing.T) {
	tdb := NewTestDB(t)
	ctx := context.Background()

	group := testutil.SeedGroup(t, tdb.DB, "A", 2020, 10, 2025)
	student := testutil.SeedStudent(t, tdb.DB, group, "Ali", "face-ali")
	contract := testutil.SeedContract(t, tdb.DB, student, group, 1, "600", testutil.Date(2025, 9, 1), testutil.Date(2026, 5, 31))

	txRepo := persistence.NewGormTransactionRepository(tdb.DB)
	svc := appledger.NewLedgerService(persistence.NewGormLedgerScope(tdb.DB), txRepo, nil)

	requests := []appledger.RecordPaymentRequest{
		{ContractID: contract.ID, Amount: decimal.NewFromInt(1200), Source: "cash", Year: 2025, Months: []int{9, 10}},
		{ContractID: contract.ID, Amount: decimal.NewFromInt(1200), Source: "bank", Year: 2025, Months: []int{10, 11}},
	}
	errs := make([]error, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req appledger.RecordPaymentRequest) {
			defer wg.Done()
			_, errs[i] = svc.RecordManualPayment(ctx, req)
		}(i, req)
	}
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, appledger.ErrPeriodAlreadyPaid), "unexpected error: %v", err)
			failed++
		}
	}
	assert.Equal(t, 1, failed, "exactly one booking wins October")

	var claims int64
	require.NoError(t, tdb.DB.Model(&models.PaidPeriodModel{}).Where("contract_id = ?", contract.ID).Count(&claims).Error)
	assert.Equal(t, int64(2), claims, "the loser leaves no partial claims")

	payments, err := txRepo.FindSuccessfulByContract(ctx, contract.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}
