package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// settle moves a PENDING transaction to SUCCESS and claims its months. Must
// run inside a ledger.TransactionScope with t locked.
//
// When another transaction already holds one of the months, t is cancelled as
// a duplicate instead and the conflicting month is returned. Either way t is
// persisted, so the caller must let the scope commit.
func settle(ctx context.Context, repo ledger.TransactionRepository, t *ledger.Transaction, at time.Time, comment string) (*valueobject.YearMonth, error) {
	if t.ContractID == nil || len(t.PaymentMonths) == 0 {
		return nil, shared.NewDomainError("INVALID_STATE", "Transaction has no contract month to settle")
	}
	if conflict, err := findPaidPeriod(ctx, repo, t); err != nil {
		return nil, err
	} else if conflict != nil {
		return conflict, cancelDuplicate(ctx, repo, t, *conflict, at)
	}

	if err := repo.ClaimPeriods(ctx, t); err != nil {
		if !errors.Is(err, ledger.ErrPeriodAlreadyPaid) {
			return nil, err
		}
		// lost the claim to a transaction that committed after the re-check
		period := t.Periods()[0]
		if conflict, ferr := findPaidPeriod(ctx, repo, t); ferr == nil && conflict != nil {
			period = *conflict
		}
		return &period, cancelDuplicate(ctx, repo, t, period, at)
	}

	if err := t.Perform(at); err != nil {
		return nil, err
	}
	t.Comment = comment
	return nil, repo.Update(ctx, t)
}

// findPaidPeriod returns the first month of t already held by another transaction
func findPaidPeriod(ctx context.Context, repo ledger.TransactionRepository, t *ledger.Transaction) (*valueobject.YearMonth, error) {
	for _, period := range t.Periods() {
		owner, err := repo.FindPeriodOwner(ctx, *t.ContractID, period)
		if err != nil {
			return nil, err
		}
		if owner != uuid.Nil && owner != t.ID {
			return &period, nil
		}
	}
	return nil, nil
}

func cancelDuplicate(ctx context.Context, repo ledger.TransactionRepository, t *ledger.Transaction, period valueobject.YearMonth, at time.Time) error {
	if err := t.CancelAsDuplicate(period, at); err != nil {
		return err
	}
	return repo.Update(ctx, t)
}
