package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
)

// Storage-level conflicts the application translates into protocol outcomes
var (
	ErrDuplicateExternalID = errors.New("transaction: external id already exists")
	ErrPeriodAlreadyPaid   = errors.New("transaction: period already paid for contract")
)

// TransactionFilter narrows statement and reconciliation queries
type TransactionFilter struct {
	Source      *Source
	Status      *TransactionStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	PaidFrom    *time.Time
	PaidTo      *time.Time
	ContractID  *uuid.UUID
	StudentID   *uuid.UUID
	Limit       int
}

// TransactionRepository defines persistence for ledger entries
type TransactionRepository interface {
	// FindByID returns shared.ErrNotFound when absent
	FindByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// FindByExternalID returns shared.ErrNotFound when absent
	FindByExternalID(ctx context.Context, externalID string) (*Transaction, error)

	// FindByExternalIDForUpdate locks the row until the surrounding transaction ends
	FindByExternalIDForUpdate(ctx context.Context, externalID string) (*Transaction, error)

	// FindByIDForUpdate locks the row until the surrounding transaction ends
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// Create inserts a transaction. Returns ErrDuplicateExternalID on a unique violation.
	Create(ctx context.Context, t *Transaction) error

	// Update persists status, timestamps and assignment fields
	Update(ctx context.Context, t *Transaction) error

	// ClaimPeriods records that the transaction pays for the months of the contract.
	// Returns ErrPeriodAlreadyPaid when another transaction holds any of them.
	ClaimPeriods(ctx context.Context, t *Transaction) error

	// FindPeriodOwner returns the ID of the SUCCESS transaction holding the month,
	// or uuid.Nil when the month is unpaid
	FindPeriodOwner(ctx context.Context, contractID uuid.UUID, period valueobject.YearMonth) (uuid.UUID, error)

	// FindPendingForPeriod returns PENDING transactions of the contract naming the month
	FindPendingForPeriod(ctx context.Context, contractID uuid.UUID, period valueobject.YearMonth) ([]Transaction, error)

	// FindSuccessfulByContract returns every SUCCESS transaction booked on the contract
	FindSuccessfulByContract(ctx context.Context, contractID uuid.UUID) ([]Transaction, error)

	// FindSuccessfulByStudents returns every SUCCESS transaction of the students
	FindSuccessfulByStudents(ctx context.Context, studentIDs []uuid.UUID) ([]Transaction, error)

	// List returns transactions matching the filter ordered by creation time
	List(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}

// Repositories groups the stores a ledger write needs inside one database transaction
type Repositories interface {
	Transactions() TransactionRepository
	Contracts() enrollment.ContractRepository
}

// TransactionScope runs fn atomically; an error rolls everything back
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos Repositories) error) error
}
