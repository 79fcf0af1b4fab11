package persistence

import (
	"context"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/ledger"
	"gorm.io/gorm"
)

// GormLedgerScope implements ledger.TransactionScope using GORM transactions.
// Row locks taken by the *ForUpdate finders last until Execute returns.
type GormLedgerScope struct {
	db *gorm.DB
}

// NewGormLedgerScope creates a new GormLedgerScope.
func NewGormLedgerScope(db *gorm.DB) *GormLedgerScope {
	return &GormLedgerScope{db: db}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
func (s *GormLedgerScope) Execute(ctx context.Context, fn func(repos ledger.Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormLedgerRepositories{tx: tx})
	})
}

// gormLedgerRepositories provides access to the ledger stores within a transaction.
type gormLedgerRepositories struct {
	tx *gorm.DB
}

// Transactions returns the transaction repository scoped to the current transaction.
func (r *gormLedgerRepositories) Transactions() ledger.TransactionRepository {
	return NewGormTransactionRepository(r.tx)
}

// Contracts returns the contract repository scoped to the current transaction.
func (r *gormLedgerRepositories) Contracts() enrollment.ContractRepository {
	return NewGormContractRepository(r.tx)
}

var _ ledger.TransactionScope = (*GormLedgerScope)(nil)

var _ ledger.Repositories = (*gormLedgerRepositories)(nil)
