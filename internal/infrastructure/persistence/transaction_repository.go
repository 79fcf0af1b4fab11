package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/academy/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTransactionRepository implements ledger.TransactionRepository using GORM
type GormTransactionRepository struct {
	db *gorm.DB
}

// NewGormTransactionRepository creates a new GormTransactionRepository
func NewGormTransactionRepository(db *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *GormTransactionRepository) WithTx(tx *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{db: tx}
}

// FindByID finds a transaction by its ID
func (r *GormTransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	return r.first(r.db.WithContext(ctx), "id = ?", id)
}

// FindByExternalID finds a transaction by the provider's idempotency key
func (r *GormTransactionRepository) FindByExternalID(ctx context.Context, externalID string) (*ledger.Transaction, error) {
	return r.first(r.db.WithContext(ctx), "external_id = ?", externalID)
}

// FindByExternalIDForUpdate finds a transaction and locks its row (SELECT ... FOR UPDATE)
func (r *GormTransactionRepository) FindByExternalIDForUpdate(ctx context.Context, externalID string) (*ledger.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "external_id = ?", externalID)
}

// FindByIDForUpdate finds a transaction and locks its row (SELECT ... FOR UPDATE)
func (r *GormTransactionRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

func (r *GormTransactionRepository) first(db *gorm.DB, query string, args ...interface{}) (*ledger.Transaction, error) {
	var m models.TransactionModel
	if err := db.Where(query, args...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// Create inserts a transaction
func (r *GormTransactionRepository) Create(ctx context.Context, t *ledger.Transaction) error {
	if err := r.db.WithContext(ctx).Create(models.TransactionModelFromDomain(t)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ledger.ErrDuplicateExternalID
		}
		return err
	}
	return nil
}

// Update persists status, timestamps and assignment fields
func (r *GormTransactionRepository) Update(ctx context.Context, t *ledger.Transaction) error {
	months := t.PaymentMonths
	if months == nil {
		months = []int{}
	}
	result := r.db.WithContext(ctx).
		Model(&models.TransactionModel{}).
		Where("id = ?", t.ID).
		Updates(map[string]interface{}{
			"status":         string(t.Status),
			"payment_year":   t.PaymentYear,
			"payment_months": datatypes.NewJSONType(months),
			"paid_at":        t.PaidAt,
			"cancelled_at":   t.CancelledAt,
			"cancel_reason":  t.CancelReason,
			"contract_id":    t.ContractID,
			"student_id":     t.StudentID,
			"comment":        t.Comment,
			"updated_at":     t.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ClaimPeriods inserts one paid_periods row per covered month. Conflicting rows are
// skipped rather than raised so the surrounding transaction stays usable; a short
// insert count means another transaction already holds a month, in which case the
// claims taken here are released again.
func (r *GormTransactionRepository) ClaimPeriods(ctx context.Context, t *ledger.Transaction) error {
	if t.ContractID == nil {
		return shared.NewDomainError("INVALID_CONTRACT", "Cannot claim periods without a contract")
	}
	claims := models.PaidPeriodModelsFor(t, time.Now())
	if len(claims) == 0 {
		return shared.NewDomainError("INVALID_PERIOD", "Transaction covers no billing month")
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&claims)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ledger.ErrPeriodAlreadyPaid
		}
		return result.Error
	}
	if result.RowsAffected < int64(len(claims)) {
		if err := r.db.WithContext(ctx).
			Where("transaction_id = ?", t.ID).
			Delete(&models.PaidPeriodModel{}).Error; err != nil {
			return fmt.Errorf("release partial claims: %w", err)
		}
		return ledger.ErrPeriodAlreadyPaid
	}
	return nil
}

// FindPeriodOwner returns the transaction holding the month, or uuid.Nil
func (r *GormTransactionRepository) FindPeriodOwner(ctx context.Context, contractID uuid.UUID, period valueobject.YearMonth) (uuid.UUID, error) {
	var owners []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.PaidPeriodModel{}).
		Where("contract_id = ? AND year = ? AND month = ?", contractID, period.Year, period.Month).
		Limit(1).
		Pluck("transaction_id", &owners).Error; err != nil {
		return uuid.Nil, err
	}
	if len(owners) == 0 {
		return uuid.Nil, nil
	}
	return owners[0], nil
}

// FindPendingForPeriod returns PENDING transactions of the contract naming the month.
// Months live in a JSON column, so the year narrows the query and the month is
// matched here.
func (r *GormTransactionRepository) FindPendingForPeriod(ctx context.Context, contractID uuid.UUID, period valueobject.YearMonth) ([]ledger.Transaction, error) {
	var ms []models.TransactionModel
	if err := r.db.WithContext(ctx).
		Where("contract_id = ? AND status = ? AND payment_year = ?", contractID, string(ledger.TransactionStatusPending), period.Year).
		Order("created_at ASC").
		Find(&ms).Error; err != nil {
		return nil, err
	}

	pending := make([]ledger.Transaction, 0, len(ms))
	for _, t := range models.TransactionsToDomain(ms) {
		if t.Covers(period) {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

// FindSuccessfulByContract returns every SUCCESS transaction booked on the contract
func (r *GormTransactionRepository) FindSuccessfulByContract(ctx context.Context, contractID uuid.UUID) ([]ledger.Transaction, error) {
	var ms []models.TransactionModel
	if err := r.db.WithContext(ctx).
		Where("contract_id = ? AND status = ?", contractID, string(ledger.TransactionStatusSuccess)).
		Order("paid_at ASC").
		Find(&ms).Error; err != nil {
		return nil, err
	}
	return models.TransactionsToDomain(ms), nil
}

// FindSuccessfulByStudents returns every SUCCESS transaction of the students
func (r *GormTransactionRepository) FindSuccessfulByStudents(ctx context.Context, studentIDs []uuid.UUID) ([]ledger.Transaction, error) {
	if len(studentIDs) == 0 {
		return []ledger.Transaction{}, nil
	}
	var ms []models.TransactionModel
	if err := r.db.WithContext(ctx).
		Where("student_id IN ? AND status = ?", studentIDs, string(ledger.TransactionStatusSuccess)).
		Order("paid_at ASC").
		Find(&ms).Error; err != nil {
		return nil, err
	}
	return models.TransactionsToDomain(ms), nil
}

// List returns transactions matching the filter ordered by creation time
func (r *GormTransactionRepository) List(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	query := r.db.WithContext(ctx).Model(&models.TransactionModel{})
	if filter.Source != nil {
		query = query.Where("source = ?", string(*filter.Source))
	}
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}
	if filter.PaidFrom != nil {
		query = query.Where("paid_at >= ?", *filter.PaidFrom)
	}
	if filter.PaidTo != nil {
		query = query.Where("paid_at <= ?", *filter.PaidTo)
	}
	if filter.ContractID != nil {
		query = query.Where("contract_id = ?", *filter.ContractID)
	}
	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var ms []models.TransactionModel
	if err := query.Order("created_at ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	return models.TransactionsToDomain(ms), nil
}

var _ ledger.TransactionRepository = (*GormTransactionRepository)(nil)
