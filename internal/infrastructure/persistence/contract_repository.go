package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormContractRepository implements enrollment.ContractRepository using GORM
type GormContractRepository struct {
	db *gorm.DB
}

// NewGormContractRepository creates a new GormContractRepository
func NewGormContractRepository(db *gorm.DB) *GormContractRepository {
	return &GormContractRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *GormContractRepository) WithTx(tx *gorm.DB) *GormContractRepository {
	return &GormContractRepository{db: tx}
}

// FindByID finds a contract by its ID
func (r *GormContractRepository) FindByID(ctx context.Context, id uuid.UUID) (*enrollment.Contract, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByNumber finds a contract by its permanent number
func (r *GormContractRepository) FindByNumber(ctx context.Context, number string) (*enrollment.Contract, error) {
	return r.first(ctx, "contract_number = ?", number)
}

// FindActiveByStudent finds the student's ACTIVE contract
func (r *GormContractRepository) FindActiveByStudent(ctx context.Context, studentID uuid.UUID) (*enrollment.Contract, error) {
	return r.first(ctx, "student_id = ? AND status = ?", studentID, string(enrollment.ContractStatusActive))
}

func (r *GormContractRepository) first(ctx context.Context, query string, args ...interface{}) (*enrollment.Contract, error) {
	var m models.ContractModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByStudent returns every contract of the student, oldest first
func (r *GormContractRepository) FindByStudent(ctx context.Context, studentID uuid.UUID) ([]enrollment.Contract, error) {
	return r.FindByStudents(ctx, []uuid.UUID{studentID})
}

// FindByStudents returns every contract of the students, oldest first
func (r *GormContractRepository) FindByStudents(ctx context.Context, studentIDs []uuid.UUID) ([]enrollment.Contract, error) {
	if len(studentIDs) == 0 {
		return []enrollment.Contract{}, nil
	}
	var ms []models.ContractModel
	if err := r.db.WithContext(ctx).
		Where("student_id IN ?", studentIDs).
		Order("start_date ASC, created_at ASC").
		Find(&ms).Error; err != nil {
		return nil, err
	}
	return models.ContractsToDomain(ms), nil
}

// UsedSequences returns every sequence number ever assigned in the cohort, ascending.
// Status is deliberately not filtered: a number stays used after termination.
func (r *GormContractRepository) UsedSequences(ctx context.Context, cohort enrollment.Cohort) ([]int, error) {
	var seqs []int
	if err := r.db.WithContext(ctx).
		Model(&models.ContractModel{}).
		Where("group_id = ? AND birth_year = ? AND archive_year = ?", cohort.GroupID, cohort.BirthYear, cohort.ArchiveYear).
		Order("sequence_number ASC").
		Pluck("sequence_number", &seqs).Error; err != nil {
		return nil, err
	}
	return seqs, nil
}

// CountActiveInGroup counts ACTIVE contracts of the group in the academic year
func (r *GormContractRepository) CountActiveInGroup(ctx context.Context, groupID uuid.UUID, archiveYear int) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ContractModel{}).
		Where("group_id = ? AND archive_year = ? AND status = ?", groupID, archiveYear, string(enrollment.ContractStatusActive)).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Create inserts a new contract and classifies unique violations
func (r *GormContractRepository) Create(ctx context.Context, contract *enrollment.Contract) error {
	err := r.db.WithContext(ctx).Create(models.ContractModelFromDomain(contract)).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}
	// Either the number/sequence or the one-active-contract index rejected the row.
	if existing, lookupErr := r.FindActiveByStudent(ctx, contract.StudentID); lookupErr == nil && existing.ID != contract.ID {
		return enrollment.ErrActiveContractExists
	}
	return enrollment.ErrContractNumberTaken
}

// SaveWithLock persists lifecycle fields with optimistic locking (checks version)
func (r *GormContractRepository) SaveWithLock(ctx context.Context, contract *enrollment.Contract) error {
	result := r.db.WithContext(ctx).
		Model(&models.ContractModel{}).
		Where("id = ? AND version = ?", contract.ID, contract.Version-1).
		Updates(map[string]interface{}{
			"status":             string(contract.Status),
			"terminated_at":      contract.TerminatedAt,
			"termination_reason": contract.TerminationReason,
			"version":            contract.Version,
			"updated_at":         contract.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewDomainError("CONCURRENCY_CONFLICT", "Contract was modified by another transaction")
	}
	return nil
}

// ArchiveYear moves every non-deleted, non-archived contract of the year to ARCHIVED
func (r *GormContractRepository) ArchiveYear(ctx context.Context, year int) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ContractModel{}).
		Where("archive_year = ? AND status NOT IN ?", year,
			[]string{string(enrollment.ContractStatusDeleted), string(enrollment.ContractStatusArchived)}).
		Updates(map[string]interface{}{
			"status":     string(enrollment.ContractStatusArchived),
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

var _ enrollment.ContractRepository = (*GormContractRepository)(nil)
