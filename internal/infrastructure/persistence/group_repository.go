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

// GormGroupRepository implements enrollment.GroupRepository using GORM
type GormGroupRepository struct {
	db *gorm.DB
}

// NewGormGroupRepository creates a new GormGroupRepository
func NewGormGroupRepository(db *gorm.DB) *GormGroupRepository {
	return &GormGroupRepository{db: db}
}

// FindByID finds a group by its ID
func (r *GormGroupRepository) FindByID(ctx context.Context, id uuid.UUID) (*enrollment.Group, error) {
	var m models.GroupModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// FindByIdentifier finds the group with the identifier in an academic year
func (r *GormGroupRepository) FindByIdentifier(ctx context.Context, identifier string, archiveYear int) (*enrollment.Group, error) {
	var m models.GroupModel
	if err := r.db.WithContext(ctx).
		Where("identifier = ? AND archive_year = ?", identifier, archiveYear).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// Create inserts a new group
func (r *GormGroupRepository) Create(ctx context.Context, group *enrollment.Group) error {
	if err := r.db.WithContext(ctx).Create(models.GroupModelFromDomain(group)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// ArchiveYear moves every active group of the academic year to archived
func (r *GormGroupRepository) ArchiveYear(ctx context.Context, year int) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.GroupModel{}).
		Where("archive_year = ? AND status = ?", year, string(enrollment.GroupStatusActive)).
		Updates(map[string]interface{}{
			"status":     string(enrollment.GroupStatusArchived),
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

var _ enrollment.GroupRepository = (*GormGroupRepository)(nil)
