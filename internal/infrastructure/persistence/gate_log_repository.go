package persistence

import (
	"context"

	"github.com/academy/backend/internal/domain/access"
	"github.com/academy/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormGateLogRepository implements access.GateLogRepository using GORM.
// It only inserts and reads; gate logs are never updated or deleted.
type GormGateLogRepository struct {
	db *gorm.DB
}

// NewGormGateLogRepository creates a new GormGateLogRepository
func NewGormGateLogRepository(db *gorm.DB) *GormGateLogRepository {
	return &GormGateLogRepository{db: db}
}

// Append inserts one decision
func (r *GormGateLogRepository) Append(ctx context.Context, log *access.GateLog) error {
	return r.db.WithContext(ctx).Create(models.GateLogModelFromDomain(log)).Error
}

// List returns one page of decisions matching the filter and the total match count
func (r *GormGateLogRepository) List(ctx context.Context, filter access.GateLogFilter) ([]access.GateLog, int64, error) {
	page := filter.Filter.Normalize()

	var total int64
	countQuery := r.applyFilter(r.db.WithContext(ctx).Model(&models.GateLogModel{}), filter)
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(page.OrderBy, GateLogSortFields, "created_at")
	orderDir := ValidateSortOrder(page.OrderDir)

	var ms []models.GateLogModel
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.GateLogModel{}), filter).
		Order(orderBy + " " + orderDir).
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	logs := make([]access.GateLog, len(ms))
	for i := range ms {
		logs[i] = *ms[i].ToDomain()
	}
	return logs, total, nil
}

func (r *GormGateLogRepository) applyFilter(query *gorm.DB, filter access.GateLogFilter) *gorm.DB {
	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}
	if filter.Allowed != nil {
		query = query.Where("allowed = ?", *filter.Allowed)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}
	return query
}

var _ access.GateLogRepository = (*GormGateLogRepository)(nil)
