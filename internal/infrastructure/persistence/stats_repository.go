package persistence

import (
	"context"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormStatsRepository answers the aggregate counts behind the business gauges
type GormStatsRepository struct {
	db *gorm.DB
}

// NewGormStatsRepository creates a new GormStatsRepository
func NewGormStatsRepository(db *gorm.DB) *GormStatsRepository {
	return &GormStatsRepository{db: db}
}

// CountActiveContracts returns the number of ACTIVE contracts
func (r *GormStatsRepository) CountActiveContracts(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ContractModel{}).
		Where("status = ?", string(enrollment.ContractStatusActive)).
		Count(&count).Error
	return count, err
}

// CountPendingTransactions returns PENDING transactions grouped by source
func (r *GormStatsRepository) CountPendingTransactions(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Source string
		Total  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.TransactionModel{}).
		Select("source, COUNT(*) AS total").
		Where("status = ?", string(ledger.TransactionStatusPending)).
		Group("source").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Source] = row.Total
	}
	return out, nil
}
