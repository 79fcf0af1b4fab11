package models

import (
	"time"

	"github.com/academy/backend/internal/domain/access"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GateLogModel is the persistence model for a GateLog row. Rows are only inserted.
type GateLogModel struct {
	ID         uuid.UUID       `gorm:"type:uuid;primary_key"`
	StudentID  *uuid.UUID      `gorm:"type:uuid;index"`
	Identifier string          `gorm:"type:varchar(128)"`
	Allowed    bool            `gorm:"not null;index"`
	Reason     string          `gorm:"type:varchar(64);not null"`
	Debt       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	CreatedAt  time.Time       `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (GateLogModel) TableName() string {
	return "gate_logs"
}

// ToDomain converts the persistence model to a domain GateLog.
func (m *GateLogModel) ToDomain() *access.GateLog {
	return &access.GateLog{
		ID:         m.ID,
		StudentID:  m.StudentID,
		Identifier: m.Identifier,
		Allowed:    m.Allowed,
		Reason:     access.GateReason(m.Reason),
		Debt:       m.Debt,
		CreatedAt:  m.CreatedAt,
	}
}

// GateLogModelFromDomain creates a new persistence model from a domain GateLog.
func GateLogModelFromDomain(l *access.GateLog) *GateLogModel {
	return &GateLogModel{
		ID:         l.ID,
		StudentID:  l.StudentID,
		Identifier: l.Identifier,
		Allowed:    l.Allowed,
		Reason:     string(l.Reason),
		Debt:       l.Debt,
		CreatedAt:  l.CreatedAt,
	}
}

// AllModels lists every model in dependency order, for AutoMigrate in tests and tooling.
func AllModels() []any {
	return []any{
		&GroupModel{},
		&StudentModel{},
		&ContractModel{},
		&TransactionModel{},
		&PaidPeriodModel{},
		&GateLogModel{},
	}
}
