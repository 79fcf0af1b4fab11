package models

import (
	"time"

	"github.com/academy/backend/internal/domain/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionModel is the persistence model for a ledger Transaction.
type TransactionModel struct {
	BaseModel
	ExternalID    *string                   `gorm:"type:varchar(128);uniqueIndex"`
	Amount        decimal.Decimal           `gorm:"type:decimal(18,4);not null"`
	Source        string                    `gorm:"type:varchar(20);not null;index"`
	Status        string                    `gorm:"type:varchar(20);not null;index"`
	PaymentYear   int                       `gorm:"index"`
	PaymentMonths datatypes.JSONType[[]int] `gorm:"not null"`
	PaidAt        *time.Time                `gorm:"index"`
	CancelledAt   *time.Time
	CancelReason  *int
	ContractID    *uuid.UUID `gorm:"type:uuid;index"`
	StudentID     *uuid.UUID `gorm:"type:uuid;index"`
	Comment       string     `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (TransactionModel) TableName() string {
	return "transactions"
}

// ToDomain converts the persistence model to a domain Transaction.
func (m *TransactionModel) ToDomain() *ledger.Transaction {
	months := m.PaymentMonths.Data()
	if months == nil {
		months = []int{}
	}
	return &ledger.Transaction{
		BaseEntity:    m.BaseModel.ToDomain(),
		ExternalID:    m.ExternalID,
		Amount:        m.Amount,
		Source:        ledger.Source(m.Source),
		Status:        ledger.TransactionStatus(m.Status),
		PaymentYear:   m.PaymentYear,
		PaymentMonths: months,
		PaidAt:        m.PaidAt,
		CancelledAt:   m.CancelledAt,
		CancelReason:  m.CancelReason,
		ContractID:    m.ContractID,
		StudentID:     m.StudentID,
		Comment:       m.Comment,
	}
}

// TransactionModelFromDomain creates a new persistence model from a domain Transaction.
func TransactionModelFromDomain(t *ledger.Transaction) *TransactionModel {
	months := t.PaymentMonths
	if months == nil {
		months = []int{}
	}
	m := &TransactionModel{
		ExternalID:    t.ExternalID,
		Amount:        t.Amount,
		Source:        string(t.Source),
		Status:        string(t.Status),
		PaymentYear:   t.PaymentYear,
		PaymentMonths: datatypes.NewJSONType(months),
		PaidAt:        t.PaidAt,
		CancelledAt:   t.CancelledAt,
		CancelReason:  t.CancelReason,
		ContractID:    t.ContractID,
		StudentID:     t.StudentID,
		Comment:       t.Comment,
	}
	m.FromDomainBaseEntity(t.BaseEntity)
	return m
}

// TransactionsToDomain converts a slice of models, preserving order.
func TransactionsToDomain(ms []TransactionModel) []ledger.Transaction {
	out := make([]ledger.Transaction, len(ms))
	for i := range ms {
		out[i] = *ms[i].ToDomain()
	}
	return out
}

// PaidPeriodModel claims one billing month of a contract for the SUCCESS transaction
// that paid it. The composite primary key is what rejects a second payment.
type PaidPeriodModel struct {
	ContractID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Year          int       `gorm:"primaryKey;autoIncrement:false"`
	Month         int       `gorm:"primaryKey;autoIncrement:false"`
	TransactionID uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PaidPeriodModel) TableName() string {
	return "paid_periods"
}

// PaidPeriodModelsFor builds one claim per month the transaction covers.
func PaidPeriodModelsFor(t *ledger.Transaction, at time.Time) []PaidPeriodModel {
	periods := t.Periods()
	out := make([]PaidPeriodModel, 0, len(periods))
	for _, p := range periods {
		out = append(out, PaidPeriodModel{
			ContractID:    *t.ContractID,
			Year:          p.Year,
			Month:         p.Month,
			TransactionID: t.ID,
			CreatedAt:     at,
		})
	}
	return out
}
