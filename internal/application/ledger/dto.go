package ledger

import (
	"errors"
	"time"

	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PeriodQuery selects report months either as a year plus month list or as a
// date range. Both forms reduce to the same sorted month list.
type PeriodQuery struct {
	Year   int        `form:"year" json:"year" binding:"omitempty,min=1900,max=2200"`
	Month  int        `form:"month" json:"month" binding:"omitempty,min=1,max=12"`
	Months string     `form:"months" json:"months"`
	From   *time.Time `form:"from" json:"from" time_format:"2006-01-02"`
	To     *time.Time `form:"to" json:"to" time_format:"2006-01-02"`
}

// Periods resolves the query. A range wins over a month list; a year with no
// months means the whole year; an empty query means the current month.
func (q PeriodQuery) Periods(now time.Time) ([]valueobject.YearMonth, error) {
	periods, err := q.periods(now)
	if err != nil && !errors.As(err, new(*shared.DomainError)) {
		return nil, shared.NewDomainError("INVALID_PERIOD", err.Error())
	}
	return periods, err
}

func (q PeriodQuery) periods(now time.Time) ([]valueobject.YearMonth, error) {
	switch {
	case q.From != nil || q.To != nil:
		if q.From == nil || q.To == nil {
			return nil, shared.NewDomainError("INVALID_PERIOD", "Both from and to are required for a range")
		}
		return valueobject.PeriodsFromRange(*q.From, *q.To)
	case q.Year != 0:
		months, err := valueobject.ParseMonthList(q.Months)
		if err != nil {
			return nil, err
		}
		if q.Month != 0 && q.Months == "" {
			months = []int{q.Month}
		}
		return valueobject.PeriodsFromMonths(q.Year, months)
	default:
		return []valueobject.YearMonth{valueobject.YearMonthOf(now)}, nil
	}
}

// StudentDebtReport is the ledger-report view of one student
type StudentDebtReport struct {
	StudentID uuid.UUID `json:"student_id"`
	ledger.DebtReport
}

// DebtSnapshot is the running balance the turnstile uses
type DebtSnapshot struct {
	StudentID      uuid.UUID       `json:"student_id"`
	ContractID     *uuid.UUID      `json:"contract_id,omitempty"`
	ContractNumber string          `json:"contract_number,omitempty"`
	AsOf           time.Time       `json:"as_of"`
	Debt           decimal.Decimal `json:"debt"`
}

// DebtorsQuery filters the debtors report
type DebtorsQuery struct {
	PeriodQuery
	GroupID  string   `form:"group_id" json:"group_id" binding:"omitempty,uuid"`
	MinDebt  *float64 `form:"min_debt" json:"min_debt" binding:"omitempty,min=0"`
	Page     int      `form:"page" json:"page" binding:"omitempty,min=1"`
	PageSize int      `form:"page_size" json:"page_size" binding:"omitempty,min=1,max=100"`
}

// DebtorItem is one row of the debtors report
type DebtorItem struct {
	StudentID      uuid.UUID       `json:"student_id"`
	StudentName    string          `json:"student_name"`
	GroupID        *uuid.UUID      `json:"group_id,omitempty"`
	ContractNumber string          `json:"contract_number"`
	Expected       decimal.Decimal `json:"expected"`
	Paid           decimal.Decimal `json:"paid"`
	Debt           decimal.Decimal `json:"debt"`
}

// RecordPaymentRequest books money received at the desk or by bank transfer
type RecordPaymentRequest struct {
	ContractID uuid.UUID       `json:"contract_id" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Source     string          `json:"source" binding:"required,oneof=cash bank manual"`
	Year       int             `json:"payment_year" binding:"required,min=1900,max=2200"`
	Months     []int           `json:"payment_months" binding:"required,min=1,dive,min=1,max=12"`
	Comment    string          `json:"comment" binding:"max=500"`
	PaidAt     *time.Time      `json:"paid_at"`
}

// RecordUnassignedRequest books money whose contract is not yet known
type RecordUnassignedRequest struct {
	ExternalID string          `json:"external_id"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Source     string          `json:"source" binding:"required,oneof=cash bank manual payme click"`
	Comment    string          `json:"comment" binding:"max=500"`
}

// AssignPaymentRequest binds an UNASSIGNED payment to a contract
type AssignPaymentRequest struct {
	ContractID uuid.UUID `json:"contract_id" binding:"required"`
	Year       int       `json:"payment_year" binding:"required,min=1900,max=2200"`
	Months     []int     `json:"payment_months" binding:"required,min=1,dive,min=1,max=12"`
}

// CancelPaymentRequest carries the operator's reason
type CancelPaymentRequest struct {
	Comment string `json:"comment" binding:"max=500"`
}

// TransactionResponse represents a ledger entry in API responses
type TransactionResponse struct {
	ID            uuid.UUID       `json:"id"`
	ExternalID    *string         `json:"external_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Source        string          `json:"source"`
	Status        string          `json:"status"`
	PaymentYear   int             `json:"payment_year,omitempty"`
	PaymentMonths []int           `json:"payment_months,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	ContractID    *uuid.UUID      `json:"contract_id,omitempty"`
	StudentID     *uuid.UUID      `json:"student_id,omitempty"`
	Comment       string          `json:"comment,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ToTransactionResponse converts a domain transaction to its response form
func ToTransactionResponse(t *ledger.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:            t.ID,
		ExternalID:    t.ExternalID,
		Amount:        t.Amount,
		Source:        string(t.Source),
		Status:        t.Status.String(),
		PaymentYear:   t.PaymentYear,
		PaymentMonths: t.PaymentMonths,
		PaidAt:        t.PaidAt,
		CancelledAt:   t.CancelledAt,
		ContractID:    t.ContractID,
		StudentID:     t.StudentID,
		Comment:       t.Comment,
		CreatedAt:     t.CreatedAt,
	}
}

// SnapshotQuery optionally pins the snapshot date; empty means now
type SnapshotQuery struct {
	AsOf *time.Time `form:"as_of" time_format:"2006-01-02"`
}
