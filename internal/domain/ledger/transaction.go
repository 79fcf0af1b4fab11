package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus represents the state of a ledger entry
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusSuccess    TransactionStatus = "success"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusUnassigned TransactionStatus = "unassigned"
)

// transactionTransitions lists every allowed status change. SUCCESS, CANCELLED
// and FAILED are terminal.
var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusSuccess,
		TransactionStatusCancelled,
		TransactionStatusFailed,
	},
	TransactionStatusUnassigned: {
		TransactionStatusSuccess,
		TransactionStatusCancelled,
	},
}

// IsValid checks if the status is a valid TransactionStatus
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusSuccess, TransactionStatusCancelled,
		TransactionStatusFailed, TransactionStatusUnassigned:
		return true
	}
	return false
}

// String returns the string representation of TransactionStatus
func (s TransactionStatus) String() string {
	return string(s)
}

// IsFinal returns true if no further transition is possible
func (s TransactionStatus) IsFinal() bool {
	return len(transactionTransitions[s]) == 0
}

// CanTransitionTo reports whether the transition table allows moving to next
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transactionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Source tags which channel produced the money
type Source string

const (
	SourcePayme  Source = "payme"
	SourceClick  Source = "click"
	SourceBank   Source = "bank"
	SourceCash   Source = "cash"
	SourceManual Source = "manual"
)

// IsValid checks if the source is known
func (s Source) IsValid() bool {
	switch s {
	case SourcePayme, SourceClick, SourceBank, SourceCash, SourceManual:
		return true
	}
	return false
}

// IsGateway reports whether the source is an external payment provider
func (s Source) IsGateway() bool {
	return s == SourcePayme || s == SourceClick
}

// CancelReasonDefault is used when a provider cancels without a reason code
const CancelReasonDefault = 5

// Transaction is a single ledger entry. Amount is kept in major currency units.
type Transaction struct {
	shared.BaseEntity
	ExternalID    *string
	Amount        decimal.Decimal
	Source        Source
	Status        TransactionStatus
	PaymentYear   int
	PaymentMonths []int
	PaidAt        *time.Time
	CancelledAt   *time.Time
	CancelReason  *int
	ContractID    *uuid.UUID
	StudentID     *uuid.UUID
	Comment       string
}

// NewPendingTransaction creates the PENDING entry a gateway opens for one billing month
func NewPendingTransaction(externalID string, source Source, amount decimal.Decimal, contract *enrollment.Contract, period valueobject.YearMonth, comment string) (*Transaction, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, shared.NewDomainError("INVALID_EXTERNAL_ID", "External transaction ID cannot be empty")
	}
	if !source.IsGateway() {
		return nil, shared.NewDomainError("INVALID_SOURCE", fmt.Sprintf("Source %q cannot open pending transactions", source))
	}
	if contract == nil {
		return nil, shared.NewDomainError("INVALID_CONTRACT", "Contract is required")
	}
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	}

	return &Transaction{
		BaseEntity:    shared.NewBaseEntity(),
		ExternalID:    &externalID,
		Amount:        amount,
		Source:        source,
		Status:        TransactionStatusPending,
		PaymentYear:   period.Year,
		PaymentMonths: []int{period.Month},
		ContractID:    &contract.ID,
		StudentID:     &contract.StudentID,
		Comment:       comment,
	}, nil
}

// NewRecordedPayment creates a SUCCESS entry for money received outside a gateway
func NewRecordedPayment(source Source, amount decimal.Decimal, contract *enrollment.Contract, year int, months []int, comment string, at time.Time) (*Transaction, error) {
	if source.IsGateway() || !source.IsValid() {
		return nil, shared.NewDomainError("INVALID_SOURCE", fmt.Sprintf("Source %q cannot be recorded manually", source))
	}
	if contract == nil {
		return nil, shared.NewDomainError("INVALID_CONTRACT", "Contract is required")
	}
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	}
	periods, err := valueobject.PeriodsFromMonths(year, months)
	if err != nil || len(periods) == 0 {
		return nil, shared.NewDomainError("INVALID_PERIOD", "At least one valid payment month is required")
	}

	t := &Transaction{
		BaseEntity:    shared.NewBaseEntity(),
		Amount:        amount,
		Source:        source,
		Status:        TransactionStatusSuccess,
		PaymentYear:   year,
		PaymentMonths: monthsOf(periods),
		PaidAt:        &at,
		ContractID:    &contract.ID,
		StudentID:     &contract.StudentID,
		Comment:       comment,
	}
	return t, nil
}

// NewUnassignedPayment records money that arrived without a resolvable contract
func NewUnassignedPayment(externalID string, source Source, amount decimal.Decimal, comment string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	}
	t := &Transaction{
		BaseEntity: shared.NewBaseEntity(),
		Amount:     amount,
		Source:     source,
		Status:     TransactionStatusUnassigned,
		Comment:    comment,
	}
	if id := strings.TrimSpace(externalID); id != "" {
		t.ExternalID = &id
	}
	return t, nil
}

// Periods returns the billing months the transaction pays for
func (t *Transaction) Periods() []valueobject.YearMonth {
	periods := make([]valueobject.YearMonth, 0, len(t.PaymentMonths))
	for _, m := range t.PaymentMonths {
		periods = append(periods, valueobject.YearMonth{Year: t.PaymentYear, Month: m})
	}
	return valueobject.NormalizePeriods(periods)
}

// Covers reports whether the transaction pays for the month
func (t *Transaction) Covers(ym valueobject.YearMonth) bool {
	if t.PaymentYear != ym.Year {
		return false
	}
	for _, m := range t.PaymentMonths {
		if m == ym.Month {
			return true
		}
	}
	return false
}

// ShareFor is the part of the amount attributed to one covered month.
// Multi-month payments are split evenly so each month is counted once.
func (t *Transaction) ShareFor(ym valueobject.YearMonth) decimal.Decimal {
	if !t.Covers(ym) {
		return decimal.Zero
	}
	n := len(t.Periods())
	return t.Amount.Div(decimal.NewFromInt(int64(n)))
}

// IsSuccess returns true for settled money
func (t *Transaction) IsSuccess() bool {
	return t.Status == TransactionStatusSuccess
}

// Perform settles a PENDING transaction
func (t *Transaction) Perform(at time.Time) error {
	if err := t.transition(TransactionStatusSuccess, at); err != nil {
		return err
	}
	t.PaidAt = &at
	return nil
}

// Cancel voids the transaction with an optional provider reason code
func (t *Transaction) Cancel(reason int, comment string, at time.Time) error {
	if err := t.transition(TransactionStatusCancelled, at); err != nil {
		return err
	}
	t.CancelledAt = &at
	t.CancelReason = &reason
	if comment != "" {
		t.Comment = comment
	}
	return nil
}

// CancelAsDuplicate voids a transaction that lost the race for an already paid month
func (t *Transaction) CancelAsDuplicate(period valueobject.YearMonth, at time.Time) error {
	return t.Cancel(CancelReasonDefault, DuplicatePaymentComment(period), at)
}

// Fail marks an adapter-level failure
func (t *Transaction) Fail(comment string, at time.Time) error {
	if err := t.transition(TransactionStatusFailed, at); err != nil {
		return err
	}
	t.Comment = comment
	return nil
}

// Assign binds an UNASSIGNED payment to a contract and settles it
func (t *Transaction) Assign(contract *enrollment.Contract, year int, months []int, at time.Time) error {
	if t.Status != TransactionStatusUnassigned {
		return shared.NewDomainError("INVALID_STATE", "Only unassigned transactions can be assigned")
	}
	periods, err := valueobject.PeriodsFromMonths(year, months)
	if err != nil || len(periods) == 0 {
		return shared.NewDomainError("INVALID_PERIOD", "At least one valid payment month is required")
	}
	if err := t.transition(TransactionStatusSuccess, at); err != nil {
		return err
	}
	t.ContractID = &contract.ID
	t.StudentID = &contract.StudentID
	t.PaymentYear = year
	t.PaymentMonths = monthsOf(periods)
	if t.PaidAt == nil {
		t.PaidAt = &at
	}
	return nil
}

func (t *Transaction) transition(next TransactionStatus, at time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot change transaction from %s to %s", t.Status, next))
	}
	t.Status = next
	t.Touch(at)
	return nil
}

// DuplicatePaymentComment is the audit comment left on a transaction cancelled
// because the month was already paid
func DuplicatePaymentComment(period valueobject.YearMonth) string {
	return fmt.Sprintf("Cancelled: duplicate payment for month %d/%d", period.Month, period.Year)
}

func monthsOf(periods []valueobject.YearMonth) []int {
	months := make([]int, 0, len(periods))
	for _, p := range periods {
		months = append(months, p.Month)
	}
	return months
}
