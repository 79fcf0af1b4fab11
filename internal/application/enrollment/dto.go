package enrollment

import (
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidationReason names why a proposed contract number was rejected
type ValidationReason string

const (
	ReasonMalformed          ValidationReason = "malformed"
	ReasonIdentifierMismatch ValidationReason = "identifier-mismatch"
	ReasonOutOfRange         ValidationReason = "out-of-range"
	ReasonAlreadyUsed        ValidationReason = "already-used"
	ReasonExhausted          ValidationReason = "exhausted"
)

// ValidationResult is the structured outcome of ValidateProposed. A rejected
// number is reported here, never as an error.
type ValidationResult struct {
	Valid         bool             `json:"valid"`
	Sequence      int              `json:"sequence,omitempty"`
	Reason        ValidationReason `json:"reason,omitempty"`
	Message       string           `json:"message"`
	NextAvailable *string          `json:"next_available,omitempty"`
}

// AvailableNumber is a free sequence and the contract number it renders to
type AvailableNumber struct {
	Sequence       int    `json:"sequence"`
	ContractNumber string `json:"contract_number"`
}

// CohortQuery identifies a cohort by group id
type CohortQuery struct {
	GroupID     string `form:"group_id" json:"group_id" binding:"required,uuid"`
	BirthYear   int    `form:"birth_year" json:"birth_year" binding:"required,min=1900,max=2200"`
	ArchiveYear int    `form:"archive_year" json:"archive_year" binding:"required,min=1900,max=2200"`
}

// Group returns the parsed group id
func (q CohortQuery) Group() (uuid.UUID, error) {
	id, err := shared.ParseOptionalID("group_id", q.GroupID)
	if err != nil {
		return uuid.Nil, err
	}
	if id == nil {
		return uuid.Nil, shared.NewDomainError("INVALID_GROUP_ID", "group_id is required")
	}
	return *id, nil
}

// AllocateContractRequest issues a new contract for a student
type AllocateContractRequest struct {
	StudentID   uuid.UUID       `json:"student_id" binding:"required"`
	GroupID     uuid.UUID       `json:"group_id" binding:"required"`
	BirthYear   int             `json:"birth_year" binding:"required,min=1900,max=2200"`
	ArchiveYear int             `json:"archive_year" binding:"required,min=1900,max=2200"`
	MonthlyFee  decimal.Decimal `json:"monthly_fee" binding:"required"`
	StartDate   time.Time       `json:"start_date" binding:"required"`
	EndDate     time.Time       `json:"end_date" binding:"required"`
	// ProposedNumber lets the operator pick a specific free number; empty takes the lowest
	ProposedNumber string `json:"proposed_number"`
}

// TerminateContractRequest carries the termination details
type TerminateContractRequest struct {
	Reason       string     `json:"reason" binding:"required,max=500"`
	TerminatedAt *time.Time `json:"terminated_at"`
}

// ContractResponse represents a contract in API responses
type ContractResponse struct {
	ID                uuid.UUID       `json:"id"`
	ContractNumber    string          `json:"contract_number"`
	StudentID         uuid.UUID       `json:"student_id"`
	GroupID           uuid.UUID       `json:"group_id"`
	BirthYear         int             `json:"birth_year"`
	SequenceNumber    int             `json:"sequence_number"`
	ArchiveYear       int             `json:"archive_year"`
	MonthlyFee        decimal.Decimal `json:"monthly_fee"`
	StartDate         time.Time       `json:"start_date"`
	EndDate           time.Time       `json:"end_date"`
	Status            string          `json:"status"`
	TerminatedAt      *time.Time      `json:"terminated_at,omitempty"`
	TerminationReason string          `json:"termination_reason,omitempty"`
	Version           int             `json:"version"`
}

// ToContractResponse converts a domain contract to its response form
func ToContractResponse(c *enrollment.Contract) ContractResponse {
	return ContractResponse{
		ID:                c.ID,
		ContractNumber:    c.ContractNumber,
		StudentID:         c.StudentID,
		GroupID:           c.GroupID,
		BirthYear:         c.BirthYear,
		SequenceNumber:    c.SequenceNumber,
		ArchiveYear:       c.ArchiveYear,
		MonthlyFee:        c.MonthlyFee,
		StartDate:         c.StartDate,
		EndDate:           c.EndDate,
		Status:            c.Status.String(),
		TerminatedAt:      c.TerminatedAt,
		TerminationReason: c.TerminationReason,
		Version:           c.Version,
	}
}

// PaymentMonthsResponse lists the months a contract can be paid for
type PaymentMonthsResponse struct {
	ContractID       uuid.UUID               `json:"contract_id"`
	ContractNumber   string                  `json:"contract_number"`
	EffectiveEndDate time.Time               `json:"effective_end_date"`
	Months           []valueobject.YearMonth `json:"payment_months"`
}

// ArchiveYearResult reports how many rows an archive run moved
type ArchiveYearResult struct {
	Year      int   `json:"year"`
	Contracts int64 `json:"contracts"`
	Groups    int64 `json:"groups"`
}

// ValidateNumberRequest asks whether a proposed contract number can be issued
type ValidateNumberRequest struct {
	ContractNumber string `json:"contract_number" binding:"required,max=32"`
	CohortQuery
}

// GroupFullQuery selects how fullness is judged; see IsGroupFull
type GroupFullQuery struct {
	ArchiveYear int  `form:"archive_year" binding:"required,min=1900,max=2200"`
	BirthYear   *int `form:"birth_year" binding:"omitempty,min=1900,max=2200"`
}

// GroupFullResponse answers a capacity check
type GroupFullResponse struct {
	GroupID uuid.UUID `json:"group_id"`
	Full    bool      `json:"full"`
}
