package enrollment

import (
	"fmt"
	"strings"
	"time"

	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ContractStatus represents the lifecycle state of a contract
type ContractStatus string

const (
	ContractStatusActive     ContractStatus = "active"
	ContractStatusExpired    ContractStatus = "expired"
	ContractStatusTerminated ContractStatus = "terminated"
	ContractStatusDeleted    ContractStatus = "deleted"
	ContractStatusArchived   ContractStatus = "archived"
)

// contractTransitions lists every allowed status change. Anything absent is rejected.
var contractTransitions = map[ContractStatus][]ContractStatus{
	ContractStatusActive: {
		ContractStatusExpired,
		ContractStatusTerminated,
		ContractStatusDeleted,
		ContractStatusArchived,
	},
	ContractStatusExpired: {
		ContractStatusTerminated,
		ContractStatusDeleted,
		ContractStatusArchived,
	},
	ContractStatusTerminated: {
		ContractStatusDeleted,
		ContractStatusArchived,
	},
}

// IsValid checks if the status is a valid ContractStatus
func (s ContractStatus) IsValid() bool {
	switch s {
	case ContractStatusActive, ContractStatusExpired, ContractStatusTerminated,
		ContractStatusDeleted, ContractStatusArchived:
		return true
	}
	return false
}

// String returns the string representation of ContractStatus
func (s ContractStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the transition table allows moving to next
func (s ContractStatus) CanTransitionTo(next ContractStatus) bool {
	for _, allowed := range contractTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Contract binds a student to a group for a billing period. Its number is
// permanent: status changes never renumber a contract or free its sequence.
type Contract struct {
	shared.BaseAggregateRoot
	ContractNumber    string
	StudentID         uuid.UUID
	GroupID           uuid.UUID
	BirthYear         int
	SequenceNumber    int
	ArchiveYear       int
	MonthlyFee        decimal.Decimal
	StartDate         time.Time
	EndDate           time.Time
	Status            ContractStatus
	TerminatedAt      *time.Time
	TerminationReason string
}

// NewContractParams holds what is needed to issue a contract for an allocated sequence
type NewContractParams struct {
	StudentID      uuid.UUID
	Group          *Group
	BirthYear      int
	SequenceNumber int
	ArchiveYear    int
	MonthlyFee     decimal.Decimal
	StartDate      time.Time
	EndDate        time.Time
}

// NewContract creates an ACTIVE contract numbered from its group and sequence
func NewContract(p NewContractParams) (*Contract, error) {
	if p.StudentID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_STUDENT", "Student ID cannot be empty")
	}
	if p.Group == nil {
		return nil, shared.NewDomainError("INVALID_GROUP", "Group is required")
	}
	if p.SequenceNumber < 1 || p.SequenceNumber > p.Group.Capacity {
		return nil, shared.NewDomainError("SEQUENCE_OUT_OF_RANGE",
			fmt.Sprintf("Sequence number %d is outside 1..%d", p.SequenceNumber, p.Group.Capacity))
	}
	if !p.MonthlyFee.IsPositive() {
		return nil, shared.NewDomainError("INVALID_FEE", "Monthly fee must be positive")
	}
	if p.EndDate.Before(p.StartDate) {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Contract end date must not precede start date")
	}

	return &Contract{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		ContractNumber:    FormatContractNumber(p.Group.Identifier, p.SequenceNumber, p.BirthYear),
		StudentID:         p.StudentID,
		GroupID:           p.Group.ID,
		BirthYear:         p.BirthYear,
		SequenceNumber:    p.SequenceNumber,
		ArchiveYear:       p.ArchiveYear,
		MonthlyFee:        p.MonthlyFee,
		StartDate:         p.StartDate,
		EndDate:           p.EndDate,
		Status:            ContractStatusActive,
	}, nil
}

// IsActive returns true if the contract is ACTIVE
func (c *Contract) IsActive() bool {
	return c.Status == ContractStatusActive
}

// StartMonth is the first billable month
func (c *Contract) StartMonth() valueobject.YearMonth {
	return valueobject.YearMonthOf(c.StartDate)
}

// EndMonth is the last billable month by the contract dates
func (c *Contract) EndMonth() valueobject.YearMonth {
	return valueobject.YearMonthOf(c.EndDate)
}

// EffectiveEndMonth is the earlier of the end month and the termination month
func (c *Contract) EffectiveEndMonth() valueobject.YearMonth {
	end := c.EndMonth()
	if c.TerminatedAt != nil {
		if terminated := valueobject.YearMonthOf(*c.TerminatedAt); terminated.Before(end) {
			return terminated
		}
	}
	return end
}

// InForceOn reports whether the calendar day of at lies within
// [StartDate, EndDate]. The day is read in at's location.
func (c *Contract) InForceOn(at time.Time) bool {
	y, m, d := at.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	sy, sm, sd := c.StartDate.Date()
	ey, em, ed := c.EndDate.Date()
	return !day.Before(time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)) &&
		!day.After(time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC))
}

// CoversMonth reports whether the month lies within the contract dates
func (c *Contract) CoversMonth(ym valueobject.YearMonth) bool {
	return ym.Within(c.StartMonth(), c.EndMonth())
}

// Expire marks a contract whose period has ended
func (c *Contract) Expire() error {
	return c.transition(ContractStatusExpired)
}

// Terminate ends the contract early. The sequence number stays retired.
func (c *Contract) Terminate(reason string, at time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Termination reason is required")
	}
	if err := c.transition(ContractStatusTerminated); err != nil {
		return err
	}
	c.TerminatedAt = &at
	c.TerminationReason = reason
	return nil
}

// Archive moves the contract out of the current academic year
func (c *Contract) Archive() error {
	return c.transition(ContractStatusArchived)
}

// Delete soft-deletes the contract. The row and its number are kept.
func (c *Contract) Delete() error {
	return c.transition(ContractStatusDeleted)
}

func (c *Contract) transition(next ContractStatus) error {
	if !c.Status.CanTransitionTo(next) {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot change contract %s from %s to %s", c.ContractNumber, c.Status, next))
	}
	c.Status = next
	c.Touch(time.Now())
	c.IncrementVersion()
	return nil
}
