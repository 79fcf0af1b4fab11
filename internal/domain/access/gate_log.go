package access

import (
	"context"
	"time"

	"github.com/academy/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GateReason explains a turnstile decision
type GateReason string

const (
	GateReasonNotFound  GateReason = "not found"
	GateReasonNoPayment GateReason = "no payment this month"
	GateReasonOK        GateReason = "OK"
)

// IsValid checks if the reason is one of the known decisions
func (r GateReason) IsValid() bool {
	switch r {
	case GateReasonNotFound, GateReasonNoPayment, GateReasonOK:
		return true
	}
	return false
}

// Allows reports whether the reason corresponds to an opened gate
func (r GateReason) Allows() bool {
	return r == GateReasonOK
}

// GateLog is the audit record of one admission decision. Rows are written once
// and never updated or deleted.
type GateLog struct {
	ID         uuid.UUID
	StudentID  *uuid.UUID
	Identifier string
	Allowed    bool
	Reason     GateReason
	Debt       decimal.Decimal
	CreatedAt  time.Time
}

// NewGateLog records a decision. Allowed is derived from the reason so the two
// can never disagree.
func NewGateLog(studentID *uuid.UUID, identifier string, reason GateReason, debt decimal.Decimal, at time.Time) (*GateLog, error) {
	if !reason.IsValid() {
		return nil, shared.NewDomainError("INVALID_REASON", "Unknown gate reason: "+string(reason))
	}
	if reason != GateReasonNotFound && studentID == nil {
		return nil, shared.NewDomainError("INVALID_STUDENT", "Resolved decisions must reference a student")
	}
	return &GateLog{
		ID:         uuid.New(),
		StudentID:  studentID,
		Identifier: identifier,
		Allowed:    reason.Allows(),
		Reason:     reason,
		Debt:       debt,
		CreatedAt:  at,
	}, nil
}

// GateLogFilter narrows log listings
type GateLogFilter struct {
	shared.Filter
	StudentID *uuid.UUID
	Allowed   *bool
	From      *time.Time
	To        *time.Time
}

// GateLogRepository is append-only: there is no update or delete
type GateLogRepository interface {
	Append(ctx context.Context, log *GateLog) error
	List(ctx context.Context, filter GateLogFilter) ([]GateLog, int64, error)
}
