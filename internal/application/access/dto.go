package access

import (
	"time"

	"github.com/academy/backend/internal/domain/access"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GateRequest identifies who is at the turnstile. StudentID wins when both are set.
type GateRequest struct {
	StudentID *uuid.UUID `json:"student_id"`
	FaceID    string     `json:"face_id" binding:"max=128"`
}

// Identifier is the raw value logged with the decision
func (r GateRequest) Identifier() string {
	if r.StudentID != nil {
		return r.StudentID.String()
	}
	return r.FaceID
}

// GateDecision is the answer returned to the device
type GateDecision struct {
	Allowed   bool            `json:"allowed"`
	Reason    string          `json:"reason"`
	StudentID *uuid.UUID      `json:"student_id,omitempty"`
	Debt      decimal.Decimal `json:"debt"`
	LogID     uuid.UUID       `json:"log_id"`
}

// ListLogsQuery filters the gate log listing
type ListLogsQuery struct {
	StudentID string     `form:"student_id" binding:"omitempty,uuid"`
	Allowed   *bool      `form:"allowed"`
	From      *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page      int        `form:"page" binding:"omitempty,min=1"`
	PageSize  int        `form:"page_size" binding:"omitempty,min=1,max=100"`
	OrderDir  string     `form:"order_dir" binding:"omitempty,oneof=asc desc"`
}

// GateLogResponse represents a gate log in API responses
type GateLogResponse struct {
	ID         uuid.UUID       `json:"id"`
	StudentID  *uuid.UUID      `json:"student_id,omitempty"`
	Identifier string          `json:"identifier"`
	Allowed    bool            `json:"allowed"`
	Reason     string          `json:"reason"`
	Debt       decimal.Decimal `json:"debt"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ToGateLogResponse converts a domain gate log to its response form
func ToGateLogResponse(l *access.GateLog) GateLogResponse {
	return GateLogResponse{
		ID:         l.ID,
		StudentID:  l.StudentID,
		Identifier: l.Identifier,
		Allowed:    l.Allowed,
		Reason:     string(l.Reason),
		Debt:       l.Debt,
		CreatedAt:  l.CreatedAt,
	}
}
