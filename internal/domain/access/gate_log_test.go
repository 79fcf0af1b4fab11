package access

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGateLog(t *testing.T) {
	studentID := uuid.New()
	now := time.Now()

	tests := []struct {
		name        string
		studentID   *uuid.UUID
		reason      GateReason
		wantAllowed bool
		wantErr     bool
	}{
		{name: "unresolved identity", reason: GateReasonNotFound},
		{name: "debtor", studentID: &studentID, reason: GateReasonNoPayment},
		{name: "paid up", studentID: &studentID, reason: GateReasonOK, wantAllowed: true},
		{name: "resolved decision without student", reason: GateReasonOK, wantErr: true},
		{name: "unknown reason", studentID: &studentID, reason: "maybe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := NewGateLog(tt.studentID, "face-1", tt.reason, decimal.Zero, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, log.Allowed)
			assert.Equal(t, tt.reason, log.Reason)
			assert.NotEqual(t, uuid.Nil, log.ID)
		})
	}
}
