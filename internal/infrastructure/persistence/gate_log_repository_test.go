package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/academy/backend/internal/domain/access"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/tests/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormGateLogRepository_AppendAndList(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewGormGateLogRepository(db)
	ctx := context.Background()

	studentID := uuid.New()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	entries := []struct {
		student *uuid.UUID
		reason  access.GateReason
		debt    int64
	}{
		{nil, access.GateReasonNotFound, 0},
		{&studentID, access.GateReasonNoPayment, 600000},
		{&studentID, access.GateReasonOK, 0},
	}
	for i, e := range entries {
		log, err := access.NewGateLog(e.student, "face", e.reason, decimal.NewFromInt(e.debt), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, repo.Append(ctx, log))
	}

	t.Run("lists newest first with total", func(t *testing.T) {
		logs, total, err := repo.List(ctx, access.GateLogFilter{Filter: shared.DefaultFilter()})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, logs, 3)
		assert.Equal(t, access.GateReasonOK, logs[0].Reason)
		assert.Equal(t, access.GateReasonNotFound, logs[2].Reason)
		assert.Nil(t, logs[2].StudentID)
	})

	t.Run("filters by student and decision", func(t *testing.T) {
		denied := false
		logs, total, err := repo.List(ctx, access.GateLogFilter{
			Filter:    shared.DefaultFilter(),
			StudentID: &studentID,
			Allowed:   &denied,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, logs, 1)
		assert.Equal(t, access.GateReasonNoPayment, logs[0].Reason)
		assert.True(t, logs[0].Debt.Equal(decimal.NewFromInt(600000)))
	})

	t.Run("pages results", func(t *testing.T) {
		filter := shared.DefaultFilter()
		filter.PageSize = 2
		filter.Page = 2
		logs, total, err := repo.List(ctx, access.GateLogFilter{Filter: filter})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, logs, 1)
	})
}
