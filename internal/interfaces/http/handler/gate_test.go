package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/academy/backend/internal/application/access"
	"github.com/academy/backend/internal/interfaces/http/dto"
	"github.com/academy/backend/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateHandler_Admit(t *testing.T) {
	f := newFixture(t)
	walkIn := testutil.SeedStudent(t, f.db, f.group, "Sardor", "face-sardor")

	tests := []struct {
		name    string
		body    string
		allowed bool
		reason  string
	}{
		{"unknown face", `{"face_id":"stranger"}`, false, "not found"},
		{"empty request", `{}`, false, "not found"},
		{"no active contract", `{"face_id":"face-sardor"}`, true, "OK"},
		{"student id wins over face", fmt.Sprintf(`{"student_id":%q,"face_id":"stranger"}`, walkIn.ID), true, "OK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/gate/admit", tt.body)
			require.Equal(t, http.StatusOK, w.Code, "a denial is a normal answer")
			decision := testutil.DecodeAs[access.GateDecision](t, w).Data
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.reason, decision.Reason)
			assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", decision.LogID.String())
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/gate/admit", `{"student_id":"nope"}`)
		testutil.RequireError(t, w, http.StatusBadRequest, dto.ErrCodeValidation)
	})
}

func TestGateHandler_ListLogs(t *testing.T) {
	f := newFixture(t)
	walkIn := testutil.SeedStudent(t, f.db, f.group, "Sardor", "face-sardor")
	for _, body := range []string{`{"face_id":"stranger"}`, `{"face_id":"face-sardor"}`, `{"face_id":"face-sardor"}`} {
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/gate/admit", body).Code)
	}

	w := f.do(t, http.MethodGet, "/gate/logs", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	all := testutil.DecodeAs[[]access.GateLogResponse](t, w)
	assert.Len(t, all.Data, 3)
	assert.EqualValues(t, 3, all.Meta.Total)

	w = f.do(t, http.MethodGet, "/gate/logs?allowed=false", "")
	require.Equal(t, http.StatusOK, w.Code)
	denied := testutil.DecodeAs[[]access.GateLogResponse](t, w).Data
	require.Len(t, denied, 1)
	assert.Equal(t, "stranger", denied[0].Identifier)
	assert.Nil(t, denied[0].StudentID)

	w = f.do(t, http.MethodGet, "/gate/logs?page_size=1&student_id="+walkIn.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	mine := testutil.DecodeAs[[]access.GateLogResponse](t, w)
	require.Len(t, mine.Data, 1)
	assert.EqualValues(t, 2, mine.Meta.Total)
	assert.Equal(t, walkIn.ID, *mine.Data[0].StudentID)

	t.Run("filters are validated", func(t *testing.T) {
		testutil.RequireError(t, f.do(t, http.MethodGet, "/gate/logs?student_id=42", ""), http.StatusBadRequest, dto.ErrCodeValidation)
		testutil.RequireError(t, f.do(t, http.MethodGet, "/gate/logs?order_dir=sideways", ""), http.StatusBadRequest, dto.ErrCodeValidation)
	})
}
