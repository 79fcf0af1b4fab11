package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeTokenExpired, http.StatusUnauthorized},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeConcurrencyConflict, http.StatusConflict},
		{ErrCodeCohortFull, http.StatusConflict},
		{ErrCodePeriodAlreadyPaid, http.StatusConflict},
		{ErrCodeInvalidState, http.StatusUnprocessableEntity},
		{ErrCodeBusinessRule, http.StatusUnprocessableEntity},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeRequestTooLarge, http.StatusRequestEntityTooLarge},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"NOT_FOUND", ErrCodeNotFound},
		{"INVALID_STATE", ErrCodeInvalidState},
		{"COHORT_FULL", ErrCodeCohortFull},
		{"PERIOD_ALREADY_PAID", ErrCodePeriodAlreadyPaid},
		{"INVALID_PERIOD", ErrCodeInvalidInput},
		{"INVALID_CONTRACT_NUMBER", ErrCodeInvalidInput},
		{"SEQUENCE_OUT_OF_RANGE", ErrCodeInvalidInput},
		{ErrCodeTokenInvalid, ErrCodeTokenInvalid},
		{"ALREADY_ARCHIVED", ErrCodeBusinessRule},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeErrorCode(tt.input))
		})
	}
}

func TestResponseEnvelope(t *testing.T) {
	t.Run("success with meta", func(t *testing.T) {
		resp := NewSuccessResponseWithMeta([]int{1, 2}, 41, 2, 20)
		assert.True(t, resp.Success)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, 3, resp.Meta.TotalPages)
	})

	t.Run("zero page size does not divide", func(t *testing.T) {
		resp := NewSuccessResponseWithMeta(nil, 5, 1, 0)
		assert.Equal(t, 0, resp.Meta.TotalPages)
	})

	t.Run("validation error carries details", func(t *testing.T) {
		resp := NewValidationErrorResponse("Request validation failed", "req-1", []ValidationDetail{
			{Field: "birth_year", Message: "This field is required"},
		})

		body, err := json.Marshal(resp)
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &decoded))
		assert.Equal(t, false, decoded["success"])
		errInfo := decoded["error"].(map[string]interface{})
		assert.Equal(t, ErrCodeValidation, errInfo["code"])
		assert.Equal(t, "req-1", errInfo["request_id"])
		assert.Len(t, errInfo["details"], 1)
		assert.NotContains(t, decoded, "data")
	})
}
