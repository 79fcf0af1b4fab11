package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/academy/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentForm struct {
	Source string `json:"source" binding:"required,oneof=cash bank"`
	Year   int    `json:"payment_year" binding:"required,min=1900"`
	Months []int  `json:"payment_months" binding:"required,min=1"`
}

func TestHandleValidationError(t *testing.T) {
	SetupValidator()

	r := gin.New()
	r.Use(RequestID())
	r.POST("/payments", func(c *gin.Context) {
		var form paymentForm
		if err := c.ShouldBindJSON(&form); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})

	post := func(body string) dto.Response {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, w.Code)
		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	t.Run("field errors use json names", func(t *testing.T) {
		resp := post(`{"source":"crypto","payment_year":1800,"payment_months":[]}`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)

		messages := map[string]string{}
		for _, d := range resp.Error.Details {
			messages[d.Field] = d.Message
		}
		assert.Equal(t, "Must be one of: cash bank", messages["source"])
		assert.Equal(t, "Must be at least 1900", messages["payment_year"])
		assert.Equal(t, "Must contain at least 1 items", messages["payment_months"])
	})

	t.Run("malformed json", func(t *testing.T) {
		resp := post(`{`)
		require.Len(t, resp.Error.Details, 1)
		assert.Equal(t, "body", resp.Error.Details[0].Field)
	})
}
