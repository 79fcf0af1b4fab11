package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/academy/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// DeviceTokenHeader carries the shared secret of turnstile devices
const DeviceTokenHeader = "X-Gate-Token"

// DeviceToken admits only callers presenting the configured device token.
// An empty token refuses every call.
func DeviceToken(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(DeviceTokenHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeUnauthorized, "Invalid device token", GetRequestID(c)))
			return
		}
		c.Next()
	}
}
