package handler

import (
	"io"
	"net/http"

	"github.com/academy/backend/internal/application/gateway"
	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaymeHandler exposes the Payme merchant JSON-RPC endpoint. Payme expects
// HTTP 200 for every answer, errors included.
type PaymeHandler struct {
	service *gateway.PaymeService
	logger  *zap.Logger
}

// NewPaymeHandler creates a new PaymeHandler
func NewPaymeHandler(service *gateway.PaymeService, logger *zap.Logger) *PaymeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymeHandler{service: service, logger: logger}
}

// Handle serves POST /payme
func (h *PaymeHandler) Handle(c *gin.Context) {
	ctx, log := logger.WithProvider(c.Request.Context(), h.logger, "payme")
	c.Request = c.Request.WithContext(ctx)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warn("Failed to read Payme body", zap.Error(err))
		body = nil
	}

	resp := h.service.Dispatch(ctx, body, gateway.Credentials{
		Authorization: c.GetHeader("Authorization"),
		XAuth:         c.GetHeader("X-Auth"),
	})
	c.JSON(http.StatusOK, resp)
}

// ClickHandler exposes the Click SHOP API endpoint
type ClickHandler struct {
	service *gateway.ClickService
	logger  *zap.Logger
}

// NewClickHandler creates a new ClickHandler
func NewClickHandler(service *gateway.ClickService, logger *zap.Logger) *ClickHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickHandler{service: service, logger: logger}
}

// Handle serves POST /click
func (h *ClickHandler) Handle(c *gin.Context) {
	ctx, log := logger.WithProvider(c.Request.Context(), h.logger, "click")
	c.Request = c.Request.WithContext(ctx)

	var req gateway.ClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Malformed Click request", zap.Error(err))
		c.JSON(http.StatusOK, gateway.ClickMalformed())
		return
	}
	c.JSON(http.StatusOK, h.service.Handle(ctx, &req))
}
