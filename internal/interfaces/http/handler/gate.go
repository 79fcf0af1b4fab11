package handler

import (
	"net/http"

	"github.com/academy/backend/internal/application/access"
	"github.com/academy/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GateHandler serves turnstile admission and the gate log listing
type GateHandler struct {
	BaseHandler
	service *access.GateService
}

// NewGateHandler creates a new GateHandler
func NewGateHandler(service *access.GateService, logger *zap.Logger) *GateHandler {
	return &GateHandler{BaseHandler: newBaseHandler(logger), service: service}
}

// Admit serves POST /gate/admit. A denial is a normal 200 answer; the device
// opens only when allowed is true. A decision whose log could not be written
// is still returned, with 500, so the device fails closed.
func (h *GateHandler) Admit(c *gin.Context) {
	var req access.GateRequest
	if !h.bind(c, &req) {
		return
	}

	decision, err := h.service.Admit(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Gate decision not logged", zap.Error(err))
		if decision != nil {
			decision.Allowed = false
			c.JSON(http.StatusInternalServerError, dto.Response{
				Success: false,
				Data:    decision,
				Error:   &dto.ErrorInfo{Code: dto.ErrCodeInternal, Message: "Gate log unavailable"},
			})
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Success(c, decision)
}

// ListLogs serves GET /api/v1/gate/logs
func (h *GateHandler) ListLogs(c *gin.Context) {
	var query access.ListLogsQuery
	if !h.bindQuery(c, &query) {
		return
	}

	page, err := h.service.ListLogs(c.Request.Context(), query)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}
