package handler

import (
	"github.com/academy/backend/internal/application/ledger"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DebtHandler serves the debt reports
type DebtHandler struct {
	BaseHandler
	service *ledger.DebtService
}

// NewDebtHandler creates a new DebtHandler
func NewDebtHandler(service *ledger.DebtService, logger *zap.Logger) *DebtHandler {
	return &DebtHandler{BaseHandler: newBaseHandler(logger), service: service}
}

// Snapshot serves GET /api/v1/students/:id/debt, the balance the turnstile sees
func (h *DebtHandler) Snapshot(c *gin.Context) {
	studentID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var q ledger.SnapshotQuery
	if !h.bindQuery(c, &q) {
		return
	}
	asOf := h.service.Now()
	if q.AsOf != nil {
		asOf = *q.AsOf
	}

	snap, err := h.service.Snapshot(c.Request.Context(), studentID, asOf)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, snap)
}

// Report serves GET /api/v1/students/:id/debt/report
func (h *DebtHandler) Report(c *gin.Context) {
	studentID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var q ledger.PeriodQuery
	if !h.bindQuery(c, &q) {
		return
	}
	periods, err := q.Periods(h.service.Now())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	report, err := h.service.StudentReport(c.Request.Context(), studentID, periods)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// Debtors serves GET /api/v1/reports/debtors
func (h *DebtHandler) Debtors(c *gin.Context) {
	var q ledger.DebtorsQuery
	if !h.bindQuery(c, &q) {
		return
	}

	items, total, err := h.service.Debtors(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	page := shared.Filter{Page: q.Page, PageSize: q.PageSize}.Normalize()
	h.SuccessWithMeta(c, items, total, page.Page, page.PageSize)
}
