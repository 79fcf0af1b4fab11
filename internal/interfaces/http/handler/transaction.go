package handler

import (
	"github.com/academy/backend/internal/application/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TransactionHandler serves operator bookkeeping on the ledger
type TransactionHandler struct {
	BaseHandler
	service *ledger.LedgerService
}

// NewTransactionHandler creates a new TransactionHandler
func NewTransactionHandler(service *ledger.LedgerService, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{BaseHandler: newBaseHandler(logger), service: service}
}

// Get serves GET /api/v1/transactions/:id
func (h *TransactionHandler) Get(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	tx, err := h.service.GetTransaction(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, tx)
}

// RecordManual serves POST /api/v1/transactions/manual
func (h *TransactionHandler) RecordManual(c *gin.Context) {
	var req ledger.RecordPaymentRequest
	if !h.bind(c, &req) {
		return
	}
	tx, err := h.service.RecordManualPayment(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, tx)
}

// RecordUnassigned serves POST /api/v1/transactions/unassigned
func (h *TransactionHandler) RecordUnassigned(c *gin.Context) {
	var req ledger.RecordUnassignedRequest
	if !h.bind(c, &req) {
		return
	}
	tx, err := h.service.RecordUnassignedPayment(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, tx)
}

// Assign serves POST /api/v1/transactions/:id/assign
func (h *TransactionHandler) Assign(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var req ledger.AssignPaymentRequest
	if !h.bind(c, &req) {
		return
	}
	tx, err := h.service.AssignUnassigned(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, tx)
}

// Cancel serves POST /api/v1/transactions/:id/cancel
func (h *TransactionHandler) Cancel(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	// the comment is optional, so an empty body is accepted
	var req ledger.CancelPaymentRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	tx, err := h.service.CancelPayment(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, tx)
}
