package handler

import (
	"strconv"

	"github.com/academy/backend/internal/application/enrollment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ContractHandler exposes the contract number allocator and contract lifecycle
type ContractHandler struct {
	BaseHandler
	service *enrollment.AllocatorService
}

// NewContractHandler creates a new ContractHandler
func NewContractHandler(service *enrollment.AllocatorService, logger *zap.Logger) *ContractHandler {
	return &ContractHandler{BaseHandler: newBaseHandler(logger), service: service}
}

// ListAvailable serves GET /api/v1/contracts/available
func (h *ContractHandler) ListAvailable(c *gin.Context) {
	var q enrollment.CohortQuery
	if !h.bindQuery(c, &q) {
		return
	}
	groupID, err := q.Group()
	if err != nil {
		h.HandleError(c, err)
		return
	}
	free, err := h.service.ListAvailable(c.Request.Context(), groupID, q.BirthYear, q.ArchiveYear)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"sequences": free})
}

// NextAvailable serves GET /api/v1/contracts/next
func (h *ContractHandler) NextAvailable(c *gin.Context) {
	var q enrollment.CohortQuery
	if !h.bindQuery(c, &q) {
		return
	}
	groupID, err := q.Group()
	if err != nil {
		h.HandleError(c, err)
		return
	}
	next, err := h.service.NextAvailable(c.Request.Context(), groupID, q.BirthYear, q.ArchiveYear)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, next)
}

// Validate serves POST /api/v1/contracts/validate. A rejected number is a
// 200 with valid=false.
func (h *ContractHandler) Validate(c *gin.Context) {
	var req enrollment.ValidateNumberRequest
	if !h.bind(c, &req) {
		return
	}
	groupID, err := req.Group()
	if err != nil {
		h.HandleError(c, err)
		return
	}
	result, err := h.service.ValidateProposed(c.Request.Context(), req.ContractNumber, groupID, req.BirthYear, req.ArchiveYear)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// IsGroupFull serves GET /api/v1/groups/:id/full
func (h *ContractHandler) IsGroupFull(c *gin.Context) {
	groupID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var q enrollment.GroupFullQuery
	if !h.bindQuery(c, &q) {
		return
	}
	full, err := h.service.IsGroupFull(c.Request.Context(), groupID, q.ArchiveYear, q.BirthYear)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, enrollment.GroupFullResponse{GroupID: groupID, Full: full})
}

// Allocate serves POST /api/v1/contracts
func (h *ContractHandler) Allocate(c *gin.Context) {
	var req enrollment.AllocateContractRequest
	if !h.bind(c, &req) {
		return
	}
	contract, err := h.service.AllocateContract(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, contract)
}

// Get serves GET /api/v1/contracts/:id
func (h *ContractHandler) Get(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	contract, err := h.service.GetContract(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, contract)
}

// PaymentMonths serves GET /api/v1/contracts/by-number/:number/months
func (h *ContractHandler) PaymentMonths(c *gin.Context) {
	months, err := h.service.PaymentMonths(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, months)
}

// Terminate serves POST /api/v1/contracts/:id/terminate
func (h *ContractHandler) Terminate(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var req enrollment.TerminateContractRequest
	if !h.bind(c, &req) {
		return
	}
	contract, err := h.service.TerminateContract(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, contract)
}

// Archive serves POST /api/v1/contracts/:id/archive
func (h *ContractHandler) Archive(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	contract, err := h.service.ArchiveContract(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, contract)
}

// Delete serves DELETE /api/v1/contracts/:id. The contract is soft-deleted
// and its number is never reissued.
func (h *ContractHandler) Delete(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	contract, err := h.service.DeleteContract(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, contract)
}

// ArchiveYear serves POST /api/v1/archive/:year
func (h *ContractHandler) ArchiveYear(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		h.BadRequest(c, "Invalid year format")
		return
	}
	result, err := h.service.ArchiveYear(c.Request.Context(), year)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}
