package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appdispense "github.com/pharmos/backend/internal/application/dispense"
	"github.com/pharmos/backend/internal/domain/shared"
	"github.com/pharmos/backend/internal/interfaces/http/dto"
)

// ReturnHandler handles dispensing return endpoints
type ReturnHandler struct {
	BaseHandler
	returnService *appdispense.ReturnService
}

// NewReturnHandler creates a new ReturnHandler
func NewReturnHandler(returnService *appdispense.ReturnService) *ReturnHandler {
	return &ReturnHandler{returnService: returnService}
}

// CreateReturnRequest represents a request to stage a return against a sale
type CreateReturnRequest struct {
	SaleID string                    `json:"sale_id" binding:"required,uuid"`
	Reason string                    `json:"reason" binding:"required,min=1,max=500"`
	Lines  []CreateReturnLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// CreateReturnLineRequest is one sale line being returned. Quantity binds as
// a decimal straight from the JSON literal.
type CreateReturnLineRequest struct {
	SaleLineID  string          `json:"sale_line_id" binding:"required,uuid"`
	BatchNumber string          `json:"batch_number" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
}

// CancelReturnRequest carries the version guard and a cancellation reason
type CancelReturnRequest struct {
	Version int    `json:"version" binding:"min=0"`
	Reason  string `json:"reason" binding:"required,min=1,max=500"`
}

// CreateReturn handles POST /api/v1/returns
func (h *ReturnHandler) CreateReturn(c *gin.Context) {
	tenantID, userID, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req CreateReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	appReq := appdispense.CreateReturnRequest{
		SaleID: uuid.MustParse(req.SaleID),
		Reason: req.Reason,
	}
	for _, line := range req.Lines {
		appReq.Lines = append(appReq.Lines, appdispense.RequestedReturnLine{
			SaleLineID:  uuid.MustParse(line.SaleLineID),
			BatchNumber: line.BatchNumber,
			Quantity:    line.Quantity,
		})
	}

	detail, err := h.returnService.CreateReturn(c.Request.Context(), tenantID, userID, appReq)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, detail)
}

// ApproveReturn handles POST /api/v1/returns/:id/approve
func (h *ReturnHandler) ApproveReturn(c *gin.Context) {
	tenantID, userID, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ValidationError(c, err)
		return
	}
	var req VersionedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	detail, err := h.returnService.ApproveReturn(c.Request.Context(), tenantID, userID, uuid.MustParse(uri.ID), req.Version)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, detail)
}

// CancelReturn handles POST /api/v1/returns/:id/cancel
func (h *ReturnHandler) CancelReturn(c *gin.Context) {
	tenantID, userID, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ValidationError(c, err)
		return
	}
	var req CancelReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	detail, err := h.returnService.CancelReturn(c.Request.Context(), tenantID, userID, uuid.MustParse(uri.ID), req.Version, req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, detail)
}

// GetReturn handles GET /api/v1/returns/:id
func (h *ReturnHandler) GetReturn(c *gin.Context) {
	tenantID, _, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ValidationError(c, err)
		return
	}

	detail, err := h.returnService.GetReturn(c.Request.Context(), tenantID, uuid.MustParse(uri.ID))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, detail)
}

// ListReturnsRequest represents the return list query parameters
type ListReturnsRequest struct {
	dto.ListRequest
	Status    string `form:"status" binding:"omitempty,oneof=DRAFT APPROVED CANCELLED"`
	SaleID    string `form:"sale_id" binding:"omitempty,uuid"`
	PatientID string `form:"patient_id" binding:"omitempty,uuid"`
}

// ListReturns handles GET /api/v1/returns
func (h *ReturnHandler) ListReturns(c *gin.Context) {
	tenantID, _, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req ListReturnsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	req.Normalize()

	filter := shared.Filter{
		Page:     req.Page,
		PageSize: req.PageSize,
		OrderBy:  req.OrderBy,
		OrderDir: req.OrderDir,
		Filters:  map[string]interface{}{},
	}
	if req.Status != "" {
		filter.Filters["status"] = req.Status
	}
	if req.SaleID != "" {
		filter.Filters["sale_id"] = req.SaleID
	}
	if req.PatientID != "" {
		filter.Filters["patient_id"] = req.PatientID
	}

	details, total, err := h.returnService.ListReturns(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, details, total, req.Page, req.PageSize)
}
