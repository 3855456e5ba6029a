package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appdispense "github.com/pharmos/backend/internal/application/dispense"
	"github.com/pharmos/backend/internal/domain/shared"
	"github.com/pharmos/backend/internal/interfaces/http/dto"
)

// CreditHandler handles patient credit ledger endpoints
type CreditHandler struct {
	BaseHandler
	creditService *appdispense.CreditService
}

// NewCreditHandler creates a new CreditHandler
func NewCreditHandler(creditService *appdispense.CreditService) *CreditHandler {
	return &CreditHandler{creditService: creditService}
}

// GetStatement handles GET /api/v1/patients/:id/credit
func (h *CreditHandler) GetStatement(c *gin.Context) {
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
	var req dto.ListRequest
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
	}

	statement, err := h.creditService.GetStatement(c.Request.Context(), tenantID, uuid.MustParse(uri.ID), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, statement)
}
