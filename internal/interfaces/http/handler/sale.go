package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appdispense "github.com/pharmos/backend/internal/application/dispense"
	"github.com/pharmos/backend/internal/domain/dispense"
	"github.com/pharmos/backend/internal/domain/shared"
	"github.com/pharmos/backend/internal/interfaces/http/dto"
)

// SaleHandler handles dispensing sale endpoints
type SaleHandler struct {
	BaseHandler
	saleService *appdispense.SaleService
}

// NewSaleHandler creates a new SaleHandler
func NewSaleHandler(saleService *appdispense.SaleService) *SaleHandler {
	return &SaleHandler{saleService: saleService}
}

// CreateSaleRequest represents a request to create a dispensing sale
type CreateSaleRequest struct {
	PatientID      string                  `json:"patient_id" binding:"required,uuid"`
	StoreID        string                  `json:"store_id" binding:"required,uuid"`
	Channel        string                  `json:"channel" binding:"required,oneof=OP IP"`
	VisitID        *string                 `json:"visit_id" binding:"omitempty,uuid"`
	AdmissionID    *string                 `json:"admission_id" binding:"omitempty,uuid"`
	InvoiceID      *string                 `json:"invoice_id" binding:"omitempty,uuid"`
	PrescriptionID *string                 `json:"prescription_id" binding:"omitempty,uuid"`
	CreditSale     bool                    `json:"credit_sale"`
	PendingPayment bool                    `json:"pending_payment"`
	Lines          []CreateSaleLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// CreateSaleLineRequest is one requested product and quantity. Quantities
// bind as decimals straight from the JSON literal; a float64 detour would
// corrupt fractional doses before the service ever sees them.
type CreateSaleLineRequest struct {
	ProductID string          `json:"product_id" binding:"required,uuid"`
	Quantity  decimal.Decimal `json:"quantity" binding:"required"`
	Discount  decimal.Decimal `json:"discount"`
}

// VersionedRequest carries the caller's last-seen version for state
// transitions guarded by optimistic locking
type VersionedRequest struct {
	Version int `json:"version" binding:"min=0"`
}

// CreateSale handles POST /api/v1/sales
func (h *SaleHandler) CreateSale(c *gin.Context) {
	tenantID, userID, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	appReq := appdispense.CreateSaleRequest{
		PatientID:      uuid.MustParse(req.PatientID),
		StoreID:        uuid.MustParse(req.StoreID),
		Channel:        dispense.SaleChannel(req.Channel),
		CreditSale:     req.CreditSale,
		PendingPayment: req.PendingPayment,
	}
	appReq.VisitID = parseOptionalUUID(req.VisitID)
	appReq.AdmissionID = parseOptionalUUID(req.AdmissionID)
	appReq.InvoiceID = parseOptionalUUID(req.InvoiceID)
	appReq.PrescriptionID = parseOptionalUUID(req.PrescriptionID)
	for _, line := range req.Lines {
		appReq.Lines = append(appReq.Lines, appdispense.RequestedLine{
			ProductID: uuid.MustParse(line.ProductID),
			Quantity:  line.Quantity,
			Discount:  line.Discount,
		})
	}

	detail, err := h.saleService.CreateSale(c.Request.Context(), tenantID, userID, appReq)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, detail)
}

// CompleteSale handles POST /api/v1/sales/:id/complete
func (h *SaleHandler) CompleteSale(c *gin.Context) {
	h.transition(c, h.saleService.CompleteSale)
}

// CancelSale handles POST /api/v1/sales/:id/cancel
func (h *SaleHandler) CancelSale(c *gin.Context) {
	h.transition(c, h.saleService.CancelSale)
}

// GetSale handles GET /api/v1/sales/:id
func (h *SaleHandler) GetSale(c *gin.Context) {
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

	detail, err := h.saleService.GetSale(c.Request.Context(), tenantID, uuid.MustParse(uri.ID))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, detail)
}

// ListSalesRequest represents the sale list query parameters
type ListSalesRequest struct {
	dto.ListRequest
	Status    string `form:"status" binding:"omitempty,oneof=DRAFT COMPLETED RETURNED CANCELLED"`
	Channel   string `form:"channel" binding:"omitempty,oneof=OP IP"`
	PatientID string `form:"patient_id" binding:"omitempty,uuid"`
	StoreID   string `form:"store_id" binding:"omitempty,uuid"`
}

// ListSales handles GET /api/v1/sales
func (h *SaleHandler) ListSales(c *gin.Context) {
	tenantID, _, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req ListSalesRequest
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
	if req.Channel != "" {
		filter.Filters["channel"] = req.Channel
	}
	if req.PatientID != "" {
		filter.Filters["patient_id"] = req.PatientID
	}
	if req.StoreID != "" {
		filter.Filters["store_id"] = req.StoreID
	}

	details, total, err := h.saleService.ListSales(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, details, total, req.Page, req.PageSize)
}

// transition runs one version-guarded sale state transition
func (h *SaleHandler) transition(c *gin.Context, fn func(ctx context.Context, tenantID, actorID, saleID uuid.UUID, expectedVersion int) (*appdispense.SaleDetail, error)) {
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

	detail, err := fn(c.Request.Context(), tenantID, userID, uuid.MustParse(uri.ID), req.Version)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, detail)
}

// parseOptionalUUID converts a validated optional UUID string. Binding has
// already rejected malformed values.
func parseOptionalUUID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id := uuid.MustParse(*s)
	return &id
}
