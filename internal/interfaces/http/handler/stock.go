package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appledger "github.com/pharmos/backend/internal/application/ledger"
)

// StockHandler handles stock ledger endpoints
type StockHandler struct {
	BaseHandler
	stockService *appledger.StockService
}

// NewStockHandler creates a new StockHandler
func NewStockHandler(stockService *appledger.StockService) *StockHandler {
	return &StockHandler{stockService: stockService}
}

// OpeningStockRequest represents a request to record opening stock for a
// batch. Quantities bind as decimals straight from the JSON literal.
type OpeningStockRequest struct {
	StoreID     string          `json:"store_id" binding:"required,uuid"`
	ProductID   string          `json:"product_id" binding:"required,uuid"`
	BatchNumber string          `json:"batch_number" binding:"required"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
	Note        string          `json:"note" binding:"max=500"`
}

// AdjustmentRequest represents a signed manual stock correction
type AdjustmentRequest struct {
	StoreID     string     `json:"store_id" binding:"required,uuid"`
	ProductID   string     `json:"product_id" binding:"required,uuid"`
	BatchNumber string     `json:"batch_number" binding:"required"`
	ExpiryDate  *time.Time `json:"expiry_date"`
	// QuantityDelta is signed: positive for found stock, negative for
	// damage or count corrections
	QuantityDelta decimal.Decimal `json:"quantity_delta" binding:"required"`
	Reason        string          `json:"reason" binding:"required,min=1,max=500"`
}

// RecordOpeningStock handles POST /api/v1/stock/opening
func (h *StockHandler) RecordOpeningStock(c *gin.Context) {
	tenantID, userID, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req OpeningStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	view, err := h.stockService.RecordOpeningStock(c.Request.Context(), tenantID, userID, appledger.OpeningStockRequest{
		StoreID:     uuid.MustParse(req.StoreID),
		ProductID:   uuid.MustParse(req.ProductID),
		BatchNumber: req.BatchNumber,
		ExpiryDate:  req.ExpiryDate,
		Quantity:    req.Quantity,
		Note:        req.Note,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, view)
}

// RecordAdjustment handles POST /api/v1/stock/adjustments
func (h *StockHandler) RecordAdjustment(c *gin.Context) {
	tenantID, userID, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	view, err := h.stockService.RecordAdjustment(c.Request.Context(), tenantID, userID, appledger.AdjustmentRequest{
		StoreID:       uuid.MustParse(req.StoreID),
		ProductID:     uuid.MustParse(req.ProductID),
		BatchNumber:   req.BatchNumber,
		ExpiryDate:    req.ExpiryDate,
		QuantityDelta: req.QuantityDelta,
		Reason:        req.Reason,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, view)
}

// BalanceRequest represents the balance query parameters. With a batch
// number it answers for that batch, otherwise for the whole product.
type BalanceRequest struct {
	StoreID     string `form:"store_id" binding:"required,uuid"`
	ProductID   string `form:"product_id" binding:"required,uuid"`
	BatchNumber string `form:"batch_number"`
}

// BalanceResponse carries one derived balance
type BalanceResponse struct {
	StoreID     string          `json:"store_id"`
	ProductID   string          `json:"product_id"`
	BatchNumber string          `json:"batch_number,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
}

// GetBalance handles GET /api/v1/stock/balance
func (h *StockHandler) GetBalance(c *gin.Context) {
	tenantID, _, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req BalanceRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	storeID := uuid.MustParse(req.StoreID)
	productID := uuid.MustParse(req.ProductID)

	var balance decimal.Decimal
	if req.BatchNumber != "" {
		balance, err = h.stockService.GetBatchBalance(c.Request.Context(), tenantID, storeID, productID, req.BatchNumber)
	} else {
		balance, err = h.stockService.GetProductBalance(c.Request.Context(), tenantID, storeID, productID)
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, BalanceResponse{
		StoreID:     req.StoreID,
		ProductID:   req.ProductID,
		BatchNumber: req.BatchNumber,
		Balance:     balance,
	})
}

// BatchesRequest represents the per-batch balances query parameters
type BatchesRequest struct {
	StoreID   string `form:"store_id" binding:"required,uuid"`
	ProductID string `form:"product_id" binding:"required,uuid"`
}

// GetBatches handles GET /api/v1/stock/batches. It returns positive batch
// balances in the same first-expiry-first-out order the allocator consumes.
func (h *StockHandler) GetBatches(c *gin.Context) {
	tenantID, _, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req BatchesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	views, err := h.stockService.GetBatchBalances(c.Request.Context(), tenantID,
		uuid.MustParse(req.StoreID), uuid.MustParse(req.ProductID))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, views)
}

// SnapshotRequest represents the snapshot query parameters
type SnapshotRequest struct {
	StoreID string `form:"store_id" binding:"omitempty,uuid"`
}

// GetSnapshot handles GET /api/v1/stock/snapshot. Without a store it spans
// every store of the tenant.
func (h *StockHandler) GetSnapshot(c *gin.Context) {
	tenantID, _, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req SnapshotRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	var storeID *uuid.UUID
	if req.StoreID != "" {
		id := uuid.MustParse(req.StoreID)
		storeID = &id
	}

	views, err := h.stockService.GetSnapshot(c.Request.Context(), tenantID, storeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, views)
}

// MovementsRequest represents the movement query parameters
type MovementsRequest struct {
	Reference string `form:"reference" binding:"required"`
}

// GetMovements handles GET /api/v1/stock/movements. It lists the ledger
// entries recorded under one document number.
func (h *StockHandler) GetMovements(c *gin.Context) {
	tenantID, _, err := identity(c)
	if err != nil {
		h.Unauthorized(c, err.Error())
		return
	}

	var req MovementsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	views, err := h.stockService.GetMovements(c.Request.Context(), tenantID, req.Reference)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, views)
}
