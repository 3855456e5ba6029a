package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pharmos/backend/internal/infrastructure/logger"
	"github.com/pharmos/backend/internal/interfaces/http/handler"
	"github.com/pharmos/backend/internal/interfaces/http/middleware"
)

// Handlers groups the handlers wired into the router
type Handlers struct {
	Sale   *handler.SaleHandler
	Return *handler.ReturnHandler
	Stock  *handler.StockHandler
	Credit *handler.CreditHandler
	System *handler.SystemHandler
}

// New builds the gin engine with the common middleware chain and all routes
// registered under /api/v1
func New(log *zap.Logger, h Handlers) *gin.Engine {
	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.CORS(),
		middleware.Secure(),
	)

	engine.GET("/health", h.System.Health)
	engine.GET("/ready", h.System.Ready)

	api := engine.Group("/api/v1")
	api.Use(middleware.Identity())
	{
		sales := api.Group("/sales")
		{
			sales.POST("", h.Sale.CreateSale)
			sales.GET("", h.Sale.ListSales)
			sales.GET("/:id", h.Sale.GetSale)
			sales.POST("/:id/complete", h.Sale.CompleteSale)
			sales.POST("/:id/cancel", h.Sale.CancelSale)
		}

		returns := api.Group("/returns")
		{
			returns.POST("", h.Return.CreateReturn)
			returns.GET("", h.Return.ListReturns)
			returns.GET("/:id", h.Return.GetReturn)
			returns.POST("/:id/approve", h.Return.ApproveReturn)
			returns.POST("/:id/cancel", h.Return.CancelReturn)
		}

		stock := api.Group("/stock")
		{
			stock.POST("/opening", h.Stock.RecordOpeningStock)
			stock.POST("/adjustments", h.Stock.RecordAdjustment)
			stock.GET("/balance", h.Stock.GetBalance)
			stock.GET("/batches", h.Stock.GetBatches)
			stock.GET("/snapshot", h.Stock.GetSnapshot)
			stock.GET("/movements", h.Stock.GetMovements)
		}

		api.GET("/patients/:id/credit", h.Credit.GetStatement)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{
			"code":    "NOT_FOUND",
			"message": "Route not found",
		}})
	})

	return engine
}
