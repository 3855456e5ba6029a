package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appdispense "github.com/pharmos/backend/internal/application/dispense"
	appledger "github.com/pharmos/backend/internal/application/ledger"
	domainaudit "github.com/pharmos/backend/internal/domain/audit"
	infraaudit "github.com/pharmos/backend/internal/infrastructure/audit"
	"github.com/pharmos/backend/internal/infrastructure/config"
	"github.com/pharmos/backend/internal/infrastructure/logger"
	"github.com/pharmos/backend/internal/infrastructure/persistence"
	"github.com/pharmos/backend/internal/interfaces/http/handler"
	"github.com/pharmos/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Pharmos Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database connection with zap-backed GORM logger
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Audit recorder: best-effort async sink, drained on shutdown
	var recorder domainaudit.Recorder = domainaudit.NopRecorder{}
	if cfg.Audit.Enabled {
		asyncRecorder := infraaudit.NewAsyncRecorder(db.DB, infraaudit.Config{
			BufferSize:    cfg.Audit.BufferSize,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
			MaxRetries:    cfg.Audit.MaxRetries,
		}, log)
		defer asyncRecorder.Close()
		recorder = asyncRecorder
		log.Info("Audit recorder started",
			zap.Int("buffer_size", cfg.Audit.BufferSize),
			zap.Int("batch_size", cfg.Audit.BatchSize),
			zap.Duration("flush_interval", cfg.Audit.FlushInterval),
		)
	}

	// Application services share one transaction scope
	scope := persistence.NewGormTransactionScope(db.DB)
	saleService := appdispense.NewSaleService(scope, recorder, log)
	returnService := appdispense.NewReturnService(scope, recorder, log)
	creditService := appdispense.NewCreditService(scope)
	stockService := appledger.NewStockService(scope, recorder, log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := router.New(log, router.Handlers{
		Sale:   handler.NewSaleHandler(saleService),
		Return: handler.NewReturnHandler(returnService),
		Stock:  handler.NewStockHandler(stockService),
		Credit: handler.NewCreditHandler(creditService),
		System: handler.NewSystemHandler(db),
	})
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
