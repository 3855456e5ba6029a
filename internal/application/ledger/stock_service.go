package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	appdispense "github.com/pharmos/backend/internal/application/dispense"
	"github.com/pharmos/backend/internal/domain/audit"
	"github.com/pharmos/backend/internal/domain/ledger"
	"github.com/pharmos/backend/internal/domain/shared"
)

// StockService records non-sale stock movements (opening stock, manual
// adjustments) and answers balance queries. Balances are always derived from
// the ledger; there is no cached quantity anywhere to drift out of sync.
type StockService struct {
	scope    appdispense.TransactionScope
	recorder audit.Recorder
	logger   *zap.Logger
}

// NewStockService creates a new StockService
func NewStockService(scope appdispense.TransactionScope, recorder audit.Recorder, logger *zap.Logger) *StockService {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockService{scope: scope, recorder: recorder, logger: logger}
}

// RecordOpeningStock appends an OPENING entry for a batch
func (s *StockService) RecordOpeningStock(ctx context.Context, tenantID, actorID uuid.UUID, req OpeningStockRequest) (*EntryView, error) {
	var entry *ledger.Entry
	err := s.scope.Execute(ctx, func(repos appdispense.TransactionalRepositories) error {
		if err := s.checkScope(ctx, repos, tenantID, req.StoreID, req.ProductID); err != nil {
			return err
		}
		var err error
		entry, err = ledger.NewEntry(tenantID, req.StoreID, req.ProductID, req.BatchNumber,
			req.ExpiryDate, ledger.EntryKindOpening, req.Quantity)
		if err != nil {
			return err
		}
		entry.WithNote(req.Note).WithCreatedBy(actorID)
		return repos.Ledger().Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	view := ToEntryView(entry)
	s.audit(ctx, tenantID, actorID, entry.ID, view)
	return &view, nil
}

// RecordAdjustment appends a signed ADJUSTMENT entry. The product row lock
// serializes the movement against concurrent allocations so a negative
// correction cannot slip past the non-negative balance check.
func (s *StockService) RecordAdjustment(ctx context.Context, tenantID, actorID uuid.UUID, req AdjustmentRequest) (*EntryView, error) {
	if req.Reason == "" {
		return nil, shared.NewDomainError("INVALID_REASON", "Adjustment reason is required")
	}

	var entry *ledger.Entry
	err := s.scope.Execute(ctx, func(repos appdispense.TransactionalRepositories) error {
		if err := s.checkScope(ctx, repos, tenantID, req.StoreID, req.ProductID); err != nil {
			return err
		}
		if err := repos.Locker().LockProduct(ctx, tenantID, req.ProductID); err != nil {
			return err
		}
		var err error
		entry, err = ledger.NewEntry(tenantID, req.StoreID, req.ProductID, req.BatchNumber,
			req.ExpiryDate, ledger.EntryKindAdjustment, req.QuantityDelta)
		if err != nil {
			return err
		}
		entry.WithNote(req.Reason).WithCreatedBy(actorID)
		return repos.Ledger().Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	view := ToEntryView(entry)
	s.audit(ctx, tenantID, actorID, entry.ID, view)
	return &view, nil
}

// GetBatchBalance returns the derived balance of one batch
func (s *StockService) GetBatchBalance(ctx context.Context, tenantID, storeID, productID uuid.UUID, batchNumber string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.scope.Execute(ctx, func(repos appdispense.TransactionalRepositories) error {
		var err error
		balance, err = repos.Ledger().BatchBalance(ctx, tenantID, storeID, productID, batchNumber)
		return err
	})
	return balance, err
}

// GetProductBalance returns the derived balance across all batches of a
// product in one store
func (s *StockService) GetProductBalance(ctx context.Context, tenantID, storeID, productID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.scope.Execute(ctx, func(repos appdispense.TransactionalRepositories) error {
		var err error
		balance, err = repos.Ledger().ProductBalance(ctx, tenantID, storeID, productID)
		return err
	})
	return balance, err
}

// GetBatchBalances returns the positive per-batch aggregates for one
// product in FEFO order, the same view the allocator consumes
func (s *StockService) GetBatchBalances(ctx context.Context, tenantID, storeID, productID uuid.UUID) ([]BatchBalanceView, error) {
	var views []BatchBalanceView
	err := s.scope.Execute(ctx, func(repos appdispense.TransactionalRepositories) error {
		batches, err := repos.Ledger().BatchBalances(ctx, tenantID, storeID, productID)
		if err != nil {
			return err
		}
		views = make([]BatchBalanceView, 0, len(batches))
		for _, b := range batches {
			views = append(views, ToBatchBalanceView(b))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// GetSnapshot returns every batch holding stock, nearest expiry first.
// A nil storeID spans all stores of the tenant.
func (s *StockService) GetSnapshot(ctx context.Context, tenantID uuid.UUID, storeID *uuid.UUID) ([]BatchBalanceView, error) {
	var views []BatchBalanceView
	err := s.scope.Execute(ctx, func(repos appdispense.TransactionalRepositories) error {
		batches, err := repos.Ledger().Snapshot(ctx, tenantID, storeID)
		if err != nil {
			return err
		}
		views = make([]BatchBalanceView, 0, len(batches))
		for _, b := range batches {
			views = append(views, ToBatchBalanceView(b))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// GetMovements returns the ledger entries recorded under one document number
func (s *StockService) GetMovements(ctx context.Context, tenantID uuid.UUID, reference string) ([]EntryView, error) {
	var views []EntryView
	err := s.scope.Execute(ctx, func(repos appdispense.TransactionalRepositories) error {
		entries, err := repos.Ledger().FindByReference(ctx, tenantID, reference)
		if err != nil {
			return err
		}
		views = make([]EntryView, 0, len(entries))
		for i := range entries {
			views = append(views, ToEntryView(&entries[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

func (s *StockService) checkScope(ctx context.Context, repos appdispense.TransactionalRepositories, tenantID, storeID, productID uuid.UUID) error {
	store, err := repos.Stores().FindByIDForTenant(ctx, tenantID, storeID)
	if err != nil {
		return err
	}
	if !store.Active {
		return shared.NewDomainError(shared.CodeInvalidState, "Store is not active")
	}
	product, err := repos.Products().FindByIDForTenant(ctx, tenantID, productID)
	if err != nil {
		return err
	}
	if !product.Active {
		return shared.NewDomainError(shared.CodeInvalidState, "Product "+product.Name+" is not active")
	}
	return nil
}

func (s *StockService) audit(ctx context.Context, tenantID, actorID, entityID uuid.UUID, view EntryView) {
	payload, err := json.Marshal(view)
	if err != nil {
		s.logger.Warn("failed to encode audit payload", zap.Error(err))
		payload = nil
	}
	s.recorder.Record(ctx, audit.Record{
		TenantID:   tenantID,
		ActorID:    actorID,
		EntityType: "STOCK_LEDGER",
		EntityID:   entityID,
		Action:     audit.ActionCreate,
		OldValue:   "",
		NewValue:   string(payload),
		OccurredAt: time.Now(),
	})
}
