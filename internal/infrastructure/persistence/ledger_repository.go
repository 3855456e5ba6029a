package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pharmos/backend/internal/domain/ledger"
	"github.com/pharmos/backend/internal/domain/shared"
)

// GormLedgerEntryRepository implements ledger.EntryRepository using GORM.
// The table is append-only; no Update or Delete exists on purpose.
type GormLedgerEntryRepository struct {
	db *gorm.DB
}

// NewGormLedgerEntryRepository creates a new GormLedgerEntryRepository
func NewGormLedgerEntryRepository(db *gorm.DB) *GormLedgerEntryRepository {
	return &GormLedgerEntryRepository{db: db}
}

// Append inserts one immutable movement. For negative deltas the batch
// balance is re-read inside the ambient transaction; callers hold the
// product row lock, so the read-check-insert cannot race a concurrent
// allocation.
func (r *GormLedgerEntryRepository) Append(ctx context.Context, entry *ledger.Entry) error {
	if entry.QuantityDelta.IsNegative() {
		balance, err := r.BatchBalance(ctx, entry.TenantID, entry.StoreID, entry.ProductID, entry.BatchNumber)
		if err != nil {
			return err
		}
		if balance.Add(entry.QuantityDelta).IsNegative() {
			return shared.NewInsufficientStockError(entry.QuantityDelta.Neg(), balance)
		}
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// BatchBalance sums deltas for one (store, product, batch) scope
func (r *GormLedgerEntryRepository) BatchBalance(ctx context.Context, tenantID, storeID, productID uuid.UUID, batchNumber string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&ledger.Entry{}).
		Select("COALESCE(SUM(quantity_delta), 0)").
		Where("tenant_id = ? AND store_id = ? AND product_id = ? AND batch_number = ?",
			tenantID, storeID, productID, batchNumber).
		Scan(&balance).Error
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// ProductBalance sums deltas across all batches of a product in a store
func (r *GormLedgerEntryRepository) ProductBalance(ctx context.Context, tenantID, storeID, productID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&ledger.Entry{}).
		Select("COALESCE(SUM(quantity_delta), 0)").
		Where("tenant_id = ? AND store_id = ? AND product_id = ?", tenantID, storeID, productID).
		Scan(&balance).Error
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// BatchBalances returns the per-batch aggregates with positive quantity for
// a (store, product), sorted FEFO
func (r *GormLedgerEntryRepository) BatchBalances(ctx context.Context, tenantID, storeID, productID uuid.UUID) ([]ledger.BatchBalance, error) {
	var rows []ledger.BatchBalance
	err := r.db.WithContext(ctx).
		Model(&ledger.Entry{}).
		Select("store_id, product_id, batch_number, expiry_date, SUM(quantity_delta) AS quantity").
		Where("tenant_id = ? AND store_id = ? AND product_id = ?", tenantID, storeID, productID).
		Group("store_id, product_id, batch_number, expiry_date").
		Having("SUM(quantity_delta) > 0").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	ledger.SortFEFO(rows)
	return rows, nil
}

// Snapshot returns all batches with positive aggregate quantity, sorted by
// nearest expiry. StoreID narrows the snapshot when non-nil.
func (r *GormLedgerEntryRepository) Snapshot(ctx context.Context, tenantID uuid.UUID, storeID *uuid.UUID) ([]ledger.BatchBalance, error) {
	query := r.db.WithContext(ctx).
		Model(&ledger.Entry{}).
		Select("store_id, product_id, batch_number, expiry_date, SUM(quantity_delta) AS quantity").
		Where("tenant_id = ?", tenantID)
	if storeID != nil {
		query = query.Where("store_id = ?", *storeID)
	}

	var rows []ledger.BatchBalance
	err := query.
		Group("store_id, product_id, batch_number, expiry_date").
		Having("SUM(quantity_delta) > 0").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	ledger.SortFEFO(rows)
	return rows, nil
}

// FindByReference returns the entries recorded under a document number, in
// insertion order
func (r *GormLedgerEntryRepository) FindByReference(ctx context.Context, tenantID uuid.UUID, reference string) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND reference = ?", tenantID, reference).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

var _ ledger.EntryRepository = (*GormLedgerEntryRepository)(nil)
