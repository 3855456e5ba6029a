package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryRepository is the append-only store for ledger entries.
// Implementations must evaluate the non-negative balance check inside the
// same transaction as the insert: Append fails with INSUFFICIENT_STOCK when
// a negative delta would drive the batch aggregate below zero. This applies
// to every entry kind, corrective adjustments included.
type EntryRepository interface {
	// Append inserts one immutable movement
	Append(ctx context.Context, entry *Entry) error

	// BatchBalance sums deltas for one (store, product, batch) scope
	BatchBalance(ctx context.Context, tenantID, storeID, productID uuid.UUID, batchNumber string) (decimal.Decimal, error)

	// ProductBalance sums deltas across all batches of a product in a store
	ProductBalance(ctx context.Context, tenantID, storeID, productID uuid.UUID) (decimal.Decimal, error)

	// BatchBalances returns the per-batch aggregates with positive quantity
	// for a (store, product), sorted FEFO
	BatchBalances(ctx context.Context, tenantID, storeID, productID uuid.UUID) ([]BatchBalance, error)

	// Snapshot returns all batches with positive aggregate quantity, sorted
	// by nearest expiry. StoreID narrows the snapshot when non-nil.
	Snapshot(ctx context.Context, tenantID uuid.UUID, storeID *uuid.UUID) ([]BatchBalance, error)

	// FindByReference returns the entries recorded under a document number,
	// in insertion order
	FindByReference(ctx context.Context, tenantID uuid.UUID, reference string) ([]Entry, error)
}
