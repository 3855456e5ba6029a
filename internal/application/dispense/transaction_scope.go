package dispense

import (
	"bytes"
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/pharmos/backend/internal/domain/dispense"
	"github.com/pharmos/backend/internal/domain/ledger"
	"github.com/pharmos/backend/internal/domain/masterdata"
)

// TransactionScope provides transactional access to the engine's
// repositories. Every orchestrator method executes inside exactly one
// Execute call: all reads that inform a decision (stock check, sold-quantity
// check, credit balance) and all writes derived from that decision share one
// database transaction, committed or rolled back atomically.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides access to all repositories within a
// transaction. Every repository returned shares the same underlying
// database transaction, and Locker's row locks are held until it ends.
type TransactionalRepositories interface {
	Ledger() ledger.EntryRepository
	Sales() dispense.SaleRepository
	Returns() dispense.ReturnRepository
	Credit() dispense.CreditLedgerRepository
	Products() masterdata.ProductRepository
	Patients() masterdata.PatientRepository
	Stores() masterdata.StoreRepository
	Prescriptions() masterdata.PrescriptionRepository
	Invoices() masterdata.InvoiceRepository
	Locker() dispense.EntityLocker
}

// NoOpTransactionScope runs the function without a real transaction.
// Useful for tests backed by in-memory repositories.
type NoOpTransactionScope struct {
	Repos TransactionalRepositories
}

// Execute runs the function directly against the configured repositories
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s.Repos)
}

var _ TransactionScope = (*NoOpTransactionScope)(nil)

// lockProducts acquires the product row locks for every given product in one
// canonical order. Two transactions touching the same products always lock
// them in the same sequence, so they queue instead of deadlocking.
func lockProducts(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID, productIDs []uuid.UUID) error {
	ids := slices.Clone(productIDs)
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	ids = slices.Compact(ids)
	for _, id := range ids {
		if err := repos.Locker().LockProduct(ctx, tenantID, id); err != nil {
			return err
		}
	}
	return nil
}
