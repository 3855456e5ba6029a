package persistence

import (
	"context"

	"gorm.io/gorm"

	appdispense "github.com/pharmos/backend/internal/application/dispense"
	"github.com/pharmos/backend/internal/domain/dispense"
	"github.com/pharmos/backend/internal/domain/ledger"
	"github.com/pharmos/backend/internal/domain/masterdata"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
// Every repository handed to the callback shares one transaction, and row
// locks taken through Locker live exactly as long as it does.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appdispense.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

// gormTransactionalRepositories provides access to all repositories within a
// transaction
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

func (r *gormTransactionalRepositories) Ledger() ledger.EntryRepository {
	return NewGormLedgerEntryRepository(r.tx)
}

func (r *gormTransactionalRepositories) Sales() dispense.SaleRepository {
	return NewGormSaleRepository(r.tx)
}

func (r *gormTransactionalRepositories) Returns() dispense.ReturnRepository {
	return NewGormReturnRepository(r.tx)
}

func (r *gormTransactionalRepositories) Credit() dispense.CreditLedgerRepository {
	return NewGormCreditLedgerRepository(r.tx)
}

func (r *gormTransactionalRepositories) Products() masterdata.ProductRepository {
	return NewGormProductRepository(r.tx)
}

func (r *gormTransactionalRepositories) Patients() masterdata.PatientRepository {
	return NewGormPatientRepository(r.tx)
}

func (r *gormTransactionalRepositories) Stores() masterdata.StoreRepository {
	return NewGormStoreRepository(r.tx)
}

func (r *gormTransactionalRepositories) Prescriptions() masterdata.PrescriptionRepository {
	return NewGormPrescriptionRepository(r.tx)
}

func (r *gormTransactionalRepositories) Invoices() masterdata.InvoiceRepository {
	return NewGormInvoiceRepository(r.tx)
}

func (r *gormTransactionalRepositories) Locker() dispense.EntityLocker {
	return NewGormEntityLocker(r.tx)
}

var (
	_ appdispense.TransactionScope          = (*GormTransactionScope)(nil)
	_ appdispense.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
)
