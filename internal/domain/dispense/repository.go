package dispense

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/backend/internal/domain/shared"
)

// SaleRepository persists sales and their lines
type SaleRepository interface {
	// Save inserts or updates the sale header together with its lines
	Save(ctx context.Context, sale *Sale) error
	// SaveWithVersion updates the header guarded by the optimistic version;
	// fails with VERSION_CONFLICT when the stored version moved on
	SaveWithVersion(ctx context.Context, sale *Sale, expectedVersion int) error
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Sale, error)
	FindBySaleNumber(ctx context.Context, tenantID uuid.UUID, saleNumber string) (*Sale, error)
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]Sale, error)
	CountForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (int64, error)
	// NextNumber derives the next document number for the prefix from the
	// highest existing number inside the current transaction
	NextNumber(ctx context.Context, tenantID uuid.UUID, prefix string) (string, error)
}

// ReturnRepository persists returns and their lines
type ReturnRepository interface {
	Save(ctx context.Context, ret *Return) error
	SaveWithVersion(ctx context.Context, ret *Return, expectedVersion int) error
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Return, error)
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) ([]Return, error)
	CountForTenant(ctx context.Context, tenantID uuid.UUID, filter shared.Filter) (int64, error)
	NextNumber(ctx context.Context, tenantID uuid.UUID, prefix string) (string, error)
	// ReturnedQuantities sums return-line quantities per sale line across
	// the sale's returns in the given statuses
	ReturnedQuantities(ctx context.Context, tenantID, saleID uuid.UUID, statuses []ReturnStatus) (map[uuid.UUID]decimal.Decimal, error)
}

// CreditLedgerRepository is the append-only store of patient credit movements
type CreditLedgerRepository interface {
	Append(ctx context.Context, entry *CreditLedgerEntry) error
	// CurrentBalance returns the patient's outstanding balance. Callers
	// mutating the balance must hold the patient row lock first.
	CurrentBalance(ctx context.Context, tenantID, patientID uuid.UUID) (decimal.Decimal, error)
	FindByPatient(ctx context.Context, tenantID, patientID uuid.UUID, filter shared.Filter) ([]CreditLedgerEntry, error)
}

// EntityLocker acquires transaction-scoped exclusive row locks on contended
// master rows. Locks serialize aggregate mutation: the product lock protects
// stock allocation, the patient lock protects credit balance read-then-write.
type EntityLocker interface {
	LockProduct(ctx context.Context, tenantID, productID uuid.UUID) error
	LockPatient(ctx context.Context, tenantID, patientID uuid.UUID) error
}
