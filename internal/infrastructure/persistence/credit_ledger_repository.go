package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pharmos/backend/internal/domain/dispense"
	"github.com/pharmos/backend/internal/domain/shared"
)

// GormCreditLedgerRepository implements dispense.CreditLedgerRepository
// using GORM. Like the stock ledger, the table is append-only.
type GormCreditLedgerRepository struct {
	db *gorm.DB
}

// NewGormCreditLedgerRepository creates a new GormCreditLedgerRepository
func NewGormCreditLedgerRepository(db *gorm.DB) *GormCreditLedgerRepository {
	return &GormCreditLedgerRepository{db: db}
}

// Append inserts one credit movement
func (r *GormCreditLedgerRepository) Append(ctx context.Context, entry *dispense.CreditLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// CurrentBalance returns the patient's outstanding balance derived from the
// entry deltas. Callers mutating the balance must hold the patient row lock.
func (r *GormCreditLedgerRepository) CurrentBalance(ctx context.Context, tenantID, patientID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&dispense.CreditLedgerEntry{}).
		Select("COALESCE(SUM(debit - credit), 0)").
		Where("tenant_id = ? AND patient_id = ?", tenantID, patientID).
		Scan(&balance).Error
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// FindByPatient returns the patient's credit movements, newest first
func (r *GormCreditLedgerRepository) FindByPatient(ctx context.Context, tenantID, patientID uuid.UUID, filter shared.Filter) ([]dispense.CreditLedgerEntry, error) {
	query := r.db.WithContext(ctx).
		Model(&dispense.CreditLedgerEntry{}).
		Where("tenant_id = ? AND patient_id = ?", tenantID, patientID)

	orderBy := ValidateSortField(filter.OrderBy, CreditEntrySortFields, "created_at")
	orderDir := ValidateSortOrder(filter.OrderDir)
	query = query.Order(orderBy + " " + orderDir)

	if filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		if offset < 0 {
			offset = 0
		}
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	var entries []dispense.CreditLedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

var _ dispense.CreditLedgerRepository = (*GormCreditLedgerRepository)(nil)
