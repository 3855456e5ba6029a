package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pharmos/backend/internal/domain/dispense"
	"github.com/pharmos/backend/internal/domain/masterdata"
	"github.com/pharmos/backend/internal/domain/shared"
)

// GormEntityLocker implements dispense.EntityLocker with SELECT ... FOR
// UPDATE row locks. It must be constructed from a transaction handle; the
// lock is held until that transaction commits or rolls back.
type GormEntityLocker struct {
	tx *gorm.DB
}

// NewGormEntityLocker creates a locker bound to the given transaction
func NewGormEntityLocker(tx *gorm.DB) *GormEntityLocker {
	return &GormEntityLocker{tx: tx}
}

// LockProduct acquires an exclusive row lock on the product. All stock
// allocation for a product is serialized behind this lock.
func (l *GormEntityLocker) LockProduct(ctx context.Context, tenantID, productID uuid.UUID) error {
	var product masterdata.Product
	err := l.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, productID).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound
	}
	return err
}

// LockPatient acquires an exclusive row lock on the patient. Credit balance
// read-then-write is serialized behind this lock.
func (l *GormEntityLocker) LockPatient(ctx context.Context, tenantID, patientID uuid.UUID) error {
	var patient masterdata.Patient
	err := l.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id = ?", tenantID, patientID).
		First(&patient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound
	}
	return err
}

var _ dispense.EntityLocker = (*GormEntityLocker)(nil)
