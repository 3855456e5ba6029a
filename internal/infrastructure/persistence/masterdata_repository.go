package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pharmos/backend/internal/domain/masterdata"
	"github.com/pharmos/backend/internal/domain/shared"
)

// GormStoreRepository implements masterdata.StoreRepository using GORM
type GormStoreRepository struct {
	db *gorm.DB
}

// NewGormStoreRepository creates a new GormStoreRepository
func NewGormStoreRepository(db *gorm.DB) *GormStoreRepository {
	return &GormStoreRepository{db: db}
}

// FindByIDForTenant finds a store by ID within a tenant
func (r *GormStoreRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*masterdata.Store, error) {
	var store masterdata.Store
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&store).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &store, nil
}

// GormProductRepository implements masterdata.ProductRepository using GORM
type GormProductRepository struct {
	db *gorm.DB
}

// NewGormProductRepository creates a new GormProductRepository
func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

// FindByIDForTenant finds a product by ID within a tenant
func (r *GormProductRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*masterdata.Product, error) {
	var product masterdata.Product
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

// GormPatientRepository implements masterdata.PatientRepository using GORM
type GormPatientRepository struct {
	db *gorm.DB
}

// NewGormPatientRepository creates a new GormPatientRepository
func NewGormPatientRepository(db *gorm.DB) *GormPatientRepository {
	return &GormPatientRepository{db: db}
}

// FindByIDForTenant finds a patient by ID within a tenant
func (r *GormPatientRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*masterdata.Patient, error) {
	var patient masterdata.Patient
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&patient).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &patient, nil
}

// GormPrescriptionRepository implements masterdata.PrescriptionRepository using GORM
type GormPrescriptionRepository struct {
	db *gorm.DB
}

// NewGormPrescriptionRepository creates a new GormPrescriptionRepository
func NewGormPrescriptionRepository(db *gorm.DB) *GormPrescriptionRepository {
	return &GormPrescriptionRepository{db: db}
}

// FindByIDForTenant finds a prescription by ID within a tenant, with its items
func (r *GormPrescriptionRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*masterdata.Prescription, error) {
	var prescription masterdata.Prescription
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&prescription).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &prescription, nil
}

// MarkItemsDispensed flags the prescription items for the given products as
// dispensed
func (r *GormPrescriptionRepository) MarkItemsDispensed(ctx context.Context, prescriptionID uuid.UUID, productIDs []uuid.UUID) error {
	if len(productIDs) == 0 {
		return nil
	}
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&masterdata.PrescriptionItem{}).
		Where("prescription_id = ? AND product_id IN ? AND dispensed = false", prescriptionID, productIDs).
		Updates(map[string]any{
			"dispensed":    true,
			"dispensed_at": now,
			"updated_at":   now,
		}).Error
}

// GormInvoiceRepository implements masterdata.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// FindByIDForTenant finds an invoice by ID within a tenant
func (r *GormInvoiceRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*masterdata.Invoice, error) {
	var invoice masterdata.Invoice
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// UpdateTotals persists the invoice money fields after ApplyCharge or
// ApplyReversal
func (r *GormInvoiceRepository) UpdateTotals(ctx context.Context, invoice *masterdata.Invoice) error {
	return r.db.WithContext(ctx).
		Model(&masterdata.Invoice{}).
		Where("id = ?", invoice.ID).
		Updates(map[string]any{
			"subtotal":    invoice.Subtotal,
			"total":       invoice.Total,
			"outstanding": invoice.Outstanding,
			"updated_at":  invoice.UpdatedAt,
		}).Error
}

// AppendLineItem appends one charge or reversal line
func (r *GormInvoiceRepository) AppendLineItem(ctx context.Context, item *masterdata.InvoiceLineItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

var (
	_ masterdata.StoreRepository        = (*GormStoreRepository)(nil)
	_ masterdata.ProductRepository      = (*GormProductRepository)(nil)
	_ masterdata.PatientRepository      = (*GormPatientRepository)(nil)
	_ masterdata.PrescriptionRepository = (*GormPrescriptionRepository)(nil)
	_ masterdata.InvoiceRepository      = (*GormInvoiceRepository)(nil)
)
