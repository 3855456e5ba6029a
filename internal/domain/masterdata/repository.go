package masterdata

import (
	"context"

	"github.com/google/uuid"
)

// StoreRepository reads store master data
type StoreRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Store, error)
}

// ProductRepository reads product master data
type ProductRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Product, error)
}

// PatientRepository reads patient master data
type PatientRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error)
}

// PrescriptionRepository reads prescriptions and marks items dispensed
type PrescriptionRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Prescription, error)
	MarkItemsDispensed(ctx context.Context, prescriptionID uuid.UUID, productIDs []uuid.UUID) error
}

// InvoiceRepository reads and updates the narrow invoice record
type InvoiceRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)
	// UpdateTotals persists the invoice money fields after ApplyCharge/ApplyReversal
	UpdateTotals(ctx context.Context, invoice *Invoice) error
	// AppendLineItem appends one charge or reversal line
	AppendLineItem(ctx context.Context, item *InvoiceLineItem) error
}
