// Package masterdata holds the narrow records the engine consumes from its
// master-data collaborators. The engine validates existence and active
// status but owns none of their lifecycle logic.
package masterdata

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/backend/internal/domain/shared"
)

// Store is a pharmacy store/dispensing location
type Store struct {
	shared.BaseEntity
	TenantID uuid.UUID `gorm:"type:uuid;not null;index"`
	Code     string    `gorm:"type:varchar(30);not null"`
	Name     string    `gorm:"type:varchar(100);not null"`
	Active   bool      `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (Store) TableName() string { return "stores" }

// Product is a dispensable product
type Product struct {
	shared.BaseEntity
	TenantID            uuid.UUID       `gorm:"type:uuid;not null;index"`
	Code                string          `gorm:"type:varchar(30);not null"`
	Name                string          `gorm:"type:varchar(150);not null"`
	UnitPrice           decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	TaxRate             decimal.Decimal `gorm:"type:decimal(6,4);not null;default:0"`
	ControlledSubstance bool            `gorm:"not null;default:false"`
	Active              bool            `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (Product) TableName() string { return "products" }

// Patient is the subject of sales and credit balances
type Patient struct {
	shared.BaseEntity
	TenantID uuid.UUID `gorm:"type:uuid;not null;index"`
	Code     string    `gorm:"type:varchar(30);not null"`
	Name     string    `gorm:"type:varchar(150);not null"`
	Active   bool      `gorm:"not null;default:true"`
}

// TableName returns the table name for GORM
func (Patient) TableName() string { return "patients" }

// PrescriptionStatus represents the lifecycle state of a prescription
type PrescriptionStatus string

const (
	PrescriptionStatusActive    PrescriptionStatus = "ACTIVE"
	PrescriptionStatusDispensed PrescriptionStatus = "DISPENSED"
	PrescriptionStatusCancelled PrescriptionStatus = "CANCELLED"
)

// Prescription is an external prescription reference; the engine only checks
// that it exists, is not cancelled, and marks items dispensed.
type Prescription struct {
	shared.BaseEntity
	TenantID  uuid.UUID          `gorm:"type:uuid;not null;index"`
	PatientID uuid.UUID          `gorm:"type:uuid;not null;index"`
	Status    PrescriptionStatus `gorm:"type:varchar(20);not null"`
	Items     []PrescriptionItem `gorm:"foreignKey:PrescriptionID"`
}

// TableName returns the table name for GORM
func (Prescription) TableName() string { return "prescriptions" }

// IsCancelled returns true if the prescription was cancelled
func (p *Prescription) IsCancelled() bool {
	return p.Status == PrescriptionStatusCancelled
}

// PrescriptionItem is one prescribed product
type PrescriptionItem struct {
	shared.BaseEntity
	PrescriptionID uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	Quantity       decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Dispensed      bool            `gorm:"not null;default:false"`
	DispensedAt    *time.Time
}

// TableName returns the table name for GORM
func (PrescriptionItem) TableName() string { return "prescription_items" }

// Invoice is consumed as a simple record: the engine increments or
// decrements the money fields and appends line items, nothing more.
type Invoice struct {
	shared.BaseEntity
	TenantID    uuid.UUID         `gorm:"type:uuid;not null;index"`
	PatientID   uuid.UUID         `gorm:"type:uuid;not null;index"`
	Number      string            `gorm:"type:varchar(50);not null"`
	Subtotal    decimal.Decimal   `gorm:"type:decimal(18,4);not null;default:0"`
	Total       decimal.Decimal   `gorm:"type:decimal(18,4);not null;default:0"`
	Outstanding decimal.Decimal   `gorm:"type:decimal(18,4);not null;default:0"`
	LineItems   []InvoiceLineItem `gorm:"foreignKey:InvoiceID"`
}

// TableName returns the table name for GORM
func (Invoice) TableName() string { return "invoices" }

// ApplyCharge increments the invoice money fields by the given amount
func (i *Invoice) ApplyCharge(amount decimal.Decimal) {
	i.Subtotal = i.Subtotal.Add(amount)
	i.Total = i.Total.Add(amount)
	i.Outstanding = i.Outstanding.Add(amount)
	i.Touch()
}

// ApplyReversal decrements the invoice money fields by the given amount
func (i *Invoice) ApplyReversal(amount decimal.Decimal) {
	i.Subtotal = i.Subtotal.Sub(amount)
	i.Total = i.Total.Sub(amount)
	i.Outstanding = i.Outstanding.Sub(amount)
	i.Touch()
}

// InvoiceLineItem is one append-only invoice charge or reversal
type InvoiceLineItem struct {
	shared.BaseEntity
	InvoiceID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	Description string          `gorm:"type:varchar(255);not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Reference   string          `gorm:"type:varchar(50)"`
}

// TableName returns the table name for GORM
func (InvoiceLineItem) TableName() string { return "invoice_line_items" }

// NewInvoiceLineItem creates an invoice line item. Amount is negative for
// return reversals.
func NewInvoiceLineItem(invoiceID uuid.UUID, description string, amount decimal.Decimal, reference string) *InvoiceLineItem {
	return &InvoiceLineItem{
		BaseEntity:  shared.NewBaseEntity(),
		InvoiceID:   invoiceID,
		Description: description,
		Amount:      amount,
		Reference:   reference,
	}
}
