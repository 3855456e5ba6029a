package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/backend/internal/domain/shared"
)

// EntryKind represents the kind of stock movement
type EntryKind string

const (
	// EntryKindOpening represents initial stock setup for a batch
	EntryKindOpening EntryKind = "OPENING"
	// EntryKindAdjustment represents a manual stock correction (either sign)
	EntryKindAdjustment EntryKind = "ADJUSTMENT"
	// EntryKindSaleOut represents stock dispensed on a sale (negative delta)
	EntryKindSaleOut EntryKind = "SALE_OUT"
	// EntryKindReturnIn represents stock restored by an approved return (positive delta)
	EntryKindReturnIn EntryKind = "RETURN_IN"
)

// String returns the string representation of EntryKind
func (k EntryKind) String() string {
	return string(k)
}

// IsValid returns true if the entry kind is valid
func (k EntryKind) IsValid() bool {
	switch k {
	case EntryKindOpening, EntryKindAdjustment, EntryKindSaleOut, EntryKindReturnIn:
		return true
	}
	return false
}

// Entry represents one immutable stock movement fact.
// Rows are never updated or deleted; corrections are made by inserting an
// offsetting entry. The signed sum of QuantityDelta per (store, product,
// batch) is the current stock balance and must never go negative.
type Entry struct {
	shared.BaseEntity
	TenantID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_ledger_scope,priority:1"`
	StoreID       uuid.UUID       `gorm:"type:uuid;not null;index:idx_ledger_scope,priority:2"`
	ProductID     uuid.UUID       `gorm:"type:uuid;not null;index:idx_ledger_scope,priority:3"`
	BatchNumber   string          `gorm:"type:varchar(100);not null;index:idx_ledger_scope,priority:4"`
	ExpiryDate    *time.Time      `gorm:"type:date"`
	Kind          EntryKind       `gorm:"type:varchar(20);not null;index"`
	QuantityDelta decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Reference     string          `gorm:"type:varchar(50);index"`
	Note          string          `gorm:"type:varchar(255)"`
	CreatedBy     *uuid.UUID      `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (Entry) TableName() string {
	return "stock_ledger_entries"
}

// NewEntry creates a new ledger entry
func NewEntry(
	tenantID, storeID, productID uuid.UUID,
	batchNumber string,
	expiryDate *time.Time,
	kind EntryKind,
	quantityDelta decimal.Decimal,
) (*Entry, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if storeID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_STORE", "Store ID cannot be empty")
	}
	if productID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PRODUCT", "Product ID cannot be empty")
	}
	if batchNumber == "" {
		return nil, shared.NewDomainError("INVALID_BATCH", "Batch number cannot be empty")
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTRY_KIND", "Invalid ledger entry kind")
	}
	if quantityDelta.IsZero() {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity delta cannot be zero")
	}
	switch kind {
	case EntryKindOpening, EntryKindReturnIn:
		if quantityDelta.IsNegative() {
			return nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity delta must be positive for "+kind.String())
		}
	case EntryKindSaleOut:
		if quantityDelta.IsPositive() {
			return nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity delta must be negative for SALE_OUT")
		}
	}

	return &Entry{
		BaseEntity:    shared.NewBaseEntity(),
		TenantID:      tenantID,
		StoreID:       storeID,
		ProductID:     productID,
		BatchNumber:   batchNumber,
		ExpiryDate:    expiryDate,
		Kind:          kind,
		QuantityDelta: quantityDelta,
	}, nil
}

// WithReference sets the source document number (sale/return number)
func (e *Entry) WithReference(reference string) *Entry {
	e.Reference = reference
	return e
}

// WithNote sets a free-text note
func (e *Entry) WithNote(note string) *Entry {
	e.Note = note
	return e
}

// WithCreatedBy sets the user who caused the movement
func (e *Entry) WithCreatedBy(userID uuid.UUID) *Entry {
	e.CreatedBy = &userID
	return e
}

// IsInbound returns true if the entry increases stock
func (e *Entry) IsInbound() bool {
	return e.QuantityDelta.IsPositive()
}

// IsOutbound returns true if the entry decreases stock
func (e *Entry) IsOutbound() bool {
	return e.QuantityDelta.IsNegative()
}
