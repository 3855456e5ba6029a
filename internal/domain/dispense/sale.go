package dispense

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmos/backend/internal/domain/shared"
)

// SaleChannel distinguishes outpatient-pharmacy and inpatient dispensing
type SaleChannel string

const (
	// SaleChannelOutpatient is an over-the-counter pharmacy sale
	SaleChannelOutpatient SaleChannel = "OP"
	// SaleChannelInpatient is dispensing against an admission
	SaleChannelInpatient SaleChannel = "IP"
)

// IsValid checks if the channel is valid
func (c SaleChannel) IsValid() bool {
	return c == SaleChannelOutpatient || c == SaleChannelInpatient
}

// String returns the string representation
func (c SaleChannel) String() string { return string(c) }

// SaleStatus represents the status of a sale
type SaleStatus string

const (
	SaleStatusDraft     SaleStatus = "DRAFT"
	SaleStatusCompleted SaleStatus = "COMPLETED"
	SaleStatusReturned  SaleStatus = "RETURNED"
	SaleStatusCancelled SaleStatus = "CANCELLED"
)

// IsValid checks if the status is a valid SaleStatus
func (s SaleStatus) IsValid() bool {
	switch s {
	case SaleStatusDraft, SaleStatusCompleted, SaleStatusReturned, SaleStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation
func (s SaleStatus) String() string { return string(s) }

// CanTransitionTo checks if the status can transition to the target status.
// Transitions are one-directional; cancellation is only reachable from DRAFT.
func (s SaleStatus) CanTransitionTo(target SaleStatus) bool {
	switch s {
	case SaleStatusDraft:
		return target == SaleStatusCompleted || target == SaleStatusCancelled
	case SaleStatusCompleted:
		return target == SaleStatusReturned
	case SaleStatusReturned, SaleStatusCancelled:
		return false
	}
	return false
}

// SaleLine records one batch deduction the allocator selected for a
// requested product. A single requested line expands into several SaleLine
// rows when the allocation spans batches.
type SaleLine struct {
	shared.BaseEntity
	SaleID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductName string          `gorm:"type:varchar(150);not null"`
	BatchNumber string          `gorm:"type:varchar(100);not null"`
	ExpiryDate  *time.Time      `gorm:"type:date"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Discount    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TaxAmount   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(18,4);not null"`
}

// TableName returns the table name for GORM
func (SaleLine) TableName() string { return "sale_lines" }

// Gross returns quantity times unit price before discount and tax
func (l *SaleLine) Gross() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Sale is the header of a dispensing transaction. Once COMPLETED its money
// totals are immutable except through a Return.
type Sale struct {
	shared.TenantAggregateRoot
	// SaleNumber is unique per tenant, not globally: every tenant derives
	// its own sequence, so the guarding index is (tenant_id, sale_number).
	SaleNumber     string      `gorm:"type:varchar(50);not null;index"`
	PatientID      uuid.UUID   `gorm:"type:uuid;not null;index"`
	StoreID        uuid.UUID   `gorm:"type:uuid;not null;index"`
	Channel        SaleChannel `gorm:"type:varchar(5);not null"`
	Status         SaleStatus  `gorm:"type:varchar(20);not null;index"`
	VisitID        *uuid.UUID  `gorm:"type:uuid"`
	AdmissionID    *uuid.UUID  `gorm:"type:uuid"`
	InvoiceID      *uuid.UUID  `gorm:"type:uuid;index"`
	PrescriptionID *uuid.UUID  `gorm:"type:uuid"`
	CreditSale     bool        `gorm:"not null;default:false"`
	GrossTotal     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	DiscountTotal  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TaxTotal       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	NetTotal       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Lines          []SaleLine      `gorm:"foreignKey:SaleID"`
	CompletedAt    *time.Time
	CancelledAt    *time.Time
}

// TableName returns the table name for GORM
func (Sale) TableName() string { return "sales" }

// NewSale creates a new sale header in DRAFT status
func NewSale(tenantID uuid.UUID, saleNumber string, patientID, storeID uuid.UUID, channel SaleChannel) (*Sale, error) {
	if saleNumber == "" {
		return nil, shared.NewDomainError("INVALID_SALE_NUMBER", "Sale number cannot be empty")
	}
	if patientID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PATIENT", "Patient ID cannot be empty")
	}
	if storeID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_STORE", "Store ID cannot be empty")
	}
	if !channel.IsValid() {
		return nil, shared.NewDomainError("INVALID_CHANNEL", "Invalid sale channel")
	}

	return &Sale{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		SaleNumber:          saleNumber,
		PatientID:           patientID,
		StoreID:             storeID,
		Channel:             channel,
		Status:              SaleStatusDraft,
		GrossTotal:          decimal.Zero,
		DiscountTotal:       decimal.Zero,
		TaxTotal:            decimal.Zero,
		NetTotal:            decimal.Zero,
		Lines:               make([]SaleLine, 0),
	}, nil
}

// MarkCreditSale flags the sale as deferred-payment. Credit sales are only
// allowed on the outpatient channel.
func (s *Sale) MarkCreditSale() error {
	if s.Channel != SaleChannelOutpatient {
		return shared.NewDomainError("INVALID_CHANNEL", "Credit sales are only allowed on the OP channel")
	}
	s.CreditSale = true
	return nil
}

// AttachVisit links an outpatient visit
func (s *Sale) AttachVisit(visitID uuid.UUID) { s.VisitID = &visitID }

// AttachAdmission links an inpatient admission
func (s *Sale) AttachAdmission(admissionID uuid.UUID) { s.AdmissionID = &admissionID }

// AttachInvoice links an existing invoice for charge posting
func (s *Sale) AttachInvoice(invoiceID uuid.UUID) { s.InvoiceID = &invoiceID }

// AttachPrescription links the prescription covering controlled lines
func (s *Sale) AttachPrescription(prescriptionID uuid.UUID) { s.PrescriptionID = &prescriptionID }

// AddLine appends one allocated batch deduction as a sale line and
// recomputes the totals. Only allowed before completion.
func (s *Sale) AddLine(
	productID uuid.UUID,
	productName, batchNumber string,
	expiryDate *time.Time,
	quantity, unitPrice, discount, taxRate decimal.Decimal,
) (*SaleLine, error) {
	if s.Status != SaleStatusDraft {
		return nil, shared.NewDomainError("INVALID_STATE", "Cannot add lines to a non-draft sale")
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Line quantity must be positive")
	}
	if unitPrice.IsNegative() {
		return nil, shared.NewDomainError("INVALID_PRICE", "Unit price cannot be negative")
	}
	if discount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_DISCOUNT", "Discount cannot be negative")
	}

	gross := quantity.Mul(unitPrice)
	if discount.GreaterThan(gross) {
		return nil, shared.NewDomainError("INVALID_DISCOUNT", "Discount cannot exceed the line gross amount")
	}
	taxable := gross.Sub(discount)
	tax := taxable.Mul(taxRate).Round(4)

	line := SaleLine{
		BaseEntity:  shared.NewBaseEntity(),
		SaleID:      s.ID,
		ProductID:   productID,
		ProductName: productName,
		BatchNumber: batchNumber,
		ExpiryDate:  expiryDate,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Discount:    discount,
		TaxAmount:   tax,
		LineTotal:   taxable.Add(tax),
	}
	s.Lines = append(s.Lines, line)
	s.recalculateTotals()
	s.Touch()

	return &s.Lines[len(s.Lines)-1], nil
}

// Complete transitions the sale to COMPLETED
func (s *Sale) Complete() error {
	if !s.Status.CanTransitionTo(SaleStatusCompleted) {
		return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Cannot complete sale in %s status", s.Status))
	}
	if len(s.Lines) == 0 {
		return shared.NewDomainError("NO_LINES", "Cannot complete a sale without lines")
	}
	now := time.Now()
	s.Status = SaleStatusCompleted
	s.CompletedAt = &now
	s.UpdatedAt = now
	return nil
}

// Cancel transitions the sale to CANCELLED. Only DRAFT sales can be
// cancelled; completed sales are undone through returns.
func (s *Sale) Cancel() error {
	if !s.Status.CanTransitionTo(SaleStatusCancelled) {
		return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Cannot cancel sale in %s status", s.Status))
	}
	now := time.Now()
	s.Status = SaleStatusCancelled
	s.CancelledAt = &now
	s.UpdatedAt = now
	return nil
}

// MarkReturned flips a completed sale to RETURNED once every line is fully
// returned across approved returns.
func (s *Sale) MarkReturned() error {
	if !s.Status.CanTransitionTo(SaleStatusReturned) {
		return shared.NewDomainError(shared.CodeInvalidState, fmt.Sprintf("Cannot mark sale returned in %s status", s.Status))
	}
	s.Status = SaleStatusReturned
	s.Touch()
	return nil
}

// IsReturnable reports whether returns may be created against this sale
func (s *Sale) IsReturnable() bool {
	return s.Status == SaleStatusCompleted || s.Status == SaleStatusReturned
}

// IsDraft returns true if the sale is in draft status
func (s *Sale) IsDraft() bool { return s.Status == SaleStatusDraft }

// IsCompleted returns true if the sale is completed
func (s *Sale) IsCompleted() bool { return s.Status == SaleStatusCompleted }

// IsCancelled returns true if the sale is cancelled
func (s *Sale) IsCancelled() bool { return s.Status == SaleStatusCancelled }

// GetLine returns a line by its ID
func (s *Sale) GetLine(lineID uuid.UUID) *SaleLine {
	for idx := range s.Lines {
		if s.Lines[idx].ID == lineID {
			return &s.Lines[idx]
		}
	}
	return nil
}

func (s *Sale) recalculateTotals() {
	gross, discount, tax, net := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, l := range s.Lines {
		gross = gross.Add(l.Gross())
		discount = discount.Add(l.Discount)
		tax = tax.Add(l.TaxAmount)
		net = net.Add(l.LineTotal)
	}
	s.GrossTotal = gross
	s.DiscountTotal = discount
	s.TaxTotal = tax
	s.NetTotal = net
}
